package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unknownDetails struct{}

func (unknownDetails) Kind() EntryKind { return "BOGUS" }
func (unknownDetails) sealed()         {}

func TestEntryEffects(t *testing.T) {
	cash, bank := uuid.New(), uuid.New()

	tests := []struct {
		name    string
		entry   Entry
		onCash  Money
		onBank  Money
		touches []uuid.UUID
	}{
		{
			name:    "income adds",
			entry:   Entry{Amount: 500, Details: IncomeDetails{WalletID: cash}},
			onCash:  500,
			touches: []uuid.UUID{cash},
		},
		{
			name:    "expense subtracts",
			entry:   Entry{Amount: 200, Details: ExpenseDetails{WalletID: cash}},
			onCash:  -200,
			touches: []uuid.UUID{cash},
		},
		{
			name:    "transfer moves amount and charges fee to source",
			entry:   Entry{Amount: 1_000, Details: TransferDetails{WalletID: cash, WalletToID: bank, Fee: 10}},
			onCash:  -1_010,
			onBank:  1_000,
			touches: []uuid.UUID{cash, bank},
		},
		{
			name:    "negative adjustment keeps its sign",
			entry:   Entry{Amount: -75, Details: AdjustmentDetails{WalletID: bank}},
			onBank:  -75,
			touches: []uuid.UUID{bank},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.entry.EffectOn(cash)
			require.NoError(t, err)
			assert.Equal(t, tt.onCash, got)

			got, err = tt.entry.EffectOn(bank)
			require.NoError(t, err)
			assert.Equal(t, tt.onBank, got)

			assert.ElementsMatch(t, tt.touches, tt.entry.WalletIDs())
		})
	}
}

func TestTransferConservesMoneyMinusFee(t *testing.T) {
	e := Entry{Amount: 10_000_000, Details: TransferDetails{WalletID: uuid.New(), WalletToID: uuid.New(), Fee: 22_000}}
	effects, err := e.Effects()
	require.NoError(t, err)

	var total Money
	for _, ef := range effects {
		total += ef.Delta
	}
	assert.Equal(t, Money(-22_000), total)
}

func TestEntryEffectsRejectsUnknownDetails(t *testing.T) {
	e := Entry{Amount: 1, Details: unknownDetails{}}
	_, err := e.Effects()
	assert.ErrorIs(t, err, ErrUnknownEntryKind)

	_, err = json.Marshal(e)
	assert.Error(t, err)
}

func TestEntryEffectsOverflow(t *testing.T) {
	e := Entry{Amount: math.MaxInt64, Details: TransferDetails{WalletID: uuid.New(), WalletToID: uuid.New(), Fee: 1}}
	_, err := e.Effects()
	assert.ErrorIs(t, err, ErrAmountOverflow)
}

func TestEntryJSONShape(t *testing.T) {
	src, dst := uuid.New(), uuid.New()
	date := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	e := Entry{
		ID:              uuid.New(),
		Code:            "CK000001",
		Date:            date,
		Amount:          10_000_000,
		CreatedByUserID: "u-1",
		Details:         TransferDetails{WalletID: src, WalletToID: dst, Fee: 0},
	}

	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var flat map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Equal(t, "TRANSFER", flat["type"])
	assert.Equal(t, src.String(), flat["walletId"])
	assert.Equal(t, dst.String(), flat["walletToId"])
	assert.EqualValues(t, 0, flat["feeAmount"])
	assert.NotContains(t, flat, "categoryId")
	assert.NotContains(t, flat, "deletedAt")

	var back Entry
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, e.Details, back.Details)
	assert.Equal(t, e.Code, back.Code)
	assert.True(t, e.Date.Equal(back.Date))

	_, err = json.Marshal(Entry{Details: ExpenseDetails{WalletID: src, CategoryID: dst, IsCommonCost: true}})
	require.NoError(t, err)

	err = json.Unmarshal([]byte(`{"type":"REFUND"}`), &back)
	assert.ErrorIs(t, err, ErrUnknownEntryKind)
}

func TestEntryFilterMatches(t *testing.T) {
	cash, bank := uuid.New(), uuid.New()
	jan10 := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	jan31 := time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)
	deleted := jan10

	transfer := Entry{Date: jan10, Amount: 1, Details: TransferDetails{WalletID: cash, WalletToID: bank}}
	removed := Entry{Date: jan10, Amount: 1, DeletedAt: &deleted, Details: IncomeDetails{WalletID: cash}}

	assert.True(t, EntryFilter{WalletID: &bank}.Matches(&transfer), "walletId matches the destination too")
	assert.False(t, EntryFilter{WalletToID: &cash}.Matches(&transfer))
	assert.True(t, EntryFilter{From: &jan10, To: &jan31}.Matches(&transfer), "bounds are inclusive")
	assert.False(t, EntryFilter{Kinds: []EntryKind{KindIncome}}.Matches(&transfer))
	assert.False(t, EntryFilter{}.Matches(&removed))
	assert.True(t, EntryFilter{IncludeDeleted: true}.Matches(&removed))
}
