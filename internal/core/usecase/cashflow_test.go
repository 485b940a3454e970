package usecase_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func january() models.CashflowQuery {
	return models.CashflowQuery{
		From: time.Date(2026, 1, 1, 0, 0, 0, 0, ict),
		To:   time.Date(2026, 2, 1, 0, 0, 0, 0, ict).Add(-time.Nanosecond),
	}
}

// seedJanuary records a small month across two wallets plus one entry after it.
func seedJanuary(t *testing.T, f *fixture) (cash, bank *models.Wallet) {
	t.Helper()
	cash = f.wallet(t, "TIENMAT", 0)
	bank = f.wallet(t, "NGANHANG", 0)

	f.income(t, cash.ID, 1_000, day(2026, 1, 5))
	f.expense(t, bank.ID, 200, day(2026, 1, 5))
	f.transfer(t, cash.ID, bank.ID, 300, 10, day(2026, 1, 6))
	f.adjustment(t, bank.ID, -50, day(2026, 1, 7))
	f.adjustment(t, cash.ID, 20, day(2026, 1, 7))
	f.income(t, cash.ID, 9_999, day(2026, 2, 2))
	return cash, bank
}

func TestSummarizeAllWallets(t *testing.T) {
	f := newFixture(t)
	seedJanuary(t, f)

	s, err := f.reporter.Summarize(context.Background(), january())
	require.NoError(t, err)

	require.Len(t, s.ByWallet, 2)
	bank, cash := s.ByWallet[0], s.ByWallet[1]
	assert.Equal(t, "NGANHANG", bank.WalletCode)
	assert.Equal(t, models.Money(200), bank.ExpenseTotal)
	assert.Equal(t, models.Money(300), bank.TransferInTotal)
	assert.Equal(t, models.Money(-50), bank.AdjustmentTotal)
	assert.Equal(t, models.Money(50), bank.NetChange)

	assert.Equal(t, "TIENMAT", cash.WalletCode)
	assert.Equal(t, models.Money(1_000), cash.IncomeTotal)
	assert.Equal(t, models.Money(310), cash.TransferOutTotal)
	assert.Equal(t, models.Money(10), cash.TransferFeeTotal)
	assert.Equal(t, models.Money(20), cash.AdjustmentTotal)
	assert.Equal(t, models.Money(710), cash.NetChange)

	assert.Equal(t, models.CashflowTotals{
		IncomeTotal:      1_000,
		ExpenseTotal:     200,
		TransferInTotal:  300,
		TransferOutTotal: 310,
		TransferFeeTotal: 10,
		AdjustmentTotal:  -30,
		NetChange:        760,
	}, s.Totals)

	assert.Equal(t, []models.DailyCashflow{
		{Date: "2026-01-05", InTotal: 1_000, OutTotal: 200, Net: 800},
		{Date: "2026-01-06", InTotal: 300, OutTotal: 310, Net: -10},
		{Date: "2026-01-07", InTotal: 20, OutTotal: 50, Net: -30},
	}, s.Series)
}

func TestSummarizeNetMatchesBalanceChange(t *testing.T) {
	f := newFixture(t)
	cash, bank := seedJanuary(t, f)
	ctx := context.Background()

	q := january()
	s, err := f.reporter.Summarize(ctx, q)
	require.NoError(t, err)

	for _, w := range []*models.Wallet{cash, bank} {
		end, err := f.balances.BalanceAsOf(ctx, w.ID, q.To)
		require.NoError(t, err)
		start, err := f.balances.BalanceAsOf(ctx, w.ID, q.From.Add(-time.Nanosecond))
		require.NoError(t, err)
		change, err := end.Sub(start)
		require.NoError(t, err)

		for _, row := range s.ByWallet {
			if row.WalletID == w.ID {
				assert.Equal(t, change, row.NetChange, w.Code)
			}
		}
	}
}

func TestSummarizeBucketsDaysInLedgerZone(t *testing.T) {
	f := newFixture(t)
	cash := f.wallet(t, "TIENMAT", 0)
	// 20:00 UTC on the 10th is already the 11th in Ho Chi Minh City
	f.income(t, cash.ID, 100, time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC))

	s, err := f.reporter.Summarize(context.Background(), january())
	require.NoError(t, err)
	require.Len(t, s.Series, 1)
	assert.Equal(t, "2026-01-11", s.Series[0].Date)
}

func TestSummarizeDeletedWallets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	active := f.wallet(t, "A", 0)
	busy := f.wallet(t, "B", 0)
	idle := f.wallet(t, "C", 0)
	f.income(t, busy.ID, 100, day(2026, 1, 3))
	require.NoError(t, f.wallets.SoftDelete(ctx, owner, busy.ID))
	require.NoError(t, f.wallets.SoftDelete(ctx, owner, idle.ID))

	s, err := f.reporter.Summarize(ctx, january())
	require.NoError(t, err)
	codes := make([]string, 0, len(s.ByWallet))
	for _, row := range s.ByWallet {
		codes = append(codes, row.WalletCode)
	}
	assert.Equal(t, []string{"A", "B"}, codes)
	assert.Equal(t, active.ID, s.ByWallet[0].WalletID)
	assert.Equal(t, models.Money(0), s.ByWallet[0].NetChange)

	q := january()
	q.WalletID = &idle.ID
	s, err = f.reporter.Summarize(ctx, q)
	require.NoError(t, err)
	require.Len(t, s.ByWallet, 1)
	assert.Equal(t, "C", s.ByWallet[0].WalletCode)
	assert.Empty(t, s.Series)
}

func TestSummarizeExcludesDeletedEntries(t *testing.T) {
	f := newFixture(t)
	cash := f.wallet(t, "TIENMAT", 0)
	e := f.expense(t, cash.ID, 400, day(2026, 1, 8))
	require.NoError(t, f.entries.SoftDelete(context.Background(), owner, e.ID))

	s, err := f.reporter.Summarize(context.Background(), january())
	require.NoError(t, err)
	assert.Equal(t, models.Money(0), s.Totals.ExpenseTotal)
	assert.Empty(t, s.Series)
}

func TestSummarizeRejectsBadQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := january()
	q.From, q.To = q.To, q.From
	_, err := f.reporter.Summarize(ctx, q)
	var fe *usecase.FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "from", fe.Field)

	_, err = f.reporter.Summarize(ctx, models.CashflowQuery{To: time.Now()})
	assert.ErrorIs(t, err, usecase.ErrValidation)

	q = january()
	missing := uuid.New()
	q.WalletID = &missing
	_, err = f.reporter.Summarize(ctx, q)
	assert.ErrorIs(t, err, usecase.ErrWalletNotFound)
}

func TestSummarizeCancelledReturnsNoPartialResult(t *testing.T) {
	f := newFixture(t)
	seedJanuary(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := f.reporter.Summarize(ctx, january())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, s)
}

func TestExportXLSX(t *testing.T) {
	f := newFixture(t)
	seedJanuary(t, f)

	data, err := f.reporter.ExportXLSX(context.Background(), january())
	require.NoError(t, err)

	xl, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()

	assert.Equal(t, []string{"By wallet", "Daily"}, xl.GetSheetList())

	rows, err := xl.GetRows("By wallet")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Code", rows[0][0])
	assert.Equal(t, "NGANHANG", rows[1][0])
	assert.Equal(t, "TIENMAT", rows[2][0])
	assert.Equal(t, "TOTAL", rows[3][0])
	assert.Equal(t, "1000", rows[3][2])
	assert.Equal(t, "760", rows[3][8])

	daily, err := xl.GetRows("Daily")
	require.NoError(t, err)
	require.Len(t, daily, 4)
	assert.Equal(t, []string{"2026-01-05", "1000", "200", "800"}, daily[1])
}

func TestExportXLSXPropagatesValidation(t *testing.T) {
	f := newFixture(t)
	q := january()
	q.From, q.To = q.To, q.From

	data, err := f.reporter.ExportXLSX(context.Background(), q)
	assert.ErrorIs(t, err, usecase.ErrValidation)
	assert.Nil(t, data)
}
