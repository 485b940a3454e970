package usecase_test

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkshopDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.wallet(t, "TIENMAT", 0)
	bank := f.wallet(t, "NGANHANG", 0)

	income := f.income(t, cash.ID, 15_000_000, day(2026, 1, 10))
	assert.Equal(t, "PT000001", income.Code)
	assert.Equal(t, models.Money(15_000_000), f.balance(t, cash.ID))

	tr := f.transfer(t, cash.ID, bank.ID, 10_000_000, 0, day(2026, 1, 11))
	assert.Equal(t, "CK000001", tr.Code)
	assert.Equal(t, models.Money(5_000_000), f.balance(t, cash.ID))
	assert.Equal(t, models.Money(10_000_000), f.balance(t, bank.ID))

	exp := f.expense(t, cash.ID, 5_000_000, day(2026, 1, 12))
	assert.Equal(t, "PC000001", exp.Code)
	assert.Equal(t, models.Money(0), f.balance(t, cash.ID))

	require.NoError(t, f.entries.SoftDelete(ctx, owner, exp.ID))
	assert.Equal(t, models.Money(5_000_000), f.balance(t, cash.ID))

	summary, err := f.reporter.Summarize(ctx, models.CashflowQuery{
		WalletID: &cash.ID,
		From:     time.Date(2026, 1, 1, 0, 0, 0, 0, ict),
		To:       time.Date(2026, 1, 31, 23, 59, 59, 0, ict),
	})
	require.NoError(t, err)
	require.Len(t, summary.ByWallet, 1)
	row := summary.ByWallet[0]
	assert.Equal(t, "TIENMAT", row.WalletCode)
	assert.Equal(t, models.Money(15_000_000), row.IncomeTotal)
	assert.Equal(t, models.Money(10_000_000), row.TransferOutTotal)
	assert.Equal(t, models.Money(0), row.ExpenseTotal)
	assert.Equal(t, models.Money(0), row.TransferInTotal)
	assert.Equal(t, models.Money(5_000_000), row.NetChange)
}

func TestTransferFeeLeavesTheLedger(t *testing.T) {
	f := newFixture(t)
	cash := f.wallet(t, "TIENMAT", 5_000_000)
	bank := f.wallet(t, "NGANHANG", 0)

	f.transfer(t, cash.ID, bank.ID, 1_000_000, 11_000, day(2026, 2, 1))

	assert.Equal(t, models.Money(3_989_000), f.balance(t, cash.ID))
	assert.Equal(t, models.Money(1_000_000), f.balance(t, bank.ID))

	total, err := models.Sum(f.balance(t, cash.ID), f.balance(t, bank.ID))
	require.NoError(t, err)
	assert.Equal(t, models.Money(5_000_000-11_000), total)
}

func TestAdjustmentIsSigned(t *testing.T) {
	f := newFixture(t)
	cash := f.wallet(t, "TIENMAT", 1_000_000)

	up := f.adjustment(t, cash.ID, 250_000, day(2026, 3, 1))
	assert.Equal(t, "DC000001", up.Code)
	f.adjustment(t, cash.ID, -400_000, day(2026, 3, 2))

	assert.Equal(t, models.Money(850_000), f.balance(t, cash.ID))
}

func TestCreateRejectsInvalidEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.wallet(t, "TIENMAT", 0)
	bank := f.wallet(t, "NGANHANG", 0)
	gone := f.wallet(t, "CU", 0)
	require.NoError(t, f.wallets.SoftDelete(ctx, owner, gone.ID))
	when := day(2026, 1, 5)

	tests := []struct {
		name   string
		create func() error
		class  error
		field  string
	}{
		{
			name: "zero income",
			create: func() error {
				_, err := f.entries.CreateIncome(ctx, owner, usecase.IncomeInput{WalletID: cash.ID, CategoryID: f.incomeCat, Date: when})
				return err
			},
			class: usecase.ErrValidation, field: "amount",
		},
		{
			name: "negative expense",
			create: func() error {
				_, err := f.entries.CreateExpense(ctx, owner, usecase.ExpenseInput{WalletID: cash.ID, CategoryID: f.expenseCat, Amount: -5, Date: when})
				return err
			},
			class: usecase.ErrValidation, field: "amount",
		},
		{
			name: "missing date",
			create: func() error {
				_, err := f.entries.CreateIncome(ctx, owner, usecase.IncomeInput{WalletID: cash.ID, CategoryID: f.incomeCat, Amount: 10})
				return err
			},
			class: usecase.ErrValidation, field: "date",
		},
		{
			name: "note too long",
			create: func() error {
				_, err := f.entries.CreateIncome(ctx, owner, usecase.IncomeInput{WalletID: cash.ID, CategoryID: f.incomeCat, Amount: 10, Date: when, Note: strings.Repeat("x", 1001)})
				return err
			},
			class: usecase.ErrValidation, field: "note",
		},
		{
			name: "transfer to itself",
			create: func() error {
				_, err := f.entries.CreateTransfer(ctx, owner, usecase.TransferInput{WalletID: cash.ID, WalletToID: cash.ID, Amount: 10, Date: when})
				return err
			},
			class: usecase.ErrValidation, field: "walletToId",
		},
		{
			name: "negative fee",
			create: func() error {
				_, err := f.entries.CreateTransfer(ctx, owner, usecase.TransferInput{WalletID: cash.ID, WalletToID: bank.ID, Amount: 10, FeeAmount: -1, Date: when})
				return err
			},
			class: usecase.ErrValidation, field: "feeAmount",
		},
		{
			name: "zero adjustment",
			create: func() error {
				_, err := f.entries.CreateAdjustment(ctx, owner, usecase.AdjustmentInput{WalletID: cash.ID, Date: when})
				return err
			},
			class: usecase.ErrValidation, field: "amount",
		},
		{
			name: "expense category on income",
			create: func() error {
				_, err := f.entries.CreateIncome(ctx, owner, usecase.IncomeInput{WalletID: cash.ID, CategoryID: f.expenseCat, Amount: 10, Date: when})
				return err
			},
			class: usecase.ErrValidation, field: "categoryId",
		},
		{
			name: "unknown category",
			create: func() error {
				_, err := f.entries.CreateExpense(ctx, owner, usecase.ExpenseInput{WalletID: cash.ID, CategoryID: uuid.New(), Amount: 10, Date: when})
				return err
			},
			class: usecase.ErrCategoryNotFound,
		},
		{
			name: "unknown wallet",
			create: func() error {
				_, err := f.entries.CreateIncome(ctx, owner, usecase.IncomeInput{WalletID: uuid.New(), CategoryID: f.incomeCat, Amount: 10, Date: when})
				return err
			},
			class: usecase.ErrWalletNotFound,
		},
		{
			name: "deleted destination wallet",
			create: func() error {
				_, err := f.entries.CreateTransfer(ctx, owner, usecase.TransferInput{WalletID: cash.ID, WalletToID: gone.ID, Amount: 10, Date: when})
				return err
			},
			class: usecase.ErrWalletNotFound,
		},
		{
			name: "amount plus fee overflows",
			create: func() error {
				_, err := f.entries.CreateTransfer(ctx, owner, usecase.TransferInput{WalletID: cash.ID, WalletToID: bank.ID, Amount: math.MaxInt64, FeeAmount: 1, Date: when})
				return err
			},
			class: usecase.ErrAmountOverflow,
		},
		{
			name: "missing actor",
			create: func() error {
				_, err := f.entries.CreateIncome(ctx, models.Actor{}, usecase.IncomeInput{WalletID: cash.ID, CategoryID: f.incomeCat, Amount: 10, Date: when})
				return err
			},
			class: usecase.ErrValidation, field: "actor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.create()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.class)
			if tt.field != "" {
				var fe *usecase.FieldError
				require.ErrorAs(t, err, &fe)
				assert.Equal(t, tt.field, fe.Field)
			}
		})
	}

	// nothing was written, so no codes were consumed
	assert.Equal(t, models.Money(0), f.balance(t, cash.ID))
	first := f.income(t, cash.ID, 10, when)
	assert.Equal(t, "PT000001", first.Code)
}

func TestSoftDeleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.wallet(t, "TIENMAT", 0)
	e := f.income(t, cash.ID, 700_000, day(2026, 1, 3))

	require.NoError(t, f.entries.SoftDelete(ctx, owner, e.ID))
	assert.Equal(t, models.Money(0), f.balance(t, cash.ID))

	err := f.entries.SoftDelete(ctx, owner, e.ID)
	assert.ErrorIs(t, err, usecase.ErrAlreadyDeleted)
	assert.ErrorIs(t, err, usecase.ErrNotFound)
	assert.Equal(t, models.Money(0), f.balance(t, cash.ID))

	err = f.entries.SoftDelete(ctx, owner, uuid.New())
	assert.ErrorIs(t, err, usecase.ErrEntryNotFound)
}

func TestRestoreBringsTheEffectBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.wallet(t, "TIENMAT", 0)
	bank := f.wallet(t, "NGANHANG", 0)
	e := f.transfer(t, cash.ID, bank.ID, 300_000, 5_000, day(2026, 1, 3))

	_, err := f.entries.Restore(ctx, owner, e.ID)
	assert.ErrorIs(t, err, usecase.ErrAlreadyActive)

	require.NoError(t, f.entries.SoftDelete(ctx, owner, e.ID))
	assert.Equal(t, models.Money(0), f.balance(t, cash.ID))
	assert.Equal(t, models.Money(0), f.balance(t, bank.ID))

	restored, err := f.entries.Restore(ctx, owner, e.ID)
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted())
	assert.Equal(t, e.Code, restored.Code)
	assert.Equal(t, models.Money(-305_000), f.balance(t, cash.ID))
	assert.Equal(t, models.Money(300_000), f.balance(t, bank.ID))
}

func TestRestoreOnDeletedWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.wallet(t, "TIENMAT", 0)
	e := f.income(t, cash.ID, 100, day(2026, 1, 3))

	require.NoError(t, f.entries.SoftDelete(ctx, owner, e.ID))
	require.NoError(t, f.wallets.SoftDelete(ctx, owner, cash.ID))

	_, err := f.entries.Restore(ctx, owner, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Money(100), f.balance(t, cash.ID))
}

func TestUpdateRevalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.wallet(t, "TIENMAT", 0)
	bank := f.wallet(t, "NGANHANG", 0)
	tr := f.transfer(t, cash.ID, bank.ID, 1_000, 0, day(2026, 1, 3))
	inc := f.income(t, cash.ID, 2_000, day(2026, 1, 4))

	_, err := f.entries.Update(ctx, owner, tr.ID, models.EntryPatch{WalletToID: &cash.ID})
	assert.ErrorIs(t, err, usecase.ErrValidation)

	fee := models.Money(10)
	_, err = f.entries.Update(ctx, owner, inc.ID, models.EntryPatch{FeeAmount: &fee})
	var fe *usecase.FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "feeAmount", fe.Field)

	_, err = f.entries.Update(ctx, owner, tr.ID, models.EntryPatch{CategoryID: &f.expenseCat})
	assert.ErrorIs(t, err, usecase.ErrValidation)

	zero := models.Money(0)
	_, err = f.entries.Update(ctx, owner, inc.ID, models.EntryPatch{Amount: &zero})
	assert.ErrorIs(t, err, usecase.ErrValidation)

	// rejected updates change nothing
	assert.Equal(t, models.Money(1_000), f.balance(t, cash.ID))

	amount := models.Money(5_000)
	note := "deposit for oak table"
	updated, err := f.entries.Update(ctx, owner, inc.ID, models.EntryPatch{Amount: &amount, Note: &note})
	require.NoError(t, err)
	assert.Equal(t, amount, updated.Amount)
	assert.Equal(t, note, updated.Note)
	assert.Equal(t, inc.Code, updated.Code)
	assert.Equal(t, models.Money(4_000), f.balance(t, cash.ID))
}

func TestUpdateMovesEntryBetweenWallets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.wallet(t, "TIENMAT", 0)
	bank := f.wallet(t, "NGANHANG", 0)
	e := f.expense(t, cash.ID, 800, day(2026, 1, 3))

	// warm the cache for both wallets
	assert.Equal(t, models.Money(-800), f.balance(t, cash.ID))
	assert.Equal(t, models.Money(0), f.balance(t, bank.ID))

	_, err := f.entries.Update(ctx, owner, e.ID, models.EntryPatch{WalletID: &bank.ID})
	require.NoError(t, err)

	assert.Equal(t, models.Money(0), f.balance(t, cash.ID))
	assert.Equal(t, models.Money(-800), f.balance(t, bank.ID))
}

func TestUpdateDeletedEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.wallet(t, "TIENMAT", 0)
	e := f.income(t, cash.ID, 100, day(2026, 1, 3))
	require.NoError(t, f.entries.SoftDelete(ctx, owner, e.ID))

	note := "late edit"
	_, err := f.entries.Update(ctx, owner, e.ID, models.EntryPatch{Note: &note})
	assert.ErrorIs(t, err, usecase.ErrEntryNotFound)
}

func TestProjectCanBeSetAndCleared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.wallet(t, "TIENMAT", 0)
	e := f.expense(t, cash.ID, 100, day(2026, 1, 3))

	project := uuid.New()
	updated, err := f.entries.Update(ctx, owner, e.ID, models.EntryPatch{ProjectID: &project})
	require.NoError(t, err)
	require.IsType(t, models.ExpenseDetails{}, updated.Details)
	assert.Equal(t, &project, updated.Details.(models.ExpenseDetails).ProjectID)

	updated, err = f.entries.Update(ctx, owner, e.ID, models.EntryPatch{ClearProject: true})
	require.NoError(t, err)
	assert.Nil(t, updated.Details.(models.ExpenseDetails).ProjectID)
}

func TestBalanceAsOf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.wallet(t, "TIENMAT", 1_000)
	f.income(t, cash.ID, 100, day(2026, 1, 1))
	f.expense(t, cash.ID, 30, day(2026, 1, 2))
	f.income(t, cash.ID, 5, day(2026, 1, 3))

	at, err := f.balances.BalanceAsOf(ctx, cash.ID, day(2026, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, models.Money(1_070), at)

	before, err := f.balances.BalanceAsOf(ctx, cash.ID, day(2025, 12, 31))
	require.NoError(t, err)
	assert.Equal(t, models.Money(1_000), before)

	assert.Equal(t, models.Money(1_075), f.balance(t, cash.ID))

	_, err = f.balances.CurrentBalance(ctx, uuid.New())
	assert.ErrorIs(t, err, usecase.ErrWalletNotFound)
}

func TestFoldBalanceIgnoresOrder(t *testing.T) {
	wallet, other := uuid.New(), uuid.New()
	entries := []models.Entry{
		{Amount: 100, Details: models.IncomeDetails{WalletID: wallet}},
		{Amount: 40, Details: models.ExpenseDetails{WalletID: wallet}},
		{Amount: 10, Details: models.TransferDetails{WalletID: wallet, WalletToID: other, Fee: 1}},
		{Amount: 7, Details: models.TransferDetails{WalletID: other, WalletToID: wallet}},
		{Amount: -3, Details: models.AdjustmentDetails{WalletID: wallet}},
		{Amount: 999, Details: models.IncomeDetails{WalletID: other}},
	}
	deletedAt := time.Now()
	entries = append(entries, models.Entry{Amount: 500, DeletedAt: &deletedAt, Details: models.IncomeDetails{WalletID: wallet}})

	forward, err := usecase.FoldBalance(context.Background(), 20, wallet, entries)
	require.NoError(t, err)
	assert.Equal(t, models.Money(20+100-40-11+7-3), forward)

	reversed := make([]models.Entry, len(entries))
	for i := range entries {
		reversed[len(entries)-1-i] = entries[i]
	}
	backward, err := usecase.FoldBalance(context.Background(), 20, wallet, reversed)
	require.NoError(t, err)
	assert.Equal(t, forward, backward)
}

func TestFoldBalanceOverflow(t *testing.T) {
	wallet := uuid.New()
	entries := []models.Entry{{Amount: 1, Details: models.IncomeDetails{WalletID: wallet}}}

	_, err := usecase.FoldBalance(context.Background(), math.MaxInt64, wallet, entries)
	assert.ErrorIs(t, err, usecase.ErrAmountOverflow)
}

func TestConcurrentIncomesAllCount(t *testing.T) {
	f := newFixture(t)
	cash := f.wallet(t, "TIENMAT", 0)

	const workers = 16
	codes := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := f.entries.CreateIncome(context.Background(), owner, usecase.IncomeInput{
				WalletID: cash.ID, CategoryID: f.incomeCat, Amount: 1_000, Date: day(2026, 1, 1),
			})
			if assert.NoError(t, err) {
				codes[i] = e.Code
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, models.Money(workers*1_000), f.balance(t, cash.ID))
	seen := make(map[string]bool, workers)
	for _, c := range codes {
		assert.False(t, seen[c], "duplicate code %s", c)
		seen[c] = true
	}
}

func TestAuditFailureRollsBackTheWrite(t *testing.T) {
	base := newFixture(t)
	f := newFixtureWithStore(t, base.store, failingAuditStore{base.store})
	cash := base.wallet(t, "TIENMAT", 0)

	_, err := f.entries.CreateIncome(context.Background(), owner, usecase.IncomeInput{
		WalletID: cash.ID, CategoryID: base.incomeCat, Amount: 1_000, Date: day(2026, 1, 1),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, usecase.ErrStorageFailure)
	assert.ErrorIs(t, err, errAuditDown)

	entries, err := base.entries.List(context.Background(), models.EntryFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, models.Money(0), base.balance(t, cash.ID))
}

func TestEveryMutationIsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.wallet(t, "TIENMAT", 0)
	e := f.income(t, cash.ID, 100, day(2026, 1, 1))

	amount := models.Money(150)
	_, err := f.entries.Update(ctx, owner, e.ID, models.EntryPatch{Amount: &amount})
	require.NoError(t, err)
	require.NoError(t, f.entries.SoftDelete(ctx, owner, e.ID))
	_, err = f.entries.Restore(ctx, owner, e.ID)
	require.NoError(t, err)

	page, err := f.audit.List(ctx, models.AuditFilter{Entity: models.AuditEntityEntry})
	require.NoError(t, err)
	require.EqualValues(t, 4, page.Total)

	actions := make([]models.AuditAction, 0, len(page.Items))
	for _, rec := range page.Items {
		actions = append(actions, rec.Action)
		assert.Equal(t, e.ID.String(), rec.EntityID)
		assert.Equal(t, owner.UserID, rec.ByUserID)
		assert.Equal(t, owner.Email, rec.ByUserEmail)
		require.NotNil(t, rec.IP)
		assert.Equal(t, owner.IP, *rec.IP)
	}
	assert.ElementsMatch(t, []models.AuditAction{
		models.AuditCreate, models.AuditUpdate, models.AuditDelete, models.AuditRestore,
	}, actions)

	for _, rec := range page.Items {
		switch rec.Action {
		case models.AuditCreate:
			assert.Empty(t, rec.BeforeJSON)
			assert.Contains(t, string(rec.AfterJSON), `"amount":100`)
		case models.AuditUpdate:
			assert.Contains(t, string(rec.BeforeJSON), `"amount":100`)
			assert.Contains(t, string(rec.AfterJSON), `"amount":150`)
		}
	}
}

func TestListEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cash := f.wallet(t, "TIENMAT", 0)
	bank := f.wallet(t, "NGANHANG", 0)
	f.income(t, cash.ID, 100, day(2026, 1, 1))
	f.transfer(t, bank.ID, cash.ID, 50, 0, day(2026, 1, 2))
	gone := f.expense(t, bank.ID, 10, day(2026, 1, 3))
	require.NoError(t, f.entries.SoftDelete(ctx, owner, gone.ID))

	touching, err := f.entries.List(ctx, models.EntryFilter{WalletID: &cash.ID})
	require.NoError(t, err)
	assert.Len(t, touching, 2)

	transfers, err := f.entries.List(ctx, models.EntryFilter{Kinds: []models.EntryKind{models.KindTransfer}})
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "CK000001", transfers[0].Code)

	all, err := f.entries.List(ctx, models.EntryFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = f.entries.List(ctx, models.EntryFilter{Kinds: []models.EntryKind{"REFUND"}})
	assert.ErrorIs(t, err, usecase.ErrValidation)

	from, to := day(2026, 2, 1), day(2026, 1, 1)
	_, err = f.entries.List(ctx, models.EntryFilter{From: &from, To: &to})
	assert.ErrorIs(t, err, usecase.ErrValidation)
}
