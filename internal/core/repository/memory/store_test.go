package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wallet(code string) *models.Wallet {
	return &models.Wallet{ID: uuid.New(), Code: code, Name: code, Type: models.WalletCash, IsActive: true, CreatedAt: time.Now()}
}

func TestWithinTxDiscardsWorkOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := wallet("TIENMAT")
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(repos repository.Repositories) error {
		require.NoError(t, repos.Wallets.Create(ctx, w))
		_, err := repos.Entries.NextCode(ctx, models.KindIncome)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Repos().Wallets.GetByID(ctx, w.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	code, err := s.Repos().Entries.NextCode(ctx, models.KindIncome)
	require.NoError(t, err)
	assert.Equal(t, "PT000001", code, "counter increments roll back with the transaction")
}

func TestWithinTxCommits(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := wallet("NGANHANG")

	require.NoError(t, s.WithinTx(ctx, func(repos repository.Repositories) error {
		if err := repos.Wallets.Create(ctx, w); err != nil {
			return err
		}
		got, err := repos.Wallets.GetByID(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, "NGANHANG", got.Code)
		return nil
	}))

	got, err := s.Repos().Wallets.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)
}

func TestWithinTxHonoursCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(repository.Repositories) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestWalletCodeUniqueAmongActive(t *testing.T) {
	s := New()
	ctx := context.Background()
	repos := s.Repos()

	first := wallet("TIENMAT")
	require.NoError(t, repos.Wallets.Create(ctx, first))
	assert.ErrorIs(t, repos.Wallets.Create(ctx, wallet("tienmat")), repository.ErrDuplicate)

	now := time.Now()
	require.NoError(t, repos.Wallets.SetDeletedAt(ctx, first.ID, &now))

	second := wallet("TIENMAT")
	require.NoError(t, repos.Wallets.Create(ctx, second))

	assert.ErrorIs(t, repos.Wallets.SetDeletedAt(ctx, first.ID, nil), repository.ErrDuplicate,
		"restoring would give two active wallets the same code")

	all, err := repos.Wallets.List(ctx, models.WalletFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := repos.Wallets.List(ctx, models.WalletFilter{Search: "tien"})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
}

func TestEntryCodesAreSequentialPerKind(t *testing.T) {
	s := New()
	ctx := context.Background()
	repos := s.Repos()

	var codes []string
	for _, k := range []models.EntryKind{models.KindIncome, models.KindIncome, models.KindExpense, models.KindTransfer, models.KindAdjustment} {
		code, err := repos.Entries.NextCode(ctx, k)
		require.NoError(t, err)
		codes = append(codes, code)
	}
	assert.Equal(t, []string{"PT000001", "PT000002", "PC000001", "CK000001", "DC000001"}, codes)
}

func TestEntryListingOrderAndCounts(t *testing.T) {
	s := New()
	ctx := context.Background()
	repos := s.Repos()
	cash, bank := uuid.New(), uuid.New()
	day := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	deletedAt := day

	entries := []models.Entry{
		{ID: uuid.New(), Code: "PT000001", Date: day, Amount: 10, Details: models.IncomeDetails{WalletID: cash}},
		{ID: uuid.New(), Code: "CK000001", Date: day.AddDate(0, 0, 1), Amount: 5, Details: models.TransferDetails{WalletID: cash, WalletToID: bank}},
		{ID: uuid.New(), Code: "PC000001", Date: day.AddDate(0, 0, 2), Amount: 3, Details: models.ExpenseDetails{WalletID: cash}, DeletedAt: &deletedAt},
	}
	for i := range entries {
		require.NoError(t, repos.Entries.Create(ctx, &entries[i]))
	}
	assert.ErrorIs(t, repos.Entries.Create(ctx, &models.Entry{ID: uuid.New(), Code: "PT000001", Details: models.IncomeDetails{}}), repository.ErrDuplicate)

	listed, err := repos.Entries.List(ctx, models.EntryFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "PC000001", listed[0].Code, "newest first")

	active, err := repos.Entries.ListActive(ctx, repository.ActiveEntryQuery{WalletID: &cash})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "PT000001", active[0].Code, "oldest first for folds")

	n, err := repos.Entries.CountActiveByWallet(ctx, bank)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestAuditListPaginatesNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	repos := s.Repos()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, repos.Audit.Append(ctx, &models.AuditRecord{
			ID:          uuid.New(),
			Entity:      models.AuditEntityEntry,
			EntityID:    uuid.NewString(),
			Action:      models.AuditCreate,
			ByUserID:    "u-1",
			ByUserEmail: "owner@example.com",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	items, total, err := repos.Audit.List(ctx, models.AuditFilter{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, items, 2)
	assert.True(t, items[0].CreatedAt.Equal(base.Add(2*time.Minute)))

	items, total, err = repos.Audit.List(ctx, models.AuditFilter{Q: "OWNER@", Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, items, 1)

	_, err = repos.Audit.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestBalanceVersionBumpsWithTheTransaction(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := wallet("TIENMAT")
	require.NoError(t, s.Repos().Wallets.Create(ctx, w))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(repos repository.Repositories) error {
		require.NoError(t, repos.Wallets.BumpBalanceVersion(ctx, w.ID))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Repos().Wallets.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.BalanceVersion, "a rolled back bump is not visible")

	require.NoError(t, s.WithinTx(ctx, func(repos repository.Repositories) error {
		return repos.Wallets.BumpBalanceVersion(ctx, w.ID)
	}))

	// a stale copy written back must not rewind the version
	got.Name = "Tien mat"
	got.BalanceVersion = 0
	require.NoError(t, s.Repos().Wallets.Update(ctx, got))

	got, err = s.Repos().Wallets.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "Tien mat", got.Name)
	assert.Equal(t, int64(1), got.BalanceVersion)

	assert.ErrorIs(t, s.Repos().Wallets.BumpBalanceVersion(ctx, uuid.New()), repository.ErrNotFound)
}
