package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/cache"
	"github.com/Nzyazin/cashbook/internal/core/logger"
	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/repository"
	"github.com/Nzyazin/cashbook/internal/core/repository/memory"
	"github.com/Nzyazin/cashbook/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	ict   = time.FixedZone("ICT", 7*60*60)
	owner = models.Actor{UserID: "u-owner", Email: "owner@xuong.vn", IP: "10.0.0.7"}
)

type fixture struct {
	store      *memory.Store
	repoStore  repository.Store
	cache      cache.BalanceCache
	audit      *usecase.AuditRecorder
	balances   *usecase.BalanceEngine
	wallets    usecase.WalletUsecase
	entries    usecase.EntryUsecase
	reporter   *usecase.CashflowReporter
	incomeCat  uuid.UUID
	expenseCat uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	return newFixtureWithStore(t, store, store)
}

// newFixtureWithStore lets a test put a wrapper around the memory store.
func newFixtureWithStore(t *testing.T, mem *memory.Store, store repository.Store) *fixture {
	t.Helper()
	return buildFixture(t, mem, store, cache.NewInMemory())
}

// newFixtureWithCache lets a test put a wrapper around the balance cache.
func newFixtureWithCache(t *testing.T, balances cache.BalanceCache) *fixture {
	t.Helper()
	store := memory.New()
	return buildFixture(t, store, store, balances)
}

func buildFixture(t *testing.T, mem *memory.Store, store repository.Store, balances cache.BalanceCache) *fixture {
	t.Helper()
	log := logger.NewNop()
	f := &fixture{
		store:      mem,
		repoStore:  store,
		cache:      balances,
		incomeCat:  uuid.New(),
		expenseCat: uuid.New(),
	}
	mem.SeedCategory(models.Category{ID: f.incomeCat, Name: "Furniture sales", Kind: models.KindIncome})
	mem.SeedCategory(models.Category{ID: f.expenseCat, Name: "Timber", Kind: models.KindExpense})

	f.audit = usecase.NewAuditRecorder(store, log)
	f.balances = usecase.NewBalanceEngine(store, f.cache, log)
	f.wallets = usecase.NewWalletUsecase(store, f.balances, f.audit, log)
	f.entries = usecase.NewEntryUsecase(store, f.audit, log)
	f.reporter = usecase.NewCashflowReporter(store, usecase.ReportOptions{
		Location:   ict,
		MinorUnits: 0,
		Timeout:    5 * time.Second,
	}, log)
	return f
}

func (f *fixture) wallet(t *testing.T, code string, opening models.Money) *models.Wallet {
	t.Helper()
	w, err := f.wallets.Create(context.Background(), owner, usecase.CreateWalletInput{
		Code:           code,
		Name:           code,
		Type:           models.WalletCash,
		OpeningBalance: opening,
	})
	require.NoError(t, err)
	return w
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) models.Money {
	t.Helper()
	b, err := f.balances.CurrentBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) income(t *testing.T, walletID uuid.UUID, amount models.Money, date time.Time) *models.Entry {
	t.Helper()
	e, err := f.entries.CreateIncome(context.Background(), owner, usecase.IncomeInput{
		WalletID: walletID, CategoryID: f.incomeCat, Amount: amount, Date: date,
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) expense(t *testing.T, walletID uuid.UUID, amount models.Money, date time.Time) *models.Entry {
	t.Helper()
	e, err := f.entries.CreateExpense(context.Background(), owner, usecase.ExpenseInput{
		WalletID: walletID, CategoryID: f.expenseCat, Amount: amount, Date: date,
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) transfer(t *testing.T, from, to uuid.UUID, amount, fee models.Money, date time.Time) *models.Entry {
	t.Helper()
	e, err := f.entries.CreateTransfer(context.Background(), owner, usecase.TransferInput{
		WalletID: from, WalletToID: to, Amount: amount, FeeAmount: fee, Date: date,
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) adjustment(t *testing.T, walletID uuid.UUID, amount models.Money, date time.Time) *models.Entry {
	t.Helper()
	e, err := f.entries.CreateAdjustment(context.Background(), owner, usecase.AdjustmentInput{
		WalletID: walletID, Amount: amount, Date: date,
	})
	require.NoError(t, err)
	return e
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, ict)
}

var errAuditDown = errors.New("audit storage down")

// failingAuditStore lets every write through except audit appends.
type failingAuditStore struct {
	repository.Store
}

type failingAuditRepo struct {
	repository.AuditRepository
}

func (failingAuditRepo) Append(context.Context, *models.AuditRecord) error {
	return errAuditDown
}

func (s failingAuditStore) WithinTx(ctx context.Context, fn func(repos repository.Repositories) error) error {
	return s.Store.WithinTx(ctx, func(repos repository.Repositories) error {
		repos.Audit = failingAuditRepo{repos.Audit}
		return fn(repos)
	})
}
