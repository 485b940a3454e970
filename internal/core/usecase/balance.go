package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/cache"
	"github.com/Nzyazin/cashbook/internal/core/logger"
	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/repository"
	"github.com/google/uuid"
)

// cancellation is checked every foldCheckEvery entries
const foldCheckEvery = 256

type BalanceUsecase interface {
	CurrentBalance(ctx context.Context, walletID uuid.UUID) (models.Money, error)
	BalanceAsOf(ctx context.Context, walletID uuid.UUID, at time.Time) (models.Money, error)
}

// BalanceEngine derives balances by folding over non-deleted entries. No
// running total is stored per wallet, so excluding or including an entry only
// removes or adds one term of the sum.
type BalanceEngine struct {
	store repository.Store
	cache cache.BalanceCache
	log   logger.Logger
}

func NewBalanceEngine(store repository.Store, balances cache.BalanceCache, log logger.Logger) *BalanceEngine {
	if balances == nil {
		balances = cache.NewNoop()
	}
	return &BalanceEngine{store: store, cache: balances, log: log}
}

// CurrentBalance reads the wallet before its entries. A value cached under
// the version read here may include later entries, never miss earlier ones.
func (b *BalanceEngine) CurrentBalance(ctx context.Context, walletID uuid.UUID) (models.Money, error) {
	wallet, err := b.wallet(ctx, walletID)
	if err != nil {
		return 0, err
	}

	cached, hit, err := b.cache.Get(ctx, walletID, wallet.BalanceVersion)
	if err != nil {
		b.log.Warn("Balance cache read failed",
			logger.StringField("wallet_id", walletID.String()),
			logger.ErrorField("error", err))
	} else if hit {
		return cached, nil
	}

	balance, err := b.fold(ctx, wallet, nil)
	if err != nil {
		return 0, err
	}

	if err := b.cache.Set(ctx, walletID, wallet.BalanceVersion, balance); err != nil {
		b.log.Warn("Balance cache write failed",
			logger.StringField("wallet_id", walletID.String()),
			logger.ErrorField("error", err))
	}
	return balance, nil
}

// BalanceAsOf folds only entries dated at or before at.
func (b *BalanceEngine) BalanceAsOf(ctx context.Context, walletID uuid.UUID, at time.Time) (models.Money, error) {
	wallet, err := b.wallet(ctx, walletID)
	if err != nil {
		return 0, err
	}
	return b.fold(ctx, wallet, &at)
}

func (b *BalanceEngine) wallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	wallet, err := b.store.Repos().Wallets.GetByID(ctx, walletID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, storageFailure("get wallet", err)
	}
	return wallet, nil
}

func (b *BalanceEngine) fold(ctx context.Context, wallet *models.Wallet, asOf *time.Time) (models.Money, error) {
	entries, err := b.store.Repos().Entries.ListActive(ctx, repository.ActiveEntryQuery{WalletID: &wallet.ID, To: asOf})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, storageFailure("list entries", err)
	}

	return FoldBalance(ctx, wallet.OpeningBalance, wallet.ID, entries)
}

// FoldBalance adds the signed effect of every non-deleted entry on walletID
// to opening. The result does not depend on the order of entries.
func FoldBalance(ctx context.Context, opening models.Money, walletID uuid.UUID, entries []models.Entry) (models.Money, error) {
	balance := opening
	for i := range entries {
		if i%foldCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		e := &entries[i]
		if e.IsDeleted() {
			continue
		}
		delta, err := e.EffectOn(walletID)
		if err != nil {
			return 0, err
		}
		if balance, err = balance.Add(delta); err != nil {
			return 0, err
		}
	}
	return balance, nil
}
