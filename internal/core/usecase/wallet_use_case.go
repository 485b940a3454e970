package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/logger"
	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	maxWalletCodeLen = 32
	maxWalletNameLen = 255
	listConcurrency  = 8
)

type CreateWalletInput struct {
	Code           string
	Name           string
	Type           models.WalletType
	OpeningBalance models.Money
	Visual         json.RawMessage
	IsActive       *bool
}

// UpdateWalletInput holds the changed fields. OpeningBalance exists only so
// that an attempt to change it is rejected instead of silently dropped.
type UpdateWalletInput struct {
	Code           *string
	Name           *string
	Type           *models.WalletType
	Visual         json.RawMessage
	IsActive       *bool
	OpeningBalance *models.Money
}

type WalletUsecase interface {
	Create(ctx context.Context, actor models.Actor, in CreateWalletInput) (*models.Wallet, error)
	Update(ctx context.Context, actor models.Actor, id uuid.UUID, in UpdateWalletInput) (*models.Wallet, error)
	SoftDelete(ctx context.Context, actor models.Actor, id uuid.UUID) error
	Restore(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Wallet, error)
	Get(ctx context.Context, id uuid.UUID) (*models.WalletView, error)
	List(ctx context.Context, filter models.WalletFilter) ([]models.WalletView, error)
}

type walletUsecase struct {
	store    repository.Store
	balances BalanceUsecase
	audit    *AuditRecorder
	log      logger.Logger
	now      func() time.Time
}

func NewWalletUsecase(store repository.Store, balances BalanceUsecase, audit *AuditRecorder, log logger.Logger) WalletUsecase {
	return &walletUsecase{
		store:    store,
		balances: balances,
		audit:    audit,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validateActor(actor models.Actor) error {
	if strings.TrimSpace(actor.UserID) == "" {
		return invalid("actor", "user id is required")
	}
	return nil
}

func validateWalletFields(code, name string, walletType models.WalletType) error {
	if code == "" {
		return invalid("code", "is required")
	}
	if len(code) > maxWalletCodeLen {
		return invalid("code", fmt.Sprintf("must be at most %d characters", maxWalletCodeLen))
	}
	if strings.TrimSpace(name) == "" {
		return invalid("name", "is required")
	}
	if len(name) > maxWalletNameLen {
		return invalid("name", fmt.Sprintf("must be at most %d characters", maxWalletNameLen))
	}
	if !walletType.Valid() {
		return invalid("type", fmt.Sprintf("must be one of CASH, BANK, OTHER, got %q", walletType))
	}
	return nil
}

func (uc *walletUsecase) Create(ctx context.Context, actor models.Actor, in CreateWalletInput) (*models.Wallet, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	code := normalizeCode(in.Code)
	if err := validateWalletFields(code, in.Name, in.Type); err != nil {
		uc.logRejected("create", err)
		return nil, err
	}

	now := uc.now()
	wallet := &models.Wallet{
		ID:             uuid.New(),
		Code:           code,
		Name:           strings.TrimSpace(in.Name),
		Type:           in.Type,
		OpeningBalance: in.OpeningBalance,
		Visual:         in.Visual,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.IsActive != nil {
		wallet.IsActive = *in.IsActive
	}

	err := uc.store.WithinTx(ctx, func(repos repository.Repositories) error {
		taken, err := repos.Wallets.ExistsActiveCode(ctx, code, wallet.ID)
		if err != nil {
			return storageFailure("check wallet code", err)
		}
		if taken {
			return fmt.Errorf("%w: wallet code %s already exists", ErrDuplicateCode, code)
		}

		if err := repos.Wallets.Create(ctx, wallet); err != nil {
			return uc.mapWriteError("create wallet", err)
		}

		return uc.audit.Record(ctx, repos, models.AuditEntityWallet, wallet.ID.String(), models.AuditCreate, nil, wallet, actor)
	})
	if err != nil {
		uc.logRejected("create", err)
		return nil, err
	}

	uc.logCommitted(models.AuditCreate, wallet, actor)
	return wallet, nil
}

func (uc *walletUsecase) Update(ctx context.Context, actor models.Actor, id uuid.UUID, in UpdateWalletInput) (*models.Wallet, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if in.OpeningBalance != nil {
		return nil, invalid("openingBalance", "can only be set when the wallet is created")
	}

	var updated *models.Wallet
	err := uc.store.WithinTx(ctx, func(repos repository.Repositories) error {
		before, err := uc.getWallet(ctx, repos, id)
		if err != nil {
			return err
		}
		if before.IsDeleted() {
			return fmt.Errorf("%w: wallet %s is deleted", ErrWalletNotFound, id)
		}

		after := *before
		if in.Code != nil {
			after.Code = normalizeCode(*in.Code)
		}
		if in.Name != nil {
			after.Name = strings.TrimSpace(*in.Name)
		}
		if in.Type != nil {
			after.Type = *in.Type
		}
		if in.Visual != nil {
			after.Visual = in.Visual
		}
		if in.IsActive != nil {
			after.IsActive = *in.IsActive
		}
		if err := validateWalletFields(after.Code, after.Name, after.Type); err != nil {
			return err
		}

		if after.Code != before.Code {
			taken, err := repos.Wallets.ExistsActiveCode(ctx, after.Code, id)
			if err != nil {
				return storageFailure("check wallet code", err)
			}
			if taken {
				return fmt.Errorf("%w: wallet code %s already exists", ErrDuplicateCode, after.Code)
			}
		}

		after.UpdatedAt = uc.now()
		if err := repos.Wallets.Update(ctx, &after); err != nil {
			return uc.mapWriteError("update wallet", err)
		}

		updated = &after
		return uc.audit.Record(ctx, repos, models.AuditEntityWallet, id.String(), models.AuditUpdate, before, &after, actor)
	})
	if err != nil {
		uc.logRejected("update", err)
		return nil, err
	}

	uc.logCommitted(models.AuditUpdate, updated, actor)
	return updated, nil
}

// SoftDelete hides the wallet. Its entries keep referencing it and stay in
// the history; new entries against it are refused.
func (uc *walletUsecase) SoftDelete(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	if err := validateActor(actor); err != nil {
		return err
	}

	var deleted *models.Wallet
	err := uc.store.WithinTx(ctx, func(repos repository.Repositories) error {
		before, err := uc.getWallet(ctx, repos, id)
		if err != nil {
			return err
		}
		if before.IsDeleted() {
			return fmt.Errorf("wallet %s: %w", id, ErrAlreadyDeleted)
		}

		now := uc.now()
		if err := repos.Wallets.SetDeletedAt(ctx, id, &now); err != nil {
			return uc.mapWriteError("delete wallet", err)
		}

		after := *before
		after.DeletedAt = &now
		after.UpdatedAt = now
		deleted = &after
		return uc.audit.Record(ctx, repos, models.AuditEntityWallet, id.String(), models.AuditDelete, before, &after, actor)
	})
	if err != nil {
		uc.logRejected("delete", err)
		return err
	}

	uc.logCommitted(models.AuditDelete, deleted, actor)
	return nil
}

func (uc *walletUsecase) Restore(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Wallet, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	var restored *models.Wallet
	err := uc.store.WithinTx(ctx, func(repos repository.Repositories) error {
		before, err := uc.getWallet(ctx, repos, id)
		if err != nil {
			return err
		}
		if !before.IsDeleted() {
			return fmt.Errorf("wallet %s: %w", id, ErrAlreadyActive)
		}

		taken, err := repos.Wallets.ExistsActiveCode(ctx, before.Code, id)
		if err != nil {
			return storageFailure("check wallet code", err)
		}
		if taken {
			return fmt.Errorf("%w: another active wallet uses code %s", ErrDuplicateCode, before.Code)
		}

		if err := repos.Wallets.SetDeletedAt(ctx, id, nil); err != nil {
			return uc.mapWriteError("restore wallet", err)
		}

		after := *before
		after.DeletedAt = nil
		after.UpdatedAt = uc.now()
		restored = &after
		return uc.audit.Record(ctx, repos, models.AuditEntityWallet, id.String(), models.AuditRestore, before, &after, actor)
	})
	if err != nil {
		uc.logRejected("restore", err)
		return nil, err
	}

	uc.logCommitted(models.AuditRestore, restored, actor)
	return restored, nil
}

func (uc *walletUsecase) Get(ctx context.Context, id uuid.UUID) (*models.WalletView, error) {
	wallet, err := uc.getWallet(ctx, uc.store.Repos(), id)
	if err != nil {
		return nil, err
	}
	view, err := uc.view(ctx, *wallet)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// List returns wallets with balances and entry counts, computed concurrently.
func (uc *walletUsecase) List(ctx context.Context, filter models.WalletFilter) ([]models.WalletView, error) {
	wallets, err := uc.store.Repos().Wallets.List(ctx, filter)
	if err != nil {
		return nil, storageFailure("list wallets", err)
	}

	views := make([]models.WalletView, len(wallets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i := range wallets {
		i := i // per-iteration copy (go 1.21 loop semantics)
		g.Go(func() error {
			v, err := uc.view(gctx, wallets[i])
			if err != nil {
				return err
			}
			views[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

func (uc *walletUsecase) view(ctx context.Context, wallet models.Wallet) (models.WalletView, error) {
	balance, err := uc.balances.CurrentBalance(ctx, wallet.ID)
	if err != nil {
		return models.WalletView{}, err
	}
	count, err := uc.store.Repos().Entries.CountActiveByWallet(ctx, wallet.ID)
	if err != nil {
		return models.WalletView{}, storageFailure("count entries", err)
	}
	return models.WalletView{Wallet: wallet, Balance: balance, EntryCount: count}, nil
}

func (uc *walletUsecase) getWallet(ctx context.Context, repos repository.Repositories, id uuid.UUID) (*models.Wallet, error) {
	wallet, err := repos.Wallets.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}
	if err != nil {
		uc.log.Error("Wallet lookup failed",
			logger.StringField("wallet_id", id.String()),
			logger.ErrorField("error", err))
		return nil, storageFailure("get wallet", err)
	}
	return wallet, nil
}

func (uc *walletUsecase) mapWriteError(op string, err error) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return fmt.Errorf("%w: %s", ErrDuplicateCode, op)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrWalletNotFound, op)
	}
	return storageFailure(op, err)
}

func (uc *walletUsecase) logRejected(op string, err error) {
	ledgerRejectionsTotal.WithLabelValues(models.AuditEntityWallet, errorClass(err)).Inc()
	if errors.Is(err, ErrStorageFailure) {
		uc.log.Error("Wallet operation failed",
			logger.StringField("operation", op),
			logger.ErrorField("error", err))
		return
	}
	uc.log.Warn("Wallet operation rejected",
		logger.StringField("operation", op),
		logger.ErrorField("error", err))
}

func (uc *walletUsecase) logCommitted(action models.AuditAction, w *models.Wallet, actor models.Actor) {
	ledgerMutationsTotal.WithLabelValues(models.AuditEntityWallet, string(action)).Inc()
	uc.log.Info("Wallet operation committed",
		logger.StringField("action", string(action)),
		logger.StringField("wallet_id", w.ID.String()),
		logger.StringField("code", w.Code),
		logger.StringField("user_id", actor.UserID))
}

// errorClass names the taxonomy bucket of err for metrics labels.
func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateCode):
		return "duplicate_code"
	case errors.Is(err, ErrAmountOverflow):
		return "amount_overflow"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "storage"
	}
}
