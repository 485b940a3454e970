package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate key")
)

type WalletRepository interface {
	Create(ctx context.Context, w *models.Wallet) error
	Update(ctx context.Context, w *models.Wallet) error
	SetDeletedAt(ctx context.Context, id uuid.UUID, deletedAt *time.Time) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	ExistsActiveCode(ctx context.Context, code string, exclude uuid.UUID) (bool, error)
	List(ctx context.Context, filter models.WalletFilter) ([]models.Wallet, error)
	// BumpBalanceVersion must run in the transaction that changes the
	// wallets' entries.
	BumpBalanceVersion(ctx context.Context, ids ...uuid.UUID) error
}

// ActiveEntryQuery selects non-deleted entries for balance folds and reports.
// Bounds are inclusive.
type ActiveEntryQuery struct {
	WalletID *uuid.UUID
	From     *time.Time
	To       *time.Time
}

type EntryRepository interface {
	Create(ctx context.Context, e *models.Entry) error
	Update(ctx context.Context, e *models.Entry) error
	SetDeletedAt(ctx context.Context, id uuid.UUID, deletedAt *time.Time) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Entry, error)
	List(ctx context.Context, filter models.EntryFilter) ([]models.Entry, error)
	ListActive(ctx context.Context, q ActiveEntryQuery) ([]models.Entry, error)
	CountActiveByWallet(ctx context.Context, walletID uuid.UUID) (int64, error)
	NextCode(ctx context.Context, kind models.EntryKind) (string, error)
}

type CategoryRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Category, error)
}

type AuditRepository interface {
	Append(ctx context.Context, rec *models.AuditRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error)
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, int64, error)
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories struct {
	Wallets    WalletRepository
	Entries    EntryRepository
	Categories CategoryRepository
	Audit      AuditRepository
}

// Store is the storage boundary. WithinTx runs fn in a single transaction:
// either every write made through repos is committed or none is.
type Store interface {
	Repos() Repositories
	WithinTx(ctx context.Context, fn func(repos Repositories) error) error
}

// FormatCode renders a sequential entry code, e.g. PT000042.
func FormatCode(kind models.EntryKind, n int64) string {
	return fmt.Sprintf("%s%06d", kind.CodePrefix(), n)
}
