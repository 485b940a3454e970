package postgres

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/logger"
	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const walletColumns = `id, code, name, type, opening_balance, visual, is_active, created_at, updated_at, deleted_at, balance_version`

type walletRow struct {
	ID             uuid.UUID  `db:"id"`
	Code           string     `db:"code"`
	Name           string     `db:"name"`
	Type           string     `db:"type"`
	OpeningBalance int64      `db:"opening_balance"`
	Visual         []byte     `db:"visual"`
	IsActive       bool       `db:"is_active"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at"`
	BalanceVersion int64      `db:"balance_version"`
}

func (r walletRow) toModel() models.Wallet {
	return models.Wallet{
		ID:             r.ID,
		Code:           r.Code,
		Name:           r.Name,
		Type:           models.WalletType(r.Type),
		OpeningBalance: models.Money(r.OpeningBalance),
		Visual:         json.RawMessage(r.Visual),
		IsActive:       r.IsActive,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		DeletedAt:      r.DeletedAt,
		BalanceVersion: r.BalanceVersion,
	}
}

type postgresWalletRepo struct {
	db  sqlx.ExtContext
	log logger.Logger
}

func (r *postgresWalletRepo) Create(ctx context.Context, w *models.Wallet) error {
	const query = `INSERT INTO wallets
        (id, code, name, type, opening_balance, visual, is_active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		w.ID,
		w.Code,
		w.Name,
		string(w.Type),
		int64(w.OpeningBalance),
		nullJSON(w.Visual),
		w.IsActive,
		w.CreatedAt,
		w.UpdatedAt,
	)
	return translateError(err, "create wallet")
}

// Update never touches opening_balance or balance_version.
func (r *postgresWalletRepo) Update(ctx context.Context, w *models.Wallet) error {
	const query = `UPDATE wallets
        SET code = $1, name = $2, type = $3, visual = $4, is_active = $5, updated_at = $6
        WHERE id = $7`

	res, err := r.db.ExecContext(ctx, query,
		w.Code,
		w.Name,
		string(w.Type),
		nullJSON(w.Visual),
		w.IsActive,
		w.UpdatedAt,
		w.ID,
	)
	if err != nil {
		return translateError(err, "update wallet")
	}
	return expectOneRow(res, "update wallet")
}

func (r *postgresWalletRepo) SetDeletedAt(ctx context.Context, id uuid.UUID, deletedAt *time.Time) error {
	const query = `UPDATE wallets SET deleted_at = $1, updated_at = NOW() WHERE id = $2`

	res, err := r.db.ExecContext(ctx, query, deletedAt, id)
	if err != nil {
		return translateError(err, "set wallet deleted_at")
	}
	return expectOneRow(res, "set wallet deleted_at")
}

func (r *postgresWalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	var row walletRow
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.db, &row, query, id); err != nil {
		return nil, translateError(err, "get wallet")
	}
	w := row.toModel()
	return &w, nil
}

func (r *postgresWalletRepo) ExistsActiveCode(ctx context.Context, code string, exclude uuid.UUID) (bool, error) {
	const query = `SELECT EXISTS (
        SELECT 1 FROM wallets WHERE code = $1 AND id <> $2 AND deleted_at IS NULL
    )`
	var exists bool
	if err := sqlx.GetContext(ctx, r.db, &exists, query, code, exclude); err != nil {
		return false, translateError(err, "check wallet code")
	}
	return exists, nil
}

func (r *postgresWalletRepo) List(ctx context.Context, filter models.WalletFilter) ([]models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets
        WHERE ($1::boolean OR deleted_at IS NULL)
          AND ($2::text = '' OR name ILIKE '%' || $2::text || '%' OR code ILIKE '%' || $2::text || '%')
        ORDER BY code, created_at`

	var rows []walletRow
	search := escapeLike(strings.TrimSpace(filter.Search))
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, filter.IncludeDeleted, search); err != nil {
		return nil, translateError(err, "list wallets")
	}

	wallets := make([]models.Wallet, 0, len(rows))
	for _, row := range rows {
		wallets = append(wallets, row.toModel())
	}
	return wallets, nil
}

func (r *postgresWalletRepo) BumpBalanceVersion(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE wallets SET balance_version = balance_version + 1 WHERE id = ANY($1)`

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}
	res, err := r.db.ExecContext(ctx, query, pq.Array(keys))
	if err != nil {
		return translateError(err, "bump balance version")
	}
	return expectOneRow(res, "bump balance version")
}
