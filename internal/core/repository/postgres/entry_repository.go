package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/logger"
	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const entryColumns = `id, code, kind, date, amount, note, wallet_id, wallet_to_id, category_id,
    project_id, fee_amount, is_common_cost, created_by_user_id, created_at, updated_at, deleted_at`

// entryRow is the polymorphic table layout; kind decides which of the
// nullable columns are meaningful.
type entryRow struct {
	ID              uuid.UUID     `db:"id"`
	Code            string        `db:"code"`
	Kind            string        `db:"kind"`
	Date            time.Time     `db:"date"`
	Amount          int64         `db:"amount"`
	Note            string        `db:"note"`
	WalletID        uuid.UUID     `db:"wallet_id"`
	WalletToID      uuid.NullUUID `db:"wallet_to_id"`
	CategoryID      uuid.NullUUID `db:"category_id"`
	ProjectID       uuid.NullUUID `db:"project_id"`
	FeeAmount       int64         `db:"fee_amount"`
	IsCommonCost    bool          `db:"is_common_cost"`
	CreatedByUserID string        `db:"created_by_user_id"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
	DeletedAt       *time.Time    `db:"deleted_at"`
}

func toEntryRow(e *models.Entry) (entryRow, error) {
	row := entryRow{
		ID:              e.ID,
		Code:            e.Code,
		Kind:            string(e.Kind()),
		Date:            e.Date,
		Amount:          int64(e.Amount),
		Note:            e.Note,
		CreatedByUserID: e.CreatedByUserID,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
		DeletedAt:       e.DeletedAt,
	}

	switch d := e.Details.(type) {
	case models.IncomeDetails:
		row.WalletID = d.WalletID
		row.CategoryID = uuid.NullUUID{UUID: d.CategoryID, Valid: true}
		row.ProjectID = nullUUID(d.ProjectID)
	case models.ExpenseDetails:
		row.WalletID = d.WalletID
		row.CategoryID = uuid.NullUUID{UUID: d.CategoryID, Valid: true}
		row.ProjectID = nullUUID(d.ProjectID)
		row.IsCommonCost = d.IsCommonCost
	case models.TransferDetails:
		row.WalletID = d.WalletID
		row.WalletToID = uuid.NullUUID{UUID: d.WalletToID, Valid: true}
		row.FeeAmount = int64(d.Fee)
	case models.AdjustmentDetails:
		row.WalletID = d.WalletID
	default:
		return entryRow{}, fmt.Errorf("%w: %T", models.ErrUnknownEntryKind, e.Details)
	}
	return row, nil
}

func (r entryRow) toModel() (models.Entry, error) {
	e := models.Entry{
		ID:              r.ID,
		Code:            r.Code,
		Date:            r.Date,
		Amount:          models.Money(r.Amount),
		Note:            r.Note,
		CreatedByUserID: r.CreatedByUserID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		DeletedAt:       r.DeletedAt,
	}

	switch models.EntryKind(r.Kind) {
	case models.KindIncome:
		e.Details = models.IncomeDetails{WalletID: r.WalletID, CategoryID: r.CategoryID.UUID, ProjectID: uuidPtr(r.ProjectID)}
	case models.KindExpense:
		e.Details = models.ExpenseDetails{WalletID: r.WalletID, CategoryID: r.CategoryID.UUID, ProjectID: uuidPtr(r.ProjectID), IsCommonCost: r.IsCommonCost}
	case models.KindTransfer:
		e.Details = models.TransferDetails{WalletID: r.WalletID, WalletToID: r.WalletToID.UUID, Fee: models.Money(r.FeeAmount)}
	case models.KindAdjustment:
		e.Details = models.AdjustmentDetails{WalletID: r.WalletID}
	default:
		return models.Entry{}, fmt.Errorf("%w: %q in row %s", models.ErrUnknownEntryKind, r.Kind, r.ID)
	}
	return e, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

type postgresEntryRepo struct {
	db  sqlx.ExtContext
	log logger.Logger
}

func (r *postgresEntryRepo) Create(ctx context.Context, e *models.Entry) error {
	row, err := toEntryRow(e)
	if err != nil {
		return err
	}

	const query = `INSERT INTO ledger_entries
        (id, code, kind, date, amount, note, wallet_id, wallet_to_id, category_id, project_id,
         fee_amount, is_common_cost, created_by_user_id, created_at, updated_at)
        VALUES (:id, :code, :kind, :date, :amount, :note, :wallet_id, :wallet_to_id, :category_id, :project_id,
         :fee_amount, :is_common_cost, :created_by_user_id, :created_at, :updated_at)`

	_, err = sqlx.NamedExecContext(ctx, r.db, query, row)
	return translateError(err, "create entry")
}

func (r *postgresEntryRepo) Update(ctx context.Context, e *models.Entry) error {
	row, err := toEntryRow(e)
	if err != nil {
		return err
	}

	const query = `UPDATE ledger_entries
        SET date = :date, amount = :amount, note = :note, wallet_id = :wallet_id,
            wallet_to_id = :wallet_to_id, category_id = :category_id, project_id = :project_id,
            fee_amount = :fee_amount, is_common_cost = :is_common_cost, updated_at = :updated_at
        WHERE id = :id`

	res, err := sqlx.NamedExecContext(ctx, r.db, query, row)
	if err != nil {
		return translateError(err, "update entry")
	}
	return expectOneRow(res, "update entry")
}

func (r *postgresEntryRepo) SetDeletedAt(ctx context.Context, id uuid.UUID, deletedAt *time.Time) error {
	const query = `UPDATE ledger_entries SET deleted_at = $1, updated_at = NOW() WHERE id = $2`

	res, err := r.db.ExecContext(ctx, query, deletedAt, id)
	if err != nil {
		return translateError(err, "set entry deleted_at")
	}
	return expectOneRow(res, "set entry deleted_at")
}

func (r *postgresEntryRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Entry, error) {
	var row entryRow
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.db, &row, query, id); err != nil {
		return nil, translateError(err, "get entry")
	}
	e, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// whereBuilder collects numbered placeholders for dynamic filters.
type whereBuilder struct {
	conds []string
	args  []interface{}
}

func (b *whereBuilder) add(cond string, args ...interface{}) {
	for _, a := range args {
		b.args = append(b.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(b.args)), 1)
	}
	b.conds = append(b.conds, cond)
}

func (b *whereBuilder) sql() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

func (r *postgresEntryRepo) List(ctx context.Context, filter models.EntryFilter) ([]models.Entry, error) {
	var b whereBuilder
	if !filter.IncludeDeleted {
		b.add("deleted_at IS NULL")
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, 0, len(filter.Kinds))
		for _, k := range filter.Kinds {
			kinds = append(kinds, string(k))
		}
		b.add("kind = ANY(?)", pq.Array(kinds))
	}
	if filter.From != nil {
		b.add("date >= ?", *filter.From)
	}
	if filter.To != nil {
		b.add("date <= ?", *filter.To)
	}
	if filter.WalletID != nil {
		b.add("(wallet_id = ? OR wallet_to_id = ?)", *filter.WalletID, *filter.WalletID)
	}
	if filter.WalletToID != nil {
		b.add("wallet_to_id = ?", *filter.WalletToID)
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries` + b.sql() + ` ORDER BY date DESC, code DESC`
	return r.selectEntries(ctx, query, b.args...)
}

func (r *postgresEntryRepo) ListActive(ctx context.Context, q repository.ActiveEntryQuery) ([]models.Entry, error) {
	var b whereBuilder
	b.add("deleted_at IS NULL")
	if q.WalletID != nil {
		b.add("(wallet_id = ? OR wallet_to_id = ?)", *q.WalletID, *q.WalletID)
	}
	if q.From != nil {
		b.add("date >= ?", *q.From)
	}
	if q.To != nil {
		b.add("date <= ?", *q.To)
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries` + b.sql() + ` ORDER BY date, code`
	return r.selectEntries(ctx, query, b.args...)
}

func (r *postgresEntryRepo) selectEntries(ctx context.Context, query string, args ...interface{}) ([]models.Entry, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err, "list entries")
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		var row entryRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err, "list entries")
	}
	return entries, nil
}

func (r *postgresEntryRepo) CountActiveByWallet(ctx context.Context, walletID uuid.UUID) (int64, error) {
	const query = `SELECT COUNT(*) FROM ledger_entries
        WHERE deleted_at IS NULL AND (wallet_id = $1 OR wallet_to_id = $1)`
	var n int64
	if err := sqlx.GetContext(ctx, r.db, &n, query, walletID); err != nil {
		return 0, translateError(err, "count entries")
	}
	return n, nil
}

func (r *postgresEntryRepo) NextCode(ctx context.Context, kind models.EntryKind) (string, error) {
	const query = `INSERT INTO sequence_counters (name, last_value) VALUES ($1, 1)
        ON CONFLICT (name) DO UPDATE
        SET last_value = sequence_counters.last_value + 1, updated_at = NOW()
        RETURNING last_value`

	var n int64
	if err := sqlx.GetContext(ctx, r.db, &n, query, "entry:"+string(kind)); err != nil {
		return "", translateError(err, "next entry code")
	}
	return repository.FormatCode(kind, n), nil
}
