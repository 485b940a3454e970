package postgres

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const auditColumns = `id, entity, entity_id, action, before_json, after_json, by_user_id, by_user_email, ip, created_at`

type auditRow struct {
	ID          uuid.UUID `db:"id"`
	Entity      string    `db:"entity"`
	EntityID    string    `db:"entity_id"`
	Action      string    `db:"action"`
	BeforeJSON  []byte    `db:"before_json"`
	AfterJSON   []byte    `db:"after_json"`
	ByUserID    string    `db:"by_user_id"`
	ByUserEmail string    `db:"by_user_email"`
	IP          *string   `db:"ip"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r auditRow) toModel() models.AuditRecord {
	return models.AuditRecord{
		ID:          r.ID,
		Entity:      r.Entity,
		EntityID:    r.EntityID,
		Action:      models.AuditAction(r.Action),
		BeforeJSON:  json.RawMessage(r.BeforeJSON),
		AfterJSON:   json.RawMessage(r.AfterJSON),
		ByUserID:    r.ByUserID,
		ByUserEmail: r.ByUserEmail,
		IP:          r.IP,
		CreatedAt:   r.CreatedAt,
	}
}

type postgresAuditRepo struct {
	db sqlx.ExtContext
}

func (r *postgresAuditRepo) Append(ctx context.Context, rec *models.AuditRecord) error {
	const query = `INSERT INTO audit_logs
        (id, entity, entity_id, action, before_json, after_json, by_user_id, by_user_email, ip, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Entity,
		rec.EntityID,
		string(rec.Action),
		nullJSON(rec.BeforeJSON),
		nullJSON(rec.AfterJSON),
		rec.ByUserID,
		rec.ByUserEmail,
		rec.IP,
		rec.CreatedAt,
	)
	return translateError(err, "append audit record")
}

func (r *postgresAuditRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error) {
	var row auditRow
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.db, &row, query, id); err != nil {
		return nil, translateError(err, "get audit record")
	}
	rec := row.toModel()
	return &rec, nil
}

func (r *postgresAuditRepo) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, int64, error) {
	var b whereBuilder
	if filter.Entity != "" {
		b.add("entity = ?", filter.Entity)
	}
	if filter.Action != "" {
		b.add("action = ?", string(filter.Action))
	}
	if filter.From != nil {
		b.add("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		b.add("created_at <= ?", *filter.To)
	}
	if q := strings.TrimSpace(filter.Q); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		b.add("(entity_id ILIKE ? OR by_user_email ILIKE ? OR by_user_id ILIKE ?)", pattern, pattern, pattern)
	}

	var total int64
	if err := sqlx.GetContext(ctx, r.db, &total, `SELECT COUNT(*) FROM audit_logs`+b.sql(), b.args...); err != nil {
		return nil, 0, translateError(err, "count audit records")
	}

	offset := (filter.Page - 1) * filter.PageSize
	if offset < 0 {
		offset = 0
	}
	args := append(b.args, filter.PageSize, offset)
	query := `SELECT ` + auditColumns + ` FROM audit_logs` + b.sql() +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	var rows []auditRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, 0, translateError(err, "list audit records")
	}

	records := make([]models.AuditRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toModel())
	}
	return records, total, nil
}

type postgresCategoryRepo struct {
	db sqlx.ExtContext
}

func (r *postgresCategoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	var c models.Category
	const query = `SELECT id, name, kind, deleted_at FROM categories WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.db, &c, query, id); err != nil {
		return nil, translateError(err, "get category")
	}
	return &c, nil
}
