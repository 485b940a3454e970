package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/logger"
	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/repository"
	"github.com/google/uuid"
)

const (
	defaultAuditPageSize = 20
	maxAuditPageSize     = 200
)

type AuditUsecase interface {
	List(ctx context.Context, filter models.AuditFilter) (*models.AuditPage, error)
	Get(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error)
}

// AuditRecorder appends before/after snapshots inside the caller's
// transaction. A failed append fails the mutation.
type AuditRecorder struct {
	store repository.Store
	log   logger.Logger
	now   func() time.Time
}

func NewAuditRecorder(store repository.Store, log logger.Logger) *AuditRecorder {
	return &AuditRecorder{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Record appends one audit record through repos. before and after may be nil.
func (a *AuditRecorder) Record(ctx context.Context, repos repository.Repositories, entity, entityID string,
	action models.AuditAction, before, after interface{}, actor models.Actor) error {
	beforeJSON, err := snapshot(before)
	if err != nil {
		return fmt.Errorf("marshal before snapshot: %w", err)
	}
	afterJSON, err := snapshot(after)
	if err != nil {
		return fmt.Errorf("marshal after snapshot: %w", err)
	}

	rec := &models.AuditRecord{
		ID:          uuid.New(),
		Entity:      entity,
		EntityID:    entityID,
		Action:      action,
		BeforeJSON:  beforeJSON,
		AfterJSON:   afterJSON,
		ByUserID:    actor.UserID,
		ByUserEmail: actor.Email,
		CreatedAt:   a.now(),
	}
	if actor.IP != "" {
		ip := actor.IP
		rec.IP = &ip
	}

	if err := repos.Audit.Append(ctx, rec); err != nil {
		a.log.Error("Audit append failed",
			logger.StringField("entity", entity),
			logger.StringField("entity_id", entityID),
			logger.StringField("action", string(action)),
			logger.ErrorField("error", err))
		return storageFailure("append audit record", err)
	}
	return nil
}

func snapshot(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (a *AuditRecorder) List(ctx context.Context, filter models.AuditFilter) (*models.AuditPage, error) {
	if filter.Action != "" && !filter.Action.Valid() {
		return nil, invalid("action", fmt.Sprintf("unknown action %q", filter.Action))
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, invalid("from", "must not be after to")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = defaultAuditPageSize
	}
	if filter.PageSize > maxAuditPageSize {
		filter.PageSize = maxAuditPageSize
	}

	items, total, err := a.store.Repos().Audit.List(ctx, filter)
	if err != nil {
		return nil, storageFailure("list audit records", err)
	}
	if items == nil {
		items = []models.AuditRecord{}
	}

	return &models.AuditPage{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

func (a *AuditRecorder) Get(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error) {
	rec, err := a.store.Repos().Audit.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAuditNotFound
	}
	if err != nil {
		return nil, storageFailure("get audit record", err)
	}
	return rec, nil
}
