package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/logger"
	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/repository"
	"github.com/google/uuid"
)

const maxNoteLen = 1000

type IncomeInput struct {
	WalletID   uuid.UUID
	CategoryID uuid.UUID
	ProjectID  *uuid.UUID
	Amount     models.Money
	Date       time.Time
	Note       string
}

type ExpenseInput struct {
	WalletID     uuid.UUID
	CategoryID   uuid.UUID
	ProjectID    *uuid.UUID
	IsCommonCost bool
	Amount       models.Money
	Date         time.Time
	Note         string
}

type TransferInput struct {
	WalletID   uuid.UUID
	WalletToID uuid.UUID
	Amount     models.Money
	FeeAmount  models.Money
	Date       time.Time
	Note       string
}

type AdjustmentInput struct {
	WalletID uuid.UUID
	Amount   models.Money // signed
	Date     time.Time
	Note     string
}

// EntryUsecase is the only write path for ledger entries.
type EntryUsecase interface {
	CreateIncome(ctx context.Context, actor models.Actor, in IncomeInput) (*models.Entry, error)
	CreateExpense(ctx context.Context, actor models.Actor, in ExpenseInput) (*models.Entry, error)
	CreateTransfer(ctx context.Context, actor models.Actor, in TransferInput) (*models.Entry, error)
	CreateAdjustment(ctx context.Context, actor models.Actor, in AdjustmentInput) (*models.Entry, error)
	Update(ctx context.Context, actor models.Actor, id uuid.UUID, patch models.EntryPatch) (*models.Entry, error)
	SoftDelete(ctx context.Context, actor models.Actor, id uuid.UUID) error
	Restore(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Entry, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Entry, error)
	List(ctx context.Context, filter models.EntryFilter) ([]models.Entry, error)
}

type entryUsecase struct {
	store repository.Store
	audit *AuditRecorder
	log   logger.Logger
	now   func() time.Time
}

func NewEntryUsecase(store repository.Store, audit *AuditRecorder, log logger.Logger) EntryUsecase {
	return &entryUsecase{
		store: store,
		audit: audit,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (uc *entryUsecase) CreateIncome(ctx context.Context, actor models.Actor, in IncomeInput) (*models.Entry, error) {
	return uc.create(ctx, actor, in.Amount, in.Date, in.Note, models.IncomeDetails{
		WalletID:   in.WalletID,
		CategoryID: in.CategoryID,
		ProjectID:  in.ProjectID,
	})
}

func (uc *entryUsecase) CreateExpense(ctx context.Context, actor models.Actor, in ExpenseInput) (*models.Entry, error) {
	return uc.create(ctx, actor, in.Amount, in.Date, in.Note, models.ExpenseDetails{
		WalletID:     in.WalletID,
		CategoryID:   in.CategoryID,
		ProjectID:    in.ProjectID,
		IsCommonCost: in.IsCommonCost,
	})
}

// CreateTransfer persists a single row; the fold derives both wallets'
// changes from it, so there is nothing else to keep in step.
func (uc *entryUsecase) CreateTransfer(ctx context.Context, actor models.Actor, in TransferInput) (*models.Entry, error) {
	return uc.create(ctx, actor, in.Amount, in.Date, in.Note, models.TransferDetails{
		WalletID:   in.WalletID,
		WalletToID: in.WalletToID,
		Fee:        in.FeeAmount,
	})
}

func (uc *entryUsecase) CreateAdjustment(ctx context.Context, actor models.Actor, in AdjustmentInput) (*models.Entry, error) {
	return uc.create(ctx, actor, in.Amount, in.Date, in.Note, models.AdjustmentDetails{
		WalletID: in.WalletID,
	})
}

func (uc *entryUsecase) create(ctx context.Context, actor models.Actor, amount models.Money, date time.Time, note string, details models.EntryDetails) (*models.Entry, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	now := uc.now()
	entry := models.Entry{
		ID:              uuid.New(),
		Date:            date,
		Amount:          amount,
		Note:            note,
		CreatedByUserID: actor.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
		Details:         details,
	}

	err := uc.store.WithinTx(ctx, func(repos repository.Repositories) error {
		if err := uc.validate(ctx, repos, &entry); err != nil {
			return err
		}

		code, err := repos.Entries.NextCode(ctx, entry.Kind())
		if err != nil {
			return storageFailure("allocate entry code", err)
		}
		entry.Code = code

		if err := repos.Entries.Create(ctx, &entry); err != nil {
			return mapEntryWriteError("create entry", err)
		}
		if err := bumpBalanceVersions(ctx, repos, entry.WalletIDs()); err != nil {
			return err
		}

		return uc.audit.Record(ctx, repos, models.AuditEntityEntry, entry.ID.String(), models.AuditCreate, nil, entry, actor)
	})
	if err != nil {
		uc.logRejected("create", details.Kind(), uuid.Nil, err)
		return nil, err
	}

	uc.afterCommit(models.AuditCreate, &entry, actor)
	return &entry, nil
}

// Update re-validates the patched entry as if it were being created.
func (uc *entryUsecase) Update(ctx context.Context, actor models.Actor, id uuid.UUID, patch models.EntryPatch) (*models.Entry, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	var before, after models.Entry
	err := uc.store.WithinTx(ctx, func(repos repository.Repositories) error {
		current, err := uc.getEntry(ctx, repos, id)
		if err != nil {
			return err
		}
		if current.IsDeleted() {
			return fmt.Errorf("%w: %s is deleted", ErrEntryNotFound, id)
		}
		before = *current

		after, err = applyPatch(before, patch)
		if err != nil {
			return err
		}
		after.UpdatedAt = uc.now()

		if err := uc.validate(ctx, repos, &after); err != nil {
			return err
		}

		if err := repos.Entries.Update(ctx, &after); err != nil {
			return mapEntryWriteError("update entry", err)
		}
		if err := bumpBalanceVersions(ctx, repos, append(before.WalletIDs(), after.WalletIDs()...)); err != nil {
			return err
		}

		return uc.audit.Record(ctx, repos, models.AuditEntityEntry, id.String(), models.AuditUpdate, before, after, actor)
	})
	if err != nil {
		uc.logRejected("update", before.Kind(), id, err)
		return nil, err
	}

	uc.afterCommit(models.AuditUpdate, &after, actor)
	return &after, nil
}

// SoftDelete excludes the entry from every later fold. No compensating
// entry is written.
func (uc *entryUsecase) SoftDelete(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	if err := validateActor(actor); err != nil {
		return err
	}

	var after models.Entry
	err := uc.store.WithinTx(ctx, func(repos repository.Repositories) error {
		current, err := uc.getEntry(ctx, repos, id)
		if err != nil {
			return err
		}
		if current.IsDeleted() {
			return fmt.Errorf("entry %s: %w", id, ErrAlreadyDeleted)
		}

		now := uc.now()
		if err := repos.Entries.SetDeletedAt(ctx, id, &now); err != nil {
			return mapEntryWriteError("delete entry", err)
		}
		if err := bumpBalanceVersions(ctx, repos, current.WalletIDs()); err != nil {
			return err
		}

		after = *current
		after.DeletedAt = &now
		after.UpdatedAt = now
		return uc.audit.Record(ctx, repos, models.AuditEntityEntry, id.String(), models.AuditDelete, *current, after, actor)
	})
	if err != nil {
		uc.logRejected("delete", "", id, err)
		return err
	}

	uc.afterCommit(models.AuditDelete, &after, actor)
	return nil
}

func (uc *entryUsecase) Restore(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Entry, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	var after models.Entry
	err := uc.store.WithinTx(ctx, func(repos repository.Repositories) error {
		current, err := uc.getEntry(ctx, repos, id)
		if err != nil {
			return err
		}
		if !current.IsDeleted() {
			return fmt.Errorf("entry %s: %w", id, ErrAlreadyActive)
		}

		if err := repos.Entries.SetDeletedAt(ctx, id, nil); err != nil {
			return mapEntryWriteError("restore entry", err)
		}
		if err := bumpBalanceVersions(ctx, repos, current.WalletIDs()); err != nil {
			return err
		}

		after = *current
		after.DeletedAt = nil
		after.UpdatedAt = uc.now()
		return uc.audit.Record(ctx, repos, models.AuditEntityEntry, id.String(), models.AuditRestore, *current, after, actor)
	})
	if err != nil {
		uc.logRejected("restore", "", id, err)
		return nil, err
	}

	uc.afterCommit(models.AuditRestore, &after, actor)
	return &after, nil
}

func (uc *entryUsecase) Get(ctx context.Context, id uuid.UUID) (*models.Entry, error) {
	return uc.getEntry(ctx, uc.store.Repos(), id)
}

func (uc *entryUsecase) List(ctx context.Context, filter models.EntryFilter) ([]models.Entry, error) {
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, invalid("from", "must not be after to")
	}
	for _, k := range filter.Kinds {
		if !k.Valid() {
			return nil, invalid("type", fmt.Sprintf("unknown entry type %q", k))
		}
	}

	entries, err := uc.store.Repos().Entries.List(ctx, filter)
	if err != nil {
		return nil, storageFailure("list entries", err)
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	return entries, nil
}

// validate checks every creation-time invariant of e against current state.
func (uc *entryUsecase) validate(ctx context.Context, repos repository.Repositories, e *models.Entry) error {
	if e.Date.IsZero() {
		return invalid("date", "is required")
	}
	if len(e.Note) > maxNoteLen {
		return invalid("note", fmt.Sprintf("must be at most %d characters", maxNoteLen))
	}

	switch d := e.Details.(type) {
	case models.IncomeDetails:
		if !e.Amount.IsPositive() {
			return invalid("amount", "must be greater than zero")
		}
		if err := uc.requireActiveWallet(ctx, repos, "walletId", d.WalletID); err != nil {
			return err
		}
		if err := uc.requireCategory(ctx, repos, d.CategoryID, models.KindIncome); err != nil {
			return err
		}
	case models.ExpenseDetails:
		if !e.Amount.IsPositive() {
			return invalid("amount", "must be greater than zero")
		}
		if err := uc.requireActiveWallet(ctx, repos, "walletId", d.WalletID); err != nil {
			return err
		}
		if err := uc.requireCategory(ctx, repos, d.CategoryID, models.KindExpense); err != nil {
			return err
		}
	case models.TransferDetails:
		if !e.Amount.IsPositive() {
			return invalid("amount", "must be greater than zero")
		}
		if d.Fee.IsNegative() {
			return invalid("feeAmount", "must not be negative")
		}
		if d.WalletID == d.WalletToID {
			return invalid("walletToId", "must differ from walletId")
		}
		if err := uc.requireActiveWallet(ctx, repos, "walletId", d.WalletID); err != nil {
			return err
		}
		if err := uc.requireActiveWallet(ctx, repos, "walletToId", d.WalletToID); err != nil {
			return err
		}
	case models.AdjustmentDetails:
		if e.Amount.IsZero() {
			return invalid("amount", "must not be zero")
		}
		if err := uc.requireActiveWallet(ctx, repos, "walletId", d.WalletID); err != nil {
			return err
		}
	default:
		return invalid("type", fmt.Sprintf("unsupported entry details %T", e.Details))
	}

	if _, err := e.Effects(); err != nil {
		return err
	}
	return nil
}

func (uc *entryUsecase) requireActiveWallet(ctx context.Context, repos repository.Repositories, field string, id uuid.UUID) error {
	if id == uuid.Nil {
		return invalid(field, "is required")
	}
	wallet, err := repos.Wallets.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrWalletNotFound, field, id)
	}
	if err != nil {
		return storageFailure("get wallet", err)
	}
	if wallet.IsDeleted() {
		return fmt.Errorf("%w: %s %s (%s) is deleted", ErrWalletNotFound, field, id, wallet.Code)
	}
	return nil
}

func (uc *entryUsecase) requireCategory(ctx context.Context, repos repository.Repositories, id uuid.UUID, kind models.EntryKind) error {
	if id == uuid.Nil {
		return invalid("categoryId", "is required")
	}
	category, err := repos.Categories.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrCategoryNotFound, id)
	}
	if err != nil {
		return storageFailure("get category", err)
	}
	if category.DeletedAt != nil {
		return fmt.Errorf("%w: %s is deleted", ErrCategoryNotFound, id)
	}
	if category.Kind != kind {
		return invalid("categoryId", fmt.Sprintf("%s is a %s category, not %s", category.Name, category.Kind, kind))
	}
	return nil
}

func (uc *entryUsecase) getEntry(ctx context.Context, repos repository.Repositories, id uuid.UUID) (*models.Entry, error) {
	entry, err := repos.Entries.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if err != nil {
		return nil, storageFailure("get entry", err)
	}
	return entry, nil
}

type patchField struct {
	name string
	set  bool
}

func rejectInapplicable(kind models.EntryKind, fields ...patchField) error {
	for _, f := range fields {
		if f.set {
			return invalid(f.name, fmt.Sprintf("does not apply to %s entries", kind))
		}
	}
	return nil
}

// applyPatch returns a copy of e with the patch applied. Fields that do not
// exist on the entry's kind are rejected.
func applyPatch(e models.Entry, p models.EntryPatch) (models.Entry, error) {
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Note != nil {
		e.Note = *p.Note
	}

	var (
		walletTo = patchField{"walletToId", p.WalletToID != nil}
		category = patchField{"categoryId", p.CategoryID != nil}
		project  = patchField{"projectId", p.ProjectID != nil || p.ClearProject}
		fee      = patchField{"feeAmount", p.FeeAmount != nil}
		common   = patchField{"isCommonCost", p.IsCommonCost != nil}
	)

	switch d := e.Details.(type) {
	case models.IncomeDetails:
		if err := rejectInapplicable(e.Kind(), walletTo, fee, common); err != nil {
			return e, err
		}
		if p.WalletID != nil {
			d.WalletID = *p.WalletID
		}
		if p.CategoryID != nil {
			d.CategoryID = *p.CategoryID
		}
		d.ProjectID = patchProject(d.ProjectID, p)
		e.Details = d
	case models.ExpenseDetails:
		if err := rejectInapplicable(e.Kind(), walletTo, fee); err != nil {
			return e, err
		}
		if p.WalletID != nil {
			d.WalletID = *p.WalletID
		}
		if p.CategoryID != nil {
			d.CategoryID = *p.CategoryID
		}
		if p.IsCommonCost != nil {
			d.IsCommonCost = *p.IsCommonCost
		}
		d.ProjectID = patchProject(d.ProjectID, p)
		e.Details = d
	case models.TransferDetails:
		if err := rejectInapplicable(e.Kind(), category, project, common); err != nil {
			return e, err
		}
		if p.WalletID != nil {
			d.WalletID = *p.WalletID
		}
		if p.WalletToID != nil {
			d.WalletToID = *p.WalletToID
		}
		if p.FeeAmount != nil {
			d.Fee = *p.FeeAmount
		}
		e.Details = d
	case models.AdjustmentDetails:
		if err := rejectInapplicable(e.Kind(), walletTo, category, project, fee, common); err != nil {
			return e, err
		}
		if p.WalletID != nil {
			d.WalletID = *p.WalletID
		}
		e.Details = d
	default:
		return e, invalid("type", fmt.Sprintf("unsupported entry details %T", e.Details))
	}
	return e, nil
}

func patchProject(current *uuid.UUID, p models.EntryPatch) *uuid.UUID {
	if p.ClearProject {
		return nil
	}
	if p.ProjectID != nil {
		id := *p.ProjectID
		return &id
	}
	return current
}

func mapEntryWriteError(op string, err error) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return fmt.Errorf("%w: %s", ErrDuplicateCode, op)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, op)
	}
	return storageFailure(op, err)
}

// bumpBalanceVersions moves every touched wallet to a new balance version,
// which retires whatever the cache holds for it once the transaction commits.
func bumpBalanceVersions(ctx context.Context, repos repository.Repositories, walletIDs []uuid.UUID) error {
	seen := make(map[uuid.UUID]struct{}, len(walletIDs))
	ids := make([]uuid.UUID, 0, len(walletIDs))
	for _, id := range walletIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := repos.Wallets.BumpBalanceVersion(ctx, ids...); err != nil {
		return storageFailure("bump balance version", err)
	}
	return nil
}

func (uc *entryUsecase) afterCommit(action models.AuditAction, e *models.Entry, actor models.Actor) {
	ledgerMutationsTotal.WithLabelValues(models.AuditEntityEntry, string(action)).Inc()
	uc.log.Info("Ledger entry committed",
		logger.StringField("action", string(action)),
		logger.StringField("entry_id", e.ID.String()),
		logger.StringField("code", e.Code),
		logger.StringField("type", string(e.Kind())),
		logger.Int64Field("amount", e.Amount.Int64()),
		logger.StringField("user_id", actor.UserID))
}

func (uc *entryUsecase) logRejected(op string, kind models.EntryKind, id uuid.UUID, err error) {
	ledgerRejectionsTotal.WithLabelValues(models.AuditEntityEntry, errorClass(err)).Inc()
	fields := []logger.Field{
		logger.StringField("operation", op),
		logger.StringField("type", string(kind)),
		logger.ErrorField("error", err),
	}
	if id != uuid.Nil {
		fields = append(fields, logger.StringField("entry_id", id.String()))
	}
	if errors.Is(err, ErrStorageFailure) {
		uc.log.Error("Ledger entry operation failed", fields...)
		return
	}
	uc.log.Warn("Ledger entry operation rejected", fields...)
}
