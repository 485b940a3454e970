package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/logger"
	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/usecase"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// EntryHandler serves income/expense transactions, transfers and adjustments.
// All of them are ledger entries; the resource path only narrows the kind.
type EntryHandler struct {
	usecase    usecase.EntryUsecase
	validate   *validator.Validate
	log        logger.Logger
	minorUnits int32
	loc        *time.Location
}

type createTransactionRequest struct {
	Type         string  `json:"type" validate:"required,oneof=INCOME EXPENSE"`
	Date         string  `json:"date" validate:"required"`
	Amount       string  `json:"amount" validate:"required,amount"`
	WalletID     string  `json:"walletId" validate:"required,uuid"`
	CategoryID   string  `json:"categoryId" validate:"required,uuid"`
	ProjectID    *string `json:"projectId" validate:"omitempty,uuid"`
	IsCommonCost bool    `json:"isCommonCost"`
	Note         string  `json:"note" validate:"max=1000"`
}

type createTransferRequest struct {
	Date       string `json:"date" validate:"required"`
	Amount     string `json:"amount" validate:"required,amount"`
	FeeAmount  string `json:"feeAmount" validate:"omitempty,amount"`
	WalletID   string `json:"walletId" validate:"required,uuid"`
	WalletToID string `json:"walletToId" validate:"required,uuid"`
	Note       string `json:"note" validate:"max=1000"`
}

type createAdjustmentRequest struct {
	Date     string `json:"date" validate:"required"`
	Amount   string `json:"amount" validate:"required,signed_amount"`
	WalletID string `json:"walletId" validate:"required,uuid"`
	Note     string `json:"note" validate:"max=1000"`
}

type updateEntryRequest struct {
	Date         *string `json:"date"`
	Amount       *string `json:"amount" validate:"omitempty,signed_amount"`
	WalletID     *string `json:"walletId" validate:"omitempty,uuid"`
	WalletToID   *string `json:"walletToId" validate:"omitempty,uuid"`
	CategoryID   *string `json:"categoryId" validate:"omitempty,uuid"`
	ProjectID    *string `json:"projectId" validate:"omitempty,uuid"`
	ClearProject bool    `json:"clearProject"`
	FeeAmount    *string `json:"feeAmount" validate:"omitempty,amount"`
	IsCommonCost *bool   `json:"isCommonCost"`
	Note         *string `json:"note" validate:"omitempty,max=1000"`
}

func NewEntryHandler(uc usecase.EntryUsecase, minorUnits int32, loc *time.Location, log logger.Logger) *EntryHandler {
	return &EntryHandler{
		usecase:    uc,
		validate:   newValidator(),
		log:        log,
		minorUnits: minorUnits,
		loc:        loc,
	}
}

var (
	transactionKinds = []models.EntryKind{models.KindIncome, models.KindExpense}
	transferKinds    = []models.EntryKind{models.KindTransfer}
	adjustmentKinds  = []models.EntryKind{models.KindAdjustment}
)

func (h *EntryHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/transactions", h.ListTransactions).Methods(http.MethodGet)
	router.HandleFunc("/transactions", h.CreateTransaction).Methods(http.MethodPost)
	router.HandleFunc("/transactions/{id}", h.GetEntry).Methods(http.MethodGet)
	router.HandleFunc("/transactions/{id}", h.update(transactionKinds)).Methods(http.MethodPut)
	router.HandleFunc("/transactions/{id}", h.softDelete(transactionKinds)).Methods(http.MethodDelete)
	router.HandleFunc("/transactions/{id}/restore", h.restore(transactionKinds)).Methods(http.MethodPost)

	router.HandleFunc("/transfers", h.list(transferKinds)).Methods(http.MethodGet)
	router.HandleFunc("/transfers", h.CreateTransfer).Methods(http.MethodPost)
	router.HandleFunc("/transfers/{id}", h.update(transferKinds)).Methods(http.MethodPut)
	router.HandleFunc("/transfers/{id}", h.softDelete(transferKinds)).Methods(http.MethodDelete)
	router.HandleFunc("/transfers/{id}/restore", h.restore(transferKinds)).Methods(http.MethodPost)

	router.HandleFunc("/adjustments", h.list(adjustmentKinds)).Methods(http.MethodGet)
	router.HandleFunc("/adjustments", h.CreateAdjustment).Methods(http.MethodPost)
	router.HandleFunc("/adjustments/{id}", h.update(adjustmentKinds)).Methods(http.MethodPut)
	router.HandleFunc("/adjustments/{id}", h.softDelete(adjustmentKinds)).Methods(http.MethodDelete)
	router.HandleFunc("/adjustments/{id}/restore", h.restore(adjustmentKinds)).Methods(http.MethodPost)
}

// ListTransactions accepts ?type= as a comma separated list of kinds; without
// it every kind is returned.
func (h *EntryHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	var kinds []models.EntryKind
	if raw := r.URL.Query().Get("type"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			kind := models.EntryKind(strings.ToUpper(strings.TrimSpace(k)))
			if !kind.Valid() {
				respondWithJSON(w, http.StatusBadRequest, ErrorResponse{Error: "type: unknown entry type " + k, Field: "type"})
				return
			}
			kinds = append(kinds, kind)
		}
	}
	h.list(kinds)(w, r)
}

func (h *EntryHandler) list(kinds []models.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newQueryParams(w, r, h.loc)
		filter := models.EntryFilter{
			Kinds:          kinds,
			From:           q.dateParam("from", false),
			To:             q.dateParam("to", true),
			WalletID:       q.uuidParam("walletId"),
			WalletToID:     q.uuidParam("walletToId"),
			IncludeDeleted: q.boolParam("includeDeleted"),
		}
		if q.failed {
			return
		}

		entries, err := h.usecase.List(r.Context(), filter)
		if err != nil {
			writeUsecaseError(w, h.log, "list entries", err)
			return
		}
		respondWithJSON(w, http.StatusOK, entries)
	}
}

func (h *EntryHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entry, err := h.usecase.Get(r.Context(), id)
	if err != nil {
		writeUsecaseError(w, h.log, "get entry", err)
		return
	}
	respondWithJSON(w, http.StatusOK, entry)
}

func (h *EntryHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createTransactionRequest
	if !decodeAndValidate(w, r, h.validate, h.log, &req) {
		return
	}

	date, ok := h.date(w, "date", req.Date)
	if !ok {
		return
	}
	amount, ok := parseMoneyField(w, "amount", req.Amount, h.minorUnits)
	if !ok {
		return
	}
	walletID := uuid.MustParse(req.WalletID)
	categoryID := uuid.MustParse(req.CategoryID)
	var projectID *uuid.UUID
	if req.ProjectID != nil {
		id := uuid.MustParse(*req.ProjectID)
		projectID = &id
	}

	var (
		entry *models.Entry
		err   error
	)
	if models.EntryKind(req.Type) == models.KindIncome {
		if req.IsCommonCost {
			respondWithJSON(w, http.StatusBadRequest, ErrorResponse{Error: "isCommonCost: does not apply to INCOME entries", Field: "isCommonCost"})
			return
		}
		entry, err = h.usecase.CreateIncome(r.Context(), actor, usecase.IncomeInput{
			WalletID:   walletID,
			CategoryID: categoryID,
			ProjectID:  projectID,
			Amount:     amount,
			Date:       date,
			Note:       req.Note,
		})
	} else {
		entry, err = h.usecase.CreateExpense(r.Context(), actor, usecase.ExpenseInput{
			WalletID:     walletID,
			CategoryID:   categoryID,
			ProjectID:    projectID,
			IsCommonCost: req.IsCommonCost,
			Amount:       amount,
			Date:         date,
			Note:         req.Note,
		})
	}
	if err != nil {
		writeUsecaseError(w, h.log, "create transaction", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, entry)
}

func (h *EntryHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createTransferRequest
	if !decodeAndValidate(w, r, h.validate, h.log, &req) {
		return
	}

	in := usecase.TransferInput{
		WalletID:   uuid.MustParse(req.WalletID),
		WalletToID: uuid.MustParse(req.WalletToID),
		Note:       req.Note,
	}
	if in.Date, ok = h.date(w, "date", req.Date); !ok {
		return
	}
	if in.Amount, ok = parseMoneyField(w, "amount", req.Amount, h.minorUnits); !ok {
		return
	}
	if req.FeeAmount != "" {
		if in.FeeAmount, ok = parseMoneyField(w, "feeAmount", req.FeeAmount, h.minorUnits); !ok {
			return
		}
	}

	entry, err := h.usecase.CreateTransfer(r.Context(), actor, in)
	if err != nil {
		writeUsecaseError(w, h.log, "create transfer", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, entry)
}

func (h *EntryHandler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createAdjustmentRequest
	if !decodeAndValidate(w, r, h.validate, h.log, &req) {
		return
	}

	in := usecase.AdjustmentInput{
		WalletID: uuid.MustParse(req.WalletID),
		Note:     req.Note,
	}
	if in.Date, ok = h.date(w, "date", req.Date); !ok {
		return
	}
	if in.Amount, ok = parseMoneyField(w, "amount", req.Amount, h.minorUnits); !ok {
		return
	}

	entry, err := h.usecase.CreateAdjustment(r.Context(), actor, in)
	if err != nil {
		writeUsecaseError(w, h.log, "create adjustment", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, entry)
}

func (h *EntryHandler) update(kinds []models.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req updateEntryRequest
		if !decodeAndValidate(w, r, h.validate, h.log, &req) {
			return
		}
		patch, ok := h.patch(w, req)
		if !ok {
			return
		}
		if !h.ensureKind(r.Context(), w, id, kinds) {
			return
		}

		entry, err := h.usecase.Update(r.Context(), actor, id, patch)
		if err != nil {
			writeUsecaseError(w, h.log, "update entry", err)
			return
		}
		respondWithJSON(w, http.StatusOK, entry)
	}
}

func (h *EntryHandler) softDelete(kinds []models.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if !h.ensureKind(r.Context(), w, id, kinds) {
			return
		}
		if err := h.usecase.SoftDelete(r.Context(), actor, id); err != nil {
			writeUsecaseError(w, h.log, "delete entry", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *EntryHandler) restore(kinds []models.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if !h.ensureKind(r.Context(), w, id, kinds) {
			return
		}
		entry, err := h.usecase.Restore(r.Context(), actor, id)
		if err != nil {
			writeUsecaseError(w, h.log, "restore entry", err)
			return
		}
		respondWithJSON(w, http.StatusOK, entry)
	}
}

// ensureKind answers 404 when id names an entry of another resource.
func (h *EntryHandler) ensureKind(ctx context.Context, w http.ResponseWriter, id uuid.UUID, kinds []models.EntryKind) bool {
	entry, err := h.usecase.Get(ctx, id)
	if err != nil {
		writeUsecaseError(w, h.log, "get entry", err)
		return false
	}
	for _, k := range kinds {
		if entry.Kind() == k {
			return true
		}
	}
	respondWithError(w, http.StatusNotFound, usecase.ErrEntryNotFound.Error()+": "+id.String())
	return false
}

func (h *EntryHandler) date(w http.ResponseWriter, field, value string) (time.Time, bool) {
	t, err := parseDate(value, h.loc, false)
	if err != nil {
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{Error: field + ": " + err.Error(), Field: field})
		return time.Time{}, false
	}
	return t, true
}

func (h *EntryHandler) patch(w http.ResponseWriter, req updateEntryRequest) (models.EntryPatch, bool) {
	patch := models.EntryPatch{
		ClearProject: req.ClearProject,
		IsCommonCost: req.IsCommonCost,
		Note:         req.Note,
	}
	if req.Date != nil {
		t, ok := h.date(w, "date", *req.Date)
		if !ok {
			return patch, false
		}
		patch.Date = &t
	}
	if req.Amount != nil {
		m, ok := parseMoneyField(w, "amount", *req.Amount, h.minorUnits)
		if !ok {
			return patch, false
		}
		patch.Amount = &m
	}
	if req.FeeAmount != nil {
		m, ok := parseMoneyField(w, "feeAmount", *req.FeeAmount, h.minorUnits)
		if !ok {
			return patch, false
		}
		patch.FeeAmount = &m
	}
	patch.WalletID = parseOptionalID(req.WalletID)
	patch.WalletToID = parseOptionalID(req.WalletToID)
	patch.CategoryID = parseOptionalID(req.CategoryID)
	patch.ProjectID = parseOptionalID(req.ProjectID)
	return patch, true
}

// parseOptionalID expects a value that already passed the uuid validator.
func parseOptionalID(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	id := uuid.MustParse(*s)
	return &id
}
