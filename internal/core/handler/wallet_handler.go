package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/logger"
	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/usecase"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type WalletHandler struct {
	usecase    usecase.WalletUsecase
	balances   usecase.BalanceUsecase
	validate   *validator.Validate
	log        logger.Logger
	minorUnits int32
	loc        *time.Location
}

type createWalletRequest struct {
	Code           string          `json:"code" validate:"required,max=32"`
	Name           string          `json:"name" validate:"required,max=255"`
	Type           string          `json:"type" validate:"required,oneof=CASH BANK OTHER"`
	OpeningBalance string          `json:"openingBalance" validate:"omitempty,signed_amount"`
	Visual         json.RawMessage `json:"visual"`
	IsActive       *bool           `json:"isActive"`
}

type updateWalletRequest struct {
	Code           *string         `json:"code" validate:"omitempty,max=32"`
	Name           *string         `json:"name" validate:"omitempty,max=255"`
	Type           *string         `json:"type" validate:"omitempty,oneof=CASH BANK OTHER"`
	OpeningBalance *string         `json:"openingBalance"`
	Visual         json.RawMessage `json:"visual"`
	IsActive       *bool           `json:"isActive"`
}

type BalanceResponse struct {
	WalletID uuid.UUID    `json:"walletId"`
	Balance  models.Money `json:"balance"`
	AsOf     *time.Time   `json:"asOf,omitempty"`
}

func NewWalletHandler(uc usecase.WalletUsecase, balances usecase.BalanceUsecase, minorUnits int32, loc *time.Location, log logger.Logger) *WalletHandler {
	return &WalletHandler{
		usecase:    uc,
		balances:   balances,
		validate:   newValidator(),
		log:        log,
		minorUnits: minorUnits,
		loc:        loc,
	}
}

func (h *WalletHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/wallets", h.ListWallets).Methods(http.MethodGet)
	router.HandleFunc("/wallets", h.CreateWallet).Methods(http.MethodPost)
	router.HandleFunc("/wallets/{id}", h.GetWallet).Methods(http.MethodGet)
	router.HandleFunc("/wallets/{id}", h.UpdateWallet).Methods(http.MethodPut)
	router.HandleFunc("/wallets/{id}", h.DeleteWallet).Methods(http.MethodDelete)
	router.HandleFunc("/wallets/{id}/restore", h.RestoreWallet).Methods(http.MethodPost)
	router.HandleFunc("/wallets/{id}/balance", h.GetBalance).Methods(http.MethodGet)
}

func (h *WalletHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	q := newQueryParams(w, r, h.loc)
	filter := models.WalletFilter{
		Search:         q.get("search"),
		IncludeDeleted: q.boolParam("includeDeleted"),
	}
	if q.failed {
		return
	}

	wallets, err := h.usecase.List(r.Context(), filter)
	if err != nil {
		writeUsecaseError(w, h.log, "list wallets", err)
		return
	}
	respondWithJSON(w, http.StatusOK, wallets)
}

func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createWalletRequest
	if !decodeAndValidate(w, r, h.validate, h.log, &req) {
		return
	}

	in := usecase.CreateWalletInput{
		Code:     req.Code,
		Name:     req.Name,
		Type:     models.WalletType(req.Type),
		Visual:   req.Visual,
		IsActive: req.IsActive,
	}
	if req.OpeningBalance != "" {
		if in.OpeningBalance, ok = parseMoneyField(w, "openingBalance", req.OpeningBalance, h.minorUnits); !ok {
			return
		}
	}

	wallet, err := h.usecase.Create(r.Context(), actor, in)
	if err != nil {
		writeUsecaseError(w, h.log, "create wallet", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, wallet)
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	wallet, err := h.usecase.Get(r.Context(), id)
	if err != nil {
		writeUsecaseError(w, h.log, "get wallet", err)
		return
	}
	respondWithJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) UpdateWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateWalletRequest
	if !decodeAndValidate(w, r, h.validate, h.log, &req) {
		return
	}

	in := usecase.UpdateWalletInput{
		Code:     req.Code,
		Name:     req.Name,
		Visual:   req.Visual,
		IsActive: req.IsActive,
	}
	if req.Type != nil {
		t := models.WalletType(*req.Type)
		in.Type = &t
	}
	if req.OpeningBalance != nil {
		// passed through so the usecase can reject it with a field error
		var m models.Money
		in.OpeningBalance = &m
	}

	wallet, err := h.usecase.Update(r.Context(), actor, id, in)
	if err != nil {
		writeUsecaseError(w, h.log, "update wallet", err)
		return
	}
	respondWithJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) DeleteWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.usecase.SoftDelete(r.Context(), actor, id); err != nil {
		writeUsecaseError(w, h.log, "delete wallet", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WalletHandler) RestoreWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	wallet, err := h.usecase.Restore(r.Context(), actor, id)
	if err != nil {
		writeUsecaseError(w, h.log, "restore wallet", err)
		return
	}
	respondWithJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q := newQueryParams(w, r, h.loc)
	asOf := q.dateParam("asOf", true)
	if q.failed {
		return
	}

	var (
		balance models.Money
		err     error
	)
	if asOf != nil {
		balance, err = h.balances.BalanceAsOf(r.Context(), id, *asOf)
	} else {
		balance, err = h.balances.CurrentBalance(r.Context(), id)
	}
	if err != nil {
		writeUsecaseError(w, h.log, "get balance", err)
		return
	}
	respondWithJSON(w, http.StatusOK, BalanceResponse{WalletID: id, Balance: balance, AsOf: asOf})
}
