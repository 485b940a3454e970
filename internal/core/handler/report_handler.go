package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/logger"
	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/usecase"
	"github.com/gorilla/mux"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ReportHandler struct {
	usecase usecase.CashflowUsecase
	log     logger.Logger
	loc     *time.Location
}

func NewReportHandler(uc usecase.CashflowUsecase, loc *time.Location, log logger.Logger) *ReportHandler {
	return &ReportHandler{usecase: uc, log: log, loc: loc}
}

func (h *ReportHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/cashflow", h.GetCashflow).Methods(http.MethodGet)
	router.HandleFunc("/cashflow/export", h.ExportCashflow).Methods(http.MethodGet)
}

// query reads from/to as inclusive calendar days in the ledger time zone.
func (h *ReportHandler) query(w http.ResponseWriter, r *http.Request) (models.CashflowQuery, bool) {
	q := newQueryParams(w, r, h.loc)
	from := q.dateParam("from", false)
	to := q.dateParam("to", true)
	walletID := q.uuidParam("walletId")
	if q.failed {
		return models.CashflowQuery{}, false
	}
	if from == nil {
		q.fail("from", "is required")
		return models.CashflowQuery{}, false
	}
	if to == nil {
		q.fail("to", "is required")
		return models.CashflowQuery{}, false
	}
	return models.CashflowQuery{WalletID: walletID, From: *from, To: *to}, true
}

func (h *ReportHandler) GetCashflow(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	summary, err := h.usecase.Summarize(r.Context(), q)
	if err != nil {
		writeUsecaseError(w, h.log, "summarize cashflow", err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (h *ReportHandler) ExportCashflow(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	data, err := h.usecase.ExportXLSX(r.Context(), q)
	if err != nil {
		writeUsecaseError(w, h.log, "export cashflow", err)
		return
	}

	filename := fmt.Sprintf("cashflow_%s_%s.xlsx", q.From.In(h.loc).Format(dayLayout), q.To.In(h.loc).Format(dayLayout))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Warn("Failed to write export", logger.ErrorField("error", err))
	}
}
