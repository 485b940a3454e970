package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/logger"
	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/usecase"
	"github.com/gorilla/mux"
)

type AuditHandler struct {
	usecase usecase.AuditUsecase
	log     logger.Logger
	loc     *time.Location
}

func NewAuditHandler(uc usecase.AuditUsecase, loc *time.Location, log logger.Logger) *AuditHandler {
	return &AuditHandler{usecase: uc, log: log, loc: loc}
}

func (h *AuditHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit-logs", h.ListAuditLogs).Methods(http.MethodGet)
	router.HandleFunc("/audit-logs/{id}", h.GetAuditLog).Methods(http.MethodGet)
}

func (h *AuditHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := newQueryParams(w, r, h.loc)
	filter := models.AuditFilter{
		Entity:   q.get("entity"),
		Action:   models.AuditAction(strings.ToUpper(q.get("action"))),
		From:     q.dateParam("from", false),
		To:       q.dateParam("to", true),
		Q:        q.get("q"),
		Page:     q.intParam("page", 1),
		PageSize: q.intParam("pageSize", 0),
	}
	if q.failed {
		return
	}

	page, err := h.usecase.List(r.Context(), filter)
	if err != nil {
		writeUsecaseError(w, h.log, "list audit logs", err)
		return
	}
	respondWithJSON(w, http.StatusOK, page)
}

func (h *AuditHandler) GetAuditLog(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.usecase.Get(r.Context(), id)
	if err != nil {
		writeUsecaseError(w, h.log, "get audit log", err)
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}
