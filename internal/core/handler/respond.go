package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/Nzyazin/cashbook/internal/core/logger"
	"github.com/Nzyazin/cashbook/internal/core/middleware"
	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/Nzyazin/cashbook/internal/core/usecase"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

var amountRegexp = regexp.MustCompile(`^-?\d{1,30}([.,]\d{1,4})?$`)

type ErrorResponse struct {
	Error   string   `json:"error"`
	Field   string   `json:"field,omitempty"`
	Details []string `json:"details,omitempty"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal Server Error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// newValidator registers the amount tags and reports fields by their JSON name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		s := cleanAmount(fl.Field().String())
		return amountRegexp.MatchString(s) && !strings.HasPrefix(s, "-")
	})
	_ = v.RegisterValidation("signed_amount", func(fl validator.FieldLevel) bool {
		return amountRegexp.MatchString(cleanAmount(fl.Field().String()))
	})
	return v
}

func cleanAmount(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "amount":
		return fmt.Sprintf("%s must be a non-negative decimal amount", fe.Field())
	case "signed_amount":
		return fmt.Sprintf("%s must be a decimal amount", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the 400 response itself and reports whether the caller may go on.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, log logger.Logger, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		log.Warn("Failed to decode request body",
			logger.StringField("path", r.URL.Path),
			logger.ErrorField("error", err))
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request payload", Details: []string{err.Error()}})
		return false
	}

	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return false
		}
		details := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, validationMessage(fe))
		}
		resp := ErrorResponse{Error: "validation failed", Details: details}
		if len(verrs) > 0 {
			resp.Field = verrs[0].Field()
		}
		respondWithJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

// requireActor rejects mutations that arrive without a user id.
func requireActor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, _ := middleware.ActorFromContext(r.Context())
	if actor.UserID == "" {
		respondWithError(w, http.StatusUnauthorized, "missing "+middleware.HeaderUserID+" header")
		return actor, false
	}
	return actor, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid id", Field: "id"})
		return uuid.Nil, false
	}
	return id, true
}

func parseMoneyField(w http.ResponseWriter, field, value string, minorUnits int32) (models.Money, bool) {
	m, err := models.ParseMoney(value, minorUnits)
	if err != nil {
		if errors.Is(err, models.ErrAmountOverflow) {
			respondWithJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Field: field})
			return 0, false
		}
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Field: field})
		return 0, false
	}
	return m, true
}

// writeUsecaseError maps the usecase error taxonomy onto HTTP statuses.
// Only unclassified failures get the generic message.
func writeUsecaseError(w http.ResponseWriter, log logger.Logger, op string, err error) {
	var fieldErr *usecase.FieldError
	switch {
	case errors.As(err, &fieldErr):
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{Error: fieldErr.Error(), Field: fieldErr.Field})
	case errors.Is(err, usecase.ErrValidation):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, usecase.ErrNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, usecase.ErrDuplicateCode):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, usecase.ErrAmountOverflow):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("Request timed out", logger.StringField("operation", op), logger.ErrorField("error", err))
		respondWithError(w, http.StatusGatewayTimeout, "request timed out")
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the body
		w.WriteHeader(499)
	default:
		log.Error("Failed to process operation",
			logger.StringField("operation", op),
			logger.ErrorField("error", err))
		respondWithError(w, http.StatusInternalServerError, "Failed to process operation")
	}
}
