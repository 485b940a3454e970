package usecase

import (
	"errors"
	"fmt"

	"github.com/Nzyazin/cashbook/internal/core/models"
)

// Error classes. Handlers map them with errors.Is.
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrDuplicateCode  = errors.New("duplicate code")
	ErrStorageFailure = errors.New("storage failure")
	ErrAmountOverflow = models.ErrAmountOverflow
)

var (
	ErrWalletNotFound   = fmt.Errorf("wallet %w", ErrNotFound)
	ErrEntryNotFound    = fmt.Errorf("entry %w", ErrNotFound)
	ErrCategoryNotFound = fmt.Errorf("category %w", ErrNotFound)
	ErrAuditNotFound    = fmt.Errorf("audit record %w", ErrNotFound)
	ErrAlreadyDeleted   = fmt.Errorf("already deleted: %w", ErrNotFound)
	ErrAlreadyActive    = fmt.Errorf("already active: %w", ErrNotFound)
)

// FieldError is a ValidationError tied to one input field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

func storageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}
