package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditCreate        AuditAction = "CREATE"
	AuditUpdate        AuditAction = "UPDATE"
	AuditDelete        AuditAction = "DELETE"
	AuditRestore       AuditAction = "RESTORE"
	AuditSettingUpdate AuditAction = "SETTING_UPDATE"
	AuditStageChange   AuditAction = "STAGE_CHANGE"
)

func (a AuditAction) Valid() bool {
	switch a {
	case AuditCreate, AuditUpdate, AuditDelete, AuditRestore, AuditSettingUpdate, AuditStageChange:
		return true
	}
	return false
}

const (
	AuditEntityWallet = "Wallet"
	AuditEntityEntry  = "LedgerEntry"
)

// Actor is the user on whose behalf a mutation runs.
type Actor struct {
	UserID string
	Email  string
	IP     string
}

// AuditRecord is append-only.
type AuditRecord struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Entity      string          `json:"entity" db:"entity"`
	EntityID    string          `json:"entityId" db:"entity_id"`
	Action      AuditAction     `json:"action" db:"action"`
	BeforeJSON  json.RawMessage `json:"beforeJson,omitempty" db:"before_json"`
	AfterJSON   json.RawMessage `json:"afterJson,omitempty" db:"after_json"`
	ByUserID    string          `json:"byUserId" db:"by_user_id"`
	ByUserEmail string          `json:"byUserEmail" db:"by_user_email"`
	IP          *string         `json:"ip,omitempty" db:"ip"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

type AuditFilter struct {
	Entity   string
	Action   AuditAction
	From     *time.Time
	To       *time.Time
	Q        string
	Page     int
	PageSize int
}

type AuditPage struct {
	Items    []AuditRecord `json:"items"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
}
