package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WalletType tells what kind of container holds the money
type WalletType string

const (
	WalletCash  WalletType = "CASH"
	WalletBank  WalletType = "BANK"
	WalletOther WalletType = "OTHER"
)

func (t WalletType) Valid() bool {
	switch t {
	case WalletCash, WalletBank, WalletOther:
		return true
	}
	return false
}

// Wallet is a named money container. OpeningBalance is fixed at creation.
type Wallet struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Code           string          `json:"code" db:"code"`
	Name           string          `json:"name" db:"name"`
	Type           WalletType      `json:"type" db:"type"`
	OpeningBalance Money           `json:"openingBalance" db:"opening_balance"`
	Visual         json.RawMessage `json:"visual,omitempty" db:"visual"`
	IsActive       bool            `json:"isActive" db:"is_active"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
	DeletedAt      *time.Time      `json:"deletedAt,omitempty" db:"deleted_at"`
	// BalanceVersion moves forward with every entry write touching the wallet.
	BalanceVersion int64 `json:"-" db:"balance_version"`
}

func (w *Wallet) IsDeleted() bool {
	return w.DeletedAt != nil
}

// WalletFilter narrows wallet listings.
type WalletFilter struct {
	Search         string
	IncludeDeleted bool
}

// WalletView is a wallet with its derived figures.
type WalletView struct {
	Wallet
	Balance    Money `json:"balance"`
	EntryCount int64 `json:"entryCount"`
}

// Category is owned by the settings screens; the ledger only reads it.
type Category struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Kind      EntryKind  `json:"kind" db:"kind"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
}
