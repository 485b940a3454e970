package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryKind discriminates the four ledger entry variants.
type EntryKind string

const (
	KindIncome     EntryKind = "INCOME"
	KindExpense    EntryKind = "EXPENSE"
	KindTransfer   EntryKind = "TRANSFER"
	KindAdjustment EntryKind = "ADJUSTMENT"
)

var ErrUnknownEntryKind = errors.New("unknown entry kind")

func (k EntryKind) Valid() bool {
	switch k {
	case KindIncome, KindExpense, KindTransfer, KindAdjustment:
		return true
	}
	return false
}

// CodePrefix is the prefix of the human-readable sequential code for the kind.
func (k EntryKind) CodePrefix() string {
	switch k {
	case KindIncome:
		return "PT"
	case KindExpense:
		return "PC"
	case KindTransfer:
		return "CK"
	case KindAdjustment:
		return "DC"
	}
	return ""
}

// EntryDetails holds the kind-specific part of an entry. The set of
// implementations is closed: IncomeDetails, ExpenseDetails, TransferDetails
// and AdjustmentDetails.
type EntryDetails interface {
	Kind() EntryKind
	sealed()
}

type IncomeDetails struct {
	WalletID   uuid.UUID
	CategoryID uuid.UUID
	ProjectID  *uuid.UUID
}

type ExpenseDetails struct {
	WalletID     uuid.UUID
	CategoryID   uuid.UUID
	ProjectID    *uuid.UUID
	IsCommonCost bool
}

type TransferDetails struct {
	WalletID   uuid.UUID // source
	WalletToID uuid.UUID // destination
	Fee        Money
}

// AdjustmentDetails has no fields besides the wallet: the entry amount is signed.
type AdjustmentDetails struct {
	WalletID uuid.UUID
}

func (IncomeDetails) Kind() EntryKind     { return KindIncome }
func (ExpenseDetails) Kind() EntryKind    { return KindExpense }
func (TransferDetails) Kind() EntryKind   { return KindTransfer }
func (AdjustmentDetails) Kind() EntryKind { return KindAdjustment }

func (IncomeDetails) sealed()     {}
func (ExpenseDetails) sealed()    {}
func (TransferDetails) sealed()   {}
func (AdjustmentDetails) sealed() {}

// Entry is one recorded money event.
type Entry struct {
	ID              uuid.UUID
	Code            string
	Date            time.Time
	Amount          Money
	Note            string
	CreatedByUserID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
	Details         EntryDetails
}

func (e *Entry) Kind() EntryKind {
	if e.Details == nil {
		return ""
	}
	return e.Details.Kind()
}

func (e *Entry) IsDeleted() bool {
	return e.DeletedAt != nil
}

// WalletIDs lists every wallet whose balance the entry changes.
func (e *Entry) WalletIDs() []uuid.UUID {
	switch d := e.Details.(type) {
	case IncomeDetails:
		return []uuid.UUID{d.WalletID}
	case ExpenseDetails:
		return []uuid.UUID{d.WalletID}
	case TransferDetails:
		return []uuid.UUID{d.WalletID, d.WalletToID}
	case AdjustmentDetails:
		return []uuid.UUID{d.WalletID}
	}
	return nil
}

// Touches reports whether the entry changes the balance of walletID.
func (e *Entry) Touches(walletID uuid.UUID) bool {
	for _, id := range e.WalletIDs() {
		if id == walletID {
			return true
		}
	}
	return false
}

// Effect is the signed change an entry applies to one wallet.
type Effect struct {
	WalletID uuid.UUID
	Delta    Money
}

// Effects applies the sign rule of the entry's kind.
//
//	Income      +amount on wallet
//	Expense     -amount on wallet
//	Transfer    -(amount+fee) on source, +amount on destination
//	Adjustment  amount as stored (signed) on wallet
func (e *Entry) Effects() ([]Effect, error) {
	switch d := e.Details.(type) {
	case IncomeDetails:
		return []Effect{{WalletID: d.WalletID, Delta: e.Amount}}, nil
	case ExpenseDetails:
		neg, err := e.Amount.Neg()
		if err != nil {
			return nil, err
		}
		return []Effect{{WalletID: d.WalletID, Delta: neg}}, nil
	case TransferDetails:
		out, err := e.Amount.Add(d.Fee)
		if err != nil {
			return nil, err
		}
		if out, err = out.Neg(); err != nil {
			return nil, err
		}
		return []Effect{
			{WalletID: d.WalletID, Delta: out},
			{WalletID: d.WalletToID, Delta: e.Amount},
		}, nil
	case AdjustmentDetails:
		return []Effect{{WalletID: d.WalletID, Delta: e.Amount}}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEntryKind, e.Details)
	}
}

// EffectOn is the signed change the entry applies to walletID, zero if none.
func (e *Entry) EffectOn(walletID uuid.UUID) (Money, error) {
	effects, err := e.Effects()
	if err != nil {
		return 0, err
	}
	var delta Money
	for _, ef := range effects {
		if ef.WalletID != walletID {
			continue
		}
		if delta, err = delta.Add(ef.Delta); err != nil {
			return 0, err
		}
	}
	return delta, nil
}

type entryJSON struct {
	ID              uuid.UUID  `json:"id"`
	Code            string     `json:"code"`
	Type            EntryKind  `json:"type"`
	Date            time.Time  `json:"date"`
	Amount          Money      `json:"amount"`
	Note            string     `json:"note"`
	WalletID        uuid.UUID  `json:"walletId"`
	WalletToID      *uuid.UUID `json:"walletToId,omitempty"`
	CategoryID      *uuid.UUID `json:"categoryId,omitempty"`
	ProjectID       *uuid.UUID `json:"projectId,omitempty"`
	FeeAmount       *Money     `json:"feeAmount,omitempty"`
	IsCommonCost    *bool      `json:"isCommonCost,omitempty"`
	CreatedByUserID string     `json:"createdByUserId"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	DeletedAt       *time.Time `json:"deletedAt,omitempty"`
}

// MarshalJSON flattens the entry into the wire shape used by the UI and the
// audit snapshots.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{
		ID:              e.ID,
		Code:            e.Code,
		Type:            e.Kind(),
		Date:            e.Date,
		Amount:          e.Amount,
		Note:            e.Note,
		CreatedByUserID: e.CreatedByUserID,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
		DeletedAt:       e.DeletedAt,
	}

	switch d := e.Details.(type) {
	case IncomeDetails:
		out.WalletID = d.WalletID
		out.CategoryID = &d.CategoryID
		out.ProjectID = d.ProjectID
	case ExpenseDetails:
		out.WalletID = d.WalletID
		out.CategoryID = &d.CategoryID
		out.ProjectID = d.ProjectID
		out.IsCommonCost = &d.IsCommonCost
	case TransferDetails:
		out.WalletID = d.WalletID
		out.WalletToID = &d.WalletToID
		out.FeeAmount = &d.Fee
	case AdjustmentDetails:
		out.WalletID = d.WalletID
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEntryKind, e.Details)
	}

	return json.Marshal(out)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var in entryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	*e = Entry{
		ID:              in.ID,
		Code:            in.Code,
		Date:            in.Date,
		Amount:          in.Amount,
		Note:            in.Note,
		CreatedByUserID: in.CreatedByUserID,
		CreatedAt:       in.CreatedAt,
		UpdatedAt:       in.UpdatedAt,
		DeletedAt:       in.DeletedAt,
	}

	switch in.Type {
	case KindIncome:
		e.Details = IncomeDetails{WalletID: in.WalletID, CategoryID: derefUUID(in.CategoryID), ProjectID: in.ProjectID}
	case KindExpense:
		var common bool
		if in.IsCommonCost != nil {
			common = *in.IsCommonCost
		}
		e.Details = ExpenseDetails{WalletID: in.WalletID, CategoryID: derefUUID(in.CategoryID), ProjectID: in.ProjectID, IsCommonCost: common}
	case KindTransfer:
		var fee Money
		if in.FeeAmount != nil {
			fee = *in.FeeAmount
		}
		e.Details = TransferDetails{WalletID: in.WalletID, WalletToID: derefUUID(in.WalletToID), Fee: fee}
	case KindAdjustment:
		e.Details = AdjustmentDetails{WalletID: in.WalletID}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEntryKind, in.Type)
	}
	return nil
}

func derefUUID(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

// EntryFilter narrows entry listings.
type EntryFilter struct {
	Kinds          []EntryKind
	From           *time.Time
	To             *time.Time
	WalletID       *uuid.UUID // matches either side of a transfer
	WalletToID     *uuid.UUID
	IncludeDeleted bool
}

// Matches applies the filter to a single entry.
func (f EntryFilter) Matches(e *Entry) bool {
	if !f.IncludeDeleted && e.IsDeleted() {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if e.Kind() == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Date.After(*f.To) {
		return false
	}
	if f.WalletID != nil && !e.Touches(*f.WalletID) {
		return false
	}
	if f.WalletToID != nil {
		t, ok := e.Details.(TransferDetails)
		if !ok || t.WalletToID != *f.WalletToID {
			return false
		}
	}
	return true
}

// EntryPatch lists the editable fields of an entry; nil means unchanged.
type EntryPatch struct {
	Date         *time.Time
	Amount       *Money
	WalletID     *uuid.UUID
	WalletToID   *uuid.UUID
	CategoryID   *uuid.UUID
	ProjectID    *uuid.UUID
	ClearProject bool
	FeeAmount    *Money
	IsCommonCost *bool
	Note         *string
}
