package models

import (
	"time"

	"github.com/google/uuid"
)

type CashflowQuery struct {
	WalletID *uuid.UUID
	From     time.Time
	To       time.Time
}

// WalletCashflow holds one wallet's totals over a range. TransferOutTotal
// includes transfer fees, which are also reported on their own.
type WalletCashflow struct {
	WalletID         uuid.UUID `json:"walletId"`
	WalletCode       string    `json:"walletCode"`
	WalletName       string    `json:"walletName"`
	IncomeTotal      Money     `json:"incomeTotal"`
	ExpenseTotal     Money     `json:"expenseTotal"`
	TransferInTotal  Money     `json:"transferInTotal"`
	TransferOutTotal Money     `json:"transferOutTotal"`
	TransferFeeTotal Money     `json:"transferFeeTotal"`
	AdjustmentTotal  Money     `json:"adjustmentTotal"`
	NetChange        Money     `json:"netChange"`
}

type CashflowTotals struct {
	IncomeTotal      Money `json:"incomeTotal"`
	ExpenseTotal     Money `json:"expenseTotal"`
	TransferInTotal  Money `json:"transferInTotal"`
	TransferOutTotal Money `json:"transferOutTotal"`
	TransferFeeTotal Money `json:"transferFeeTotal"`
	AdjustmentTotal  Money `json:"adjustmentTotal"`
	NetChange        Money `json:"netChange"`
}

type DailyCashflow struct {
	Date     string `json:"date"` // YYYY-MM-DD in the ledger time zone
	InTotal  Money  `json:"inTotal"`
	OutTotal Money  `json:"outTotal"`
	Net      Money  `json:"net"`
}

type CashflowSummary struct {
	From     time.Time        `json:"from"`
	To       time.Time        `json:"to"`
	ByWallet []WalletCashflow `json:"byWallet"`
	Totals   CashflowTotals   `json:"totals"`
	Series   []DailyCashflow  `json:"series"`
}
