package models

import (
	"time"
)

// Ledger entry types. REVENUE marks the platform's cut of a private-show
// charge; it is bookkeeping only and never credits an account balance.
const (
	EntryDebit   = "DEBIT"
	EntryCredit  = "CREDIT"
	EntryRevenue = "REVENUE"
)

type LedgerEntry struct {
	ID            int       `json:"id" db:"id"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	AccountID     string    `json:"account_id" db:"account_id"`
	Amount        int64     `json:"amount" db:"amount"` // in tokens
	EntryType     string    `json:"entry_type" db:"entry_type"`
	Balance       int64     `json:"balance" db:"balance"` // balance after the entry
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
