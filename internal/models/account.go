package models

import "time"

// Account roles. Role decides private-show eligibility and the revenue share
// applied when a broadcaster is paid.
const (
	RoleViewer      = "viewer"
	RoleBroadcaster = "broadcaster"
	RoleAdmin       = "admin"
)

// Account statuses. Accounts are never deleted, only disabled.
const (
	AccountActive   = "ACTIVE"
	AccountDisabled = "DISABLED"
)

// Account holds a user's token balance. Balance is denominated in whole
// tokens and is only ever mutated through the ledger service.
type Account struct {
	ID           string    `json:"id" db:"id"`
	DisplayName  string    `json:"display_name" db:"display_name"`
	Role         string    `json:"role" db:"role"`
	Status       string    `json:"status" db:"status"`
	Balance      int64     `json:"balance" db:"balance"`
	LifetimeTips int64     `json:"lifetime_tips" db:"lifetime_tips"`
	Version      int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
