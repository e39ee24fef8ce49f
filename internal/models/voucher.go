package models

import "time"

// Voucher is a single-use redemption code worth a fixed number of tokens.
// The used flag may only flip inside the same database transaction that
// credits the redeeming account.
type Voucher struct {
	Code       string     `json:"code" db:"code"`
	TokenValue int64      `json:"token_value" db:"token_value"`
	Used       bool       `json:"used" db:"used"`
	RedeemedBy string     `json:"redeemed_by,omitempty" db:"redeemed_by"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty" db:"redeemed_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
}
