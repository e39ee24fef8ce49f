package models

import (
	"time"
)

// Transaction types recorded by the core.
const (
	TxGift          = "GIFT"
	TxSessionCharge = "SESSION_CHARGE"
	TxVoucher       = "VOUCHER"
	TxPayment       = "PAYMENT"
	TxAdjustment    = "ADJUSTMENT"
)

// Transaction is the durable record of a completed token movement. For
// payment credits the TransactionID doubles as the idempotency key supplied
// by the gateway webhook.
type Transaction struct {
	ID            int       `json:"id" db:"id"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	FromAccountID string    `json:"from_account_id" db:"from_account_id"`
	ToAccountID   string    `json:"to_account_id" db:"to_account_id"`
	Amount        int64     `json:"amount" db:"amount"`
	Type          string    `json:"type" db:"type"`
	GiftID        string    `json:"gift_id,omitempty" db:"gift_id"`
	RoomName      string    `json:"room_name,omitempty" db:"room_name"`
	Status        string    `json:"status" db:"status"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
