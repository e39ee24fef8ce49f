package models

import "time"

// PrivateSession is a metered one-to-one show billed per minute to a single
// payer. At most one session exists per room; LastBilledAt only advances when
// a charge actually succeeded.
type PrivateSession struct {
	RoomName      string    `json:"room_name"`
	PayerID       string    `json:"payer_id"`
	BroadcasterID string    `json:"broadcaster_id"`
	RatePerMinute int64     `json:"rate_per_minute"`
	StartedAt     time.Time `json:"started_at"`
	LastBilledAt  time.Time `json:"last_billed_at"`
}

// SessionStatus is the read-model returned to status pollers.
type SessionStatus struct {
	RoomName  string    `json:"room_name"`
	Active    bool      `json:"active"`
	PayerID   string    `json:"payer_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}
