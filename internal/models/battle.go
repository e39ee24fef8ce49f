package models

import "time"

// Battle statuses.
const (
	BattleActive   = "active"
	BattleFinished = "finished"
)

// Battle is an ephemeral two-party contest scored by gift value. Expiry is
// computed lazily from StartedAt + Duration at read time; nothing sweeps
// battles in the background.
type Battle struct {
	RoomName   string    `json:"room_name"`
	Challenger string    `json:"challenger"`
	Opponent   string    `json:"opponent"`
	StartedAt  time.Time `json:"started_at"`
	Duration   int       `json:"duration_seconds"`
	ScoreA     int64     `json:"score_challenger"`
	ScoreB     int64     `json:"score_opponent"`
	Status     string    `json:"status"`
}
