package models

// Gift tiers. Cosmetic only, never part of price logic.
const (
	TierStandard = "standard"
	TierPremium  = "premium"
	TierLuxury   = "luxury"
)

// Gift is a catalog entry. The catalog is owned by an external service; the
// transaction core only ever reads price by id.
type Gift struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Price    int64  `json:"price" db:"price"` // in tokens, always positive
	Tier     string `json:"tier" db:"tier"`
	IconPath string `json:"icon_path" db:"icon_path"`
}

// Room maps a broadcaster's room name to the broadcaster account that
// receives private-show charges and battle-relevant gifts.
type Room struct {
	Name          string `json:"name" db:"room_name"`
	BroadcasterID string `json:"broadcaster_id" db:"broadcaster_id"`
}
