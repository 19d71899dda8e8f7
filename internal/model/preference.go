package model

import (
	"github.com/google/uuid"
)

// ChannelPreference is a user's opt-in state for one delivery channel.
// A channel is usable only when it is both enabled and verified.
type ChannelPreference struct {
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	Channel  Channel   `json:"channel" db:"channel"`
	Address  string    `json:"address" db:"address"`
	Enabled  bool      `json:"enabled" db:"enabled"`
	Verified bool      `json:"verified" db:"verified"`
}

// QuietHours is a daily local-time window during which non-urgent
// notifications are deferred to the batch path.
type QuietHours struct {
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Enabled   bool      `json:"enabled" db:"enabled"`
	StartHHMM string    `json:"start" db:"quiet_start"`
	EndHHMM   string    `json:"end" db:"quiet_end"`
	Timezone  string    `json:"timezone" db:"timezone"`
}
