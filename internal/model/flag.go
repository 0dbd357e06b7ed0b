package model

import "time"

// UserRef identifies a user as shown next to prices and flags.
type UserRef struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Anonymous bool   `json:"anonymous"`
}

// FlagStatus is the moderation state of a disputed price.
type FlagStatus string

const (
	FlagUnresolved FlagStatus = "unresolved"
	FlagDeleted    FlagStatus = "resolved-deleted"
	FlagDismissed  FlagStatus = "resolved-dismissed"
)

// Flag is an unresolved moderation hold on a price. State.Price carries the
// disputed submission and its submitter.
type Flag struct {
	State    ItemState `json:"state"`
	Reporter UserRef   `json:"reporter"`
}

// FlagResolution is the immutable history record appended when a flag is
// resolved.
type FlagResolution struct {
	ID             string    `json:"id"`
	ItemID         int64     `json:"item_id"`
	PriceTimestamp time.Time `json:"price_timestamp"`
	Submitter      int64     `json:"submitter"`
	Reporter       int64     `json:"reporter"`
	Deleted        bool      `json:"deleted"`
	ResolvedAt     time.Time `json:"resolved_at"`
}

// Status maps the resolution to its terminal state.
func (r FlagResolution) Status() FlagStatus {
	if r.Deleted {
		return FlagDeleted
	}
	return FlagDismissed
}

// ModerationStats summarizes a user's moderation record.
type ModerationStats struct {
	PricesSubmitted int `json:"prices_submitted"`
	PricesInvalid   int `json:"prices_invalid"`
	FlagsUnresolved int `json:"flags_unresolved"`
	FlagsValid      int `json:"flags_valid"`
	FlagsInvalid    int `json:"flags_invalid"`
}
