package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// XPEvent is one accepted award in the append-only ledger. Events are
// created once and never mutated; the running XP total is always
// reconstructible by summing a user's events.
type XPEvent struct {
	ID          string    `json:"id"`
	UserID      UserID    `json:"user_id"`
	Action      Action    `json:"action"`
	XP          int64     `json:"xp"`
	Time        time.Time `json:"time"`
	Description string    `json:"description,omitempty"`
	CourseRef   string    `json:"course_ref,omitempty"`
	RelatedRef  string    `json:"related_ref,omitempty"`
}

// NewEventID returns a fresh ledger event identifier.
func NewEventID() string { return uuid.NewString() }

// StreakBonusEventID derives the ledger ID of the streak-bonus
// sub-event from its parent award. The derivation is deterministic so
// a retried parent dedups its bonus too.
func StreakBonusEventID(parentID string) string { return parentID + ":streak" }

// ValidateEventID rejects empty or whitespace-only ledger IDs.
func ValidateEventID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("empty event id")
	}
	return nil
}

// EventType enumerates notification intents published after a commit.
type EventType string

const (
	EventXPAwarded      EventType = "xp_awarded"
	EventLevelUp        EventType = "level_up"
	EventBadgeEarned    EventType = "badge_earned"
	EventStreakExtended EventType = "streak_extended"
)

// Event is an immutable notification payload. Delivery is best-effort;
// consumers must never feed back into the award path.
type Event struct {
	Type     EventType      `json:"type"`
	Time     time.Time      `json:"time"`
	UserID   UserID         `json:"user_id"`
	Action   Action         `json:"action,omitempty"`
	Delta    int64          `json:"delta,omitempty"`
	Total    int64          `json:"total,omitempty"`
	Badge    BadgeID        `json:"badge,omitempty"`
	Level    int64          `json:"level,omitempty"`
	Streak   int64          `json:"streak,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewXPAwarded(user UserID, action Action, delta, total int64) Event {
	return Event{Type: EventXPAwarded, Time: time.Now().UTC(), UserID: user, Action: action, Delta: delta, Total: total}
}

func NewLevelUp(user UserID, level int64) Event {
	return Event{Type: EventLevelUp, Time: time.Now().UTC(), UserID: user, Level: level}
}

func NewBadgeEarned(user UserID, badge BadgeID) Event {
	return Event{Type: EventBadgeEarned, Time: time.Now().UTC(), UserID: user, Badge: badge}
}

func NewStreakExtended(user UserID, streak int64) Event {
	return Event{Type: EventStreakExtended, Time: time.Now().UTC(), UserID: user, Streak: streak}
}
