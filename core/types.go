package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a learner in the progression domain.
type UserID string

// BadgeID is a stable identifier from the badge catalog.
type BadgeID string

// Role describes the principal type an award targets. Only students
// accumulate XP; awards to other roles are silent no-ops.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// XPPerLevel is the width of one level step.
const XPPerLevel = 500

// Progression is a snapshot of a learner's aggregate state. The level
// field is always derived from XP via LevelFromXP; it is stored for
// read convenience and recomputed on every mutation.
type Progression struct {
	UserID        UserID                `json:"user_id"`
	XP            int64                 `json:"xp"`
	Level         int64                 `json:"level"`
	StreakCount   int64                 `json:"streak_count"`
	LastActiveDay time.Time             `json:"last_active_day,omitempty"`
	Badges        map[BadgeID]time.Time `json:"badges"`
	Updated       time.Time             `json:"updated"`
}

// Clone returns a deep copy of the snapshot.
func (p Progression) Clone() Progression {
	cp := p
	cp.Badges = make(map[BadgeID]time.Time, len(p.Badges))
	for id, at := range p.Badges {
		cp.Badges[id] = at
	}
	return cp
}

// HasBadge reports whether the badge has already been earned.
func (p Progression) HasBadge(id BadgeID) bool {
	_, ok := p.Badges[id]
	return ok
}

// NewProgression returns an empty aggregate for a user.
func NewProgression(user UserID) Progression {
	return Progression{
		UserID:  user,
		Level:   1,
		Badges:  map[BadgeID]time.Time{},
		Updated: time.Now().UTC(),
	}
}

// LevelFromXP computes the derived level: floor(xp/500)+1, at least 1.
func LevelFromXP(xp int64) int64 {
	if xp <= 0 {
		return 1
	}
	return xp/XPPerLevel + 1
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", errors.New("empty user id")
	}
	return UserID(strings.ToLower(s)), nil
}

// ValidateBadgeID ensures non-empty badge id with simple charset check.
func ValidateBadgeID(b BadgeID) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return errors.New("empty badge id")
	}
	// simple check: alnum, dash, underscore
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return errors.New("invalid badge id")
	}
	return nil
}

// Day truncates a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
