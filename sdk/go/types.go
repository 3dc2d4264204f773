package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrEmptyUserID is returned when a call requires a user ID and none was given.
var ErrEmptyUserID = errors.New("userID is required")

// AwardOpts carries the optional fields of an award call.
type AwardOpts struct {
	EventID     string `json:"event_id,omitempty"`
	XP          *int64 `json:"xp,omitempty"`
	Description string `json:"description,omitempty"`
	CourseRef   string `json:"course_ref,omitempty"`
	RelatedRef  string `json:"related_ref,omitempty"`
}

// AwardResult mirrors the server response for an award call. The
// server serializes new badges as full catalog entries, not IDs.
type AwardResult struct {
	XPEarned    int64      `json:"xp_earned"`
	TotalXP     int64      `json:"total_xp"`
	Level       int64      `json:"level"`
	StreakCount int64      `json:"streak_count"`
	NewBadges   []BadgeDef `json:"new_badges,omitempty"`
	Duplicate   bool       `json:"duplicate,omitempty"`
}

// Progression mirrors the server's user progression document.
type Progression struct {
	UserID        string               `json:"user_id"`
	XP            int64                `json:"xp"`
	Level         int64                `json:"level"`
	StreakCount   int64                `json:"streak_count"`
	LastActiveDay time.Time            `json:"last_active_day,omitempty"`
	Badges        map[string]time.Time `json:"badges"`
	Updated       time.Time            `json:"updated"`
}

// XPEvent mirrors one ledger entry.
type XPEvent struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Action      string    `json:"action"`
	XP          int64     `json:"xp"`
	Time        time.Time `json:"time"`
	Description string    `json:"description,omitempty"`
	CourseRef   string    `json:"course_ref,omitempty"`
	RelatedRef  string    `json:"related_ref,omitempty"`
}

// LeaderboardEntry mirrors one ranked leaderboard row.
type LeaderboardEntry struct {
	Rank        int64  `json:"rank"`
	UserID      string `json:"user_id"`
	XP          int64  `json:"xp"`
	Level       int64  `json:"level"`
	StreakCount int64  `json:"streak_count"`
	BadgeCount  int    `json:"badge_count"`
}

// BadgeDef mirrors one catalog entry.
type BadgeDef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	Description string `json:"description,omitempty"`
}

// HealthStatus mirrors the /healthz response.
type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// APIError is a structured error returned by the server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func decodeJSON(resp *http.Response, target any) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = string(body)
		}
		return apiErr
	}
	if target == nil {
		return nil
	}
	return json.Unmarshal(body, target)
}
