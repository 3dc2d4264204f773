package leaderboard

import (
	"context"

	"progresskit/core"
	"progresskit/engine"
)

// Score is one (user, xp) pair in a ranking index.
type Score struct {
	User core.UserID
	XP   int64
}

// Index abstracts an in-process ranking structure ordered by
// (xp desc, user asc).
type Index interface {
	Update(user core.UserID, xp int64)
	Remove(user core.UserID)
	TopN(n int) []Score
	Get(user core.UserID) (Score, bool)
	// CountHigher counts entries with strictly more XP.
	CountHigher(xp int64) int64
}

// Entry is one row of the leaderboard view.
type Entry struct {
	Rank        int64       `json:"rank"`
	UserID      core.UserID `json:"user_id"`
	XP          int64       `json:"xp"`
	Level       int64       `json:"level"`
	StreakCount int64       `json:"streak_count"`
	BadgeCount  int         `json:"badge_count"`
}

// Source is the read side of the persistence collaborator. engine.Store
// satisfies it.
type Source interface {
	ScanTopByXP(ctx context.Context, limit int) ([]core.Progression, error)
	CountHigherXP(ctx context.Context, xp int64) (int64, error)
	GetProgression(ctx context.Context, user core.UserID) (core.Progression, uint64, error)
}

// Ranker produces ordered views and single-user rank over snapshots of
// the aggregate population. Reads take no locks and may trail an
// in-flight award; rank is advisory, not transactional.
//
// Ordering is XP descending with ties broken by ascending user ID.
// Rank is 1 + count(users with strictly higher XP), so tied users
// share a rank. Both are deterministic across repeated calls with no
// intervening writes.
type Ranker struct {
	src Source
}

func NewRanker(src Source) *Ranker {
	if src == nil {
		panic("NewRanker requires a non-nil source")
	}
	return &Ranker{src: src}
}

// TopN returns up to limit entries ordered by (xp desc, user asc).
func (r *Ranker) TopN(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	progs, err := r.src.ScanTopByXP(ctx, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(progs))
	var rank int64
	var prevXP int64
	for i, p := range progs {
		if i == 0 || p.XP != prevXP {
			rank = int64(i) + 1
		}
		prevXP = p.XP
		entries = append(entries, Entry{
			Rank:        rank,
			UserID:      p.UserID,
			XP:          p.XP,
			Level:       p.Level,
			StreakCount: p.StreakCount,
			BadgeCount:  len(p.Badges),
		})
	}
	return entries, nil
}

// RankOf returns the 1-based rank of a user. Unknown users yield
// engine.ErrUserNotFound.
func (r *Ranker) RankOf(ctx context.Context, user core.UserID) (int64, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return 0, err
	}
	prog, version, err := r.src.GetProgression(ctx, user)
	if err != nil {
		return 0, err
	}
	if version == 0 {
		return 0, engine.ErrUserNotFound
	}
	higher, err := r.src.CountHigherXP(ctx, prog.XP)
	if err != nil {
		return 0, err
	}
	return higher + 1, nil
}
