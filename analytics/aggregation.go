package analytics

import (
	"sync"
	"time"

	"progresskit/core"
)

// DailySnapshot is one day of aggregated learning KPIs.
type DailySnapshot struct {
	Day           string    `json:"day"`
	ActiveUsers   int       `json:"active_users"`
	XPAwarded     int64     `json:"xp_awarded"`
	BadgesEarned  int64     `json:"badges_earned"`
	LevelUps      int64     `json:"level_ups"`
	StreakExtends int64     `json:"streak_extends"`
	CreatedAt     time.Time `json:"created_at"`
}

// Aggregator folds events into Metrics and materializes per-day
// snapshots on demand.
type Aggregator struct {
	mu      sync.Mutex
	metrics *Metrics
	days    map[string]struct{}
}

func NewAggregator(metrics *Metrics) *Aggregator {
	return &Aggregator{metrics: metrics, days: map[string]struct{}{}}
}

// OnEvent forwards to the underlying metrics and remembers the day.
func (a *Aggregator) OnEvent(e core.Event) {
	a.metrics.OnEvent(e)
	day := e.Time.UTC().Format("2006-01-02")
	a.mu.Lock()
	a.days[day] = struct{}{}
	a.mu.Unlock()
}

// Snapshot returns the current aggregate for one day.
func (a *Aggregator) Snapshot(day string) *DailySnapshot {
	return a.metrics.snapshotDay(day)
}

// Snapshots returns aggregates for every day that saw at least one event.
func (a *Aggregator) Snapshots() []*DailySnapshot {
	a.mu.Lock()
	days := make([]string, 0, len(a.days))
	for d := range a.days {
		days = append(days, d)
	}
	a.mu.Unlock()

	snaps := make([]*DailySnapshot, 0, len(days))
	for _, d := range days {
		snaps = append(snaps, a.metrics.snapshotDay(d))
	}
	return snaps
}

var _ Hook = (*Aggregator)(nil)
