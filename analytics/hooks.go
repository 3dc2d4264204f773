package analytics

import (
	"sync"
	"time"

	"progresskit/core"
)

// Hook receives notification intents for KPI aggregation.
type Hook interface {
	OnEvent(e core.Event)
}

// DAU tracks daily active learners.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.UserID]struct{}
}

func NewDAU() *DAU { return &DAU{days: map[string]map[core.UserID]struct{}{}} }

func (d *DAU) OnEvent(e core.Event) {
	day := e.Time.UTC().Format("2006-01-02")
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.UserID]struct{}{}
		d.days[day] = m
	}
	m[e.UserID] = struct{}{}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

// Metrics aggregates learning KPIs in memory.
type Metrics struct {
	mu sync.RWMutex

	activeUsersByDay map[string]map[core.UserID]struct{}

	xpByDay    map[string]int64
	xpByAction map[core.Action]int64

	badgesByDay        map[string]int64
	badgesByID         map[core.BadgeID]int64
	uniqueBadgeHolders map[core.BadgeID]map[core.UserID]struct{}

	levelUpsByDay     map[string]int64
	levelDistribution map[int64]int

	streakExtendsByDay map[string]int64
	longestStreakSeen  map[core.UserID]int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		activeUsersByDay:   make(map[string]map[core.UserID]struct{}),
		xpByDay:            make(map[string]int64),
		xpByAction:         make(map[core.Action]int64),
		badgesByDay:        make(map[string]int64),
		badgesByID:         make(map[core.BadgeID]int64),
		uniqueBadgeHolders: make(map[core.BadgeID]map[core.UserID]struct{}),
		levelUpsByDay:      make(map[string]int64),
		levelDistribution:  make(map[int64]int),
		streakExtendsByDay: make(map[string]int64),
		longestStreakSeen:  make(map[core.UserID]int64),
	}
}

func (m *Metrics) OnEvent(e core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := e.Time.UTC().Format("2006-01-02")
	if m.activeUsersByDay[day] == nil {
		m.activeUsersByDay[day] = make(map[core.UserID]struct{})
	}
	m.activeUsersByDay[day][e.UserID] = struct{}{}

	switch e.Type {
	case core.EventXPAwarded:
		if e.Delta > 0 {
			m.xpByDay[day] += e.Delta
			m.xpByAction[e.Action] += e.Delta
		}
	case core.EventBadgeEarned:
		m.badgesByDay[day]++
		m.badgesByID[e.Badge]++
		if m.uniqueBadgeHolders[e.Badge] == nil {
			m.uniqueBadgeHolders[e.Badge] = make(map[core.UserID]struct{})
		}
		m.uniqueBadgeHolders[e.Badge][e.UserID] = struct{}{}
	case core.EventLevelUp:
		m.levelUpsByDay[day]++
		m.levelDistribution[e.Level]++
	case core.EventStreakExtended:
		m.streakExtendsByDay[day]++
		if e.Streak > m.longestStreakSeen[e.UserID] {
			m.longestStreakSeen[e.UserID] = e.Streak
		}
	}
}

// ActiveUsers returns the count of distinct learners seen on a day.
func (m *Metrics) ActiveUsers(day string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.activeUsersByDay[day])
}

// XPAwarded returns total XP awarded on a day.
func (m *Metrics) XPAwarded(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.xpByDay[day]
}

// XPByAction returns total XP awarded for an action across all days.
func (m *Metrics) XPByAction(action core.Action) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.xpByAction[action]
}

// BadgesEarned returns total badge grants on a day.
func (m *Metrics) BadgesEarned(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.badgesByDay[day]
}

// BadgeHolders returns the count of distinct holders of a badge.
func (m *Metrics) BadgeHolders(badge core.BadgeID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.uniqueBadgeHolders[badge])
}

// LevelUps returns the count of level-up events on a day.
func (m *Metrics) LevelUps(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levelUpsByDay[day]
}

// LevelDistribution returns how many level-up events landed on each level.
func (m *Metrics) LevelDistribution() map[int64]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]int, len(m.levelDistribution))
	for k, v := range m.levelDistribution {
		out[k] = v
	}
	return out
}

// StreakExtends returns the count of streak extensions on a day.
func (m *Metrics) StreakExtends(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streakExtendsByDay[day]
}

// LongestStreak returns the longest streak observed for a learner.
func (m *Metrics) LongestStreak(user core.UserID) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.longestStreakSeen[user]
}

// snapshotDay builds an immutable daily snapshot; callers hold no lock.
func (m *Metrics) snapshotDay(day string) *DailySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &DailySnapshot{
		Day:           day,
		ActiveUsers:   len(m.activeUsersByDay[day]),
		XPAwarded:     m.xpByDay[day],
		BadgesEarned:  m.badgesByDay[day],
		LevelUps:      m.levelUpsByDay[day],
		StreakExtends: m.streakExtendsByDay[day],
		CreatedAt:     time.Now().UTC(),
	}
	return snap
}

var (
	_ Hook = (*DAU)(nil)
	_ Hook = (*Metrics)(nil)
)
