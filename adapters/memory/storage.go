package memory

import (
	"context"
	"sync"
	"time"

	"progresskit/core"
	"progresskit/engine"
	"progresskit/leaderboard"
)

// Store is a concurrent in-memory engine.Store implementation. The
// aggregate rows carry a version counter for optimistic concurrency;
// a skip list index keeps leaderboard scans off the row locks.
type Store struct {
	users sync.Map // map[core.UserID]*userRecord

	ledgerMu sync.Mutex
	seen     map[string]struct{}        // event IDs ever accepted
	events   map[core.UserID][]core.XPEvent // per-user, oldest first

	index leaderboard.Index
}

type userRecord struct {
	mu      sync.Mutex
	prog    core.Progression
	version uint64
}

func New() *Store {
	return &Store{
		seen:   map[string]struct{}{},
		events: map[core.UserID][]core.XPEvent{},
		index:  leaderboard.NewSkipList(),
	}
}

func (s *Store) getOrCreate(user core.UserID) *userRecord {
	if v, ok := s.users.Load(user); ok {
		return v.(*userRecord)
	}
	rec := &userRecord{prog: core.NewProgression(user)}
	actual, _ := s.users.LoadOrStore(user, rec)
	return actual.(*userRecord)
}

func (s *Store) GetProgression(_ context.Context, user core.UserID) (core.Progression, uint64, error) {
	v, ok := s.users.Load(user)
	if !ok {
		// Reads never create rows; version 0 marks a fresh aggregate.
		return core.NewProgression(user), 0, nil
	}
	rec := v.(*userRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.prog.Clone(), rec.version, nil
}

func (s *Store) PutProgression(_ context.Context, user core.UserID, p core.Progression, expectedVersion uint64) error {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.version != expectedVersion {
		return engine.ErrVersionConflict
	}
	rec.prog = p.Clone()
	rec.prog.Updated = time.Now().UTC()
	rec.version++
	s.index.Update(user, p.XP)
	return nil
}

func (s *Store) AppendEvent(_ context.Context, ev core.XPEvent) (bool, error) {
	if err := core.ValidateEventID(ev.ID); err != nil {
		return false, err
	}
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	if _, dup := s.seen[ev.ID]; dup {
		return false, nil
	}
	s.seen[ev.ID] = struct{}{}
	s.events[ev.UserID] = append(s.events[ev.UserID], ev)
	return true, nil
}

func (s *Store) CommitAward(_ context.Context, user core.UserID, p core.Progression, expectedVersion uint64, events []core.XPEvent) (bool, error) {
	for _, ev := range events {
		if err := core.ValidateEventID(ev.ID); err != nil {
			return false, err
		}
	}

	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	if _, dup := s.seen[events[0].ID]; dup {
		return false, nil
	}
	if rec.version != expectedVersion {
		return false, engine.ErrVersionConflict
	}

	for _, ev := range events {
		s.seen[ev.ID] = struct{}{}
		s.events[ev.UserID] = append(s.events[ev.UserID], ev)
	}
	rec.prog = p.Clone()
	rec.prog.Updated = time.Now().UTC()
	rec.version++
	s.index.Update(user, p.XP)
	return true, nil
}

func (s *Store) ListEvents(_ context.Context, user core.UserID, page, limit int) ([]core.XPEvent, error) {
	if page < 1 || limit < 1 {
		return nil, nil
	}
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	all := s.events[user]
	// newest first
	start := (page - 1) * limit
	if start >= len(all) {
		return nil, nil
	}
	out := make([]core.XPEvent, 0, limit)
	for i := len(all) - 1 - start; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *Store) ScanTopByXP(_ context.Context, limit int) ([]core.Progression, error) {
	scores := s.index.TopN(limit)
	out := make([]core.Progression, 0, len(scores))
	for _, sc := range scores {
		v, ok := s.users.Load(sc.User)
		if !ok {
			continue
		}
		rec := v.(*userRecord)
		rec.mu.Lock()
		out = append(out, rec.prog.Clone())
		rec.mu.Unlock()
	}
	return out, nil
}

func (s *Store) CountHigherXP(_ context.Context, xp int64) (int64, error) {
	return s.index.CountHigher(xp), nil
}

var _ engine.Store = (*Store)(nil)
