package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"progresskit/core"
	"progresskit/engine"
)

// Store persists entire state to a single JSON file.
// Suitable for demos and small deployments.
type Store struct {
	path string
	mu   sync.Mutex
	// in-memory cache for speed
	users  map[core.UserID]userEntry
	events map[core.UserID][]core.XPEvent
	seen   map[string]struct{}
}

type userEntry struct {
	Progression core.Progression `json:"progression"`
	Version     uint64           `json:"version"`
}

type fileState struct {
	Users  map[string]userEntry      `json:"users"`
	Events map[string][]core.XPEvent `json:"events"`
	Seen   []string                  `json:"seen"`
}

func New(path string) (*Store, error) {
	s := &Store{
		path:   path,
		users:  map[core.UserID]userEntry{},
		events: map[core.UserID][]core.XPEvent{},
		seen:   map[string]struct{}{},
	}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var raw fileState
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw.Users {
		if v.Progression.Badges == nil {
			v.Progression.Badges = map[core.BadgeID]time.Time{}
		}
		s.users[core.UserID(k)] = v
	}
	for k, v := range raw.Events {
		s.events[core.UserID(k)] = v
	}
	for _, id := range raw.Seen {
		s.seen[id] = struct{}{}
	}
	return nil
}

func (s *Store) persist() error {
	raw := fileState{
		Users:  make(map[string]userEntry, len(s.users)),
		Events: make(map[string][]core.XPEvent, len(s.events)),
		Seen:   make([]string, 0, len(s.seen)),
	}
	for k, v := range s.users {
		raw.Users[string(k)] = v
	}
	for k, v := range s.events {
		raw.Events[string(k)] = v
	}
	for id := range s.seen {
		raw.Seen = append(raw.Seen, id)
	}
	sort.Strings(raw.Seen)

	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) GetProgression(_ context.Context, user core.UserID) (core.Progression, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.users[user]
	if !ok {
		return core.NewProgression(user), 0, nil
	}
	return entry.Progression.Clone(), entry.Version, nil
}

func (s *Store) PutProgression(_ context.Context, user core.UserID, prog core.Progression, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.users[user]
	current := entry.Version
	if !ok {
		current = 0
	}
	if current != expectedVersion {
		return engine.ErrVersionConflict
	}
	s.users[user] = userEntry{Progression: prog.Clone(), Version: current + 1}
	return s.persist()
}

func (s *Store) AppendEvent(_ context.Context, ev core.XPEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[ev.ID]; dup {
		return false, nil
	}
	s.seen[ev.ID] = struct{}{}
	s.events[ev.UserID] = append(s.events[ev.UserID], ev)
	if err := s.persist(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CommitAward(_ context.Context, user core.UserID, prog core.Progression, expectedVersion uint64, events []core.XPEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[events[0].ID]; dup {
		return false, nil
	}
	prevEntry, hadEntry := s.users[user]
	current := prevEntry.Version
	if !hadEntry {
		current = 0
	}
	if current != expectedVersion {
		return false, engine.ErrVersionConflict
	}

	prevEvents := s.events[user]
	for _, ev := range events {
		s.seen[ev.ID] = struct{}{}
		s.events[user] = append(s.events[user], ev)
	}
	s.users[user] = userEntry{Progression: prog.Clone(), Version: current + 1}

	if err := s.persist(); err != nil {
		// roll the cache back so memory keeps matching the file
		for _, ev := range events {
			delete(s.seen, ev.ID)
		}
		s.events[user] = prevEvents
		if hadEntry {
			s.users[user] = prevEntry
		} else {
			delete(s.users, user)
		}
		return false, err
	}
	return true, nil
}

func (s *Store) ListEvents(_ context.Context, user core.UserID, page, limit int) ([]core.XPEvent, error) {
	if page < 1 || limit < 1 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[user]
	offset := (page - 1) * limit
	if offset >= len(all) {
		return nil, nil
	}
	out := make([]core.XPEvent, 0, limit)
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *Store) ScanTopByXP(_ context.Context, limit int) ([]core.Progression, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	progs := make([]core.Progression, 0, len(s.users))
	for _, entry := range s.users {
		progs = append(progs, entry.Progression.Clone())
	}
	sort.Slice(progs, func(i, j int) bool {
		if progs[i].XP != progs[j].XP {
			return progs[i].XP > progs[j].XP
		}
		return progs[i].UserID < progs[j].UserID
	})
	if len(progs) > limit {
		progs = progs[:limit]
	}
	return progs, nil
}

func (s *Store) CountHigherXP(_ context.Context, xp int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, entry := range s.users {
		if entry.Progression.XP > xp {
			count++
		}
	}
	return count, nil
}

var _ engine.Store = (*Store)(nil)
