package jsonfile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"progresskit/core"
	"progresskit/engine"
)

func TestPersistAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	prog := core.NewProgression("alice")
	prog.XP = 75
	prog.Level = 1
	prog.Badges["welcome"] = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := s.PutProgression(ctx, "alice", prog, 0); err != nil {
		t.Fatalf("PutProgression: %v", err)
	}
	if _, err := s.AppendEvent(ctx, core.XPEvent{ID: "ev-1", UserID: "alice", Action: core.ActionQuizPass, XP: 50}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	// reopen from disk
	s2, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, version, err := s2.GetProgression(ctx, "alice")
	if err != nil {
		t.Fatalf("GetProgression: %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}
	if got.XP != 75 || !got.HasBadge("welcome") {
		t.Fatalf("state not restored: %+v", got)
	}

	// the replay guard survives the reopen too
	accepted, err := s2.AppendEvent(ctx, core.XPEvent{ID: "ev-1", UserID: "alice", Action: core.ActionQuizPass, XP: 50})
	if err != nil {
		t.Fatalf("AppendEvent replay: %v", err)
	}
	if accepted {
		t.Fatal("replayed event must not be accepted")
	}
}

func TestVersionConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.PutProgression(ctx, "bob", core.NewProgression("bob"), 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	err = s.PutProgression(ctx, "bob", core.NewProgression("bob"), 0)
	if err != engine.ErrVersionConflict {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
}

func TestListEventsNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.AppendEvent(ctx, core.XPEvent{ID: id, UserID: "alice", Action: core.ActionDailyLogin, XP: 10}); err != nil {
			t.Fatalf("AppendEvent %s: %v", id, err)
		}
	}
	events, err := s.ListEvents(ctx, "alice", 1, 2)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 || events[0].ID != "c" || events[1].ID != "b" {
		t.Fatalf("unexpected page: %+v", events)
	}
}

func TestScanTopByXPOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for user, xp := range map[core.UserID]int64{"carol": 300, "alice": 300, "bob": 900} {
		prog := core.NewProgression(user)
		prog.XP = xp
		if err := s.PutProgression(ctx, user, prog, 0); err != nil {
			t.Fatalf("seed %s: %v", user, err)
		}
	}
	progs, err := s.ScanTopByXP(ctx, 10)
	if err != nil {
		t.Fatalf("ScanTopByXP: %v", err)
	}
	want := []core.UserID{"bob", "alice", "carol"}
	for i, w := range want {
		if progs[i].UserID != w {
			t.Fatalf("position %d = %s, want %s", i, progs[i].UserID, w)
		}
	}
	higher, err := s.CountHigherXP(ctx, 300)
	if err != nil {
		t.Fatalf("CountHigherXP: %v", err)
	}
	if higher != 1 {
		t.Fatalf("CountHigherXP = %d, want 1", higher)
	}
}

func TestCommitAwardPersistsAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	prog := core.NewProgression("alice")
	prog.XP = 50
	accepted, err := s.CommitAward(ctx, "alice", prog, 0, []core.XPEvent{
		{ID: "ev-1", UserID: "alice", Action: core.ActionQuizPass, XP: 50},
	})
	if err != nil || !accepted {
		t.Fatalf("CommitAward: accepted=%v err=%v", accepted, err)
	}

	// Both the aggregate and the ledger survive a reopen together.
	s2, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, version, err := s2.GetProgression(ctx, "alice")
	if err != nil || version != 1 || got.XP != 50 {
		t.Fatalf("after reopen: xp=%d version=%d err=%v", got.XP, version, err)
	}
	list, err := s2.ListEvents(ctx, "alice", 1, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ledger after reopen: %d events err=%v", len(list), err)
	}

	// A replay after reopen changes nothing.
	prog.XP = 999
	accepted, err = s2.CommitAward(ctx, "alice", prog, 1, []core.XPEvent{
		{ID: "ev-1", UserID: "alice", Action: core.ActionQuizPass, XP: 50},
	})
	if err != nil || accepted {
		t.Fatalf("replay: accepted=%v err=%v", accepted, err)
	}
}

func TestCommitAwardStaleVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.PutProgression(ctx, "alice", core.NewProgression("alice"), 0); err != nil {
		t.Fatalf("PutProgression: %v", err)
	}

	prog := core.NewProgression("alice")
	prog.XP = 50
	accepted, err := s.CommitAward(ctx, "alice", prog, 0, []core.XPEvent{
		{ID: "ev-1", UserID: "alice", Action: core.ActionQuizPass, XP: 50},
	})
	if accepted || err != engine.ErrVersionConflict {
		t.Fatalf("stale commit: accepted=%v err=%v", accepted, err)
	}
	if list, _ := s.ListEvents(ctx, "alice", 1, 10); len(list) != 0 {
		t.Fatalf("stale commit touched the ledger: %d events", len(list))
	}
}
