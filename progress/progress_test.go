package progress

import (
	"context"
	"testing"

	mem "progresskit/adapters/memory"
	"progresskit/analytics"
	"progresskit/core"
	"progresskit/engine"
	"progresskit/realtime"
)

func TestNewDefaultsAndOptions(t *testing.T) {
	hub := realtime.NewHub()
	svc := New(
		WithRealtime(hub),
		WithStore(mem.New()),
		WithDispatchMode(engine.DispatchSync),
	)
	defer svc.Close()

	_, ch := hub.Subscribe(4)

	res, err := svc.AwardXP(context.Background(), "alice", core.ActionDailyLogin, engine.Opts{})
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if res.TotalXP != 10 {
		t.Fatalf("total = %d, want 10", res.TotalXP)
	}

	// realtime bridge should receive the xp_awarded intent
	ev := <-ch
	if ev.UserID != "alice" || ev.Type != core.EventXPAwarded {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestNewDefaultStore(t *testing.T) {
	svc := New(WithDispatchMode(engine.DispatchSync))
	defer svc.Close()

	if _, err := svc.AwardXP(context.Background(), "bob", core.ActionLessonComplete, engine.Opts{}); err != nil {
		t.Fatalf("award on default store: %v", err)
	}
	prog, err := svc.Progression(context.Background(), "bob")
	if err != nil {
		t.Fatalf("progression: %v", err)
	}
	if prog.XP != 25 {
		t.Fatalf("xp = %d, want 25", prog.XP)
	}
}

func TestAnalyticsBridge(t *testing.T) {
	metrics := analytics.NewMetrics()
	svc := New(
		WithDispatchMode(engine.DispatchSync),
		WithAnalytics(metrics),
	)
	defer svc.Close()

	if _, err := svc.AwardXP(context.Background(), "carol", core.ActionQuizPass, engine.Opts{}); err != nil {
		t.Fatalf("award: %v", err)
	}
	if got := metrics.XPByAction(core.ActionQuizPass); got != 50 {
		t.Fatalf("XPByAction = %d, want 50", got)
	}
}

func TestCustomCatalog(t *testing.T) {
	catalog := core.Catalog{
		{ID: "only-badge", Name: "Only", Rule: core.ThresholdRule{Metric: core.MetricXP, Cmp: core.CmpGTE, Value: 1}},
	}
	svc := New(WithDispatchMode(engine.DispatchSync), WithCatalog(catalog))
	defer svc.Close()

	res, err := svc.AwardXP(context.Background(), "dave", core.ActionDailyLogin, engine.Opts{})
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if len(res.NewBadges) != 1 || res.NewBadges[0].ID != "only-badge" {
		t.Fatalf("unexpected badges: %+v", res.NewBadges)
	}
}
