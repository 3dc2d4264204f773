package core

import "testing"

func TestThresholdRule(t *testing.T) {
	p := Progression{XP: 1000, Level: 3, StreakCount: 7}

	cases := []struct {
		rule ThresholdRule
		want bool
	}{
		{ThresholdRule{MetricXP, CmpGTE, 1000}, true},
		{ThresholdRule{MetricXP, CmpGT, 1000}, false},
		{ThresholdRule{MetricLevel, CmpEQ, 3}, true},
		{ThresholdRule{MetricStreak, CmpGTE, 8}, false},
		{ThresholdRule{"unknown", CmpGTE, 0}, false},
	}
	for _, c := range cases {
		if got := c.rule.Unlocks(p, ActionDailyLogin); got != c.want {
			t.Fatalf("rule %+v = %v, want %v", c.rule, got, c.want)
		}
	}
}

func TestActionRule(t *testing.T) {
	r := ActionRule{Action: ActionQuizPerfect}
	if !r.Unlocks(Progression{}, ActionQuizPerfect) {
		t.Fatal("expected unlock on matching action")
	}
	if r.Unlocks(Progression{XP: 99999}, ActionQuizPass) {
		t.Fatal("action rule must ignore aggregate state")
	}
}

func TestDefaultCatalogOrderAndIDs(t *testing.T) {
	cat := DefaultCatalog()
	if len(cat) == 0 {
		t.Fatal("empty catalog")
	}
	if cat[0].ID != "welcome" || cat[0].Name != "Welcome!" {
		t.Fatalf("first entry should be the welcome badge, got %+v", cat[0])
	}
	seen := map[BadgeID]bool{}
	for _, def := range cat {
		if err := ValidateBadgeID(def.ID); err != nil {
			t.Fatalf("bad catalog id %q: %v", def.ID, err)
		}
		if seen[def.ID] {
			t.Fatalf("duplicate catalog id %q", def.ID)
		}
		seen[def.ID] = true
	}
	if _, ok := cat.Find("xp-1000"); !ok {
		t.Fatal("xp-1000 missing from catalog")
	}
}
