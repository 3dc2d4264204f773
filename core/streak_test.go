package core

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAdvanceStreakFirstActivity(t *testing.T) {
	step := AdvanceStreak(time.Time{}, day(2024, 3, 1), 0)
	if step.Count != 1 || step.Extended || step.BonusXP != 0 {
		t.Fatalf("unexpected step: %+v", step)
	}
}

func TestAdvanceStreakSameDay(t *testing.T) {
	// second qualifying activity on the same calendar day is a no-op
	step := AdvanceStreak(day(2024, 3, 1), day(2024, 3, 1).Add(20*time.Hour), 3)
	if step.Count != 3 || step.Extended || step.BonusXP != 0 {
		t.Fatalf("unexpected step: %+v", step)
	}
}

func TestAdvanceStreakNextDay(t *testing.T) {
	step := AdvanceStreak(day(2024, 3, 1), day(2024, 3, 2), 1)
	if step.Count != 2 || !step.Extended {
		t.Fatalf("unexpected step: %+v", step)
	}
	if step.BonusXP != 2*StreakBonusPerDay {
		t.Fatalf("bonus = %d, want %d", step.BonusXP, 2*StreakBonusPerDay)
	}
}

func TestAdvanceStreakGapResets(t *testing.T) {
	step := AdvanceStreak(day(2024, 3, 1), day(2024, 3, 5), 9)
	if step.Count != 1 || step.Extended || step.BonusXP != 0 {
		t.Fatalf("unexpected step: %+v", step)
	}
}
