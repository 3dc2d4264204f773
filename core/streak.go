package core

import "time"

// StreakBonusPerDay is multiplied by the new streak length to price a
// streak-bonus award.
const StreakBonusPerDay = 5

// StreakStep is the outcome of advancing a streak by one activity.
type StreakStep struct {
	// Count is the streak length after the activity.
	Count int64
	// Extended is true when the activity continued a run from the
	// previous calendar day.
	Extended bool
	// BonusXP is the streak-bonus amount authorized by this step
	// (Count * StreakBonusPerDay when Extended, else 0).
	BonusXP int64
}

// AdvanceStreak applies one qualifying activity to a streak. It is a
// pure function of (lastActiveDay, today, current count); the caller
// sets lastActiveDay to today afterwards regardless of branch.
//
//   - same calendar day: count unchanged, no bonus
//   - exactly the next day: count+1, bonus (count+1)*5
//   - gap or first activity: count resets to 1, no bonus
func AdvanceStreak(lastActiveDay, today time.Time, count int64) StreakStep {
	today = Day(today)
	if lastActiveDay.IsZero() {
		return StreakStep{Count: 1}
	}
	last := Day(lastActiveDay)
	switch int(today.Sub(last).Hours() / 24) {
	case 0:
		return StreakStep{Count: count}
	case 1:
		next := count + 1
		return StreakStep{Count: next, Extended: true, BonusXP: next * StreakBonusPerDay}
	default:
		return StreakStep{Count: 1}
	}
}
