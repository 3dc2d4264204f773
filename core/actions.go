package core

// Action names a recognized achievement kind.
type Action string

const (
	ActionLessonComplete   Action = "lesson-complete"
	ActionAssignmentSubmit Action = "assignment-submit"
	ActionQuizPass         Action = "quiz-pass"
	ActionQuizPerfect      Action = "quiz-perfect"
	ActionDailyLogin       Action = "daily-login"
	ActionStreakBonus      Action = "streak-bonus"
	ActionBossChallenge    Action = "boss-challenge"
	ActionCourseComplete   Action = "course-complete"
)

// DefaultXPTable maps actions to their standard award amounts.
// streak-bonus is absent on purpose: its amount is derived from the
// streak length at award time, never looked up.
var DefaultXPTable = map[Action]int64{
	ActionLessonComplete:   25,
	ActionAssignmentSubmit: 30,
	ActionQuizPass:         50,
	ActionQuizPerfect:      100,
	ActionDailyLogin:       10,
	ActionBossChallenge:    150,
	ActionCourseComplete:   250,
}

// ResolveXP returns the table amount for an action. ok is false for
// unknown actions, which callers treat as a zero-effect award.
func ResolveXP(action Action) (int64, bool) {
	xp, ok := DefaultXPTable[action]
	return xp, ok
}

// StreakEligible reports whether an action counts toward the daily
// activity streak. Internally generated bonus events do not, so a
// bonus can never extend the streak that produced it.
func StreakEligible(action Action) bool {
	return action != ActionStreakBonus
}
