package core

// RuleMetric selects which aggregate field a threshold rule reads.
type RuleMetric string

const (
	MetricXP     RuleMetric = "xp"
	MetricLevel  RuleMetric = "level"
	MetricStreak RuleMetric = "streak"
)

// Cmp is a threshold comparator.
type Cmp string

const (
	CmpGTE Cmp = ">="
	CmpGT  Cmp = ">"
	CmpEQ  Cmp = "=="
)

// BadgeRule decides whether a badge unlocks given the refreshed
// aggregate and the action that triggered the evaluation.
type BadgeRule interface {
	Unlocks(p Progression, trigger Action) bool
}

// ThresholdRule unlocks when an aggregate metric crosses a value.
type ThresholdRule struct {
	Metric RuleMetric `json:"metric"`
	Cmp    Cmp        `json:"cmp"`
	Value  int64      `json:"value"`
}

func (r ThresholdRule) Unlocks(p Progression, _ Action) bool {
	var observed int64
	switch r.Metric {
	case MetricXP:
		observed = p.XP
	case MetricLevel:
		observed = p.Level
	case MetricStreak:
		observed = p.StreakCount
	default:
		return false
	}
	switch r.Cmp {
	case CmpGTE:
		return observed >= r.Value
	case CmpGT:
		return observed > r.Value
	case CmpEQ:
		return observed == r.Value
	default:
		return false
	}
}

// ActionRule unlocks when a specific action triggers the evaluation.
type ActionRule struct {
	Action Action `json:"action"`
}

func (r ActionRule) Unlocks(_ Progression, trigger Action) bool {
	return trigger == r.Action
}

// BadgeDef is one catalog entry. The catalog is read-only at runtime
// and versioned independently of user data.
type BadgeDef struct {
	ID          BadgeID   `json:"id"`
	Name        string    `json:"name"`
	Icon        string    `json:"icon,omitempty"`
	Description string    `json:"description,omitempty"`
	Rule        BadgeRule `json:"-"`
}

// Catalog is an ordered badge catalog. Evaluation iterates in slice
// order, which makes multi-grant results deterministic.
type Catalog []BadgeDef

// Find returns the definition for a badge ID.
func (c Catalog) Find(id BadgeID) (BadgeDef, bool) {
	for _, def := range c {
		if def.ID == id {
			return def, true
		}
	}
	return BadgeDef{}, false
}

// DefaultCatalog returns the built-in badge catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		{ID: "welcome", Name: "Welcome!", Icon: "👋", Description: "Earned your first XP",
			Rule: ThresholdRule{Metric: MetricXP, Cmp: CmpGTE, Value: 1}},
		{ID: "xp-1000", Name: "Rising Star", Icon: "⭐", Description: "Reached 1,000 XP",
			Rule: ThresholdRule{Metric: MetricXP, Cmp: CmpGTE, Value: 1000}},
		{ID: "xp-5000", Name: "Scholar", Icon: "📚", Description: "Reached 5,000 XP",
			Rule: ThresholdRule{Metric: MetricXP, Cmp: CmpGTE, Value: 5000}},
		{ID: "level-5", Name: "Apprentice", Icon: "🛠", Description: "Reached level 5",
			Rule: ThresholdRule{Metric: MetricLevel, Cmp: CmpGTE, Value: 5}},
		{ID: "level-10", Name: "Master", Icon: "🧙", Description: "Reached level 10",
			Rule: ThresholdRule{Metric: MetricLevel, Cmp: CmpGTE, Value: 10}},
		{ID: "streak-7", Name: "Week of Fire", Icon: "🔥", Description: "7 active days in a row",
			Rule: ThresholdRule{Metric: MetricStreak, Cmp: CmpGTE, Value: 7}},
		{ID: "streak-30", Name: "Iron Will", Icon: "💪", Description: "30 active days in a row",
			Rule: ThresholdRule{Metric: MetricStreak, Cmp: CmpGTE, Value: 30}},
		{ID: "perfectionist", Name: "Perfectionist", Icon: "💯", Description: "Aced a quiz",
			Rule: ActionRule{Action: ActionQuizPerfect}},
		{ID: "boss-slayer", Name: "Boss Slayer", Icon: "⚔️", Description: "Beat a boss challenge",
			Rule: ActionRule{Action: ActionBossChallenge}},
		{ID: "graduate", Name: "Graduate", Icon: "🎓", Description: "Completed a course",
			Rule: ActionRule{Action: ActionCourseComplete}},
	}
}
