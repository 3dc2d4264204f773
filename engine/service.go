package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"progresskit/core"
)

// conflict retry bounds; backoff doubles each attempt.
const (
	maxPutAttempts  = 5
	initialConflict = 10 * time.Millisecond
)

// Opts carries per-call award options.
type Opts struct {
	// EventID is the ledger dedup key. Callers retrying after a
	// timeout must reuse it; when empty a fresh ID is generated.
	EventID string
	// CustomXP overrides the action table when non-nil.
	CustomXP *int64
	// Description, CourseRef and RelatedRef are recorded on the
	// ledger event verbatim.
	Description string
	CourseRef   string
	RelatedRef  string
}

// Result reports the outcome of one AwardXP call.
type Result struct {
	XPEarned    int64          `json:"xp_earned"`
	TotalXP     int64          `json:"total_xp"`
	Level       int64          `json:"level"`
	StreakCount int64          `json:"streak_count"`
	NewBadges   []core.BadgeDef `json:"new_badges,omitempty"`
	// Duplicate is true when the event ID had already been applied
	// and the call changed nothing.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Service is the progression aggregator. It serializes all mutation
// for a given user, keeps the ledger and the aggregate consistent,
// and publishes notification intents after each commit.
type Service struct {
	store   Store
	bus     *EventBus
	catalog core.Catalog
	roles   RoleResolver
	log     *slog.Logger
	now     func() time.Time

	locks sync.Map // map[core.UserID]*sync.Mutex
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

// WithRoleResolver sets the authentication collaborator.
func WithRoleResolver(r RoleResolver) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.roles = r
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source (tests drive calendar days).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires storage, event bus, and the badge catalog into the
// aggregator.
func NewService(store Store, bus *EventBus, catalog core.Catalog, opts ...ServiceOption) *Service {
	if store == nil || bus == nil {
		panic("NewService requires non-nil store and bus")
	}
	s := &Service{
		store:   store,
		bus:     bus,
		catalog: catalog,
		roles:   AllStudents(),
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe registers a notification consumer. Returns unsubscribe func.
func (s *Service) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

// Publish forwards an event to the bus.
func (s *Service) Publish(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
}

// Catalog returns the read-only badge catalog.
func (s *Service) Catalog() core.Catalog { return s.catalog }

// AwardXP applies one achievement event to a user's aggregate exactly
// once. The whole read-modify-write (streak advance, ledger append,
// total increment, level recompute, badge evaluation) runs under the
// user's lock; calls for different users proceed in parallel.
//
// Unknown actions with no custom amount, zero or negative amounts,
// and non-student principals return a zero-effect success.
func (s *Service) AwardXP(ctx context.Context, user core.UserID, action core.Action, opts Opts) (Result, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return Result{}, err
	}

	role, err := s.roles.RoleOf(ctx, user)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("resolve role: %w", err)
	}
	if role != core.RoleStudent {
		// Silent no-op: the caller may not know the principal's role,
		// and the error would leak it.
		s.log.Debug("award skipped for non-student principal", "user", user, "action", action)
		return Result{}, nil
	}

	xp, ok := s.resolveXP(action, opts)
	if !ok {
		s.log.Warn("unknown action with no custom amount", "user", user, "action", action)
		return s.currentResult(ctx, user)
	}
	if xp <= 0 {
		// Totals never decrease; a negative amount is dropped rather
		// than applied.
		if xp < 0 {
			s.log.Warn("negative award amount ignored", "user", user, "action", action, "xp", xp)
		}
		return s.currentResult(ctx, user)
	}

	eventID := opts.EventID
	if eventID == "" {
		eventID = core.NewEventID()
	}
	if err := core.ValidateEventID(eventID); err != nil {
		return Result{}, err
	}

	lock := s.userLock(user)
	lock.Lock()
	res, events, err := s.apply(ctx, user, action, xp, eventID, opts)
	lock.Unlock()
	if err != nil {
		return Result{}, err
	}

	// Fire-and-forget: dispatch failures never affect the outcome and
	// nothing here runs inside the critical section.
	for _, ev := range events {
		s.bus.Publish(ctx, ev)
	}
	return res, nil
}

// apply runs the atomic unit under the per-user lock. The ledger
// events and the aggregate write ride one store commit: a failed or
// stale commit leaves nothing behind, so a caller retry with the same
// event ID starts from scratch instead of hitting a phantom replay.
func (s *Service) apply(ctx context.Context, user core.UserID, action core.Action, xp int64, eventID string, opts Opts) (Result, []core.Event, error) {
	backoff := initialConflict

	for attempt := 0; attempt < maxPutAttempts; attempt++ {
		cur, version, err := s.store.GetProgression(ctx, user)
		if err != nil {
			return Result{}, nil, fmt.Errorf("load progression: %w", err)
		}
		prog := cur.Clone()
		now := s.now().UTC()
		prevLevel := prog.Level

		var step core.StreakStep
		step.Count = prog.StreakCount
		if core.StreakEligible(action) {
			step = core.AdvanceStreak(prog.LastActiveDay, now, prog.StreakCount)
		}

		ledger := []core.XPEvent{{
			ID:          eventID,
			UserID:      user,
			Action:      action,
			XP:          xp,
			Time:        now,
			Description: opts.Description,
			CourseRef:   opts.CourseRef,
			RelatedRef:  opts.RelatedRef,
		}}

		earned := xp
		if step.Extended && step.BonusXP > 0 {
			// The bonus is a sub-step of this same atomic unit,
			// not a second external award.
			ledger = append(ledger, core.XPEvent{
				ID:          core.StreakBonusEventID(eventID),
				UserID:      user,
				Action:      core.ActionStreakBonus,
				XP:          step.BonusXP,
				Time:        now,
				Description: fmt.Sprintf("streak bonus day %d", step.Count),
				RelatedRef:  eventID,
			})
			earned += step.BonusXP
		}

		total, err := core.AddSafe(prog.XP, earned)
		if err != nil {
			return Result{}, nil, err
		}
		prog.XP = total
		prog.Level = core.LevelFromXP(total)
		if core.StreakEligible(action) {
			prog.StreakCount = step.Count
			prog.LastActiveDay = core.Day(now)
		}

		// Badge pass runs once per call, after every sub-step, on the
		// final aggregate.
		var newBadges []core.BadgeDef
		for _, def := range s.catalog {
			if prog.HasBadge(def.ID) {
				continue
			}
			if def.Rule.Unlocks(prog, action) {
				prog.Badges[def.ID] = now
				newBadges = append(newBadges, def)
			}
		}
		prog.Updated = now

		accepted, err := s.store.CommitAward(ctx, user, prog, version, ledger)
		if err != nil {
			if errors.Is(err, ErrVersionConflict) {
				s.log.Debug("progression version conflict, retrying",
					"user", user, "attempt", attempt+1)
				time.Sleep(backoff)
				backoff *= 2
				continue
			}
			return Result{}, nil, fmt.Errorf("commit award: %w", err)
		}
		if !accepted {
			// Replay of an applied event: report current state.
			return Result{
				TotalXP:     cur.XP,
				Level:       cur.Level,
				StreakCount: cur.StreakCount,
				Duplicate:   true,
			}, nil, nil
		}

		events := []core.Event{core.NewXPAwarded(user, action, earned, total)}
		if step.Extended {
			events = append(events, core.NewStreakExtended(user, step.Count))
		}
		if prog.Level > prevLevel {
			events = append(events, core.NewLevelUp(user, prog.Level))
		}
		for _, def := range newBadges {
			events = append(events, core.NewBadgeEarned(user, def.ID))
		}

		return Result{
			XPEarned:    earned,
			TotalXP:     total,
			Level:       prog.Level,
			StreakCount: prog.StreakCount,
			NewBadges:   newBadges,
		}, events, nil
	}

	s.log.Error("giving up after repeated version conflicts", "user", user, "event_id", eventID)
	return Result{}, nil, ErrConflictRetriesExhausted
}

func (s *Service) resolveXP(action core.Action, opts Opts) (int64, bool) {
	if opts.CustomXP != nil {
		return *opts.CustomXP, true
	}
	return core.ResolveXP(action)
}

// currentResult reads the aggregate without mutating anything, for
// zero-effect calls that still report success.
func (s *Service) currentResult(ctx context.Context, user core.UserID) (Result, error) {
	prog, _, err := s.store.GetProgression(ctx, user)
	if err != nil {
		return Result{}, fmt.Errorf("load progression: %w", err)
	}
	return Result{
		TotalXP:     prog.XP,
		Level:       prog.Level,
		StreakCount: prog.StreakCount,
	}, nil
}

// Progression returns a point-in-time snapshot of a user's aggregate.
func (s *Service) Progression(ctx context.Context, user core.UserID) (core.Progression, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return core.Progression{}, err
	}
	prog, _, err := s.store.GetProgression(ctx, user)
	return prog, err
}

// XPHistory pages through the user's ledger, newest first.
func (s *Service) XPHistory(ctx context.Context, user core.UserID, page, limit int) ([]core.XPEvent, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	return s.store.ListEvents(ctx, user, page, limit)
}

func (s *Service) userLock(user core.UserID) *sync.Mutex {
	if v, ok := s.locks.Load(user); ok {
		return v.(*sync.Mutex)
	}
	v, _ := s.locks.LoadOrStore(user, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Close stops the event bus workers.
func (s *Service) Close() { s.bus.Close() }
