package engine

import (
	"context"

	"progresskit/core"
)

// Store abstracts the persistence collaborator. Implementations keep
// two structures per deployment: the versioned per-user aggregate and
// the append-only event ledger.
type Store interface {
	// GetProgression returns the aggregate and its version token.
	// Unknown users yield a fresh aggregate with version 0; the first
	// successful Put creates the record.
	GetProgression(ctx context.Context, user core.UserID) (core.Progression, uint64, error)

	// PutProgression writes the aggregate if the stored version still
	// equals expectedVersion (0 means "create"). Returns
	// ErrVersionConflict when another writer got there first.
	PutProgression(ctx context.Context, user core.UserID, p core.Progression, expectedVersion uint64) error

	// AppendEvent appends to the ledger. Appending an already-known
	// event ID is a no-op and reports accepted=false; it never
	// double-counts.
	AppendEvent(ctx context.Context, ev core.XPEvent) (accepted bool, err error)

	// CommitAward appends the award's ledger events and writes the
	// aggregate under the version guard, as one atomic step. The
	// first event's ID is the dedup key: when it is already in the
	// ledger nothing is written and accepted is false. On a stale
	// expectedVersion nothing is written and ErrVersionConflict is
	// returned. Either every event and the aggregate commit, or
	// none do.
	CommitAward(ctx context.Context, user core.UserID, p core.Progression, expectedVersion uint64, events []core.XPEvent) (accepted bool, err error)

	// ListEvents pages through a user's ledger, newest first.
	// page starts at 1.
	ListEvents(ctx context.Context, user core.UserID, page, limit int) ([]core.XPEvent, error)

	// ScanTopByXP returns up to limit aggregates ordered by XP
	// descending, ties broken by ascending user ID.
	ScanTopByXP(ctx context.Context, limit int) ([]core.Progression, error)

	// CountHigherXP counts users with strictly more XP.
	CountHigherXP(ctx context.Context, xp int64) (int64, error)
}

// RoleResolver is the authentication collaborator: it maps a principal
// to its role. The aggregator only mutates state for students.
type RoleResolver interface {
	RoleOf(ctx context.Context, user core.UserID) (core.Role, error)
}

// RoleResolverFunc adapts a function to the RoleResolver interface.
type RoleResolverFunc func(ctx context.Context, user core.UserID) (core.Role, error)

func (f RoleResolverFunc) RoleOf(ctx context.Context, user core.UserID) (core.Role, error) {
	return f(ctx, user)
}

// AllStudents treats every principal as a student. It is the default
// resolver for deployments where only student workflows call AwardXP.
func AllStudents() RoleResolver {
	return RoleResolverFunc(func(context.Context, core.UserID) (core.Role, error) {
		return core.RoleStudent, nil
	})
}
