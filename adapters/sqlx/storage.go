// Package sqlx provides a SQL-backed engine.Store built on jmoiron/sqlx.
// The aggregate row carries a version column used as the write token;
// the ledger table's primary key enforces event idempotency.
package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"progresskit/core"
	"progresskit/engine"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite3"
)

// Config holds SQL connection configuration
type Config struct {
	Driver          Driver
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sensible defaults for the given driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		DSN:             "",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Store implements the engine.Store interface on a SQL database.
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens a connection with the provided configuration and verifies it.
func New(config Config) (*Store, error) {
	db, err := sqlx.Connect(string(config.Driver), config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	return &Store{db: db, driver: config.Driver}, nil
}

// NewWithDB creates a Store using an existing database handle (useful for testing)
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS progressions (
	user_id    TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	xp         BIGINT NOT NULL,
	version    BIGINT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_progressions_xp ON progressions (xp DESC, user_id ASC);

CREATE TABLE IF NOT EXISTS xp_events (
	event_id    TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	xp          BIGINT NOT NULL,
	occurred_at TIMESTAMP NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	course_ref  TEXT NOT NULL DEFAULT '',
	related_ref TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_xp_events_user ON xp_events (user_id, occurred_at DESC);
`

// EnsureSchema creates the tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// GetProgression loads a user's aggregate with its version token. A
// user with no row yet yields a fresh aggregate at version zero.
func (s *Store) GetProgression(ctx context.Context, user core.UserID) (core.Progression, uint64, error) {
	var row struct {
		Payload string `db:"payload"`
		Version uint64 `db:"version"`
	}
	query := s.db.Rebind(`SELECT payload, version FROM progressions WHERE user_id = ?`)
	err := s.db.GetContext(ctx, &row, query, user)
	if errors.Is(err, sql.ErrNoRows) {
		return core.NewProgression(user), 0, nil
	}
	if err != nil {
		return core.Progression{}, 0, fmt.Errorf("failed to load progression: %w", err)
	}

	var prog core.Progression
	if err := json.Unmarshal([]byte(row.Payload), &prog); err != nil {
		return core.Progression{}, 0, fmt.Errorf("failed to decode progression: %w", err)
	}
	if prog.Badges == nil {
		prog.Badges = make(map[core.BadgeID]time.Time)
	}
	return prog, row.Version, nil
}

// PutProgression writes the aggregate if expectedVersion still matches.
// Version zero means the row must not exist yet.
func (s *Store) PutProgression(ctx context.Context, user core.UserID, prog core.Progression, expectedVersion uint64) error {
	payload, err := json.Marshal(prog)
	if err != nil {
		return fmt.Errorf("failed to encode progression: %w", err)
	}
	now := time.Now().UTC()

	var res sql.Result
	if expectedVersion == 0 {
		query := s.db.Rebind(`INSERT INTO progressions (user_id, payload, xp, version, updated_at)
			VALUES (?, ?, ?, 1, ?) ON CONFLICT (user_id) DO NOTHING`)
		res, err = s.db.ExecContext(ctx, query, user, string(payload), prog.XP, now)
	} else {
		query := s.db.Rebind(`UPDATE progressions SET payload = ?, xp = ?, version = version + 1, updated_at = ?
			WHERE user_id = ? AND version = ?`)
		res, err = s.db.ExecContext(ctx, query, string(payload), prog.XP, now, user, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("failed to store progression: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return engine.ErrVersionConflict
	}
	return nil
}

// AppendEvent records an event exactly once. The primary key absorbs
// replays: a conflicting insert affects zero rows and reports
// accepted=false with no error.
func (s *Store) AppendEvent(ctx context.Context, ev core.XPEvent) (bool, error) {
	query := s.db.Rebind(`INSERT INTO xp_events
		(event_id, user_id, action, xp, occurred_at, description, course_ref, related_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (event_id) DO NOTHING`)
	res, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.UserID, ev.Action, ev.XP, ev.Time.UTC(), ev.Description, ev.CourseRef, ev.RelatedRef)
	if err != nil {
		return false, fmt.Errorf("failed to append event: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows == 1, nil
}

// CommitAward runs the ledger inserts and the version-guarded
// aggregate write in one transaction. A replay of the lead event or a
// stale version rolls everything back.
func (s *Store) CommitAward(ctx context.Context, user core.UserID, prog core.Progression, expectedVersion uint64, events []core.XPEvent) (bool, error) {
	payload, err := json.Marshal(prog)
	if err != nil {
		return false, fmt.Errorf("failed to encode progression: %w", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	insertEvent := tx.Rebind(`INSERT INTO xp_events
		(event_id, user_id, action, xp, occurred_at, description, course_ref, related_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (event_id) DO NOTHING`)
	for i, ev := range events {
		res, err := tx.ExecContext(ctx, insertEvent,
			ev.ID, ev.UserID, ev.Action, ev.XP, ev.Time.UTC(), ev.Description, ev.CourseRef, ev.RelatedRef)
		if err != nil {
			return false, fmt.Errorf("failed to append event: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to read affected rows: %w", err)
		}
		if i == 0 && rows == 0 {
			// Replay of the lead event; nothing to commit.
			return false, nil
		}
	}

	var res sql.Result
	if expectedVersion == 0 {
		query := tx.Rebind(`INSERT INTO progressions (user_id, payload, xp, version, updated_at)
			VALUES (?, ?, ?, 1, ?) ON CONFLICT (user_id) DO NOTHING`)
		res, err = tx.ExecContext(ctx, query, user, string(payload), prog.XP, now)
	} else {
		query := tx.Rebind(`UPDATE progressions SET payload = ?, xp = ?, version = version + 1, updated_at = ?
			WHERE user_id = ? AND version = ?`)
		res, err = tx.ExecContext(ctx, query, string(payload), prog.XP, now, user, expectedVersion)
	}
	if err != nil {
		return false, fmt.Errorf("failed to store progression: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return false, engine.ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit award: %w", err)
	}
	return true, nil
}

type eventRow struct {
	EventID     string    `db:"event_id"`
	UserID      string    `db:"user_id"`
	Action      string    `db:"action"`
	XP          int64     `db:"xp"`
	OccurredAt  time.Time `db:"occurred_at"`
	Description string    `db:"description"`
	CourseRef   string    `db:"course_ref"`
	RelatedRef  string    `db:"related_ref"`
}

// ListEvents returns a user's ledger newest-first, paged.
func (s *Store) ListEvents(ctx context.Context, user core.UserID, page, limit int) ([]core.XPEvent, error) {
	if page < 1 || limit < 1 {
		return nil, nil
	}
	query := s.db.Rebind(`SELECT event_id, user_id, action, xp, occurred_at, description, course_ref, related_ref
		FROM xp_events WHERE user_id = ?
		ORDER BY occurred_at DESC, event_id DESC LIMIT ? OFFSET ?`)

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, user, limit, (page-1)*limit); err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	events := make([]core.XPEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, core.XPEvent{
			ID:          r.EventID,
			UserID:      core.UserID(r.UserID),
			Action:      core.Action(r.Action),
			XP:          r.XP,
			Time:        r.OccurredAt,
			Description: r.Description,
			CourseRef:   r.CourseRef,
			RelatedRef:  r.RelatedRef,
		})
	}
	return events, nil
}

// ScanTopByXP returns up to limit aggregates ordered by XP descending,
// ties by ascending user ID.
func (s *Store) ScanTopByXP(ctx context.Context, limit int) ([]core.Progression, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := s.db.Rebind(`SELECT payload FROM progressions ORDER BY xp DESC, user_id ASC LIMIT ?`)

	var payloads []string
	if err := s.db.SelectContext(ctx, &payloads, query, limit); err != nil {
		return nil, fmt.Errorf("failed to scan leaderboard: %w", err)
	}
	progs := make([]core.Progression, 0, len(payloads))
	for _, p := range payloads {
		var prog core.Progression
		if err := json.Unmarshal([]byte(p), &prog); err != nil {
			return nil, fmt.Errorf("failed to decode progression: %w", err)
		}
		progs = append(progs, prog)
	}
	return progs, nil
}

// CountHigherXP counts users with strictly more XP.
func (s *Store) CountHigherXP(ctx context.Context, xp int64) (int64, error) {
	query := s.db.Rebind(`SELECT COUNT(*) FROM progressions WHERE xp > ?`)
	var count int64
	if err := s.db.GetContext(ctx, &count, query, xp); err != nil {
		return 0, fmt.Errorf("failed to count higher scores: %w", err)
	}
	return count, nil
}

var _ engine.Store = (*Store)(nil)
