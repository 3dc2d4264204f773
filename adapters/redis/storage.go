package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"progresskit/core"
	"progresskit/engine"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store implements the engine.Store interface using Redis as the backend.
// Data structure:
// - user:{user_id}:prog -> JSON blob of Progression
// - user:{user_id}:ver -> uint64 version counter for the aggregate
// - user:{user_id}:events -> list of JSON XPEvents, oldest first
// - ledger:seen -> set of applied event IDs
// - lb:xp -> sorted set, member user_id, score XP
type Store struct {
	client *redis.Client
}

// New creates a new Redis-backed store with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

const (
	seenKey = "ledger:seen"
	xpZSet  = "lb:xp"
)

func userProgKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:prog", userID)
}

func userVersionKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:ver", userID)
}

func userEventsKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:events", userID)
}

// Lua script for compare-and-set of the aggregate. The version counter
// is the token: a write with a stale expected version leaves every key
// untouched and returns -1.
var putProgressionScript = redis.NewScript(`
	local ver_key = KEYS[1]
	local prog_key = KEYS[2]
	local zset_key = KEYS[3]
	local expected = tonumber(ARGV[1])
	local current = tonumber(redis.call('GET', ver_key) or '0')

	if current ~= expected then
		return -1
	end

	redis.call('SET', prog_key, ARGV[2])
	redis.call('SET', ver_key, current + 1)
	redis.call('ZADD', zset_key, tonumber(ARGV[3]), ARGV[4])
	return current + 1
`)

// Lua script committing one award: dedup check on the lead event,
// version guard, then every ledger event and the aggregate in a
// single atomic step. Returns 0 on replay, -1 on a stale version.
// ARGV: expected version, progression JSON, xp, user id, then
// (event id, event JSON) pairs; the first pair is the dedup key.
var commitAwardScript = redis.NewScript(`
	local seen_key = KEYS[1]
	local events_key = KEYS[2]
	local ver_key = KEYS[3]
	local prog_key = KEYS[4]
	local zset_key = KEYS[5]

	if redis.call('SISMEMBER', seen_key, ARGV[5]) == 1 then
		return 0
	end

	local expected = tonumber(ARGV[1])
	local current = tonumber(redis.call('GET', ver_key) or '0')
	if current ~= expected then
		return -1
	end

	redis.call('SET', prog_key, ARGV[2])
	redis.call('SET', ver_key, current + 1)
	redis.call('ZADD', zset_key, tonumber(ARGV[3]), ARGV[4])
	for i = 5, #ARGV, 2 do
		redis.call('SADD', seen_key, ARGV[i])
		redis.call('RPUSH', events_key, ARGV[i + 1])
	end
	return 1
`)

// Lua script for idempotent ledger append: membership check and push
// happen in one atomic step.
var appendEventScript = redis.NewScript(`
	local seen_key = KEYS[1]
	local events_key = KEYS[2]

	if redis.call('SISMEMBER', seen_key, ARGV[1]) == 1 then
		return 0
	end
	redis.call('SADD', seen_key, ARGV[1])
	redis.call('RPUSH', events_key, ARGV[2])
	return 1
`)

// GetProgression loads a user's aggregate with its version token. A
// user with no record yet yields a fresh aggregate at version zero.
func (s *Store) GetProgression(ctx context.Context, user core.UserID) (core.Progression, uint64, error) {
	vals, err := s.client.MGet(ctx, userProgKey(user), userVersionKey(user)).Result()
	if err != nil {
		return core.Progression{}, 0, fmt.Errorf("failed to load progression: %w", err)
	}

	raw, ok := vals[0].(string)
	if !ok {
		return core.NewProgression(user), 0, nil
	}

	var prog core.Progression
	if err := json.Unmarshal([]byte(raw), &prog); err != nil {
		return core.Progression{}, 0, fmt.Errorf("failed to decode progression: %w", err)
	}
	if prog.Badges == nil {
		prog.Badges = make(map[core.BadgeID]time.Time)
	}

	var version uint64
	if v, ok := vals[1].(string); ok {
		if _, err := fmt.Sscanf(v, "%d", &version); err != nil {
			return core.Progression{}, 0, fmt.Errorf("failed to decode version: %w", err)
		}
	}
	return prog, version, nil
}

// PutProgression writes the aggregate if expectedVersion still matches.
func (s *Store) PutProgression(ctx context.Context, user core.UserID, prog core.Progression, expectedVersion uint64) error {
	data, err := json.Marshal(prog)
	if err != nil {
		return fmt.Errorf("failed to encode progression: %w", err)
	}

	keys := []string{userVersionKey(user), userProgKey(user), xpZSet}
	result, err := putProgressionScript.Run(ctx, s.client, keys,
		expectedVersion, string(data), prog.XP, string(user)).Result()
	if err != nil {
		return fmt.Errorf("failed to store progression: %w", err)
	}

	next, ok := result.(int64)
	if !ok {
		return errors.New("unexpected result type from Redis script")
	}
	if next == -1 {
		return engine.ErrVersionConflict
	}
	return nil
}

// AppendEvent records an event exactly once; a replay of an applied
// event ID returns accepted=false with no error.
func (s *Store) AppendEvent(ctx context.Context, ev core.XPEvent) (bool, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("failed to encode event: %w", err)
	}

	keys := []string{seenKey, userEventsKey(ev.UserID)}
	result, err := appendEventScript.Run(ctx, s.client, keys, ev.ID, string(data)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to append event: %w", err)
	}

	accepted, ok := result.(int64)
	if !ok {
		return false, errors.New("unexpected result type from Redis script")
	}
	return accepted == 1, nil
}

// CommitAward writes the ledger events and the versioned aggregate in
// one script run; a replay or a stale version leaves every key as-is.
func (s *Store) CommitAward(ctx context.Context, user core.UserID, prog core.Progression, expectedVersion uint64, events []core.XPEvent) (bool, error) {
	progData, err := json.Marshal(prog)
	if err != nil {
		return false, fmt.Errorf("failed to encode progression: %w", err)
	}

	args := make([]interface{}, 0, 4+2*len(events))
	args = append(args, expectedVersion, string(progData), prog.XP, string(user))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return false, fmt.Errorf("failed to encode event: %w", err)
		}
		args = append(args, ev.ID, string(data))
	}

	keys := []string{seenKey, userEventsKey(user), userVersionKey(user), userProgKey(user), xpZSet}
	result, err := commitAwardScript.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return false, fmt.Errorf("failed to commit award: %w", err)
	}

	outcome, ok := result.(int64)
	if !ok {
		return false, errors.New("unexpected result type from Redis script")
	}
	switch outcome {
	case 0:
		return false, nil
	case -1:
		return false, engine.ErrVersionConflict
	default:
		return true, nil
	}
}

// ListEvents returns a user's ledger newest-first, paged.
func (s *Store) ListEvents(ctx context.Context, user core.UserID, page, limit int) ([]core.XPEvent, error) {
	if page < 1 || limit < 1 {
		return nil, nil
	}
	key := userEventsKey(user)
	total, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to size ledger: %w", err)
	}

	offset := int64(page-1) * int64(limit)
	if offset >= total {
		return nil, nil
	}
	// The list holds oldest-first; slice from the tail and reverse.
	stop := total - offset - 1
	start := stop - int64(limit) + 1
	if start < 0 {
		start = 0
	}
	raw, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	events := make([]core.XPEvent, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var ev core.XPEvent
		if err := json.Unmarshal([]byte(raw[i]), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// ScanTopByXP returns up to limit aggregates ordered by XP descending,
// ties by ascending user ID. Redis orders equal scores by member, so
// the boundary tie group is widened before sorting in process.
func (s *Store) ScanTopByXP(ctx context.Context, limit int) ([]core.Progression, error) {
	if limit <= 0 {
		return nil, nil
	}
	top, err := s.client.ZRevRangeWithScores(ctx, xpZSet, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan leaderboard: %w", err)
	}
	if len(top) == 0 {
		return nil, nil
	}

	members := make(map[string]struct{}, len(top))
	for _, z := range top {
		members[z.Member.(string)] = struct{}{}
	}
	// Pull every member tied with the lowest selected score so the
	// cutoff never depends on Redis member order.
	minScore := top[len(top)-1].Score
	tied, err := s.client.ZRangeByScore(ctx, xpZSet, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", int64(minScore)),
		Max: fmt.Sprintf("%d", int64(minScore)),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to widen tie group: %w", err)
	}
	for _, m := range tied {
		members[m] = struct{}{}
	}

	progs := make([]core.Progression, 0, len(members))
	for m := range members {
		prog, _, err := s.GetProgression(ctx, core.UserID(m))
		if err != nil {
			return nil, err
		}
		progs = append(progs, prog)
	}
	sort.Slice(progs, func(i, j int) bool {
		if progs[i].XP != progs[j].XP {
			return progs[i].XP > progs[j].XP
		}
		return progs[i].UserID < progs[j].UserID
	})
	if len(progs) > limit {
		progs = progs[:limit]
	}
	return progs, nil
}

// CountHigherXP counts users with strictly more XP.
func (s *Store) CountHigherXP(ctx context.Context, xp int64) (int64, error) {
	count, err := s.client.ZCount(ctx, xpZSet, fmt.Sprintf("(%d", xp), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count higher scores: %w", err)
	}
	return count, nil
}

var _ engine.Store = (*Store)(nil)
