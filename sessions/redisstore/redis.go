// Package redisstore provides a Redis-backed sessions.Store so session
// records, activity timestamps and per-session event counters are shared
// across server instances. Replay buffers stay process-local; the store only
// holds the record state defined by sessions.Store.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/mcplane/mcplane-go/sessions"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcplane:sessions:"`
	// RecordTTL caps how long an untouched record may linger in Redis. It
	// should comfortably exceed the registry's inactivity timeout; the
	// registry, not Redis, owns expiry policy. ENV: SESSIONS_RECORD_TTL
	RecordTTL time.Duration `env:"SESSIONS_RECORD_TTL,default=2h"`
}

// Store implements sessions.Store over Redis hashes.
type Store struct {
	client    *redis.Client
	keyPrefix string
	recordTTL time.Duration
}

var _ sessions.Store = (*Store)(nil)

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcplane:sessions:"
	}
	ttl := cfg.RecordTTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Store{client: cl, keyPrefix: prefix, recordTTL: ttl}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) recordKey(id string) string  { return s.keyPrefix + "record:" + id }
func (s *Store) counterKey(id string) string { return s.keyPrefix + "counter:" + id }

func (s *Store) Put(ctx context.Context, rec sessions.Record) error {
	key := s.recordKey(rec.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"created_at":    rec.CreatedAt.UnixNano(),
		"last_activity": rec.LastActivity.UnixNano(),
	})
	pipe.Expire(ctx, key, s.recordTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put session record: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (sessions.Record, bool, error) {
	vals, err := s.client.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return sessions.Record{}, false, fmt.Errorf("get session record: %w", err)
	}
	if len(vals) == 0 {
		return sessions.Record{}, false, nil
	}

	rec := sessions.Record{ID: id}
	if rec.CreatedAt, err = parseUnixNano(vals["created_at"]); err != nil {
		return sessions.Record{}, false, fmt.Errorf("session %s: %w", id, err)
	}
	if rec.LastActivity, err = parseUnixNano(vals["last_activity"]); err != nil {
		return sessions.Record{}, false, fmt.Errorf("session %s: %w", id, err)
	}
	return rec, true, nil
}

func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	key := s.recordKey(id)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n == 0 {
		return sessions.ErrSessionNotFound
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "last_activity", at.UnixNano())
	pipe.Expire(ctx, key, s.recordTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	// Detached context: session teardown should complete even when the
	// triggering request is being cancelled.
	c := context.WithoutCancel(ctx)
	n, err := s.client.Del(c, s.recordKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	_, _ = s.client.Del(c, s.counterKey(id)).Result()
	return n > 0, nil
}

func (s *Store) NextEventID(ctx context.Context, id string) (int64, error) {
	n, err := s.client.Exists(ctx, s.recordKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("next event id: %w", err)
	}
	if n == 0 {
		return 0, sessions.ErrSessionNotFound
	}
	v, err := s.client.Incr(ctx, s.counterKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("next event id: %w", err)
	}
	return v, nil
}

func (s *Store) List(ctx context.Context) ([]sessions.Record, error) {
	var out []sessions.Record
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"record:*", 100).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(s.keyPrefix+"record:"):]
		rec, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}
	return out, nil
}

func parseUnixNano(v string) (time.Time, error) {
	var ns int64
	if _, err := fmt.Sscanf(v, "%d", &ns); err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return time.Unix(0, ns), nil
}
