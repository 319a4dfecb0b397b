package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/syedmozamilshah/healthverse/config"
	"github.com/syedmozamilshah/healthverse/internal/triage"
)

const sessionKeyPrefix = "triage:session:"

// Redis is the production session store. Sessions are stored as JSON values
// keyed by id with the TTL applied natively, so Redis itself handles expiry
// and Sweep is a no-op.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// Conn opens and verifies a Redis connection.
func Conn(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DialTimeout: cfg.Timeout,
		Password:    cfg.Password,
		DB:          cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s:%d): %w", cfg.Host, cfg.Port, err)
	}
	return client, nil
}

// NewRedis creates a Redis-backed session store; sessions idle longer than
// ttl disappear on their own.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{client: client, ttl: ttl}
}

func (s *Redis) Create(ctx context.Context, sess *triage.Session) error {
	return s.put(ctx, sess)
}

func (s *Redis) Get(ctx context.Context, id string) (*triage.Session, error) {
	val, err := s.client.Get(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, triage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("reading session: %w", err)
	}
	var sess triage.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}

func (s *Redis) Update(ctx context.Context, sess *triage.Session) error {
	exists, err := s.client.Exists(ctx, sessionKeyPrefix+sess.ID).Result()
	if err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	if exists == 0 {
		return triage.ErrSessionNotFound
	}
	return s.put(ctx, sess)
}

func (s *Redis) Delete(ctx context.Context, id string) error {
	removed, err := s.client.Del(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if removed == 0 {
		return triage.ErrSessionNotFound
	}
	return nil
}

// Sweep is a no-op: key TTLs make Redis expire idle sessions itself.
func (s *Redis) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *Redis) put(ctx context.Context, sess *triage.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+sess.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}
