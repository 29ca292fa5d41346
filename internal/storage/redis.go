package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"consentgate/internal/consent"
)

var redisOpDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "consentgate_redis_store_op_duration_ms",
	Help:    "Latency of Redis consent store operations in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
}, []string{"op"})

const redisKeyPrefix = "consent:token:"

// RedisStore is the session-backed adapter for distributed deployments where
// multiple instances must share consent state. Entries expire with the cookie.
type RedisStore struct {
	client *redis.Client
	secret []byte
	ttl    time.Duration
}

// NewRedisStore wires a Redis-backed consent store. A zero ttl keeps entries
// until Cleanup or withdrawal.
func NewRedisStore(client *redis.Client, secret string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, secret: []byte(secret), ttl: ttl}
}

func (s *RedisStore) Store(ctx context.Context, record *consent.Record) (string, error) {
	defer observe("store")()

	token, err := s.GenerateToken()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+HashToken(s.secret, token), payload, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("redis store consent: %w", err)
	}
	return token, nil
}

// Retrieve rejects tokens failing the HMAC check before touching Redis, so
// tampered cookies never cost a round-trip.
func (s *RedisStore) Retrieve(ctx context.Context, token string) (*consent.Record, error) {
	defer observe("retrieve")()

	if !VerifyToken(s.secret, token) {
		return nil, nil
	}
	payload, err := s.client.Get(ctx, redisKeyPrefix+HashToken(s.secret, token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis retrieve consent: %w", err)
	}
	var record consent.Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, nil
	}
	return &record, nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) (bool, error) {
	defer observe("delete")()

	removed, err := s.client.Del(ctx, redisKeyPrefix+HashToken(s.secret, token)).Result()
	if err != nil {
		return false, fmt.Errorf("redis delete consent: %w", err)
	}
	return removed > 0, nil
}

func (s *RedisStore) Exists(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKeyPrefix+HashToken(s.secret, token)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists consent: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Update(ctx context.Context, token string, record *consent.Record) (bool, error) {
	defer observe("update")()

	key := redisKeyPrefix + HashToken(s.secret, token)
	payload, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	// KeepTTL preserves the remaining cookie lifetime on update.
	ok, err := s.client.SetXX(ctx, key, payload, redis.KeepTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis update consent: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) GenerateToken() (string, error) {
	return MintToken(s.secret, DefaultTokenLength)
}

func observe(op string) func() {
	start := time.Now()
	return func() {
		redisOpDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}
}
