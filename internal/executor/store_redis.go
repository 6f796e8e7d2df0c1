package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOutcomeStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisOutcomeStore stores outcomes under "rx:job:<id>" with the given
// retention. A zero retention keeps keys forever.
func NewRedisOutcomeStore(client *redis.Client, retention time.Duration) *RedisOutcomeStore {
	return &RedisOutcomeStore{client: client, prefix: "rx:job:", retention: retention}
}

func (s *RedisOutcomeStore) Save(ctx context.Context, outcome Outcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(outcome.ID), data, s.retention)
	pipe.HIncrBy(ctx, s.countsKey(), string(outcome.Status), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save outcome: %w", err)
	}
	return nil
}

func (s *RedisOutcomeStore) Get(ctx context.Context, id string) (Outcome, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Outcome{}, ErrJobNotFound
		}
		return Outcome{}, fmt.Errorf("redis get: %w", err)
	}

	var outcome Outcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return Outcome{}, fmt.Errorf("unmarshal outcome: %w", err)
	}
	return outcome, nil
}

func (s *RedisOutcomeStore) Counts(ctx context.Context) (map[Status]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.countsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis counts: %w", err)
	}
	out := make(map[Status]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[Status(k)] = n
	}
	return out, nil
}

func (s *RedisOutcomeStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisOutcomeStore) countsKey() string {
	return s.prefix + "counts"
}
