// Package queue provides a Redis-backed engine.Queue so that several bpm
// instances sharing one flight database also share one work queue.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bpmanager/bpmanager/pkg/engine"
)

// Config configures a RedisQueue.
type Config struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db" validate:"gte=0"`
	Key      string `mapstructure:"key" yaml:"key"`

	// MaxLen bounds the list; Enqueue waits while it is full. Zero means
	// unbounded.
	MaxLen int `mapstructure:"max_len" yaml:"max_len" validate:"gte=0"`

	// BlockTimeout is how long one BRPOP waits before Dequeue re-checks
	// for cancellation.
	BlockTimeout time.Duration `mapstructure:"block_timeout" yaml:"block_timeout"`
}

// DefaultKey is the list holding queued job ids.
const DefaultKey = "bpm:flights:queue"

// RedisQueue is a FIFO of job ids stored in a Redis list.
type RedisQueue struct {
	client       redis.UniversalClient
	ownsClient   bool
	key          string
	maxLen       int
	blockTimeout time.Duration
	logger       zerolog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

var _ engine.Queue = (*RedisQueue)(nil)

// NewRedisQueue connects to cfg.Addr and verifies the connection.
func NewRedisQueue(ctx context.Context, cfg Config, logger zerolog.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	q := NewRedisQueueWithClient(client, cfg, logger)
	q.ownsClient = true
	return q, nil
}

// NewRedisQueueWithClient uses an existing client. Close leaves the client
// open.
func NewRedisQueueWithClient(client redis.UniversalClient, cfg Config, logger zerolog.Logger) *RedisQueue {
	key := cfg.Key
	if key == "" {
		key = DefaultKey
	}
	block := cfg.BlockTimeout
	if block <= 0 {
		block = time.Second
	}
	return &RedisQueue{
		client:       client,
		key:          key,
		maxLen:       cfg.MaxLen,
		blockTimeout: block,
		logger:       logger.With().Str("component", "redis-queue").Str("key", key).Logger(),
	}
}

// Enqueue implements engine.Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	for {
		if q.closed.Load() {
			return engine.ErrQueueClosed
		}
		if q.maxLen <= 0 {
			break
		}

		n, err := q.client.LLen(ctx, q.key).Result()
		if err != nil {
			return fmt.Errorf("failed to read queue length: %w", err)
		}
		if int(n) < q.maxLen {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(q.blockTimeout / 10):
		}
	}

	if err := q.client.LPush(ctx, q.key, jobID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", jobID, err)
	}
	return nil
}

// Dequeue implements engine.Queue.
func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		if q.closed.Load() {
			return "", engine.ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		res, err := q.client.BRPop(ctx, q.blockTimeout, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if q.closed.Load() {
				return "", engine.ErrQueueClosed
			}
			return "", fmt.Errorf("failed to dequeue: %w", err)
		}

		// BRPOP returns [key, value].
		if len(res) != 2 {
			q.logger.Warn().Strs("reply", res).Msg("Unexpected BRPOP reply")
			continue
		}
		return res[1], nil
	}
}

// Len implements engine.Queue.
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return int(n), nil
}

// Close stops Enqueue and Dequeue. Queued ids stay in Redis for the next
// instance.
func (q *RedisQueue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		if q.ownsClient {
			err = q.client.Close()
		}
	})
	return err
}
