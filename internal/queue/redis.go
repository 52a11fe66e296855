package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPollTimeout = 5 * time.Second
	redisRetryDelay  = time.Second
)

// RedisQueue is a FIFO list: producers LPUSH, consumers BRPOP
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisQueue connects to Redis and verifies the connection
func NewRedisQueue(addr, key string, logger *slog.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return NewRedisQueueFromClient(client, key, logger), nil
}

// NewRedisQueueFromClient wraps an existing client
func NewRedisQueueFromClient(client *redis.Client, key string, logger *slog.Logger) *RedisQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{client: client, key: key, logger: logger}
}

// Enqueue pushes the job onto the list
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("queue: redis enqueue: %w", err)
	}
	return nil
}

// Consume pops jobs until ctx is done. Undecodable payloads are dropped;
// handler errors are logged and the job is not retried.
func (q *RedisQueue) Consume(ctx context.Context, h Handler) error {
	logger := q.logger.With("component", "queue", "backend", "redis", "key", q.key)
	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := q.client.BRPop(ctx, redisPollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("pop failed", "error", err)
			select {
			case <-time.After(redisRetryDelay):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		// BRPOP returns the key and the value
		if len(res) != 2 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			logger.Warn("dropping undecodable job", "error", err)
			continue
		}
		if err := h(ctx, job); err != nil {
			logger.Error("job handler failed", "job_id", job.ID, "error", err)
		}
	}
}

// Close closes the client
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
