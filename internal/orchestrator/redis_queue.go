package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mwhitby/drover/pkg/models"
)

// RedisQueueConfig describes the connection parameters for a Redis-backed
// task queue.
type RedisQueueConfig struct {
	Addr     string
	Password string
	DB       int
	// Key is the sorted-set key holding queued tasks.
	Key string
	// OpTimeout bounds each Redis round trip.
	OpTimeout time.Duration
}

// RedisQueue is a TaskQueue backed by a Redis sorted set, letting several
// orchestrator processes share one admission buffer. Members are scored
// by negated priority so ZPOPMIN yields the highest-priority task first;
// a monotonically increasing sequence prefix breaks ties FIFO.
type RedisQueue struct {
	client *redis.Client
	key    string
	seqKey string
	wait   time.Duration
}

// NewRedisQueue connects to Redis and returns the queue.
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis queue: address is required")
	}
	key := cfg.Key
	if key == "" {
		key = "drover:tasks"
	}
	wait := cfg.OpTimeout
	if wait <= 0 {
		wait = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisQueue{
		client: client,
		key:    key,
		seqKey: key + ":seq",
		wait:   wait,
	}, nil
}

// Push implements TaskQueue.
func (q *RedisQueue) Push(task *models.Task) error {
	ctx, cancel := context.WithTimeout(context.Background(), q.wait)
	defer cancel()

	seq, err := q.client.Incr(ctx, q.seqKey).Result()
	if err != nil {
		return fmt.Errorf("redis push: next sequence: %w", err)
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("redis push: encode task %s: %w", task.ID, err)
	}

	member := fmt.Sprintf("%020d|%s", seq, payload)
	if err := q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(-task.Priority),
		Member: member,
	}).Err(); err != nil {
		return fmt.Errorf("redis push: %w", err)
	}
	return nil
}

// Pop implements TaskQueue.
func (q *RedisQueue) Pop() (*models.Task, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), q.wait)
	defer cancel()

	members, err := q.client.ZPopMin(ctx, q.key, 1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis pop: %w", err)
	}
	if len(members) == 0 {
		return nil, false, nil
	}

	raw, _ := members[0].Member.(string)
	_, payload, found := strings.Cut(raw, "|")
	if !found {
		return nil, false, fmt.Errorf("redis pop: malformed member %q", raw)
	}
	var task models.Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return nil, false, fmt.Errorf("redis pop: decode task: %w", err)
	}
	return &task, true, nil
}

// Len implements TaskQueue. Errors degrade to zero; the length is only
// used for status reporting.
func (q *RedisQueue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), q.wait)
	defer cancel()

	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close implements TaskQueue.
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
