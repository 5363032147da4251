package async

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// KEYS: ready, processing, leases  ARGV: lease deadline (unix ms)
	receiveScript = redis.NewScript(`
local p = redis.call("RPOP", KEYS[1])
if not p then return false end
redis.call("LPUSH", KEYS[2], p)
redis.call("ZADD", KEYS[3], ARGV[1], p)
return p`)

	// KEYS: leases, processing
	ackScript = redis.NewScript(`
local n = redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("LREM", KEYS[2], 1, ARGV[1])
return n`)

	// KEYS: leases  ARGV: payload, new deadline
	nackScript = redis.NewScript(`
if redis.call("ZSCORE", KEYS[1], ARGV[1]) then
  return redis.call("ZADD", KEYS[1], "XX", "CH", ARGV[2], ARGV[1])
end
return 0`)

	// KEYS: leases, processing, ready  ARGV: now (unix ms)
	reapScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, p in ipairs(expired) do
  redis.call("ZREM", KEYS[1], p)
  redis.call("LREM", KEYS[2], 1, p)
  redis.call("RPUSH", KEYS[3], p)
end
return #expired`)
)

// RedisQueue is a reliable list queue: receive moves a payload from {prefix}jobs to
// {prefix}jobs:processing and leases it in the {prefix}jobs:leases sorted set.
type RedisQueue struct {
	client     redis.UniversalClient
	logger     *slog.Logger
	visibility time.Duration
	poll       time.Duration

	ready, processing, leases, deliveries string

	done chan struct{}
	once sync.Once
}

func NewRedisQueue(client redis.UniversalClient, prefix string, visibility time.Duration, logger *slog.Logger) *RedisQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "docscan:"
	}
	if visibility <= 0 {
		visibility = 20 * time.Minute
	}
	q := &RedisQueue{
		client:     client,
		logger:     logger,
		visibility: visibility,
		poll:       250 * time.Millisecond,
		ready:      prefix + "jobs",
		processing: prefix + "jobs:processing",
		leases:     prefix + "jobs:leases",
		deliveries: prefix + "jobs:deliveries",
		done:       make(chan struct{}),
	}
	go q.reapLoop()
	return q
}

func (q *RedisQueue) Publish(ctx context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.ready, b).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	q.logger.Debug("queue.job.published", "job_id", job.ID, "document_id", job.DocumentID, "reason", job.Reason)
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, ErrClosed
		default:
		}

		deadline := time.Now().Add(q.visibility).UnixMilli()
		payload, err := receiveScript.Run(ctx, q.client, []string{q.ready, q.processing, q.leases}, deadline).Text()
		if errors.Is(err, redis.Nil) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-q.done:
				return nil, ErrClosed
			case <-time.After(q.poll):
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis receive: %w", err)
		}

		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			q.logger.Error("queue.job.decode_failed", "error", err, "payload", payload)
			_ = ackScript.Run(ctx, q.client, []string{q.leases, q.processing}, payload).Err()
			continue
		}
		n, err := q.client.HIncrBy(ctx, q.deliveries, job.ID.String(), 1).Result()
		if err != nil {
			return nil, fmt.Errorf("redis delivery count: %w", err)
		}
		job.Deliveries = int(n)
		return q.delivery(job, payload), nil
	}
}

func (q *RedisQueue) delivery(job Job, payload string) *Delivery {
	return &Delivery{
		Job: job,
		ack: func(ctx context.Context) error {
			if err := ackScript.Run(ctx, q.client, []string{q.leases, q.processing}, payload).Err(); err != nil {
				return fmt.Errorf("redis ack: %w", err)
			}
			return q.client.HDel(ctx, q.deliveries, job.ID.String()).Err()
		},
		nack: func(ctx context.Context, delay time.Duration) error {
			at := time.Now().Add(max(delay, 0)).UnixMilli()
			if err := nackScript.Run(ctx, q.client, []string{q.leases}, payload, at).Err(); err != nil {
				return fmt.Errorf("redis nack: %w", err)
			}
			if delay <= 0 {
				_, err := q.Reap(ctx)
				return err
			}
			return nil
		},
	}
}

// Reap returns expired leases to the ready list.
func (q *RedisQueue) Reap(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	n, err := reapScript.Run(ctx, q.client, []string{q.leases, q.processing, q.ready}, now).Int()
	if err != nil {
		return 0, fmt.Errorf("redis reap: %w", err)
	}
	if n > 0 {
		q.logger.Info("queue.lease.expired", "count", n)
	}
	return n, nil
}

func (q *RedisQueue) reapLoop() {
	interval := min(max(q.visibility/4, time.Second), 30*time.Second)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-q.done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := q.Reap(ctx); err != nil {
				q.logger.Warn("queue.reap.failed", "error", err)
			}
			cancel()
		}
	}
}

// Len reports queued (not leased) jobs.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.ready).Result()
}

func (q *RedisQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
