// SPDX-License-Identifier: Apache-2.0

// Package queue is a durable delayed queue of delivery tasks on Redis.
//
// Each named queue uses two sorted sets. The ready set holds encoded tasks
// scored by the time they become available; the in-flight set holds claimed
// tasks scored by their visibility deadline. A claimed task that is not
// acknowledged before its deadline moves back to the ready set, so delivery
// is at-least-once and a task is never held by two workers at the same time.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adiadia/activity-relay/internal/domain"
)

const (
	defaultPrefix            = "activity-relay"
	defaultVisibilityTimeout = 2 * time.Minute
)

// claimScript requeues expired in-flight tasks, then moves the oldest ready
// task into the in-flight set.
//
// KEYS[1] ready, KEYS[2] in-flight; ARGV[1] now ms, ARGV[2] deadline ms.
var claimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, member in ipairs(expired) do
	redis.call('ZREM', KEYS[2], member)
	redis.call('ZADD', KEYS[1], ARGV[1], member)
end
local ready = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ready == 0 then
	return false
end
redis.call('ZREM', KEYS[1], ready[1])
redis.call('ZADD', KEYS[2], ARGV[2], ready[1])
return ready[1]
`)

// ackScript removes a claimed task. It returns 0 when the claim was lost.
var ackScript = redis.NewScript(`
return redis.call('ZREM', KEYS[1], ARGV[1])
`)

type RedisQueue struct {
	client     *redis.Client
	prefix     string
	visibility time.Duration
	now        func() time.Time
}

type RedisOption func(*RedisQueue)

// WithPrefix namespaces all keys.
func WithPrefix(prefix string) RedisOption {
	return func(q *RedisQueue) {
		if prefix != "" {
			q.prefix = prefix
		}
	}
}

// WithVisibilityTimeout sets how long a claimed task stays hidden.
func WithVisibilityTimeout(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.visibility = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RedisOption {
	return func(q *RedisQueue) {
		if now != nil {
			q.now = now
		}
	}
}

func NewRedisQueue(client *redis.Client, opts ...RedisOption) *RedisQueue {
	q := &RedisQueue{
		client:     client,
		prefix:     defaultPrefix,
		visibility: defaultVisibilityTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) readyKey(queue string) string {
	return q.prefix + ":queue:" + queue + ":ready"
}

func (q *RedisQueue) inflightKey(queue string) string {
	return q.prefix + ":queue:" + queue + ":inflight"
}

// Enqueue stores task so that it becomes claimable after delay.
func (q *RedisQueue) Enqueue(ctx context.Context, queue string, task domain.DeliveryTask, delay time.Duration) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if delay < 0 {
		delay = 0
	}

	score := float64(q.now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, q.readyKey(queue), redis.Z{Score: score, Member: string(payload)}).Err(); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// Claim takes the oldest available task. ok is false when nothing is due.
func (q *RedisQueue) Claim(ctx context.Context, queue string) (Claimed, bool, error) {
	now := q.now()
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.readyKey(queue), q.inflightKey(queue)},
		now.UnixMilli(),
		now.Add(q.visibility).UnixMilli(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return Claimed{}, false, nil
	}
	if err != nil {
		return Claimed{}, false, fmt.Errorf("claim from %s: %w", queue, err)
	}

	var task domain.DeliveryTask
	if err := json.Unmarshal([]byte(res), &task); err != nil {
		// Drop undecodable payloads so they cannot wedge the queue.
		_ = q.client.ZRem(ctx, q.inflightKey(queue), res).Err()
		return Claimed{}, false, fmt.Errorf("decode task: %w", err)
	}
	return Claimed{Task: task, receipt: res}, true, nil
}

// Ack removes a claimed task for good. ErrClaimLost means the visibility
// timeout expired first and the task may run again.
func (q *RedisQueue) Ack(ctx context.Context, queue string, c Claimed) error {
	removed, err := ackScript.Run(ctx, q.client, []string{q.inflightKey(queue)}, c.receipt).Int()
	if err != nil {
		return fmt.Errorf("ack task %s: %w", c.Task.ID, err)
	}
	if removed == 0 {
		return ErrClaimLost
	}
	return nil
}

type Stats struct {
	Ready    int64 `json:"ready"`
	InFlight int64 `json:"in_flight"`
}

func (q *RedisQueue) Stats(ctx context.Context, queue string) (Stats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.ZCard(ctx, q.readyKey(queue))
	inflight := pipe.ZCard(ctx, q.inflightKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats %s: %w", queue, err)
	}
	return Stats{Ready: ready.Val(), InFlight: inflight.Val()}, nil
}

// NextDue returns when the earliest ready task becomes available.
func (q *RedisQueue) NextDue(ctx context.Context, queue string) (time.Time, bool, error) {
	res, err := q.client.ZRangeWithScores(ctx, q.readyKey(queue), 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("peek %s: %w", queue, err)
	}
	if len(res) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(res[0].Score)), true, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
