// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adiadia/activity-relay/internal/domain"
	"github.com/adiadia/activity-relay/internal/metrics"
	"github.com/adiadia/activity-relay/internal/queue"
)

type Processor interface {
	Process(ctx context.Context, task domain.DeliveryTask) Result
}

// dueReporter is implemented by backends that can tell when the earliest
// delayed task becomes ready.
type dueReporter interface {
	NextDue(ctx context.Context, queue string) (time.Time, bool, error)
}

// minIdleWait keeps workers from spinning on a task another worker is
// about to claim.
const minIdleWait = 10 * time.Millisecond

type PoolDeps struct {
	Queue        queue.Backend
	QueueName    string
	Processor    Processor
	Workers      int
	PollInterval time.Duration
	Logger       *slog.Logger
	// Now must agree with the queue clock; time.Now when nil.
	Now func() time.Time
}

// Pool runs workers that claim tasks from one queue and process them.
type Pool struct {
	queue        queue.Backend
	queueName    string
	processor    Processor
	workers      int
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewPool(deps PoolDeps) *Pool {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	workers := deps.Workers
	if workers <= 0 {
		workers = 1
	}

	poll := deps.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	name := deps.QueueName
	if name == "" {
		name = "discord-notifications"
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Pool{
		queue:        deps.Queue,
		queueName:    name,
		processor:    deps.Processor,
		workers:      workers,
		pollInterval: poll,
		logger:       l,
		now:          now,
	}
}

// Run blocks until ctx is done and all workers have returned.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}

	p.logger.Info("delivery workers started",
		"workers", p.workers,
		"queue", p.queueName,
	)
	wg.Wait()
	p.logger.Info("delivery workers stopped", "queue", p.queueName)
}

func (p *Pool) loop(ctx context.Context, id int) {
	for {
		// Drain everything that is due before sleeping again.
		for ctx.Err() == nil {
			worked, err := p.ProcessOnce(ctx)
			if err != nil {
				p.logger.Error("worker process failed", "worker", id, "error", err)
				break
			}
			if !worked {
				break
			}
		}

		if ctx.Err() != nil {
			return
		}

		timer := time.NewTimer(p.idleWait(ctx))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// idleWait is how long a worker sleeps after draining the queue: the poll
// interval, or less when a delayed task falls due sooner.
func (p *Pool) idleWait(ctx context.Context) time.Duration {
	src, ok := p.queue.(dueReporter)
	if !ok {
		return p.pollInterval
	}
	due, ok, err := src.NextDue(ctx, p.queueName)
	if err != nil || !ok {
		return p.pollInterval
	}
	return min(max(due.Sub(p.now()), minIdleWait), p.pollInterval)
}

// ProcessOnce claims and handles a single task. It reports whether a task
// was claimed.
func (p *Pool) ProcessOnce(ctx context.Context) (bool, error) {
	start := time.Now()
	claimed, ok, err := p.queue.Claim(ctx, p.queueName)
	metrics.ObserveQueueClaimLatency(time.Since(start))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	// A claimed task runs to completion even during shutdown, so an
	// in-flight webhook call is not cut short and the claim is settled.
	// The HTTP client timeout bounds the call.
	work := context.WithoutCancel(ctx)

	task := claimed.Task
	res := p.processor.Process(work, task)

	if res.State == Retry {
		if err := p.queue.Enqueue(work, p.queueName, task.Next(), res.Delay); err != nil {
			// Leave the claim unacked; it becomes visible again after the
			// visibility timeout and the attempt is repeated.
			return true, err
		}
	}

	if err := p.queue.Ack(work, p.queueName, claimed); err != nil {
		if errors.Is(err, queue.ErrClaimLost) {
			p.logger.Warn("task claim expired before ack",
				"task_id", task.ID,
				"event_id", task.EventID,
			)
			return true, nil
		}
		return true, err
	}

	p.logger.Debug("task processed",
		"task_id", task.ID,
		"event_id", task.EventID,
		"state", res.State,
		"attempt", res.Attempt,
	)
	return true, nil
}
