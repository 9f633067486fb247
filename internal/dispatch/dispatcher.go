// SPDX-License-Identifier: Apache-2.0

// Package dispatch delivers one event record per task and decides what
// happens after each attempt.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adiadia/activity-relay/internal/config"
	"github.com/adiadia/activity-relay/internal/discord"
	"github.com/adiadia/activity-relay/internal/domain"
	"github.com/adiadia/activity-relay/internal/metrics"
	"github.com/adiadia/activity-relay/internal/render"
)

const (
	defaultMaxAttempts = 3
	defaultRetryWindow = 10 * time.Minute
)

var defaultBackoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

type State string

const (
	Delivered State = metrics.StateDelivered
	Skipped   State = metrics.StateSkipped
	Retry     State = metrics.StateRetry
	Abandoned State = metrics.StateAbandoned
)

// Result of one Process call. Delay is set only for Retry.
type Result struct {
	State   State
	Delay   time.Duration
	Reason  string
	Attempt int
}

type Store interface {
	Get(ctx context.Context, id uuid.UUID) (domain.EventRecord, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkUnsent(ctx context.Context, id uuid.UUID) error
}

type Sender interface {
	Send(ctx context.Context, embed render.Embed) discord.Outcome
}

// Gate is the part of the notification policy the dispatcher consults.
type Gate interface {
	ShouldDispatch(eventType string) bool
	EventStyle(eventType string) config.EventConfig
}

type Deps struct {
	Store       Store
	Sender      Sender
	Policy      Gate
	Resolver    Resolver
	Options     render.Options
	MaxAttempts int
	RetryWindow time.Duration
	Backoff     []time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

type Dispatcher struct {
	store       Store
	sender      Sender
	policy      Gate
	resolver    Resolver
	opts        render.Options
	maxAttempts int
	retryWindow time.Duration
	backoff     []time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

func New(deps Deps) *Dispatcher {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	maxAtt := deps.MaxAttempts
	if maxAtt <= 0 {
		maxAtt = defaultMaxAttempts
	}

	window := deps.RetryWindow
	if window <= 0 {
		window = defaultRetryWindow
	}

	backoff := make([]time.Duration, 0, len(deps.Backoff))
	for _, d := range deps.Backoff {
		if d > 0 {
			backoff = append(backoff, d)
		}
	}
	if len(backoff) == 0 {
		backoff = append(backoff, defaultBackoff...)
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	opts := deps.Options
	if opts.MaxField == 0 {
		opts = render.DefaultOptions()
	}

	return &Dispatcher{
		store:       deps.Store,
		sender:      deps.Sender,
		policy:      deps.Policy,
		resolver:    deps.Resolver,
		opts:        opts,
		maxAttempts: maxAtt,
		retryWindow: window,
		backoff:     backoff,
		now:         now,
		logger:      l,
	}
}

// Process makes at most one delivery attempt for task.
func (d *Dispatcher) Process(ctx context.Context, task domain.DeliveryTask) Result {
	res := d.process(ctx, task)
	metrics.IncDelivery(string(res.State))
	return res
}

func (d *Dispatcher) process(ctx context.Context, task domain.DeliveryTask) Result {
	attempt := task.Attempts + 1

	rec, err := d.store.Get(ctx, task.EventID)
	if errors.Is(err, domain.ErrEventNotFound) {
		d.logger.Warn("activity log missing, dropping delivery",
			"event_id", task.EventID,
			"task_id", task.ID,
		)
		return Result{State: Skipped, Reason: "record not found", Attempt: attempt}
	}
	if err != nil {
		d.logger.Error("load activity log failed",
			"event_id", task.EventID,
			"attempt", attempt,
			"error", err,
		)
		return d.retryOrAbandon(ctx, task, attempt, "load failed: "+err.Error(), 0)
	}

	if rec.Sent {
		return Result{State: Skipped, Reason: "already sent", Attempt: attempt}
	}

	if !d.policy.ShouldDispatch(rec.EventType) {
		d.logger.Info("discord dispatch disabled, skipping",
			"event_id", rec.ID,
			"event_type", rec.EventType,
		)
		return Result{State: Skipped, Reason: "dispatch disabled", Attempt: attempt}
	}

	now := d.now()
	style := d.policy.EventStyle(rec.EventType)
	embed := render.BuildEmbed(rec, d.resolveParties(ctx, rec), render.Style{Color: style.Color, Icon: style.Icon}, d.opts, now)

	out := d.sender.Send(ctx, embed)
	switch out.Kind {
	case discord.Delivered:
		if err := d.store.MarkSent(ctx, rec.ID, now); err != nil {
			// The message is out; a retry may post it again.
			d.logger.Error("mark sent failed after delivery",
				"event_id", rec.ID,
				"attempt", attempt,
				"error", err,
			)
			return d.retryOrAbandon(ctx, task, attempt, "mark sent failed: "+err.Error(), 0)
		}
		d.logger.Info("activity log delivered",
			"event_id", rec.ID,
			"event_type", rec.EventType,
			"attempt", attempt,
		)
		return Result{State: Delivered, Attempt: attempt}

	case discord.RetryableFailure:
		d.logger.Warn("discord delivery failed",
			"event_id", rec.ID,
			"event_type", rec.EventType,
			"attempt", attempt,
			"error", out.Error(),
		)
		return d.retryOrAbandon(ctx, task, attempt, out.Error(), out.RetryAfter)

	default:
		d.logger.Error("discord rejected activity log",
			"event_id", rec.ID,
			"event_type", rec.EventType,
			"attempt", attempt,
			"outcome", out.Kind.String(),
			"status_code", out.StatusCode,
			"reason", out.Error(),
		)
		return Result{State: Abandoned, Reason: out.Error(), Attempt: attempt}
	}
}

// retryOrAbandon schedules another attempt while both the attempt budget
// and the retry window allow it. Otherwise the record is marked unsent.
func (d *Dispatcher) retryOrAbandon(ctx context.Context, task domain.DeliveryTask, attempt int, reason string, retryAfter time.Duration) Result {
	elapsed := d.now().Sub(task.CreatedAt)
	if attempt < d.maxAttempts && elapsed < d.retryWindow {
		delay := d.backoffFor(attempt)
		if retryAfter > delay {
			delay = retryAfter
		}
		metrics.IncDeliveryRetries()
		d.logger.Warn("activity log delivery - retrying",
			"event_id", task.EventID,
			"attempt", attempt,
			"max_attempts", d.maxAttempts,
			"delay", delay,
		)
		return Result{State: Retry, Delay: delay, Reason: reason, Attempt: attempt}
	}

	d.logger.Error("activity log delivery permanently failed",
		"event_id", task.EventID,
		"attempts", attempt,
		"max_attempts", d.maxAttempts,
		"elapsed", elapsed,
		"error", reason,
	)
	if err := d.store.MarkUnsent(ctx, task.EventID); err != nil && !errors.Is(err, domain.ErrEventNotFound) {
		d.logger.Error("mark unsent failed",
			"event_id", task.EventID,
			"error", err,
		)
	}
	return Result{State: Abandoned, Reason: reason, Attempt: attempt}
}

// backoffFor returns the delay after the given attempt; the last configured
// value repeats.
func (d *Dispatcher) backoffFor(attempt int) time.Duration {
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(d.backoff) {
		i = len(d.backoff) - 1
	}
	return d.backoff[i]
}

func (d *Dispatcher) resolveParties(ctx context.Context, rec domain.EventRecord) render.Parties {
	var parties render.Parties
	if rec.Causer.Valid() {
		parties.Causer = d.resolve(ctx, *rec.Causer)
	}
	if rec.Subject.Valid() {
		parties.Subject = d.resolve(ctx, *rec.Subject)
	}
	return parties
}

func (d *Dispatcher) resolve(ctx context.Context, ref domain.Ref) *render.Party {
	p := &render.Party{Ref: ref}
	if d.resolver == nil {
		return p
	}
	p.Entity, p.Err = d.resolver.Resolve(ctx, ref)
	if p.Err != nil {
		d.logger.Warn("resolve party failed",
			"type", ref.Type,
			"id", ref.ID,
			"error", p.Err,
		)
	}
	return p
}
