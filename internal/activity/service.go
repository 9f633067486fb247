// SPDX-License-Identifier: Apache-2.0

// Package activity records events and hands qualifying ones to delivery.
// Recording never fails the caller: persistence problems degrade to a
// transient record and delivery problems are only logged.
package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adiadia/activity-relay/internal/dispatch"
	"github.com/adiadia/activity-relay/internal/domain"
	"github.com/adiadia/activity-relay/internal/metrics"
	"github.com/adiadia/activity-relay/internal/policy"
	"github.com/adiadia/activity-relay/internal/queue"
	"github.com/adiadia/activity-relay/internal/render"
	"github.com/adiadia/activity-relay/internal/repository"
)

const timestampLayout = "2006-01-02 15:04:05"

type Store interface {
	Create(ctx context.Context, p repository.CreateEventParams) (domain.EventRecord, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, task domain.DeliveryTask, opts queue.Options) error
}

type Processor interface {
	Process(ctx context.Context, task domain.DeliveryTask) dispatch.Result
}

// Gate is the part of the notification policy the service consults.
type Gate interface {
	Enabled() bool
	EventEnabled(eventType string) bool
	ShouldDispatch(eventType string) bool
	DeliveryMode() policy.Mode
}

type Deps struct {
	Store      Store
	Queue      Enqueuer
	Dispatcher Processor
	Policy     Gate
	Sensitive  []string
	Env        string
	AppName    string
	Now        func() time.Time
	Logger     *slog.Logger
}

type Service struct {
	store      Store
	queue      Enqueuer
	dispatcher Processor
	policy     Gate
	sensitive  map[string]struct{}
	env        string
	appName    string
	now        func() time.Time
	logger     *slog.Logger
	hooks      *ModelHooks
}

func New(deps Deps) *Service {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	s := &Service{
		store:      deps.Store,
		queue:      deps.Queue,
		dispatcher: deps.Dispatcher,
		policy:     deps.Policy,
		sensitive:  render.SensitiveSet(deps.Sensitive),
		env:        deps.Env,
		appName:    deps.AppName,
		now:        now,
		logger:     l,
	}
	s.hooks = newModelHooks(s)
	return s
}

// RecordEvent persists the event and then dispatches it according to the
// policy. The returned record has uuid.Nil as ID when persistence failed.
func (s *Service) RecordEvent(
	ctx context.Context,
	eventType string,
	description string,
	subject *domain.Ref,
	causer *domain.Ref,
	props domain.Properties,
) domain.EventRecord {
	if !subject.Valid() {
		subject = nil
	}
	if !causer.Valid() {
		causer = nil
	}

	rec, err := s.store.Create(ctx, repository.CreateEventParams{
		EventType:   eventType,
		Description: description,
		Subject:     subject,
		Causer:      causer,
		Properties:  props,
	})
	if err != nil {
		metrics.IncEventRecorded(false)
		s.logger.Error("failed to create activity log",
			"event_type", eventType,
			"error", err,
		)
		now := s.now()
		return domain.EventRecord{
			ID:          uuid.Nil,
			EventType:   eventType,
			Description: description,
			Subject:     subject,
			Causer:      causer,
			Properties:  props,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	metrics.IncEventRecorded(true)
	s.dispatch(ctx, rec)
	return rec
}

func (s *Service) dispatch(ctx context.Context, rec domain.EventRecord) {
	if s.policy == nil || !s.policy.ShouldDispatch(rec.EventType) {
		return
	}

	task := domain.NewDeliveryTask(rec.ID, s.now())
	mode := s.policy.DeliveryMode()

	if mode.Queued {
		if s.queue == nil {
			s.logger.Error("failed to send activity log to discord",
				"event_id", rec.ID,
				"error", "no queue configured",
			)
			return
		}
		if err := s.queue.Enqueue(ctx, task, queue.Options{Connection: mode.Connection, Queue: mode.Queue}); err != nil {
			s.logger.Error("failed to send activity log to discord",
				"event_id", rec.ID,
				"mode", mode.String(),
				"error", err,
			)
		}
		return
	}

	if s.dispatcher == nil {
		s.logger.Error("failed to send activity log to discord",
			"event_id", rec.ID,
			"error", "no dispatcher configured",
		)
		return
	}

	res := s.dispatcher.Process(ctx, task)
	if res.State == dispatch.Retry {
		s.logger.Warn("synchronous delivery failed, not retried",
			"event_id", rec.ID,
			"reason", res.Reason,
		)
	}
}

func (s *Service) timestamp() string {
	return s.now().Format(timestampLayout)
}

// Hooks returns the lifecycle hooks bound to this service.
func (s *Service) Hooks() *ModelHooks {
	return s.hooks
}
