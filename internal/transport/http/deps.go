// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/google/uuid"

	"github.com/adiadia/activity-relay/internal/activity"
	"github.com/adiadia/activity-relay/internal/discord"
	"github.com/adiadia/activity-relay/internal/domain"
	"github.com/adiadia/activity-relay/internal/queue"
	"github.com/adiadia/activity-relay/internal/repository"
)

type EventRecorder interface {
	RecordEvent(ctx context.Context, eventType, description string, subject, causer *domain.Ref, props domain.Properties) domain.EventRecord
	TestEvent(ctx context.Context) domain.EventRecord
}

type SessionRecorder interface {
	Login(ctx context.Context, user domain.Entity) domain.EventRecord
	Logout(ctx context.Context, user domain.Entity) domain.EventRecord
	Register(ctx context.Context, user domain.Entity) domain.EventRecord
}

type ModelRecorder interface {
	ModelCreated(ctx context.Context, m activity.Model, causer *domain.Ref) domain.EventRecord
	ModelUpdated(ctx context.Context, m activity.Model, changes domain.Properties, causer *domain.Ref) (domain.EventRecord, bool)
	ModelDeleted(ctx context.Context, m activity.Model, causer *domain.Ref) domain.EventRecord
	ModelRestored(ctx context.Context, m activity.Model, causer *domain.Ref) domain.EventRecord
}

type EventReader interface {
	Get(ctx context.Context, id uuid.UUID) (domain.EventRecord, error)
	List(ctx context.Context, f repository.ListFilter) ([]domain.EventRecord, error)
}

type WebhookTester interface {
	TestConnectivity(ctx context.Context, env string) discord.ConnectivityResult
}

type QueueInspector interface {
	Stats(ctx context.Context, connection, queue string) (queue.Stats, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}

// HealthCheckFunc adapts a plain func, such as a Redis ping, to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) Check(ctx context.Context) error {
	return f(ctx)
}
