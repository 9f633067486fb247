// SPDX-License-Identifier: Apache-2.0

package activity

import (
	"context"
	"fmt"

	"github.com/adiadia/activity-relay/internal/auth"
	"github.com/adiadia/activity-relay/internal/domain"
	"github.com/adiadia/activity-relay/internal/render"
)

// Model is an entity whose attributes can be captured with an event.
type Model interface {
	domain.Entity
	Attributes() domain.Properties
}

func (s *Service) Login(ctx context.Context, user domain.Entity) domain.EventRecord {
	meta := auth.RequestMetaFromContext(ctx)
	ref := refOf(user)
	return s.RecordEvent(ctx,
		domain.EventUserLogin,
		userDisplayName(user)+" logged in",
		ref, ref,
		domain.Props(
			"ip", meta.IP,
			"user_agent", meta.UserAgent,
			"timestamp", s.timestamp(),
		),
	)
}

func (s *Service) Logout(ctx context.Context, user domain.Entity) domain.EventRecord {
	meta := auth.RequestMetaFromContext(ctx)
	ref := refOf(user)
	return s.RecordEvent(ctx,
		domain.EventUserLogout,
		userDisplayName(user)+" logged out",
		ref, ref,
		domain.Props(
			"ip", meta.IP,
			"timestamp", s.timestamp(),
		),
	)
}

func (s *Service) Register(ctx context.Context, user domain.Entity) domain.EventRecord {
	meta := auth.RequestMetaFromContext(ctx)
	ref := refOf(user)
	return s.RecordEvent(ctx,
		domain.EventUserRegister,
		userDisplayName(user)+" registered",
		ref, ref,
		domain.Props(
			"ip", meta.IP,
			"user_agent", meta.UserAgent,
			"timestamp", s.timestamp(),
		),
	)
}

// ModelCreated records a new model. A nil causer falls back to the actor on
// the context.
func (s *Service) ModelCreated(ctx context.Context, m Model, causer *domain.Ref) domain.EventRecord {
	return s.RecordEvent(ctx,
		domain.EventModelCreated,
		modelSentence(m, "created"),
		refOf(m),
		s.causerOr(ctx, causer),
		domain.Props("attributes", s.sanitize(m.Attributes())),
	)
}

// ModelUpdated records the changed attributes. Nothing is recorded when
// changes is empty; the bool reports whether a record was produced.
func (s *Service) ModelUpdated(ctx context.Context, m Model, changes domain.Properties, causer *domain.Ref) (domain.EventRecord, bool) {
	if len(changes) == 0 {
		return domain.EventRecord{}, false
	}

	return s.RecordEvent(ctx,
		domain.EventModelUpdated,
		modelSentence(m, "updated"),
		refOf(m),
		s.causerOr(ctx, causer),
		domain.Props(
			"changes", s.sanitize(changes),
			"changed_fields", changes.Keys(),
		),
	), true
}

func (s *Service) ModelDeleted(ctx context.Context, m Model, causer *domain.Ref) domain.EventRecord {
	return s.RecordEvent(ctx,
		domain.EventModelDeleted,
		modelSentence(m, "deleted"),
		refOf(m),
		s.causerOr(ctx, causer),
		domain.Props("deleted_attributes", s.sanitize(m.Attributes())),
	)
}

func (s *Service) ModelRestored(ctx context.Context, m Model, causer *domain.Ref) domain.EventRecord {
	return s.RecordEvent(ctx,
		domain.EventModelRestored,
		modelSentence(m, "restored"),
		refOf(m),
		s.causerOr(ctx, causer),
		nil,
	)
}

// refOf captures the entity's display value with the reference, so delivery
// can show it when no lookup is registered for the type.
func refOf(e domain.Entity) *domain.Ref {
	ref := domain.RefOf(e)
	if ref == nil {
		return nil
	}
	if name, ok := render.EntityName(e); ok {
		ref.Name = name
	}
	return ref
}

func (s *Service) causerOr(ctx context.Context, causer *domain.Ref) *domain.Ref {
	if causer.Valid() {
		return causer
	}
	if actor, ok := auth.ActorFromContext(ctx); ok {
		return actor
	}
	return nil
}

func (s *Service) sanitize(attrs domain.Properties) domain.Properties {
	return render.SanitizeAttributes(attrs, s.sensitive)
}

func userDisplayName(user domain.Entity) string {
	if user == nil {
		return render.FallbackCauser
	}
	if name, ok := render.EntityName(user); ok {
		return name
	}
	return "User #" + user.EntityID()
}

func modelDisplayName(m domain.Entity) string {
	if name, ok := render.EntityName(m); ok {
		return name
	}
	return "#" + m.EntityID()
}

func modelSentence(m domain.Entity, verb string) string {
	return fmt.Sprintf("%s '%s' was %s", render.ShortTypeName(m.EntityType()), modelDisplayName(m), verb)
}
