// SPDX-License-Identifier: Apache-2.0

package activity

import (
	"context"
	"sync"

	"github.com/adiadia/activity-relay/internal/domain"
)

// Lifecycle events a model type can opt into.
const (
	Created  = "created"
	Updated  = "updated"
	Deleted  = "deleted"
	Restored = "restored"
)

// LifecycleHooks is called by a persistence layer after model changes.
type LifecycleHooks interface {
	OnCreated(ctx context.Context, m Model)
	OnUpdated(ctx context.Context, m Model, changes domain.Properties)
	OnDeleted(ctx context.Context, m Model)
	OnRestored(ctx context.Context, m Model)
}

// ActivityFilter lets a model veto logging of individual events.
type ActivityFilter interface {
	ShouldLogActivity(event string) bool
}

// ModelHooks records lifecycle events for registered entity types only.
type ModelHooks struct {
	svc *Service

	mu     sync.RWMutex
	events map[string]map[string]bool
}

var _ LifecycleHooks = (*ModelHooks)(nil)

func newModelHooks(svc *Service) *ModelHooks {
	return &ModelHooks{
		svc:    svc,
		events: make(map[string]map[string]bool),
	}
}

// Register opts entityType into the given lifecycle events.
func (h *ModelHooks) Register(entityType string, events ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.events[entityType]
	if !ok {
		set = make(map[string]bool, len(events))
		h.events[entityType] = set
	}
	for _, ev := range events {
		set[ev] = true
	}
}

func (h *ModelHooks) OnCreated(ctx context.Context, m Model) {
	if h.shouldLog(m, Created) {
		h.svc.ModelCreated(ctx, m, nil)
	}
}

// OnUpdated ignores updates without changes.
func (h *ModelHooks) OnUpdated(ctx context.Context, m Model, changes domain.Properties) {
	if h.shouldLog(m, Updated) {
		h.svc.ModelUpdated(ctx, m, changes, nil)
	}
}

func (h *ModelHooks) OnDeleted(ctx context.Context, m Model) {
	if h.shouldLog(m, Deleted) {
		h.svc.ModelDeleted(ctx, m, nil)
	}
}

func (h *ModelHooks) OnRestored(ctx context.Context, m Model) {
	if h.shouldLog(m, Restored) {
		h.svc.ModelRestored(ctx, m, nil)
	}
}

func (h *ModelHooks) shouldLog(m Model, event string) bool {
	if m == nil {
		return false
	}

	h.mu.RLock()
	registered := h.events[m.EntityType()][event]
	h.mu.RUnlock()
	if !registered {
		return false
	}

	if p := h.svc.policy; p != nil {
		if !p.Enabled() || !p.EventEnabled("model."+event) {
			return false
		}
	}

	if f, ok := m.(ActivityFilter); ok {
		return f.ShouldLogActivity(event)
	}
	return true
}
