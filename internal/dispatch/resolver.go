// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"sync"

	"github.com/adiadia/activity-relay/internal/domain"
)

// Resolver loads the entity behind a reference for display. A nil entity
// with a nil error means the type is unknown.
type Resolver interface {
	Resolve(ctx context.Context, ref domain.Ref) (any, error)
}

type LookupFunc func(ctx context.Context, id string) (any, error)

// Registry resolves references by entity type.
type Registry struct {
	mu      sync.RWMutex
	lookups map[string]LookupFunc
}

func NewRegistry() *Registry {
	return &Registry{lookups: make(map[string]LookupFunc)}
}

func (r *Registry) Register(entityType string, fn LookupFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups[entityType] = fn
}

func (r *Registry) Resolve(ctx context.Context, ref domain.Ref) (any, error) {
	r.mu.RLock()
	fn, ok := r.lookups[ref.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return fn(ctx, ref.ID)
}
