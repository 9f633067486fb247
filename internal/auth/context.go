// SPDX-License-Identifier: Apache-2.0

// Package auth carries the acting user and request metadata on a context so
// activity can be attributed without threading them through every call.
package auth

import (
	"context"
	"strings"

	"github.com/adiadia/activity-relay/internal/domain"
)

const Unknown = "unknown"

type actorContextKey struct{}
type requestMetaContextKey struct{}

var ctxActorKey actorContextKey
var ctxRequestMetaKey requestMetaContextKey

// RequestMeta describes the client behind the current request.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// WithActor stores the authenticated user on the context.
func WithActor(ctx context.Context, actor domain.Ref) context.Context {
	return context.WithValue(ctx, ctxActorKey, actor)
}

// ActorFromContext returns the acting user, if one was stored.
func ActorFromContext(ctx context.Context) (*domain.Ref, bool) {
	v, ok := ctx.Value(ctxActorKey).(domain.Ref)
	if !ok || !v.Valid() {
		return nil, false
	}
	return &v, true
}

func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, ctxRequestMetaKey, meta)
}

// RequestMetaFromContext never fails; missing values read as Unknown.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(ctxRequestMetaKey).(RequestMeta)
	if strings.TrimSpace(meta.IP) == "" {
		meta.IP = Unknown
	}
	if strings.TrimSpace(meta.UserAgent) == "" {
		meta.UserAgent = Unknown
	}
	return meta
}
