// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/adiadia/activity-relay/internal/auth"
	"github.com/adiadia/activity-relay/internal/domain"
)

const (
	HeaderActorType = "X-Actor-Type"
	HeaderActorID   = "X-Actor-Id"
	// HeaderActorName is optional and only labels the actor in messages.
	HeaderActorName = "X-Actor-Name"
)

// ActorHeaders attributes the request to the user named by the actor
// headers. Admin-authenticated callers act on behalf of their own users, so
// the headers are trusted only behind AdminTokenAuth. Requests with a
// partial pair are rejected.
func ActorHeaders(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := domain.Ref{
				Type: strings.TrimSpace(r.Header.Get(HeaderActorType)),
				ID:   strings.TrimSpace(r.Header.Get(HeaderActorID)),
				Name: strings.TrimSpace(r.Header.Get(HeaderActorName)),
			}

			if actor.Type == "" && actor.ID == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !actor.Valid() {
				logger.Warn("request blocked by actor middleware",
					"path", r.URL.Path,
					"actor_type", actor.Type,
					"actor_id", actor.ID,
				)
				http.Error(w, "actor headers must name both type and id", http.StatusBadRequest)
				return
			}

			// Keep the actor on the current request pointer so outer
			// middleware (request logging) can read it after next returns.
			*r = *r.WithContext(auth.WithActor(r.Context(), actor))
			next.ServeHTTP(w, r)
		})
	}
}
