// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adiadia/activity-relay/internal/auth"
	"github.com/adiadia/activity-relay/internal/domain"
	"github.com/adiadia/activity-relay/internal/metrics"
	"github.com/adiadia/activity-relay/internal/repository"
	"github.com/adiadia/activity-relay/internal/transport/middleware"
)

// ActivityRecorder is the activity service as seen by the HTTP surface.
type ActivityRecorder interface {
	EventRecorder
	SessionRecorder
	ModelRecorder
}

type Deps struct {
	Activity        ActivityRecorder
	Events          EventReader
	Webhook         WebhookTester
	Queue           QueueInspector
	QueueConnection string
	QueueName       string
	HealthCheckers  []HealthChecker
	Logger          *slog.Logger
	AdminToken      string
	EventsPerMinute int
	Env             string
	Version         string
	Commit          string
	BuildDate       string
}

type createEventRequest struct {
	EventType   string            `json:"event_type"`
	Description string            `json:"description"`
	Subject     *domain.Ref       `json:"subject"`
	Causer      *domain.Ref       `json:"causer"`
	Properties  domain.Properties `json:"properties"`
}

type sessionRequest struct {
	User entityPayload `json:"user"`
}

type modelRequest struct {
	Model   entityPayload     `json:"model"`
	Changes domain.Properties `json:"changes"`
	Causer  *domain.Ref       `json:"causer"`
}

// entityPayload is an entity described inline by the caller.
type entityPayload struct {
	Type  string            `json:"type"`
	ID    string            `json:"id"`
	Name  string            `json:"name"`
	Attrs domain.Properties `json:"attributes"`
}

func (e entityPayload) EntityType() string            { return e.Type }
func (e entityPayload) EntityID() string              { return e.ID }
func (e entityPayload) DisplayName() string           { return e.Name }
func (e entityPayload) Attributes() domain.Properties { return e.Attrs }

func (e entityPayload) valid() bool {
	return strings.TrimSpace(e.Type) != "" && strings.TrimSpace(e.ID) != ""
}

type webhookTestResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details string `json:"details"`
	EventID string `json:"event_id,omitempty"`
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestMetaMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		for _, hc := range deps.HealthCheckers {
			if hc == nil {
				continue
			}
			if err := hc.Check(r.Context()); err != nil {
				logger.Warn("health check failed", "error", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- ADMIN ----------------

	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))
		r.Use(middleware.ActorHeaders(logger))

		// ---------------- RECORD EVENT ----------------

		r.With(middleware.RateLimit(deps.EventsPerMinute, logger)).Post("/events", func(w http.ResponseWriter, r *http.Request) {
			var req createEventRequest
			if err := decodeJSON(r, &req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			req.EventType = strings.TrimSpace(req.EventType)
			if req.EventType == "" {
				http.Error(w, "event_type is required", http.StatusBadRequest)
				return
			}

			causer := req.Causer
			if !causer.Valid() {
				causer, _ = auth.ActorFromContext(r.Context())
			}

			rec := deps.Activity.RecordEvent(r.Context(), req.EventType, req.Description, req.Subject, causer, req.Properties)
			writeRecord(w, rec)
		})

		// ---------------- LIST EVENTS ----------------

		r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			filter, err := parseListFilter(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			events, err := deps.Events.List(r.Context(), filter)
			if err != nil {
				logger.Error("list events failed", "error", err)
				http.Error(w, "failed to list events", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"events": events,
			})
		})

		// ---------------- GET EVENT ----------------

		r.Get("/events/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid event ID", http.StatusBadRequest)
				return
			}

			rec, err := deps.Events.Get(r.Context(), id)
			if err != nil {
				if errors.Is(err, domain.ErrEventNotFound) {
					http.Error(w, "event not found", http.StatusNotFound)
					return
				}
				logger.Error("get event failed", "event_id", id, "error", err)
				http.Error(w, "failed to get event", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, rec)
		})

		// ---------------- SESSIONS ----------------

		r.Post("/sessions/{action}", func(w http.ResponseWriter, r *http.Request) {
			var req sessionRequest
			if err := decodeJSON(r, &req); err != nil || !req.User.valid() {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			var rec domain.EventRecord
			switch chi.URLParam(r, "action") {
			case "login":
				rec = deps.Activity.Login(r.Context(), req.User)
			case "logout":
				rec = deps.Activity.Logout(r.Context(), req.User)
			case "register":
				rec = deps.Activity.Register(r.Context(), req.User)
			default:
				http.Error(w, "unknown session action", http.StatusNotFound)
				return
			}
			writeRecord(w, rec)
		})

		// ---------------- MODEL LIFECYCLE ----------------

		r.Post("/models/{action}", func(w http.ResponseWriter, r *http.Request) {
			var req modelRequest
			if err := decodeJSON(r, &req); err != nil || !req.Model.valid() {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			var rec domain.EventRecord
			switch chi.URLParam(r, "action") {
			case "created":
				rec = deps.Activity.ModelCreated(r.Context(), req.Model, req.Causer)
			case "updated":
				var ok bool
				rec, ok = deps.Activity.ModelUpdated(r.Context(), req.Model, req.Changes, req.Causer)
				if !ok {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			case "deleted":
				rec = deps.Activity.ModelDeleted(r.Context(), req.Model, req.Causer)
			case "restored":
				rec = deps.Activity.ModelRestored(r.Context(), req.Model, req.Causer)
			default:
				http.Error(w, "unknown model action", http.StatusNotFound)
				return
			}
			writeRecord(w, rec)
		})

		// ---------------- WEBHOOK TEST ----------------

		r.Post("/webhook/test", func(w http.ResponseWriter, r *http.Request) {
			if deps.Webhook == nil {
				http.Error(w, "webhook client not configured", http.StatusInternalServerError)
				return
			}

			res := deps.Webhook.TestConnectivity(r.Context(), deps.Env)
			resp := webhookTestResponse{
				Success: res.Success,
				Message: res.Message,
				Details: res.Detail,
			}
			if !res.Success {
				writeJSON(w, http.StatusBadGateway, resp)
				return
			}

			if rec := deps.Activity.TestEvent(r.Context()); rec.Persisted() {
				resp.EventID = rec.ID.String()
			}
			writeJSON(w, http.StatusOK, resp)
		})

		// ---------------- QUEUE ----------------

		if deps.Queue != nil {
			r.Get("/queue/stats", func(w http.ResponseWriter, r *http.Request) {
				connection := valueOrDefault(r.URL.Query().Get("connection"), deps.QueueConnection)
				name := valueOrDefault(r.URL.Query().Get("queue"), deps.QueueName)

				stats, err := deps.Queue.Stats(r.Context(), connection, name)
				if err != nil {
					logger.Error("queue stats failed", "connection", connection, "queue", name, "error", err)
					http.Error(w, "failed to read queue stats", http.StatusInternalServerError)
					return
				}

				writeJSON(w, http.StatusOK, map[string]any{
					"connection": connection,
					"queue":      name,
					"ready":      stats.Ready,
					"in_flight":  stats.InFlight,
				})
			})
		}
	})

	return r
}

// writeRecord answers 201 for a stored record. A record that could not be
// persisted is still returned, with 503.
func writeRecord(w http.ResponseWriter, rec domain.EventRecord) {
	if !rec.Persisted() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "event could not be persisted",
			"event": rec,
		})
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return io.EOF
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

func parseListFilter(r *http.Request) (repository.ListFilter, error) {
	q := r.URL.Query()
	filter := repository.ListFilter{
		EventType: strings.TrimSpace(q.Get("event_type")),
	}

	if raw := strings.TrimSpace(q.Get("unsent")); raw != "" {
		unsent, err := strconv.ParseBool(raw)
		if err != nil {
			return repository.ListFilter{}, errors.New("invalid unsent")
		}
		filter.UnsentOnly = unsent
	}

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return repository.ListFilter{}, errors.New("invalid limit")
		}
		filter.Limit = limit
	}

	return filter, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
