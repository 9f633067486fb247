// SPDX-License-Identifier: Apache-2.0

package activity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/adiadia/activity-relay/internal/auth"
	"github.com/adiadia/activity-relay/internal/config"
	"github.com/adiadia/activity-relay/internal/discord"
	"github.com/adiadia/activity-relay/internal/dispatch"
	"github.com/adiadia/activity-relay/internal/domain"
	"github.com/adiadia/activity-relay/internal/logging"
	"github.com/adiadia/activity-relay/internal/policy"
	"github.com/adiadia/activity-relay/internal/queue"
	"github.com/adiadia/activity-relay/internal/render"
	"github.com/adiadia/activity-relay/internal/repository"
)

var fixedNow = time.Date(2026, 4, 2, 15, 4, 5, 0, time.UTC)

type memoryStore struct {
	mu      sync.Mutex
	err     error
	records map[uuid.UUID]domain.EventRecord
	order   []uuid.UUID
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[uuid.UUID]domain.EventRecord)}
}

func (s *memoryStore) Create(_ context.Context, p repository.CreateEventParams) (domain.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.EventRecord{}, s.err
	}
	rec := domain.EventRecord{
		ID:          uuid.New(),
		EventType:   p.EventType,
		Description: p.Description,
		Subject:     p.Subject,
		Causer:      p.Causer,
		Properties:  p.Properties,
		CreatedAt:   fixedNow,
		UpdatedAt:   fixedNow,
	}
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return rec, nil
}

func (s *memoryStore) Get(_ context.Context, id uuid.UUID) (domain.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.EventRecord{}, domain.ErrEventNotFound
	}
	return rec, nil
}

func (s *memoryStore) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[id]
	rec.Sent, rec.SentAt = true, &at
	s.records[id] = rec
	return nil
}

func (s *memoryStore) MarkUnsent(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[id]
	rec.Sent, rec.SentAt = false, nil
	s.records[id] = rec
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

type recordingQueue struct {
	mu    sync.Mutex
	err   error
	tasks []domain.DeliveryTask
	opts  []queue.Options
}

func (q *recordingQueue) Enqueue(_ context.Context, task domain.DeliveryTask, opts queue.Options) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	q.opts = append(q.opts, opts)
	return q.err
}

type countingProcessor struct {
	calls  int
	result dispatch.Result
}

func (p *countingProcessor) Process(context.Context, domain.DeliveryTask) dispatch.Result {
	p.calls++
	return p.result
}

type captureSender struct {
	outcome discord.Outcome
	embeds  []render.Embed
}

func (c *captureSender) Send(_ context.Context, e render.Embed) discord.Outcome {
	c.embeds = append(c.embeds, e)
	return c.outcome
}

func notifications(queued bool) config.Notifications {
	return config.Notifications{
		Enabled:         true,
		Queue:           queued,
		QueueConnection: "default",
		QueueName:       "discord-notifications",
		WebhookURL:      "https://discord.com/api/webhooks/1/token",
		Events:          config.DefaultEvents(),
	}
}

type testUser struct {
	id   string
	name string
}

func (u testUser) EntityType() string { return "user" }
func (u testUser) EntityID() string   { return u.id }
func (u testUser) DisplayName() string {
	return u.name
}

type testPost struct {
	id    string
	attrs domain.Properties
	veto  map[string]bool
}

func (p *testPost) EntityType() string            { return "models.Post" }
func (p *testPost) EntityID() string              { return p.id }
func (p *testPost) Attributes() domain.Properties { return p.attrs }

type vetoPost struct{ *testPost }

func (p vetoPost) ShouldLogActivity(event string) bool {
	return !p.veto[event]
}

func newService(store Store, q Enqueuer, proc Processor, cfg config.Notifications) *Service {
	return New(Deps{
		Store:      store,
		Queue:      q,
		Dispatcher: proc,
		Policy:     policy.New(cfg),
		Sensitive:  config.DefaultSensitiveFields(),
		Env:        "testing",
		AppName:    "Relay",
		Now:        func() time.Time { return fixedNow },
		Logger:     logging.Discard(),
	})
}

func TestRecordEventQueuesTask(t *testing.T) {
	store := newMemoryStore()
	q := &recordingQueue{}
	svc := newService(store, q, nil, notifications(true))

	rec := svc.RecordEvent(context.Background(), "order.shipped", "Order #5 shipped", nil, nil, domain.Props("carrier", "UPS"))

	if !rec.Persisted() {
		t.Fatal("expected persisted record")
	}
	if len(q.tasks) != 1 {
		t.Fatalf("expected one queued task, got %d", len(q.tasks))
	}
	if q.tasks[0].EventID != rec.ID || q.tasks[0].Attempts != 0 {
		t.Fatalf("unexpected task %+v", q.tasks[0])
	}
	if q.opts[0].Connection != "default" || q.opts[0].Queue != "discord-notifications" {
		t.Fatalf("unexpected queue options %+v", q.opts[0])
	}
}

func TestRecordEventPersistenceFailureDegrades(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("relation does not exist")
	q := &recordingQueue{}
	svc := newService(store, q, nil, notifications(true))

	subject := &domain.Ref{Type: "post", ID: "1"}
	rec := svc.RecordEvent(context.Background(), domain.EventModelDeleted, "Post deleted", subject, nil, nil)

	if rec.Persisted() || rec.ID != uuid.Nil {
		t.Fatalf("expected transient record, got %+v", rec)
	}
	if rec.EventType != domain.EventModelDeleted || rec.Description != "Post deleted" {
		t.Fatalf("expected transient record to carry type and description, got %+v", rec)
	}
	if len(q.tasks) != 0 {
		t.Fatal("expected no dispatch for an unpersisted record")
	}
}

func TestRecordEventEnqueueFailureIsSwallowed(t *testing.T) {
	q := &recordingQueue{err: errors.New("redis down")}
	svc := newService(newMemoryStore(), q, nil, notifications(true))

	if rec := svc.RecordEvent(context.Background(), domain.EventUserLogin, "x", nil, nil, nil); !rec.Persisted() {
		t.Fatal("expected the record to survive an enqueue failure")
	}
}

func TestRecordEventRespectsPolicy(t *testing.T) {
	cfg := notifications(true)
	off := false
	cfg.Events[domain.EventUserLogout] = config.EventConfig{Enabled: &off}

	cases := []struct {
		name      string
		cfg       config.Notifications
		eventType string
	}{
		{name: "event disabled", cfg: cfg, eventType: domain.EventUserLogout},
		{name: "globally disabled", cfg: func() config.Notifications { c := notifications(true); c.Enabled = false; return c }(), eventType: domain.EventUserLogin},
		{name: "no webhook", cfg: func() config.Notifications { c := notifications(true); c.WebhookURL = ""; return c }(), eventType: domain.EventUserLogin},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemoryStore()
			q := &recordingQueue{}
			rec := newService(store, q, nil, tc.cfg).RecordEvent(context.Background(), tc.eventType, "x", nil, nil, nil)
			if !rec.Persisted() || store.count() != 1 {
				t.Fatal("expected the event to be recorded regardless of dispatch policy")
			}
			if len(q.tasks) != 0 {
				t.Fatalf("expected no dispatch, got %d tasks", len(q.tasks))
			}
		})
	}
}

func TestRecordEventSynchronousModeProcessesOnce(t *testing.T) {
	proc := &countingProcessor{result: dispatch.Result{State: dispatch.Retry, Delay: 10 * time.Second}}
	q := &recordingQueue{}
	svc := newService(newMemoryStore(), q, proc, notifications(false))

	svc.RecordEvent(context.Background(), domain.EventUserLogin, "x", nil, nil, nil)

	if proc.calls != 1 {
		t.Fatalf("expected exactly one inline attempt, got %d", proc.calls)
	}
	if len(q.tasks) != 0 {
		t.Fatal("expected nothing queued in synchronous mode")
	}
}

func TestLoginScenario(t *testing.T) {
	store := newMemoryStore()
	sender := &captureSender{outcome: discord.Outcome{Kind: discord.Delivered, StatusCode: http.StatusNoContent}}
	registry := dispatch.NewRegistry()
	alice := testUser{id: "7", name: "Alice"}
	registry.Register("user", func(context.Context, string) (any, error) { return alice, nil })

	cfg := notifications(false)
	d := dispatch.New(dispatch.Deps{
		Store:    store,
		Sender:   sender,
		Policy:   policy.New(cfg),
		Resolver: registry,
		Now:      func() time.Time { return fixedNow },
		Logger:   logging.Discard(),
	})
	svc := newService(store, nil, d, cfg)

	ctx := auth.WithRequestMeta(context.Background(), auth.RequestMeta{IP: "203.0.113.9", UserAgent: "Mozilla/5.0"})
	rec := svc.Login(ctx, alice)

	if rec.Description != "Alice logged in" {
		t.Fatalf("unexpected description %q", rec.Description)
	}
	if rec.Subject == nil || rec.Causer == nil || *rec.Subject != *rec.Causer || rec.Causer.ID != "7" {
		t.Fatalf("expected user as subject and causer, got %+v %+v", rec.Subject, rec.Causer)
	}
	if keys := rec.Properties.Keys(); strings.Join(keys, ",") != "ip,user_agent,timestamp" {
		t.Fatalf("unexpected property keys %v", keys)
	}
	if ts, _ := rec.Properties.Get("timestamp"); ts != "2026-04-02 15:04:05" {
		t.Fatalf("unexpected timestamp %v", ts)
	}

	stored, _ := store.Get(context.Background(), rec.ID)
	if !stored.Sent {
		t.Fatal("expected record marked sent")
	}

	if len(sender.embeds) != 1 {
		t.Fatalf("expected one webhook call, got %d", len(sender.embeds))
	}
	embed := sender.embeds[0]
	login := config.DefaultEvents()[domain.EventUserLogin]
	if embed.Title != login.Icon+" User Login" || embed.Color != login.Color {
		t.Fatalf("unexpected title/color %q %d", embed.Title, embed.Color)
	}
	performer, _ := embed.FieldByName(render.FieldCauser)
	if performer.Value != "Alice" {
		t.Fatalf("unexpected performer %q", performer.Value)
	}
	details, _ := embed.FieldByName(render.FieldProperties)
	if !strings.Contains(details.Value, "**Ip**: 203.0.113.9") || !strings.Contains(details.Value, "**User Agent**: Mozilla/5.0") {
		t.Fatalf("unexpected details %q", details.Value)
	}
}

func TestCapturedNamesRenderWithoutLookups(t *testing.T) {
	store := newMemoryStore()
	sender := &captureSender{outcome: discord.Outcome{Kind: discord.Delivered, StatusCode: http.StatusNoContent}}

	cfg := notifications(false)
	d := dispatch.New(dispatch.Deps{
		Store:    store,
		Sender:   sender,
		Policy:   policy.New(cfg),
		Resolver: dispatch.NewRegistry(),
		Now:      func() time.Time { return fixedNow },
		Logger:   logging.Discard(),
	})
	svc := newService(store, nil, d, cfg)

	rec := svc.Login(context.Background(), testUser{id: "7", name: "Alice"})
	if rec.Causer == nil || rec.Causer.Name != "Alice" {
		t.Fatalf("expected display name captured on the causer, got %+v", rec.Causer)
	}

	post := &testPost{id: "3", attrs: domain.Props("title", "Hello")}
	svc.ModelCreated(context.Background(), post, rec.Causer)

	if len(sender.embeds) != 2 {
		t.Fatalf("expected two webhook calls, got %d", len(sender.embeds))
	}
	if performer, _ := sender.embeds[0].FieldByName(render.FieldCauser); performer.Value != "Alice" {
		t.Fatalf("unexpected login performer %q", performer.Value)
	}
	subject, _ := sender.embeds[1].FieldByName(render.FieldSubject)
	if subject.Value != "Hello" {
		t.Fatalf("unexpected model subject %q", subject.Value)
	}

	anonymous := svc.Logout(context.Background(), testUser{id: "9"})
	if anonymous.Causer == nil || anonymous.Causer.Name != "" {
		t.Fatalf("expected no name captured for unnamed user, got %+v", anonymous.Causer)
	}
	if performer, _ := sender.embeds[2].FieldByName(render.FieldCauser); performer.Value != "user #9" {
		t.Fatalf("unexpected fallback performer %q", performer.Value)
	}
}

func TestLogoutWithoutRequestMeta(t *testing.T) {
	svc := newService(newMemoryStore(), &recordingQueue{}, nil, notifications(true))

	rec := svc.Logout(context.Background(), testUser{id: "9"})

	if rec.Description != "User #9 logged out" {
		t.Fatalf("unexpected description %q", rec.Description)
	}
	if ip, _ := rec.Properties.Get("ip"); ip != auth.Unknown {
		t.Fatalf("expected unknown ip, got %v", ip)
	}
	if _, ok := rec.Properties.Get("user_agent"); ok {
		t.Fatal("logout does not capture the user agent")
	}
}

func TestModelUpdatedWithoutChangesRecordsNothing(t *testing.T) {
	store := newMemoryStore()
	q := &recordingQueue{}
	svc := newService(store, q, nil, notifications(true))

	rec, ok := svc.ModelUpdated(context.Background(), &testPost{id: "1"}, nil, nil)
	if ok || rec.Persisted() {
		t.Fatalf("expected nothing recorded, got %+v", rec)
	}
	if store.count() != 0 || len(q.tasks) != 0 {
		t.Fatal("expected no store or queue activity")
	}
}

func TestModelUpdatedSanitizesChanges(t *testing.T) {
	svc := newService(newMemoryStore(), &recordingQueue{}, nil, notifications(true))
	post := &testPost{id: "4", attrs: domain.Props("title", "Hello")}
	actor := domain.Ref{Type: "user", ID: "2"}
	ctx := auth.WithActor(context.Background(), actor)

	rec, ok := svc.ModelUpdated(ctx, post, domain.Props("title", "Hello", "password", "hunter2", "body", strings.Repeat("b", 700)), nil)
	if !ok {
		t.Fatal("expected a record")
	}
	if rec.Description != "Post 'Hello' was updated" {
		t.Fatalf("unexpected description %q", rec.Description)
	}
	if rec.Causer == nil || *rec.Causer != actor {
		t.Fatalf("expected causer from context actor, got %+v", rec.Causer)
	}

	raw, _ := rec.Properties.Get("changes")
	changes := raw.(domain.Properties)
	if v, _ := changes.Get("password"); v != render.MaskToken {
		t.Fatalf("expected password hidden, got %v", v)
	}
	if v, _ := changes.Get("body"); len(v.(string)) != 500 {
		t.Fatalf("expected body capped at 500, got %d", len(v.(string)))
	}
	fields, _ := rec.Properties.Get("changed_fields")
	if strings.Join(fields.([]string), ",") != "title,password,body" {
		t.Fatalf("unexpected changed fields %v", fields)
	}
}

func TestModelCreatedDeletedRestored(t *testing.T) {
	svc := newService(newMemoryStore(), &recordingQueue{}, nil, notifications(true))
	post := &testPost{id: "12", attrs: domain.Props("id", 12, "api_key", "k")}
	causer := &domain.Ref{Type: "user", ID: "1"}

	created := svc.ModelCreated(context.Background(), post, causer)
	if created.EventType != domain.EventModelCreated || created.Description != "Post '#12' was created" {
		t.Fatalf("unexpected created record %+v", created)
	}
	attrs, _ := created.Properties.Get("attributes")
	if v, _ := attrs.(domain.Properties).Get("api_key"); v != render.MaskToken {
		t.Fatalf("expected api_key hidden, got %v", v)
	}
	if created.Causer != causer {
		t.Fatal("expected explicit causer to win")
	}

	deleted := svc.ModelDeleted(context.Background(), post, nil)
	if _, ok := deleted.Properties.Get("deleted_attributes"); !ok || deleted.Causer != nil {
		t.Fatalf("unexpected deleted record %+v", deleted)
	}

	restored := svc.ModelRestored(context.Background(), post, nil)
	if restored.EventType != domain.EventModelRestored || restored.Description != "Post '#12' was restored" {
		t.Fatalf("unexpected restored record %+v", restored)
	}
}

func TestBootupAndTestEvent(t *testing.T) {
	q := &recordingQueue{}
	svc := newService(newMemoryStore(), q, nil, notifications(true))

	boot := svc.Bootup(context.Background())
	if boot.EventType != domain.EventSystemBootup || boot.Subject != nil || boot.Causer != nil {
		t.Fatalf("unexpected bootup record %+v", boot)
	}
	mem, _ := boot.Properties.Get("memory_usage")
	if s, ok := mem.(string); !ok || !strings.HasSuffix(s, "B") {
		t.Fatalf("expected humanized memory usage, got %v", mem)
	}
	if env, _ := boot.Properties.Get("environment"); env != "testing" {
		t.Fatalf("unexpected environment %v", env)
	}

	test := svc.TestEvent(context.Background())
	if test.EventType != domain.EventSystemTest {
		t.Fatalf("unexpected test event type %q", test.EventType)
	}
	if len(q.tasks) != 2 {
		t.Fatalf("expected both system events dispatched, got %d", len(q.tasks))
	}
}
