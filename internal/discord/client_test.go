// SPDX-License-Identifier: Apache-2.0

package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adiadia/activity-relay/internal/logging"
	"github.com/adiadia/activity-relay/internal/render"
)

const testWebhookURL = "https://discord.com/api/webhooks/123456789/secret-token-value"

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int, header http.Header, body string) roundTripFunc {
	return func(*http.Request) (*http.Response, error) {
		if header == nil {
			header = make(http.Header)
		}
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     header,
		}, nil
	}
}

func newTestClient(rt roundTripFunc) *Client {
	return NewClient(Config{
		WebhookURL: testWebhookURL,
		BotName:    "Activity Logger",
		Enabled:    true,
		HTTPClient: &http.Client{Transport: rt},
	}, logging.Discard())
}

func TestSendClassifiesResponses(t *testing.T) {
	cases := []struct {
		name   string
		rt     roundTripFunc
		kind   Kind
		reason string
	}{
		{name: "no content delivers", rt: respond(http.StatusNoContent, nil, ""), kind: Delivered},
		{name: "ok is unexpected", rt: respond(http.StatusOK, nil, "{}"), kind: UnexpectedResponse},
		{name: "redirect is unexpected", rt: respond(http.StatusFound, nil, ""), kind: UnexpectedResponse},
		{name: "forbidden is unexpected", rt: respond(http.StatusForbidden, nil, ""), kind: UnexpectedResponse},
		{name: "bad request", rt: respond(http.StatusBadRequest, nil, ""), kind: PermanentFailure, reason: reasonBadRequest},
		{name: "unauthorized", rt: respond(http.StatusUnauthorized, nil, ""), kind: PermanentFailure, reason: reasonUnauthorized},
		{name: "not found", rt: respond(http.StatusNotFound, nil, ""), kind: PermanentFailure, reason: reasonNotFound},
		{name: "rate limited", rt: respond(http.StatusTooManyRequests, nil, ""), kind: RetryableFailure, reason: reasonRateLimited},
		{name: "server error", rt: respond(http.StatusBadGateway, nil, ""), kind: RetryableFailure, reason: reasonServerError},
		{
			name: "transport error",
			rt: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
			kind:   RetryableFailure,
			reason: reasonNoResponse,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := newTestClient(tc.rt).Send(context.Background(), render.Embed{Title: "x"})
			if out.Kind != tc.kind {
				t.Fatalf("expected %s got %s", tc.kind, out.Kind)
			}
			if tc.reason != "" && out.Reason != tc.reason {
				t.Fatalf("expected reason %q got %q", tc.reason, out.Reason)
			}
		})
	}
}

func TestSendPostsPayload(t *testing.T) {
	var calls int32
	client := NewClient(Config{
		WebhookURL: testWebhookURL,
		BotName:    "Relay Bot",
		Enabled:    true,
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			atomic.AddInt32(&calls, 1)

			if r.Method != http.MethodPost {
				t.Fatalf("expected POST got %s", r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Fatalf("unexpected content type %q", ct)
			}

			var payload map[string]json.RawMessage
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			if string(payload["username"]) != `"Relay Bot"` {
				t.Fatalf("unexpected username %s", payload["username"])
			}
			if string(payload["avatar_url"]) != "null" {
				t.Fatalf("expected null avatar_url, got %s", payload["avatar_url"])
			}

			var embeds []render.Embed
			if err := json.Unmarshal(payload["embeds"], &embeds); err != nil {
				t.Fatalf("decode embeds: %v", err)
			}
			if len(embeds) != 1 || embeds[0].Title != "🔐 User Login" {
				t.Fatalf("unexpected embeds %+v", embeds)
			}
			if len(embeds[0].Fields) != 1 || embeds[0].Fields[0].Name != render.FieldCauser {
				t.Fatalf("unexpected fields %+v", embeds[0].Fields)
			}

			return respond(http.StatusNoContent, nil, "")(r)
		})},
	}, logging.Discard())

	embed := render.Embed{
		Title:  "🔐 User Login",
		Fields: []render.Field{{Name: render.FieldCauser, Value: "Alice", Inline: true}},
	}
	if out := client.Send(context.Background(), embed); !out.Delivered() {
		t.Fatalf("expected delivery, got %s", out.Error())
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one POST, got %d", got)
	}
}

func TestSendReadsRetryAfter(t *testing.T) {
	header := make(http.Header)
	header.Set("Retry-After", "1.5")
	out := newTestClient(respond(http.StatusTooManyRequests, header, "")).Send(context.Background(), render.Embed{})
	if out.RetryAfter != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s retry-after from header, got %s", out.RetryAfter)
	}

	out = newTestClient(respond(http.StatusTooManyRequests, nil, `{"message":"You are being rate limited.","retry_after":2.25,"global":false}`)).
		Send(context.Background(), render.Embed{})
	if out.RetryAfter != 2250*time.Millisecond {
		t.Fatalf("expected 2.25s retry-after from body, got %s", out.RetryAfter)
	}
}

func TestSendWithoutWebhookURL(t *testing.T) {
	client := NewClient(Config{Enabled: true, HTTPClient: &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})}}, logging.Discard())

	if out := client.Send(context.Background(), render.Embed{}); out.Kind != PermanentFailure {
		t.Fatalf("expected permanent failure, got %s", out.Kind)
	}
}

func TestSendAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/webhooks/42/token") {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ok := NewClient(Config{WebhookURL: srv.URL + "/api/webhooks/42/token", Enabled: true}, logging.Discard())
	if out := ok.Send(context.Background(), render.Embed{Title: "t"}); !out.Delivered() {
		t.Fatalf("expected delivered, got %s", out.Error())
	}

	missing := NewClient(Config{WebhookURL: srv.URL + "/api/webhooks/43/token", Enabled: true}, logging.Discard())
	out := missing.Send(context.Background(), render.Embed{Title: "t"})
	if out.Kind != PermanentFailure || out.StatusCode != http.StatusNotFound {
		t.Fatalf("expected permanent 404, got %+v", out)
	}
}

func TestTestConnectivity(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		rt      roundTripFunc
		success bool
		message string
		detail  string
	}{
		{
			name:    "not configured",
			cfg:     Config{Enabled: true},
			message: "Discord webhook URL not configured",
		},
		{
			name:    "disabled",
			cfg:     Config{WebhookURL: testWebhookURL},
			message: "Discord notifications are disabled",
		},
		{
			name:    "delivered",
			cfg:     Config{WebhookURL: testWebhookURL, Enabled: true},
			rt:      respond(http.StatusNoContent, nil, ""),
			success: true,
			message: "Test webhook sent successfully!",
		},
		{
			name:    "unexpected status",
			cfg:     Config{WebhookURL: testWebhookURL, Enabled: true},
			rt:      respond(http.StatusOK, nil, ""),
			message: "Unexpected response from Discord",
			detail:  "HTTP Status: 200",
		},
		{
			name:    "unauthorized",
			cfg:     Config{WebhookURL: testWebhookURL, Enabled: true},
			rt:      respond(http.StatusUnauthorized, nil, ""),
			message: "Failed to send test webhook",
			detail:  reasonUnauthorized,
		},
		{
			name: "connection error",
			cfg:  Config{WebhookURL: testWebhookURL, Enabled: true},
			rt: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("dial tcp: timeout")
			},
			message: "Failed to send test webhook",
			detail:  reasonNoResponse,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			rt := tc.rt
			tc.cfg.HTTPClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				atomic.AddInt32(&calls, 1)
				if rt == nil {
					t.Fatal("no request expected")
				}
				return rt(r)
			})}

			res := NewClient(tc.cfg, logging.Discard()).TestConnectivity(context.Background(), "testing")
			if res.Success != tc.success || res.Message != tc.message {
				t.Fatalf("unexpected result %+v", res)
			}
			if tc.detail != "" && res.Detail != tc.detail {
				t.Fatalf("expected detail %q got %q", tc.detail, res.Detail)
			}
			if tc.rt == nil && atomic.LoadInt32(&calls) != 0 {
				t.Fatal("expected no network call")
			}
		})
	}
}

func TestMaskURL(t *testing.T) {
	if got := MaskURL(testWebhookURL); got != "Discord webhook ID: 123456789" {
		t.Fatalf("unexpected mask %q", got)
	}
	if strings.Contains(MaskURL(testWebhookURL), "secret-token-value") {
		t.Fatal("token leaked")
	}
	if got := MaskURL("https://example.com/hook"); got != "Discord webhook URL (masked)" {
		t.Fatalf("unexpected mask %q", got)
	}
}

func TestTransportErrorDoesNotLeakToken(t *testing.T) {
	var logs bytes.Buffer
	client := NewClient(Config{
		WebhookURL: testWebhookURL,
		BotName:    "Activity Logger",
		Enabled:    true,
		HTTPClient: &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		})},
	}, slog.New(slog.NewTextHandler(&logs, nil)))

	out := client.Send(context.Background(), render.Embed{Title: "t"})
	if out.Kind != RetryableFailure {
		t.Fatalf("expected retryable failure, got %v", out.Kind)
	}
	if !strings.Contains(out.Error(), "connection refused") {
		t.Fatalf("expected transport cause in %q", out.Error())
	}

	res := client.TestConnectivity(context.Background(), "testing")
	if res.Success {
		t.Fatal("expected connectivity test to fail")
	}

	for name, text := range map[string]string{
		"outcome": out.Error(),
		"detail":  res.Detail,
		"logs":    logs.String(),
	} {
		if strings.Contains(text, "secret-token-value") {
			t.Fatalf("webhook token in %s: %s", name, text)
		}
	}
}

func TestTransportErrorKeepsCause(t *testing.T) {
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		return nil, context.DeadlineExceeded
	})

	out := client.Send(context.Background(), render.Embed{Title: "t"})
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline error, got %v", out.Err)
	}
}

func TestOutcomeError(t *testing.T) {
	if (Outcome{Kind: Delivered, StatusCode: 204}).Error() != "" {
		t.Fatal("expected empty error for delivered outcome")
	}
	out := Outcome{Kind: PermanentFailure, StatusCode: 404, Reason: reasonNotFound}
	if got := out.Error(); got != "HTTP 404: "+reasonNotFound {
		t.Fatalf("unexpected error text %q", got)
	}
}
