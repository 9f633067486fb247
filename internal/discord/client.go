// SPDX-License-Identifier: Apache-2.0

// Package discord posts rendered embeds to a Discord webhook and classifies
// the response. It never retries; that is the dispatcher's job.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/adiadia/activity-relay/internal/config"
	"github.com/adiadia/activity-relay/internal/metrics"
	"github.com/adiadia/activity-relay/internal/render"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultRateBurst      = 5
	defaultRateInterval   = 2 * time.Second
)

type Config struct {
	WebhookURL     string
	BotName        string
	AvatarURL      string
	Enabled        bool
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	RateBurst      int
	RateInterval   time.Duration
	Render         render.Options

	// HTTPClient replaces the default client, mostly for tests.
	HTTPClient *http.Client
}

// ConfigFrom extracts the client settings from the application config.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		WebhookURL:     cfg.Discord.WebhookURL,
		BotName:        cfg.Discord.BotName,
		AvatarURL:      cfg.Discord.AvatarURL,
		Enabled:        cfg.Notifications.Enabled,
		RequestTimeout: cfg.Discord.RequestTimeout,
		ConnectTimeout: cfg.Discord.ConnectTimeout,
		RateBurst:      cfg.Discord.RateBurst,
		RateInterval:   cfg.Discord.RateInterval,
		Render:         render.NewOptions(cfg.AppName, cfg.Limits, cfg.Notifications.SensitiveFields),
	}
}

type Client struct {
	webhookURL string
	botName    string
	avatarURL  string
	enabled    bool
	opts       render.Options

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(cfg.RequestTimeout, cfg.ConnectTimeout)
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}
	interval := cfg.RateInterval
	if interval <= 0 {
		interval = defaultRateInterval
	}

	opts := cfg.Render
	if opts.MaxField == 0 {
		opts = render.DefaultOptions()
	}

	return &Client{
		webhookURL: strings.TrimSpace(cfg.WebhookURL),
		botName:    cfg.BotName,
		avatarURL:  strings.TrimSpace(cfg.AvatarURL),
		enabled:    cfg.Enabled,
		opts:       opts,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(interval/time.Duration(burst)), burst),
		logger:     logger,
		now:        time.Now,
	}
}

func newHTTPClient(requestTimeout, connectTimeout time.Duration) *http.Client {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout

	return &http.Client{
		Timeout:   requestTimeout,
		Transport: transport,
	}
}

// Configured reports whether a webhook URL is set.
func (c *Client) Configured() bool {
	return c.webhookURL != ""
}

type webhookPayload struct {
	Username  string         `json:"username"`
	AvatarURL *string        `json:"avatar_url"`
	Embeds    []render.Embed `json:"embeds"`
}

// Send performs exactly one POST of embed and classifies the response.
func (c *Client) Send(ctx context.Context, embed render.Embed) Outcome {
	start := time.Now()
	out := c.send(ctx, embed)
	metrics.ObserveWebhookRequest(out.Kind.String(), time.Since(start))
	return out
}

func (c *Client) send(ctx context.Context, embed render.Embed) Outcome {
	if c.webhookURL == "" {
		return Outcome{Kind: PermanentFailure, Reason: "Discord webhook URL not configured"}
	}

	payload := webhookPayload{
		Username: c.botName,
		Embeds:   []render.Embed{embed},
	}
	if c.avatarURL != "" {
		payload.AvatarURL = &c.avatarURL
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Kind: PermanentFailure, Reason: "webhook payload marshal failed", Err: err}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Outcome{Kind: RetryableFailure, Reason: "rate limiter wait aborted", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: PermanentFailure, Reason: "webhook request build failed", Err: stripURL(err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = stripURL(err)
		c.logger.Warn("discord webhook request failed",
			"webhook", MaskURL(c.webhookURL),
			"error", err,
		)
		return Outcome{Kind: RetryableFailure, Reason: reasonNoResponse, Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	out := classify(resp.StatusCode)
	if resp.StatusCode == http.StatusTooManyRequests {
		out.RetryAfter = retryAfter(resp.Header, respBody)
	}

	if !out.Delivered() {
		c.logger.Warn("discord webhook rejected",
			"webhook", MaskURL(c.webhookURL),
			"response_status", resp.StatusCode,
			"outcome", out.Kind.String(),
			"reason", out.Reason,
		)
	}
	return out
}

// retryAfter reads the Retry-After header, or the retry_after field Discord
// puts in 429 bodies. Both are seconds and may be fractional.
func retryAfter(h http.Header, body []byte) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}

	var rl struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if len(body) > 0 && json.Unmarshal(body, &rl) == nil && rl.RetryAfter > 0 {
		return time.Duration(rl.RetryAfter * float64(time.Second))
	}
	return 0
}

type ConnectivityResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Detail  string `json:"details"`
}

// TestConnectivity sends the test embed, after checking that delivery is
// configured and enabled at all.
func (c *Client) TestConnectivity(ctx context.Context, env string) ConnectivityResult {
	if c.webhookURL == "" {
		return ConnectivityResult{
			Message: "Discord webhook URL not configured",
			Detail:  "Please set DISCORD_WEBHOOK_URL in your environment",
		}
	}
	if !c.enabled {
		return ConnectivityResult{
			Message: "Discord notifications are disabled",
			Detail:  "Please set ACTIVITY_LOG_DISCORD_ENABLED=true in your environment",
		}
	}

	out := c.Send(ctx, render.TestEmbed(c.opts, env, c.now()))
	switch out.Kind {
	case Delivered:
		return ConnectivityResult{
			Success: true,
			Message: "Test webhook sent successfully!",
			Detail:  "Check your Discord channel for the test message.",
		}
	case UnexpectedResponse:
		return ConnectivityResult{
			Message: "Unexpected response from Discord",
			Detail:  fmt.Sprintf("HTTP Status: %d", out.StatusCode),
		}
	default:
		c.logger.Error("discord webhook test failed",
			"webhook", MaskURL(c.webhookURL),
			"status_code", out.StatusCode,
			"error", out.Error(),
		)
		return ConnectivityResult{
			Message: "Failed to send test webhook",
			Detail:  errorDetails(out),
		}
	}
}

func errorDetails(out Outcome) string {
	if out.StatusCode == 0 {
		if out.Reason == reasonNoResponse {
			return reasonNoResponse
		}
		if out.Err != nil {
			return out.Err.Error()
		}
		return out.Reason
	}
	if out.Reason == "" {
		return fmt.Sprintf("HTTP %d error", out.StatusCode)
	}
	return out.Reason
}

// stripURL drops the request URL net/http puts into transport errors, since
// the webhook URL carries the token.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s webhook: %w", ue.Op, ue.Err)
	}
	return err
}

var webhookIDPattern = regexp.MustCompile(`webhooks/(\d+)/`)

// MaskURL hides the webhook token. Only masked URLs are logged.
func MaskURL(raw string) string {
	if m := webhookIDPattern.FindStringSubmatch(raw); m != nil {
		return "Discord webhook ID: " + m[1]
	}
	return "Discord webhook URL (masked)"
}
