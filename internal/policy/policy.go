// SPDX-License-Identifier: Apache-2.0

// Package policy decides whether and how an event is dispatched. It only
// looks at configuration captured at construction time.
package policy

import (
	"strings"

	"github.com/adiadia/activity-relay/internal/config"
	"github.com/adiadia/activity-relay/internal/domain"
)

// Mode describes how a qualifying event is handed to the dispatcher.
type Mode struct {
	Queued     bool
	Connection string
	Queue      string
}

func (m Mode) String() string {
	if !m.Queued {
		return "synchronous"
	}
	return "queued(" + m.Connection + "/" + m.Queue + ")"
}

type Policy struct {
	enabled    bool
	configured bool
	mode       Mode
	events     map[string]config.EventConfig
	fallback   config.EventConfig
}

var defaultStyle = config.EventConfig{Color: 0x9900ff, Icon: "📝"}

func New(cfg config.Notifications) *Policy {
	events := make(map[string]config.EventConfig, len(cfg.Events))
	for name, ev := range cfg.Events {
		events[name] = ev
	}

	fallback, ok := events[domain.EventCustom]
	if !ok {
		fallback = defaultStyle
	}
	if fallback.Icon == "" {
		fallback.Icon = defaultStyle.Icon
	}
	if fallback.Color == 0 {
		fallback.Color = defaultStyle.Color
	}

	connection := strings.TrimSpace(cfg.QueueConnection)
	if connection == "" {
		connection = "default"
	}
	queue := strings.TrimSpace(cfg.QueueName)
	if queue == "" {
		queue = "discord-notifications"
	}

	return &Policy{
		enabled:    cfg.Enabled,
		configured: strings.TrimSpace(cfg.WebhookURL) != "",
		mode: Mode{
			Queued:     cfg.Queue,
			Connection: connection,
			Queue:      queue,
		},
		events:   events,
		fallback: fallback,
	}
}

func (p *Policy) Enabled() bool {
	return p.enabled
}

func (p *Policy) Configured() bool {
	return p.configured
}

// EventEnabled reports the per-type flag. Unknown types use the custom entry.
func (p *Policy) EventEnabled(eventType string) bool {
	if ev, ok := p.events[eventType]; ok {
		return ev.IsEnabled()
	}
	return p.fallback.IsEnabled()
}

func (p *Policy) ShouldDispatch(eventType string) bool {
	return p.enabled && p.configured && p.EventEnabled(eventType)
}

func (p *Policy) DeliveryMode() Mode {
	return p.mode
}

// EventStyle returns color and icon for the type, falling back to the
// custom entry for unknown types and for missing fields.
func (p *Policy) EventStyle(eventType string) config.EventConfig {
	ev, ok := p.events[eventType]
	if !ok {
		return p.fallback
	}
	if ev.Icon == "" {
		ev.Icon = p.fallback.Icon
	}
	if ev.Color == 0 {
		ev.Color = p.fallback.Color
	}
	return ev
}
