// SPDX-License-Identifier: Apache-2.0

// Package render turns activity records into size-bounded, secret-free
// webhook embeds. Everything here is pure: no I/O, no global state, and the
// current time is always passed in.
package render

import (
	"time"

	"github.com/adiadia/activity-relay/internal/config"
	"github.com/adiadia/activity-relay/internal/domain"
)

const (
	FieldCauser     = "Performed by"
	FieldSubject    = "Subject"
	FieldProperties = "Details"

	footerDateLayout = "Jan 2, 2006"
)

type Embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Timestamp   string  `json:"timestamp,omitempty"`
	Fields      []Field `json:"fields"`
	Footer      Footer  `json:"footer"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type Footer struct {
	Text string `json:"text"`
}

// FieldByName returns the named field, if present.
func (e Embed) FieldByName(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

type Style struct {
	Color int
	Icon  string
}

type Options struct {
	AppName          string
	MaxTitle         int
	MaxDescription   int
	MaxField         int
	MaxProperties    int
	MaxPropertyValue int
	Sensitive        map[string]struct{}
}

func DefaultOptions() Options {
	return Options{
		AppName:          "Activity Relay",
		MaxTitle:         256,
		MaxDescription:   2048,
		MaxField:         1024,
		MaxProperties:    10,
		MaxPropertyValue: 100,
		Sensitive:        SensitiveSet(config.DefaultSensitiveFields()),
	}
}

// NewOptions builds render options from configuration; non-positive limits
// keep their defaults.
func NewOptions(appName string, limits config.Limits, sensitive []string) Options {
	opts := DefaultOptions()
	if appName != "" {
		opts.AppName = appName
	}
	setPositive(&opts.MaxTitle, limits.Title)
	setPositive(&opts.MaxDescription, limits.Description)
	setPositive(&opts.MaxField, limits.Field)
	setPositive(&opts.MaxProperties, limits.PropertyCount)
	setPositive(&opts.MaxPropertyValue, limits.PropertyValue)
	if len(sensitive) > 0 {
		opts.Sensitive = SensitiveSet(sensitive)
	}
	return opts
}

func setPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// Parties holds the resolved causer and subject; either may be nil.
type Parties struct {
	Causer  *Party
	Subject *Party
}

func BuildEmbed(rec domain.EventRecord, parties Parties, style Style, opts Options, now time.Time) Embed {
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}

	embed := Embed{
		Title:       Truncate(style.Icon+" "+HumanizeEventType(rec.EventType), opts.MaxTitle),
		Description: Truncate(rec.Description, opts.MaxDescription),
		Color:       style.Color,
		Timestamp:   created.UTC().Format(time.RFC3339),
		Fields:      []Field{},
		Footer:      Footer{Text: footerText(opts, now)},
	}

	if parties.Causer != nil {
		embed.Fields = append(embed.Fields, Field{
			Name:   FieldCauser,
			Value:  Truncate(DisplayValue(*parties.Causer, FallbackCauser), opts.MaxField),
			Inline: true,
		})
	}

	if parties.Subject != nil {
		embed.Fields = append(embed.Fields, Field{
			Name:   FieldSubject,
			Value:  Truncate(DisplayValue(*parties.Subject, FallbackSubject), opts.MaxField),
			Inline: true,
		})
	}

	if details := FormatProperties(rec.Properties, opts); details != "" {
		embed.Fields = append(embed.Fields, Field{
			Name:   FieldProperties,
			Value:  details,
			Inline: false,
		})
	}

	return embed
}

func footerText(opts Options, now time.Time) string {
	return Truncate(opts.AppName+" • "+now.Format(footerDateLayout), opts.MaxField)
}

// TestEmbed is the message sent by the connectivity check.
func TestEmbed(opts Options, env string, now time.Time) Embed {
	return Embed{
		Title:       "🧪 Webhook Test",
		Description: "This is a test message to verify your Discord webhook integration is working correctly.",
		Color:       0x00ff00,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Fields: []Field{
			{Name: "Application", Value: Truncate(opts.AppName, opts.MaxField), Inline: true},
			{Name: "Environment", Value: Truncate(env, opts.MaxField), Inline: true},
			{Name: "Test Time", Value: now.Format("2006-01-02 15:04:05 MST"), Inline: false},
		},
		Footer: Footer{Text: "Activity Relay"},
	}
}
