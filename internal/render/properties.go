// SPDX-License-Identifier: Apache-2.0

package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/adiadia/activity-relay/internal/domain"
)

// FormatProperties renders props as "**Key**: value" lines. Sensitive keys
// are masked first, then every value, the line count and the whole text are
// capped according to opts.
func FormatProperties(props domain.Properties, opts Options) string {
	props = Redact(props, opts.Sensitive)
	if len(props) == 0 {
		return ""
	}

	lines := make([]string, 0, min(len(props), opts.MaxProperties)+1)
	for i, prop := range props {
		if opts.MaxProperties > 0 && i >= opts.MaxProperties {
			lines = append(lines, fmt.Sprintf("... and %d more properties", len(props)-opts.MaxProperties))
			break
		}
		lines = append(lines, fmt.Sprintf("**%s**: %s", HumanizeKey(prop.Key), formatValue(prop.Value, opts.MaxPropertyValue)))
	}

	return Truncate(strings.Join(lines, "\n"), opts.MaxField)
}

func formatValue(v any, max int) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	case string:
		return Truncate(val, max)
	case json.Number:
		return Truncate(val.String(), max)
	case json.RawMessage:
		return Truncate(compactJSON(val), max)
	case fmt.Stringer:
		return Truncate(val.String(), max)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "null"
		}
		return formatValue(rv.Elem().Interface(), max)
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		raw, err := marshalCompact(v)
		if err != nil {
			return Truncate(fmt.Sprint(v), max)
		}
		return Truncate(raw, max)
	default:
		return Truncate(fmt.Sprint(v), max)
	}
}

func compactJSON(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// marshalCompact encodes without HTML escaping so URLs and markup read
// naturally in the chat message.
func marshalCompact(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
