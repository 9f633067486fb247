// SPDX-License-Identifier: Apache-2.0

package render

import "github.com/adiadia/activity-relay/internal/domain"

// MaskToken replaces the value of every sensitive property.
const MaskToken = "[HIDDEN]"

// maxAttributeLength bounds string attributes captured from models.
const maxAttributeLength = 500

// SensitiveSet builds the exact-match lookup used by Redact.
func SensitiveSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	return set
}

// Redact returns a copy of props where every top-level key that exactly
// matches a sensitive name carries MaskToken instead of its value.
func Redact(props domain.Properties, sensitive map[string]struct{}) domain.Properties {
	if len(props) == 0 || len(sensitive) == 0 {
		return props
	}

	out := props.Clone()
	for i := range out {
		if _, hidden := sensitive[out[i].Key]; hidden {
			out[i].Value = MaskToken
		}
	}
	return out
}

// SanitizeAttributes redacts model attributes and caps long string values.
// Used before attributes are stored as event properties.
func SanitizeAttributes(attrs domain.Properties, sensitive map[string]struct{}) domain.Properties {
	out := Redact(attrs, sensitive).Clone()
	for i := range out {
		if s, ok := out[i].Value.(string); ok {
			out[i].Value = Truncate(s, maxAttributeLength)
		}
	}
	return out
}
