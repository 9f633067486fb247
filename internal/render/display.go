// SPDX-License-Identifier: Apache-2.0

package render

import (
	"strings"

	"github.com/adiadia/activity-relay/internal/domain"
)

const (
	FallbackCauser  = "Unknown User"
	FallbackSubject = "Unknown Subject"
)

// DisplayNamer is implemented by entities that know how to present themselves.
type DisplayNamer interface {
	DisplayName() string
}

// AttributeSource exposes named string attributes of an entity.
type AttributeSource interface {
	Attribute(name string) (string, bool)
}

// AttributeLister exposes all captured attributes of an entity.
type AttributeLister interface {
	Attributes() domain.Properties
}

// conventionalAttributes are checked in order when an entity has no DisplayName.
var conventionalAttributes = []string{"name", "email", "title", "label", "display_name"}

// Party is a subject or causer reference together with the result of
// resolving it. Entity is nil when no resolver knows the type.
type Party struct {
	Ref    domain.Ref
	Entity any
	Err    error
}

// DisplayValue resolves the human readable label of an entity. A resolved
// entity wins over the name captured on the ref.
func DisplayValue(p Party, fallback string) string {
	if p.Err != nil {
		return fallback
	}
	if name, ok := EntityName(p.Entity); ok {
		return name
	}
	if name := strings.TrimSpace(p.Ref.Name); name != "" {
		return name
	}
	if p.Ref.Type == "" && p.Ref.ID == "" {
		return fallback
	}
	return ShortTypeName(p.Ref.Type) + " #" + p.Ref.ID
}

// EntityName returns the DisplayName of e, or the first non-empty
// conventional attribute.
func EntityName(e any) (string, bool) {
	if dn, ok := e.(DisplayNamer); ok {
		if name := strings.TrimSpace(dn.DisplayName()); name != "" {
			return name, true
		}
	}
	if attrs, ok := e.(AttributeSource); ok {
		for _, field := range conventionalAttributes {
			if v, ok := attrs.Attribute(field); ok && strings.TrimSpace(v) != "" {
				return v, true
			}
		}
	}
	if lister, ok := e.(AttributeLister); ok {
		props := lister.Attributes()
		for _, field := range conventionalAttributes {
			if v, ok := props.Get(field); ok {
				if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
					return s, true
				}
			}
		}
	}
	return "", false
}

// ShortTypeName strips any package or namespace qualifier from a type name.
func ShortTypeName(typeName string) string {
	if i := strings.LastIndexAny(typeName, `./\`); i >= 0 && i < len(typeName)-1 {
		return typeName[i+1:]
	}
	return typeName
}
