// SPDX-License-Identifier: Apache-2.0

package render

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Ellipsis marks text that was cut to fit a limit.
const Ellipsis = "..."

// Truncate cuts s to at most max runes, ending with Ellipsis when anything
// was removed. Strings already within bounds are returned unchanged, so
// Truncate is idempotent. max <= 0 disables the limit.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= len(Ellipsis) {
		return Ellipsis[:max]
	}

	runes := []rune(s)
	return string(runes[:max-len(Ellipsis)]) + Ellipsis
}

// HumanizeEventType turns "user.password_reset" into "User Password Reset".
func HumanizeEventType(eventType string) string {
	return upperWords(strings.NewReplacer(".", " ", "_", " ").Replace(eventType))
}

// HumanizeKey turns "user_agent" or "user-agent" into "User Agent".
func HumanizeKey(key string) string {
	return upperWords(strings.NewReplacer("_", " ", "-", " ").Replace(key))
}

// upperWords upper-cases the first letter of every whitespace separated word
// and leaves the rest of each word as is.
func upperWords(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	atWordStart := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			atWordStart = true
			b.WriteRune(r)
			continue
		}
		if atWordStart {
			r = unicode.ToUpper(r)
			atWordStart = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
