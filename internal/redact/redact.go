// Package redact is the L4 field redactor (§4.4): it inspects
// INPUT-type events only and replaces sensitive values with a fixed
// placeholder before they ever reach M1 persistence, so no plaintext
// secret is written to disk (non-goal: no plaintext persistence of
// sensitive fields).
//
// Grounded on gasoline-mcp's internal/redaction/redaction.go
// (RedactionEngine: compiled regex patterns plus a placeholder
// substitution), but retargeted from "redact secrets out of MCP response
// text" to "decide, from element identity, whether an INPUT event's
// value is sensitive at all" — a classification problem, not a text scan,
// since recorded element identity (type=password, name=ssn, css
// containing "credit-card") is a much stronger signal than the raw typed
// string.
package redact

import (
	"regexp"
	"strings"

	"github.com/brennhill/autoqa-engine/internal/types"
)

// Placeholder replaces a redacted value in both ElementInfo.Value and
// InputData.Keys.
const Placeholder = "[REDACTED]"

// defaultSensitiveNamePattern matches id/name tokens that indicate a
// sensitive field (§4.4's configurable pattern, given a conservative
// built-in default).
var defaultSensitiveNamePattern = regexp.MustCompile(`(?i)pass|secret|token|credit|card|cvv|ssn|pin|otp`)

// Rules configures what the redactor treats as sensitive (§6
// recorder.redact.types / recorder.redact.selectors).
type Rules struct {
	// Types is the set of HTML input `type` attribute values treated as
	// sensitive outright (e.g. "password").
	Types map[string]bool
	// SelectorSubstrings is a list of raw substrings; any css path
	// containing one is treated as sensitive regardless of type/name.
	SelectorSubstrings []string
	// NamePattern overrides defaultSensitiveNamePattern when non-nil.
	NamePattern *regexp.Regexp
}

// DefaultRules matches §6's recorder.redact.types default
// ([]string{"password"}).
func DefaultRules() Rules {
	return Rules{Types: map[string]bool{"password": true}}
}

func (r Rules) namePattern() *regexp.Regexp {
	if r.NamePattern != nil {
		return r.NamePattern
	}
	return defaultSensitiveNamePattern
}

// IsSensitive reports whether el identifies a field this engine must
// redact, checking type, id/name, and css-path substring in that order.
func (r Rules) IsSensitive(el *types.ElementInfo) bool {
	if el == nil {
		return false
	}
	if r.Types[strings.ToLower(el.Type)] {
		return true
	}
	if r.namePattern().MatchString(el.ID) || r.namePattern().MatchString(el.Name) {
		return true
	}
	for _, sub := range r.SelectorSubstrings {
		if sub != "" && strings.Contains(el.CSS, sub) {
			return true
		}
	}
	return false
}

// Redact mutates a copy of ev in place: if ev is an INPUT event whose
// element matches Rules, its element.value and inputData.keys are
// replaced with Placeholder. Non-INPUT events and non-sensitive INPUT
// events pass through unchanged. Redaction is idempotent: redacting an
// already-redacted event is a no-op.
func Redact(rules Rules, ev types.RecordedEvent) types.RecordedEvent {
	if ev.EventType != types.EventInput {
		return ev
	}
	if !rules.IsSensitive(ev.Element) {
		return ev
	}

	if ev.Element != nil {
		redactedElement := *ev.Element
		redactedElement.Value = Placeholder
		ev.Element = &redactedElement
	}
	if ev.InputData != nil && ev.InputData.Keys != nil {
		redactedInput := *ev.InputData
		placeholder := Placeholder
		redactedInput.Keys = &placeholder
		ev.InputData = &redactedInput
	}
	return ev
}
