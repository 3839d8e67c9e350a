// Package session owns on-disk persistence of RecordedSession documents
// (§3, §4.6) and the sqlite catalog used for fast listing. It generalizes
// gasoline-mcp's
// internal/capture/recording.go persistRecordingToDisk/loadRecordingFromDisk
// pair: same atomic-write-then-rename discipline, same path-traversal
// guard on sessionId, now validating against the richer RecordedEvent model
// instead of gasoline-mcp's flat RecordingAction.
package session

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
	"github.com/brennhill/autoqa-engine/internal/types"
)

// idPattern matches the sessionId values this engine produces and accepts;
// anything else is rejected before it ever reaches a filesystem path,
// generalizing gasoline-mcp's validateRecordingID guard.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// unsafeIDChars matches every character outside the safe sessionId
// alphabet, for SanitizeSessionID's replace-don't-reject use (§4.10).
var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ValidateSessionID rejects path-traversal and other unsafe sessionId
// values before they are used to build a filesystem path for session
// storage, where a sessionId is expected to be one this engine itself
// generated or accepted at recording time.
func ValidateSessionID(id string) error {
	if !idPattern.MatchString(id) {
		return apierrors.Newf(apierrors.KindConfig, "invalid sessionId %q", id)
	}
	return nil
}

// SanitizeSessionID replaces every character outside [A-Za-z0-9_-] with
// "_" (§4.10) rather than rejecting the id outright, so evidence
// collection always has a directory to write to for an opaque but
// otherwise-valid sessionId (invariant 3: an evidence directory exists
// for every failed step, regardless of what the caller supplied).
func SanitizeSessionID(id string) string {
	if id == "" {
		return "_"
	}
	return unsafeIDChars.ReplaceAllString(id, "_")
}

// SessionFileName returns the on-disk file name for a sessionId.
func SessionFileName(sessionID string) string {
	return sessionID + ".json"
}

// Document is a parsed session plus any top-level JSON fields this version
// of the engine does not understand. Round-tripping a Document through
// Serialize(Parse(data)) preserves those fields verbatim (§3 invariant:
// unknown fields survive round-trip).
type Document struct {
	Session types.RecordedSession
	Extra   map[string]json.RawMessage
}

var knownTopLevelFields = map[string]bool{
	"sessionId": true, "browserName": true, "startedAt": true,
	"endedAt": true, "schemaVersion": true, "events": true,
}

// Parse decodes raw session JSON, validating every event's eventType
// against the closed enum (invariant 1: an unknown eventType is a
// Config failure, never a silently skipped event) and preserving any
// top-level fields this schema version does not recognize.
func Parse(data []byte) (*Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfig, "malformed session JSON", err)
	}

	var session types.RecordedSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfig, "malformed session document", err)
	}

	for i, ev := range session.Events {
		if !ev.EventType.Valid() {
			return nil, apierrors.Newf(apierrors.KindConfig,
				"event %d has unknown eventType %q", i, ev.EventType)
		}
		if ev.EventType.RequiresElement() && !ev.Element.HasAnyLocatableField() {
			return nil, apierrors.Newf(apierrors.KindConfig,
				"event %d (%s) has no locatable element field", i, ev.EventType)
		}
	}

	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if !knownTopLevelFields[k] {
			extra[k] = v
		}
	}

	return &Document{Session: session, Extra: extra}, nil
}

// Serialize encodes a Document back to indented JSON, merging back any
// unrecognized top-level fields captured at Parse time.
func Serialize(doc *Document) ([]byte, error) {
	known, err := json.Marshal(doc.Session)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfig, "encoding session", err)
	}
	if len(doc.Extra) == 0 {
		return indent(known)
	}

	merged := make(map[string]json.RawMessage, len(doc.Extra)+6)
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfig, "re-decoding session", err)
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	for k, v := range doc.Extra {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfig, "encoding merged session", err)
	}
	return indent(out)
}

func indent(data []byte) ([]byte, error) {
	var buf []byte
	dst := &jsonBuffer{&buf}
	if err := json.Indent(dst, data, "", "  "); err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfig, "indenting session JSON", err)
	}
	return buf, nil
}

// jsonBuffer adapts a *[]byte to io.Writer for json.Indent without pulling
// in bytes.Buffer just for this one call site.
type jsonBuffer struct {
	buf *[]byte
}

func (b *jsonBuffer) Write(p []byte) (int, error) {
	*b.buf = append(*b.buf, p...)
	return len(p), nil
}

// SanitizedEvidencePath mirrors gasoline-mcp's path-sanitization discipline
// for evidence directories keyed by sessionId (§4.10).
func SanitizedEvidencePath(evidenceDir, sessionID string, stepIndex int) string {
	return filepath.Join(evidenceDir, SanitizeSessionID(sessionID), fmt.Sprintf("%d", stepIndex))
}
