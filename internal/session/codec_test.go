package session

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/brennhill/autoqa-engine/internal/types"
)

func sampleSession() types.RecordedSession {
	return types.RecordedSession{
		SessionID:     "sess-abc123",
		BrowserName:   "chromium",
		StartedAt:     "2026-07-30T10:00:00.000Z",
		SchemaVersion: types.SchemaVersion,
		Events: []types.RecordedEvent{
			{
				Timestamp: "2026-07-30T10:00:01.000Z",
				EventType: types.EventNavigate,
				URL:       "https://example.test/login",
			},
			{
				Timestamp: "2026-07-30T10:00:02.000Z",
				EventType: types.EventClick,
				Element:   &types.ElementInfo{TagName: "button", ID: "submit"},
			},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	doc := &Document{Session: sampleSession(), Extra: map[string]json.RawMessage{}}
	data, err := Serialize(doc)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Session.SessionID != doc.Session.SessionID {
		t.Errorf("sessionId mismatch: got %q", parsed.Session.SessionID)
	}
	if len(parsed.Session.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(parsed.Session.Events))
	}
	if parsed.Session.Events[1].Element.ID != "submit" {
		t.Errorf("expected element id to survive round trip")
	}
}

func TestParseRejectsUnknownEventType(t *testing.T) {
	t.Parallel()
	raw := `{
		"sessionId": "sess-bad",
		"browserName": "chromium",
		"startedAt": "2026-07-30T10:00:00.000Z",
		"schemaVersion": 1,
		"events": [{"timestamp": "2026-07-30T10:00:01.000Z", "eventType": "TELEPORT"}]
	}`
	if _, err := Parse([]byte(raw)); err == nil {
		t.Fatal("expected error for unknown eventType")
	}
}

func TestParseRejectsElementlessClick(t *testing.T) {
	t.Parallel()
	raw := `{
		"sessionId": "sess-bad2",
		"browserName": "chromium",
		"startedAt": "2026-07-30T10:00:00.000Z",
		"schemaVersion": 1,
		"events": [{"timestamp": "2026-07-30T10:00:01.000Z", "eventType": "CLICK"}]
	}`
	if _, err := Parse([]byte(raw)); err == nil {
		t.Fatal("expected error for CLICK event with no element")
	}
}

func TestUnknownTopLevelFieldsPreserved(t *testing.T) {
	t.Parallel()
	raw := `{
		"sessionId": "sess-extra",
		"browserName": "chromium",
		"startedAt": "2026-07-30T10:00:00.000Z",
		"schemaVersion": 1,
		"events": [],
		"futureField": {"nested": true}
	}`
	doc, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := doc.Extra["futureField"]; !ok {
		t.Fatal("expected futureField to be preserved in Extra")
	}

	out, err := Serialize(doc)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	reparsed, err := Parse(out)
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if _, ok := reparsed.Extra["futureField"]; !ok {
		t.Error("expected futureField to survive a second round trip")
	}
}

func TestValidateSessionIDRejectsTraversal(t *testing.T) {
	t.Parallel()
	for _, bad := range []string{"../escape", "a/b", "", "sess with spaces"} {
		if err := ValidateSessionID(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
	if err := ValidateSessionID("sess-ok_123"); err != nil {
		t.Errorf("expected valid id to be accepted: %v", err)
	}
}

func TestSanitizeSessionIDReplacesRatherThanRejects(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"sess-ok_123":      "sess-ok_123",
		"../escape":        "___escape",
		"a/b":              "a_b",
		"sess with spaces": "sess_with_spaces",
		"":                 "_",
	}
	for in, want := range cases {
		if got := SanitizeSessionID(in); got != want {
			t.Errorf("SanitizeSessionID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizedEvidencePathNeverRejectsAnOpaqueID(t *testing.T) {
	t.Parallel()
	path := SanitizedEvidencePath("/tmp/evidence", "../../etc/passwd", 3)
	if path != filepath.Join("/tmp/evidence", "______etc_passwd", "3") {
		t.Errorf("unexpected sanitized evidence path: %q", path)
	}
}
