package session

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestSaveLoadDelete(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	doc := &Document{Session: sampleSession(), Extra: map[string]json.RawMessage{}}

	path, err := Save(dir, doc)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if filepath.Base(path) != "sess-abc123.json" {
		t.Errorf("unexpected file name: %s", path)
	}

	loaded, err := Load(dir, "sess-abc123")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Session.Events) != len(doc.Session.Events) {
		t.Errorf("event count mismatch after load")
	}

	if err := Delete(dir, "sess-abc123"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := Load(dir, "sess-abc123"); err == nil {
		t.Fatal("expected load to fail after delete")
	}
}

func TestSaveRejectsBadSessionID(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	doc := &Document{Session: sampleSession()}
	doc.Session.SessionID = "../escape"
	if _, err := Save(dir, doc); err == nil {
		t.Fatal("expected save to reject path-traversal sessionId")
	}
}
