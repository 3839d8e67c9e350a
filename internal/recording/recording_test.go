package recording

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brennhill/autoqa-engine/internal/config"
	"github.com/brennhill/autoqa-engine/internal/inputcapture"
	"github.com/brennhill/autoqa-engine/internal/types"
)

func testRecorderConfig(dir string) config.RecorderConfig {
	return config.RecorderConfig{
		OutputDir:       dir,
		SessionPrefix:   "sess",
		RedactTypes:     []string{"password"},
		RedactSelectors: nil,
	}
}

func TestStartAppendStop(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := inputcapture.NewSource()

	m, err := Start(testRecorderConfig(dir), "chromium", nil, src, "sess-test1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	lockPath := config.RecordingLockPath(dir)
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}

	if err := m.Append(types.RecordedEvent{Timestamp: "t1", EventType: types.EventNavigate, URL: "https://example.test"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if m.EventCount() != 1 {
		t.Fatalf("expected 1 event, got %d", m.EventCount())
	}

	finalSession, path, err := m.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if finalSession.EndedAt == "" {
		t.Error("expected EndedAt to be set")
	}
	if filepath.Base(path) != "sess-test1.json" {
		t.Errorf("unexpected persisted path: %s", path)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("expected lock file to be removed after stop")
	}
}

func TestStopIsNotReentrant(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m, err := Start(testRecorderConfig(dir), "chromium", nil, nil, "sess-test2")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := m.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if _, _, err := m.Stop(); err == nil {
		t.Fatal("expected second stop to fail")
	}
}

func TestAppendAfterStopFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m, err := Start(testRecorderConfig(dir), "chromium", nil, nil, "sess-test3")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := m.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := m.Append(types.RecordedEvent{EventType: types.EventWait}); err == nil {
		t.Fatal("expected append after stop to fail")
	}
}

func TestHandleRawRecordsInputEventWithoutConnector(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := inputcapture.NewSource()
	m, err := Start(testRecorderConfig(dir), "chromium", nil, src, "sess-test4")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.handleRaw(context.Background(), inputcapture.RawEvent{
		Timestamp: "t1",
		EventType: "INPUT",
	}); err != nil {
		t.Fatalf("handleRaw: %v", err)
	}
	if m.EventCount() != 1 {
		t.Fatalf("expected event recorded, got %d", m.EventCount())
	}
}

func TestWatchStopSignalFiresOnLockRemoval(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	lockPath := filepath.Join(dir, ".lock")
	if err := os.WriteFile(lockPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stopped := WatchStopSignal(ctx, lockPath, 50*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	os.Remove(lockPath)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("expected stop signal after lock file removal")
	}
}
