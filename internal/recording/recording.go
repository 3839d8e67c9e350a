// Package recording is M1, the recording session (§4.5): it
// correlates L3 raw input events with L2 DOM enrichment, applies the L4
// redactor, and appends the result to an in-memory RecordedSession that
// persists through M2 on Stop.
//
// Grounded on gasoline-mcp's internal/capture/recording.go RecordingManager
// (StartRecording/AddRecordingAction/StopRecording lifecycle, the
// persistRecordingToDisk atomic-write pattern now in internal/session,
// and the storage quota/warning discipline now in internal/session.Catalog),
// generalized from gasoline-mcp's flat RecordingAction model to the
// richer RecordedEvent model in internal/types.
package recording

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
	"github.com/brennhill/autoqa-engine/internal/config"
	"github.com/brennhill/autoqa-engine/internal/domenrich"
	"github.com/brennhill/autoqa-engine/internal/inputcapture"
	"github.com/brennhill/autoqa-engine/internal/logging"
	"github.com/brennhill/autoqa-engine/internal/protocol"
	"github.com/brennhill/autoqa-engine/internal/redact"
	"github.com/brennhill/autoqa-engine/internal/session"
	"github.com/brennhill/autoqa-engine/internal/types"
)

// Manager owns one active recording session end to end.
type Manager struct {
	cfg    config.RecorderConfig
	rules  redact.Rules
	conn   *protocol.Connector // nil in tests that supply pre-enriched events
	outDir string

	mu        sync.Mutex
	sess      types.RecordedSession
	stopped   bool
	unsub     func()
}

// Start begins a new recording session under the caller-supplied
// sessionID (rejected if invalid): it writes the session's lock sentinel
// file and subscribes to src so every ingested raw event is enriched,
// redacted, and appended.
func Start(cfg config.RecorderConfig, browserName string, conn *protocol.Connector, src *inputcapture.Source, sessionID string) (*Manager, error) {
	if err := session.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfig, "creating recordings directory", err)
	}

	lockPath := config.RecordingLockPath(cfg.OutputDir)
	if err := os.WriteFile(lockPath, []byte(sessionID), 0o644); err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfig, "writing recording lock file", err)
	}

	rules := redact.Rules{
		Types: stringSetFrom(cfg.RedactTypes),
	}
	rules.SelectorSubstrings = cfg.RedactSelectors

	m := &Manager{
		cfg:    cfg,
		rules:  rules,
		conn:   conn,
		outDir: cfg.OutputDir,
		sess: types.RecordedSession{
			SessionID:     sessionID,
			BrowserName:   browserName,
			StartedAt:     time.Now().UTC().Format(time.RFC3339Nano),
			SchemaVersion: types.SchemaVersion,
		},
	}

	if src != nil {
		m.unsub = src.Subscribe(func(ev inputcapture.RawEvent) {
			if err := m.handleRaw(context.Background(), ev); err != nil {
				logging.Warn(context.Background(), "dropping raw capture event", "error", err)
			}
		})
	}
	return m, nil
}

func stringSetFrom(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// handleRaw converts one L3 RawEvent into a RecordedEvent: it runs L2
// enrichment when the event carries an elementExpr and no pre-resolved
// element, applies L4 redaction, and appends under lock.
func (m *Manager) handleRaw(ctx context.Context, raw inputcapture.RawEvent) error {
	et, err := types.ParseEventType(raw.EventType)
	if err != nil {
		return err
	}

	ev := types.RecordedEvent{
		Timestamp:      raw.Timestamp,
		EventType:      et,
		URL:            raw.URL,
		InputData:      raw.InputData,
		Coordinates:    raw.Coordinates,
		WindowHandle:   raw.WindowHandle,
		ObjectName:     raw.ObjectName,
		CheckpointData: raw.CheckpointData,
		Comment:        raw.Comment,
	}

	if raw.ElementExpr != "" && m.conn != nil {
		info, frameChain, err := domenrich.Enrich(ctx, m.conn, raw.ElementExpr)
		if err != nil {
			return apierrors.Wrap(apierrors.KindProtocolError, "enriching captured event", err)
		}
		ev.Element = info
		ev.FrameChain = frameChain
	}

	ev = redact.Redact(m.rules, ev)
	return m.Append(ev)
}

// Append adds a fully-formed RecordedEvent directly, bypassing L2/L3 —
// used by tests and by any caller that has already resolved element
// identity (e.g. replaying a checkpoint insertion tool).
func (m *Manager) Append(ev types.RecordedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return apierrors.New(apierrors.KindConfig, "cannot append to a stopped recording session")
	}
	m.sess.Events = append(m.sess.Events, ev)
	return nil
}

// EventCount reports how many events have been recorded so far.
func (m *Manager) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sess.Events)
}

// Stop finalizes the session, persists it via internal/session, removes
// the lock sentinel, and returns the persisted session plus its on-disk
// path. Stop is not re-entrant: a second call returns a KindConfig error
// and persists nothing.
func (m *Manager) Stop() (*types.RecordedSession, string, error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, "", apierrors.New(apierrors.KindConfig, "recording session already stopped")
	}
	m.stopped = true
	m.sess.EndedAt = time.Now().UTC().Format(time.RFC3339Nano)
	finalSession := m.sess
	m.mu.Unlock()

	if m.unsub != nil {
		m.unsub()
	}

	doc := &session.Document{Session: finalSession}
	path, err := session.Save(m.outDir, doc)
	if err != nil {
		return nil, "", err
	}

	lockPath := config.RecordingLockPath(m.outDir)
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		logging.Warn(context.Background(), "failed to remove recording lock file", "path", lockPath, "error", err)
	}

	return &finalSession, path, nil
}

// WatchStopSignal polls lockPath at the given interval (requires
// polling no coarser than 1s) and closes the returned channel the first
// time the lock file disappears, signaling an external graceful-stop
// request. It stops polling once ctx is done.
func WatchStopSignal(ctx context.Context, lockPath string, interval time.Duration) <-chan struct{} {
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	stopped := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := os.Stat(lockPath); os.IsNotExist(err) {
					close(stopped)
					return
				}
			}
		}
	}()
	return stopped
}

// StorageWarning formats the §9 human-readable storage warning
// message when usage has crossed the configured threshold.
func StorageWarning(info session.StorageInfo) string {
	return fmt.Sprintf("recording storage at %d/%d bytes (%.0f%% warning threshold)",
		info.UsedBytes, info.MaxBytes, info.WarnPercent*100)
}
