// Package evidence is P5, the evidence collector (§4.10): on a
// failed playback step it writes a best-effort bundle — screenshot, page
// source, console logs, and a context.txt — into a write-once directory
// keyed by (sanitized sessionId, stepIndex). A missing artifact never
// fails the step; the collector only records what it could capture.
//
// Grounded on gasoline-mcp's internal/capture/recording.go storage-quota
// discipline (now internal/session.Catalog.StorageUsage) applied here to
// evidence directories instead of recording files, and on its
// validateRecordingID path-sanitization guard (internal/session.SanitizeSessionID).
package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
	"github.com/brennhill/autoqa-engine/internal/logging"
	"github.com/brennhill/autoqa-engine/internal/protocol"
	"github.com/brennhill/autoqa-engine/internal/session"
)

// Bundle is what was actually captured for one failed step; any field
// may be empty if that artifact could not be obtained.
type Bundle struct {
	Dir             string
	ScreenshotPath  string
	PageSourcePath  string
	ConsoleLogPath  string
	ContextPath     string
}

// Options toggles which artifacts are attempted, matching §6's
// player.screenshot.on.failure / player.page.source.on.failure /
// player.console.logs.on.failure.
type Options struct {
	Screenshot  bool
	PageSource  bool
	ConsoleLogs bool
}

// Collect writes a best-effort evidence bundle for a failed step.
// consoleLog is whatever console output the caller has buffered for this
// run (internal/player accumulates it via a Runtime.consoleAPICalled
// listener); contextText is the terminal error message (§7 format).
func Collect(ctx context.Context, conn *protocol.Connector, evidenceDir, sessionID string, stepIndex int, opts Options, consoleLog, contextText string) (Bundle, error) {
	dir := session.SanitizedEvidencePath(evidenceDir, sessionID, stepIndex)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Bundle{}, apierrors.Wrap(apierrors.KindConfig, "creating evidence directory", err)
	}

	b := Bundle{Dir: dir}

	if opts.Screenshot && conn != nil {
		if path, err := captureScreenshot(ctx, conn, dir); err != nil {
			logging.Warn(ctx, "evidence screenshot capture failed", "step", stepIndex, "error", err)
		} else {
			b.ScreenshotPath = path
		}
	}

	if opts.PageSource && conn != nil {
		if path, err := capturePageSource(ctx, conn, dir); err != nil {
			logging.Warn(ctx, "evidence page source capture failed", "step", stepIndex, "error", err)
		} else {
			b.PageSourcePath = path
		}
	}

	if opts.ConsoleLogs {
		path := filepath.Join(dir, "console.log")
		if err := os.WriteFile(path, []byte(consoleLog), 0o644); err != nil {
			logging.Warn(ctx, "evidence console log write failed", "step", stepIndex, "error", err)
		} else {
			b.ConsoleLogPath = path
		}
	}

	contextPath := filepath.Join(dir, "context.txt")
	if err := os.WriteFile(contextPath, []byte(contextText), 0o644); err != nil {
		logging.Warn(ctx, "evidence context write failed", "step", stepIndex, "error", err)
	} else {
		b.ContextPath = contextPath
	}

	return b, nil
}

func captureScreenshot(ctx context.Context, conn *protocol.Connector, dir string) (string, error) {
	raw, err := conn.Send(ctx, "Page.captureScreenshot", map[string]any{"format": "png"})
	if err != nil {
		return "", err
	}
	data, err := decodeBase64Field(raw, "data")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "screenshot.png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", apierrors.Wrap(apierrors.KindConfig, "writing screenshot file", err)
	}
	return path, nil
}

func capturePageSource(ctx context.Context, conn *protocol.Connector, dir string) (string, error) {
	raw, err := conn.Send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    "document.documentElement.outerHTML",
		"returnByValue": true,
	})
	if err != nil {
		return "", err
	}
	var result struct {
		Result struct {
			Value string `json:"value"`
		} `json:"result"`
	}
	if err := unmarshalJSON(raw, &result); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "page_source.html")
	if err := os.WriteFile(path, []byte(result.Result.Value), 0o644); err != nil {
		return "", apierrors.Wrap(apierrors.KindConfig, "writing page source file", err)
	}
	return path, nil
}

// PruneOldest removes the oldest evidence directories under root (by
// modification time) so that only the keepNewest newest remain. It counts
// directories only; it does not measure bytes or apply a storage threshold.
func PruneOldest(root string, keepNewest int) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apierrors.Wrap(apierrors.KindConfig, "reading evidence root", err)
	}
	if len(entries) <= keepNewest {
		return nil
	}

	type dirInfo struct {
		name    string
		modTime int64
	}
	var dirs []dirInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, dirInfo{name: e.Name(), modTime: info.ModTime().UnixNano()})
	}
	for i := 0; i < len(dirs); i++ {
		for j := i + 1; j < len(dirs); j++ {
			if dirs[j].modTime < dirs[i].modTime {
				dirs[i], dirs[j] = dirs[j], dirs[i]
			}
		}
	}
	toRemove := len(dirs) - keepNewest
	for i := 0; i < toRemove && i < len(dirs); i++ {
		if err := os.RemoveAll(filepath.Join(root, dirs[i].name)); err != nil {
			return apierrors.Wrap(apierrors.KindConfig, fmt.Sprintf("pruning evidence dir %s", dirs[i].name), err)
		}
	}
	return nil
}
