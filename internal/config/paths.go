// Package config resolves runtime filesystem locations and loads the
// process-wide configuration snapshot for the engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// StateDirEnv overrides the default runtime state root.
	StateDirEnv = "AUTOQA_STATE_DIR"

	xdgStateHomeEnv = "XDG_STATE_HOME"
	appName         = "autoqa"

	// RecordingLockFile is the sentinel whose removal signals the recorder
	// to stop and save (§4.5, §6).
	RecordingLockFile = ".autoqa-recording.lock"
)

// RootDir returns the runtime state root for the engine.
// Resolution order:
//  1. AUTOQA_STATE_DIR (if set)
//  2. XDG_STATE_HOME/autoqa (if XDG_STATE_HOME is set)
//  3. os.UserConfigDir()/autoqa (cross-platform fallback)
func RootDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(StateDirEnv)); override != "" {
		return normalizePath(override)
	}

	if xdg := strings.TrimSpace(os.Getenv(xdgStateHomeEnv)); xdg != "" {
		root, err := normalizePath(xdg)
		if err != nil {
			return "", err
		}
		return filepath.Join(root, appName), nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	root, err := normalizePath(configDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, appName), nil
}

// InRoot returns a path rooted under RootDir with additional path elements.
func InRoot(parts ...string) (string, error) {
	root, err := RootDir()
	if err != nil {
		return "", err
	}
	all := make([]string, 0, len(parts)+1)
	all = append(all, root)
	all = append(all, parts...)
	return filepath.Join(all...), nil
}

// RecordingsDir returns recorder.output.dir, defaulting under RootDir.
func RecordingsDir(cfg Config) (string, error) {
	if cfg.Recorder.OutputDir != "" {
		return normalizePath(cfg.Recorder.OutputDir)
	}
	return InRoot("recordings")
}

// EvidenceDir returns player.evidence.dir, defaulting under RootDir.
func EvidenceDir(cfg Config) (string, error) {
	if cfg.Player.EvidenceDir != "" {
		return normalizePath(cfg.Player.EvidenceDir)
	}
	return InRoot("evidence")
}

// CatalogFile returns the sqlite session-catalog database path.
func CatalogFile() (string, error) {
	return InRoot("catalog", "sessions.db")
}

// RecordingLockPath returns the sentinel lock file path for a recordings dir
// (§6: "{recordingsDir}/.autoqa-recording.lock").
func RecordingLockPath(recordingsDir string) string {
	return filepath.Join(recordingsDir, RecordingLockFile)
}

func normalizePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %q: %w", path, err)
	}
	return filepath.Clean(absPath), nil
}
