package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
)

// Save persists a session document to {dir}/{sessionId}.json using a
// write-to-temp-then-rename so a crash mid-write never leaves a truncated
// session file (§4.6), the same discipline as gasoline-mcp's
// persistRecordingToDisk.
func Save(dir string, doc *Document) (string, error) {
	if err := ValidateSessionID(doc.Session.SessionID); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apierrors.Wrap(apierrors.KindConfig, "creating session directory", err)
	}

	data, err := Serialize(doc)
	if err != nil {
		return "", err
	}

	finalPath := filepath.Join(dir, SessionFileName(doc.Session.SessionID))
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", apierrors.Wrap(apierrors.KindConfig, "writing session temp file", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", apierrors.Wrap(apierrors.KindConfig, "renaming session file into place", err)
	}
	return finalPath, nil
}

// Load reads and parses the session at {dir}/{sessionId}.json.
func Load(dir, sessionID string) (*Document, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, SessionFileName(sessionID))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierrors.Newf(apierrors.KindConfig, "no session %q at %s", sessionID, path)
		}
		return nil, apierrors.Wrap(apierrors.KindConfig, "reading session file", err)
	}
	return Parse(data)
}

// Delete removes a session's on-disk file. Missing files are not an error.
func Delete(dir, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	path := filepath.Join(dir, SessionFileName(sessionID))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apierrors.Wrap(apierrors.KindConfig, fmt.Sprintf("deleting session file %s", path), err)
	}
	return nil
}
