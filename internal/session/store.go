package session

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Catalog is the sqlite-backed session index: fast session listing
// without reading every JSON file on disk, grounded on gasoline-mcp's
// in-memory ListRecordings/GetStorageInfo but persisted so listings
// survive process restart.
type Catalog struct {
	db *sql.DB
}

// SessionSummary is one catalog row, enough to populate a listing UI
// without opening the underlying JSON document.
type SessionSummary struct {
	SessionID   string
	BrowserName string
	StartedAt   string
	EndedAt     string
	EventCount  int
	SizeBytes   int64
	FilePath    string
	RecordedAt  string
}

// StorageInfo mirrors gasoline-mcp's recordingStorageMax/recordingWarningLevel
// discipline (internal/capture/recording.go GetStorageInfo), generalized to
// the session catalog's total on-disk size.
type StorageInfo struct {
	UsedBytes    int64
	MaxBytes     int64
	WarnPercent  float64
	OverWarning  bool
	SessionCount int
}

// OpenCatalog opens (creating if needed) the sqlite catalog at dbPath and
// applies any pending goose migrations.
func OpenCatalog(ctx context.Context, dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfig, "opening session catalog", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, matches gasoline-mcp's single-writer recording lock

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, apierrors.Wrap(apierrors.KindConfig, "setting goose dialect", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, apierrors.Wrap(apierrors.KindConfig, "applying session catalog migrations", err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Upsert records or updates a session's catalog row after a successful
// persist. internal/recording does not call it; callers that keep a
// catalog invoke it themselves.
func (c *Catalog) Upsert(ctx context.Context, s SessionSummary, recordedAt string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, browser_name, started_at, ended_at, event_count, size_bytes, file_path, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			browser_name = excluded.browser_name,
			started_at   = excluded.started_at,
			ended_at     = excluded.ended_at,
			event_count  = excluded.event_count,
			size_bytes   = excluded.size_bytes,
			file_path    = excluded.file_path,
			recorded_at  = excluded.recorded_at
	`, s.SessionID, s.BrowserName, s.StartedAt, s.EndedAt, s.EventCount, s.SizeBytes, s.FilePath, recordedAt)
	if err != nil {
		return apierrors.Wrap(apierrors.KindConfig, "upserting session catalog row", err)
	}
	return nil
}

// Delete removes a session's catalog row (companion to file deletion).
func (c *Catalog) Delete(ctx context.Context, sessionID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return apierrors.Wrap(apierrors.KindConfig, "deleting session catalog row", err)
	}
	return nil
}

// List returns all catalog rows ordered by most-recently-recorded first.
func (c *Catalog) List(ctx context.Context) ([]SessionSummary, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT session_id, browser_name, started_at, ended_at, event_count, size_bytes, file_path
		FROM sessions ORDER BY recorded_at DESC
	`)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfig, "listing sessions", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.SessionID, &s.BrowserName, &s.StartedAt, &s.EndedAt, &s.EventCount, &s.SizeBytes, &s.FilePath); err != nil {
			return nil, apierrors.Wrap(apierrors.KindConfig, "scanning session row", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfig, "iterating session rows", err)
	}
	return out, nil
}

// StorageUsage computes StorageInfo against a caller-provided cap, matching
// gasoline-mcp's 1GB-cap/80%-warning convention (internal/capture/recording.go).
func (c *Catalog) StorageUsage(ctx context.Context, maxBytes int64, warnPercent float64) (StorageInfo, error) {
	row := c.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0), COUNT(*) FROM sessions`)
	var used int64
	var count int
	if err := row.Scan(&used, &count); err != nil {
		return StorageInfo{}, apierrors.Wrap(apierrors.KindConfig, "computing storage usage", err)
	}
	info := StorageInfo{
		UsedBytes:    used,
		MaxBytes:     maxBytes,
		WarnPercent:  warnPercent,
		SessionCount: count,
	}
	if maxBytes > 0 {
		info.OverWarning = float64(used) >= float64(maxBytes)*warnPercent
	}
	return info, nil
}
