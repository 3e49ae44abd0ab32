// Package catalog keeps a SQLite index of recordings and their segments so
// past sessions can be listed without scanning the recordings directory.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/session"
)

// Status of a recording in its lifecycle.
type Status string

const (
	StatusRecording Status = "recording"
	StatusStopped   Status = "stopped"
	StatusValidated Status = "validated"
	StatusInvalid   Status = "invalid"
	StatusMixed     Status = "mixed"
	StatusMixFailed Status = "mix_failed"
)

// Recording is one catalog row.
type Recording struct {
	ID             string     `json:"id"`
	Stamp          string     `json:"stamp"`
	StartedAt      time.Time  `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	Status         Status     `json:"status"`
	Duration       float64    `json:"duration"`
	MicSegments    int        `json:"micSegments"`
	SystemSegments int        `json:"systemSegments"`
	DeviceSwaps    int        `json:"deviceSwaps"`
	MetadataPath   string     `json:"metadataPath,omitempty"`
	MixedPath      string     `json:"mixedPath,omitempty"`
	Error          string     `json:"error,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

const schema = `
	CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		stamp TEXT NOT NULL,
		startedAt REAL NOT NULL,
		endedAt REAL,
		status TEXT NOT NULL DEFAULT 'recording',
		duration REAL NOT NULL DEFAULT 0,
		micSegments INTEGER NOT NULL DEFAULT 0,
		systemSegments INTEGER NOT NULL DEFAULT 0,
		deviceSwaps INTEGER NOT NULL DEFAULT 0,
		metadataPath TEXT NOT NULL DEFAULT '',
		mixedPath TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		updatedAt REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS segments (
		id TEXT PRIMARY KEY,
		recordingId TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
		stream TEXT NOT NULL,
		idx INTEGER NOT NULL,
		filePath TEXT NOT NULL DEFAULT '',
		deviceName TEXT NOT NULL DEFAULT '',
		deviceId TEXT NOT NULL DEFAULT '',
		sampleRate REAL NOT NULL,
		channels INTEGER NOT NULL,
		startSessionTime REAL NOT NULL,
		endSessionTime REAL NOT NULL,
		frameCount INTEGER NOT NULL,
		quality TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		UNIQUE(recordingId, stream, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_recordings_started ON recordings(startedAt);
`

// Catalog is safe for concurrent use.
type Catalog struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the catalog at path.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "create catalog directory")
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "open catalog")
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "ping catalog")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "migrate catalog")
	}
	return &Catalog{db: db, now: time.Now}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Begin records a session that has just started.
func (c *Catalog) Begin(ctx context.Context, id, stamp string, startedAt time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO recordings (id, stamp, startedAt, status, updatedAt)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stamp = excluded.stamp,
			startedAt = excluded.startedAt,
			status = excluded.status,
			updatedAt = excluded.updatedAt
	`, id, stamp, unix(startedAt), StatusRecording, unix(c.now()))
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "insert recording")
	}
	return nil
}

// Finish stores the outcome of a stopped session. The row is created when
// Begin was never called.
func (c *Catalog) Finish(ctx context.Context, rec Recording) error {
	var ended sql.NullFloat64
	if rec.EndedAt != nil {
		ended = sql.NullFloat64{Float64: unix(*rec.EndedAt), Valid: true}
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO recordings (id, stamp, startedAt, endedAt, status, duration, micSegments,
			systemSegments, deviceSwaps, metadataPath, mixedPath, error, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stamp = excluded.stamp,
			startedAt = excluded.startedAt,
			endedAt = excluded.endedAt,
			status = excluded.status,
			duration = excluded.duration,
			micSegments = excluded.micSegments,
			systemSegments = excluded.systemSegments,
			deviceSwaps = excluded.deviceSwaps,
			metadataPath = excluded.metadataPath,
			mixedPath = excluded.mixedPath,
			error = excluded.error,
			updatedAt = excluded.updatedAt
	`, rec.ID, rec.Stamp, unix(rec.StartedAt), ended, rec.Status, rec.Duration, rec.MicSegments,
		rec.SystemSegments, rec.DeviceSwaps, rec.MetadataPath, rec.MixedPath, rec.Error, unix(c.now()))
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "store recording")
	}
	return nil
}

// UpdateStatus moves a recording to status. msg replaces the stored error.
func (c *Catalog) UpdateStatus(ctx context.Context, id string, status Status, msg string) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE recordings SET status = ?, error = ?, updatedAt = ? WHERE id = ?
	`, status, msg, unix(c.now()), id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "update recording status")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.Newf(apperrors.CodeNotFound, "recording %s not found", id)
	}
	return nil
}

// SetMixed records the mixed output path and marks the recording mixed.
func (c *Catalog) SetMixed(ctx context.Context, id, path string) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE recordings SET status = ?, mixedPath = ?, error = '', updatedAt = ? WHERE id = ?
	`, StatusMixed, path, unix(c.now()), id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "update mixed path")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.Newf(apperrors.CodeNotFound, "recording %s not found", id)
	}
	return nil
}

// AddSegments upserts segment rows in one transaction. Rows are keyed by
// segment ID, so replaying a checkpoint is harmless. A stored failure reason
// and failed quality are never cleared by a later, older view of the segment.
func (c *Catalog) AddSegments(ctx context.Context, recordingID string, segs []session.AudioSegment) error {
	if len(segs) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "begin segment checkpoint")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO segments (id, recordingId, stream, idx, filePath, deviceName, deviceId,
			sampleRate, channels, startSessionTime, endSessionTime, frameCount, quality, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filePath = excluded.filePath,
			endSessionTime = MAX(segments.endSessionTime, excluded.endSessionTime),
			frameCount = MAX(segments.frameCount, excluded.frameCount),
			quality = CASE WHEN segments.quality = 'failed' THEN segments.quality ELSE excluded.quality END,
			error = COALESCE(NULLIF(excluded.error, ''), segments.error)
	`)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "prepare segment insert")
	}
	defer stmt.Close()

	for _, s := range segs {
		if _, err := stmt.ExecContext(ctx, s.SegmentID, recordingID, s.Stream, s.Index, s.FilePath,
			s.DeviceName, s.DeviceID, s.SampleRate, s.Channels, s.StartSessionTime, s.EndSessionTime,
			s.FrameCount, s.Quality, s.FailureReason); err != nil {
			return apperrors.Wrapf(err, apperrors.CodeInternal, "insert segment %s", s.SegmentID)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "commit segment checkpoint")
	}
	return nil
}

const recordingColumns = `id, stamp, startedAt, endedAt, status, duration, micSegments,
	systemSegments, deviceSwaps, metadataPath, mixedPath, error, updatedAt`

// Get returns one recording.
func (c *Catalog) Get(ctx context.Context, id string) (Recording, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, apperrors.Newf(apperrors.CodeNotFound, "recording %s not found", id)
	}
	if err != nil {
		return Recording{}, apperrors.Wrap(err, apperrors.CodeInternal, "scan recording")
	}
	return rec, nil
}

// List returns recordings newest first. limit <= 0 returns all.
func (c *Catalog) List(ctx context.Context, limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+recordingColumns+` FROM recordings
		ORDER BY startedAt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "query recordings")
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "scan recording")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Segments returns the checkpointed segments of a recording ordered by
// stream and index.
func (c *Catalog) Segments(ctx context.Context, recordingID string) ([]session.AudioSegment, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, stream, idx, filePath, deviceName, deviceId, sampleRate, channels,
			startSessionTime, endSessionTime, frameCount, quality, error
		FROM segments
		WHERE recordingId = ?
		ORDER BY stream ASC, idx ASC
	`, recordingID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "query segments")
	}
	defer rows.Close()

	var out []session.AudioSegment
	for rows.Next() {
		var s session.AudioSegment
		if err := rows.Scan(&s.SegmentID, &s.Stream, &s.Index, &s.FilePath, &s.DeviceName, &s.DeviceID,
			&s.SampleRate, &s.Channels, &s.StartSessionTime, &s.EndSessionTime, &s.FrameCount,
			&s.Quality, &s.FailureReason); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "scan segment")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecording(row scanner) (Recording, error) {
	var rec Recording
	var startedAt, updatedAt float64
	var endedAt sql.NullFloat64
	if err := row.Scan(&rec.ID, &rec.Stamp, &startedAt, &endedAt, &rec.Status, &rec.Duration,
		&rec.MicSegments, &rec.SystemSegments, &rec.DeviceSwaps, &rec.MetadataPath, &rec.MixedPath,
		&rec.Error, &updatedAt); err != nil {
		return Recording{}, err
	}
	rec.StartedAt = timeFromUnix(startedAt)
	rec.UpdatedAt = timeFromUnix(updatedAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		rec.EndedAt = &t
	}
	return rec, nil
}

func unix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
