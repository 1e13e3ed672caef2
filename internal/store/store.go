// Package store provides the SQLite-backed state for the tutoring host:
// per-session conversation history and upload status records. Sessions are
// keyed by session ID; uploads by file ID with an owner check on reads.
// Both survive server restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when a session or upload record does not exist.
var ErrNotFound = errors.New("store: not found")

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser is a message sent by the student.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the tutoring agent.
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a session.
type Message struct {
	// Role is the author of the message.
	Role Role
	// Content is the text of the message.
	Content string
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time
}

// Upload status values. An upload moves accepted → processing and terminates
// at indexed or failed.
const (
	StatusAccepted   = "accepted"
	StatusProcessing = "processing"
	StatusIndexed    = "indexed"
	StatusFailed     = "failed"
)

// Upload is the status record of one file upload.
type Upload struct {
	// FileID is the unique identifier returned to the client at upload time.
	FileID string
	// StudentID is the owner of the upload.
	StudentID string
	// Filename is the original filename.
	Filename string
	// Subject is the subject the file was uploaded under.
	Subject string
	// Status is one of accepted, processing, indexed, failed.
	Status string
	// ChunkCount is the number of indexed chunks (set when indexed).
	ChunkCount int
	// Error is the failure reason (set when failed).
	Error string
	// BlobPath is where the raw file landed in blob storage.
	BlobPath string
	// CreatedAt is when the upload was accepted.
	CreatedAt time.Time
	// UpdatedAt is when the status last changed.
	UpdatedAt time.Time
}

// SessionInfo summarises one session for listings.
type SessionInfo struct {
	// SessionID identifies the session.
	SessionID string
	// CreatedAt is when the session saw its first message.
	CreatedAt time.Time
	// MessageCount is the number of messages currently in the session.
	MessageCount int
}

// SessionStore persists and retrieves per-session conversation history.
// Implementations must be safe for concurrent use.
type SessionStore interface {
	// Append persists a single message for the given session, creating the
	// session implicitly on first write.
	Append(ctx context.Context, sessionID string, role Role, content string) error
	// History returns all messages for the session, ordered oldest-first.
	// Returns ErrNotFound for a session that has never had a message; a
	// cleared session still exists and yields an empty slice.
	History(ctx context.Context, sessionID string) ([]Message, error)
	// Recent returns the most recent n messages for the session, ordered
	// oldest-first so they can be prepended to the model's message slice.
	Recent(ctx context.Context, sessionID string, n int) ([]Message, error)
	// Clear removes all messages for the session but keeps the session
	// itself. Clearing a session that does not exist is not an error.
	Clear(ctx context.Context, sessionID string) error
	// ListSessions returns a summary of every session, newest-first.
	ListSessions(ctx context.Context) ([]SessionInfo, error)
	// DeleteSession removes the session and all its messages. Returns
	// ErrNotFound for a session that does not exist.
	DeleteSession(ctx context.Context, sessionID string) error
	// Close releases any resources held by the store.
	Close() error
}

// UploadStore persists upload status records through the ingestion lifecycle.
// Implementations must be safe for concurrent use.
type UploadStore interface {
	// CreateUpload records a newly accepted upload.
	CreateUpload(ctx context.Context, up Upload) error
	// SetProcessing marks the upload as being ingested and records the blob path.
	SetProcessing(ctx context.Context, fileID, blobPath string) error
	// SetIndexed marks the upload as fully indexed with its chunk count.
	SetIndexed(ctx context.Context, fileID string, chunkCount int) error
	// SetFailed marks the upload as failed with the reason.
	SetFailed(ctx context.Context, fileID, reason string) error
	// GetUpload returns the upload record, verifying the owner when
	// studentID is non-empty. Returns ErrNotFound for unknown IDs and for
	// records owned by a different student.
	GetUpload(ctx context.Context, fileID, studentID string) (*Upload, error)
}

// SQLiteStore implements SessionStore and UploadStore on one local SQLite
// database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the host database.
// It resolves to ~/.tutorrag/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".tutorrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id   TEXT    PRIMARY KEY,
    created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT    NOT NULL,
    role         TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content      TEXT    NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_messages_session_created
    ON messages (session_id, created_at);

CREATE TABLE IF NOT EXISTS uploads (
    file_id      TEXT    PRIMARY KEY,
    student_id   TEXT    NOT NULL,
    filename     TEXT    NOT NULL,
    subject      TEXT    NOT NULL,
    status       TEXT    NOT NULL CHECK(status IN ('accepted','processing','indexed','failed')),
    chunk_count  INTEGER NOT NULL DEFAULT 0,
    error        TEXT    NOT NULL DEFAULT '',
    blob_path    TEXT    NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_student
    ON uploads (student_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists a single message for the given session, creating the
// session row on first write.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, role Role, content string) error {
	now := time.Now().Unix()
	const qs = `INSERT INTO sessions (session_id, created_at) VALUES (?, ?) ON CONFLICT(session_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, qs, sessionID, now); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	const qm = `INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, qm, sessionID, string(role), content, now); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// History returns all messages for the session, ordered oldest-first.
// A session that has never had a message is ErrNotFound; a session that was
// cleared still exists and yields an empty slice.
func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]Message, error) {
	var exists int
	const qe = `SELECT 1 FROM sessions WHERE session_id = ?`
	if err := s.db.QueryRowContext(ctx, qe, sessionID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: session %q: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("store: history: %w", err)
	}

	const q = `
SELECT role, content, created_at
FROM   messages
WHERE  session_id = ?
ORDER  BY created_at ASC, id ASC`

	msgs, err := s.queryMessages(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	return msgs, nil
}

// Recent returns the most recent n messages for the session, ordered
// oldest-first. Uses a subquery to select the tail then re-order for injection.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	const q = `
SELECT role, content, created_at FROM (
    SELECT id, role, content, created_at
    FROM   messages
    WHERE  session_id = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	msgs, err := s.queryMessages(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	return msgs, nil
}

// queryMessages runs a message query and scans the rows.
func (s *SQLiteStore) queryMessages(ctx context.Context, q string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts int64
		var role string
		if err := rows.Scan(&role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Clear removes all messages for the session, keeping the session row.
func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	const q = `DELETE FROM messages WHERE session_id = ?`
	if _, err := s.db.ExecContext(ctx, q, sessionID); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

// ListSessions returns a summary of every session, newest-first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	const q = `
SELECT s.session_id, s.created_at, COUNT(m.id)
FROM   sessions s
LEFT JOIN messages m ON m.session_id = s.session_id
GROUP  BY s.session_id
ORDER  BY s.created_at DESC, s.session_id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var infos []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var ts int64
		if err := rows.Scan(&info.SessionID, &ts, &info.MessageCount); err != nil {
			return nil, fmt.Errorf("store: list sessions: %w", err)
		}
		info.CreatedAt = time.Unix(ts, 0)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	return infos, nil
}

// DeleteSession removes the session and all its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: session %q: %w", sessionID, ErrNotFound)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

// CreateUpload records a newly accepted upload.
func (s *SQLiteStore) CreateUpload(ctx context.Context, up Upload) error {
	const q = `
INSERT INTO uploads (file_id, student_id, filename, subject, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().Unix()
	status := up.Status
	if status == "" {
		status = StatusAccepted
	}
	if _, err := s.db.ExecContext(ctx, q, up.FileID, up.StudentID, up.Filename, up.Subject, status, now, now); err != nil {
		return fmt.Errorf("store: create upload: %w", err)
	}
	return nil
}

// SetProcessing marks the upload as being ingested and records the blob path.
func (s *SQLiteStore) SetProcessing(ctx context.Context, fileID, blobPath string) error {
	const q = `UPDATE uploads SET status = ?, blob_path = ?, updated_at = ? WHERE file_id = ?`
	return s.updateUpload(ctx, q, StatusProcessing, blobPath, time.Now().Unix(), fileID)
}

// SetIndexed marks the upload as fully indexed with its chunk count.
func (s *SQLiteStore) SetIndexed(ctx context.Context, fileID string, chunkCount int) error {
	const q = `UPDATE uploads SET status = ?, chunk_count = ?, updated_at = ? WHERE file_id = ?`
	return s.updateUpload(ctx, q, StatusIndexed, chunkCount, time.Now().Unix(), fileID)
}

// SetFailed marks the upload as failed with the reason.
func (s *SQLiteStore) SetFailed(ctx context.Context, fileID, reason string) error {
	const q = `UPDATE uploads SET status = ?, error = ?, updated_at = ? WHERE file_id = ?`
	return s.updateUpload(ctx, q, StatusFailed, reason, time.Now().Unix(), fileID)
}

// updateUpload runs an upload status transition and maps a zero-row update to
// ErrNotFound.
func (s *SQLiteStore) updateUpload(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("store: update upload: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update upload: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: upload: %w", ErrNotFound)
	}
	return nil
}

// GetUpload returns the upload record, verifying the owner when studentID is
// non-empty. A record owned by someone else reads as not found rather than
// forbidden so file IDs cannot be probed across students.
func (s *SQLiteStore) GetUpload(ctx context.Context, fileID, studentID string) (*Upload, error) {
	const q = `
SELECT file_id, student_id, filename, subject, status, chunk_count, error, blob_path, created_at, updated_at
FROM   uploads
WHERE  file_id = ?`

	var up Upload
	var created, updated int64
	err := s.db.QueryRowContext(ctx, q, fileID).Scan(
		&up.FileID, &up.StudentID, &up.Filename, &up.Subject, &up.Status,
		&up.ChunkCount, &up.Error, &up.BlobPath, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: upload %q: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get upload: %w", err)
	}
	if studentID != "" && up.StudentID != studentID {
		return nil, fmt.Errorf("store: upload %q: %w", fileID, ErrNotFound)
	}
	up.CreatedAt = time.Unix(created, 0)
	up.UpdatedAt = time.Unix(updated, 0)
	return &up, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
