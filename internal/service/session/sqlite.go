package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/neurosync-os/backend/internal/model/chat"
	"github.com/neurosync-os/backend/pkg/logger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	memory_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);

CREATE TABLE IF NOT EXISTS session_turns (
	id           TEXT NOT NULL UNIQUE,
	session_id   TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	payload_json TEXT,
	created_at   INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// SQLiteStore persists sessions in a SQLite database. Working-memory values
// round-trip through JSON, so numbers come back as float64.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(path string, log *zap.Logger) (*SQLiteStore, error) {
	log = logger.OrNop(log)

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("sqlite pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info("sqlite session store ready", zap.String("path", path))
	return &SQLiteStore{
		db:     db,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Create provisions an empty session row.
func (s *SQLiteStore) Create(ctx context.Context) (chat.Session, error) {
	now := s.now()
	session := chat.Session{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now, Memory: map[string]any{}}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at, memory_json) VALUES (?, ?, ?, '{}')`,
		session.ID, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return chat.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// Get loads a session row.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (chat.Session, error) {
	var created, updated int64
	var memoryJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at, memory_json FROM sessions WHERE id = ?`, sessionID,
	).Scan(&created, &updated, &memoryJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("select session: %w", err)
	}

	memory, err := decodeMemory(memoryJSON)
	if err != nil {
		return chat.Session{}, err
	}
	return chat.Session{
		ID:        sessionID,
		CreatedAt: time.Unix(0, created).UTC(),
		UpdatedAt: time.Unix(0, updated).UTC(),
		Memory:    memory,
	}, nil
}

// Append writes turns and the memory merge inside one transaction.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, turns []chat.Turn, memory map[string]any) (err error) {
	if err := validateAppend(sessionID, turns); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	var memoryJSON string
	err = tx.QueryRowContext(ctx, `SELECT memory_json FROM sessions WHERE id = ?`, sessionID).Scan(&memoryJSON)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		memoryJSON = "{}"
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (id, created_at, updated_at, memory_json) VALUES (?, ?, ?, '{}')`,
			sessionID, now.UnixNano(), now.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
	case err != nil:
		return fmt.Errorf("select session: %w", err)
	}

	var seq int64
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM session_turns WHERE session_id = ?`, sessionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("select seq: %w", err)
	}

	for _, t := range turns {
		seq++
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		var payload sql.NullString
		if t.Payload != nil {
			raw, mErr := json.Marshal(t.Payload)
			if mErr != nil {
				err = fmt.Errorf("encode payload: %w", mErr)
				return err
			}
			payload = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO session_turns (id, session_id, seq, role, content, payload_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, sessionID, seq, string(t.Role), t.Content, payload, t.CreatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	current, err := decodeMemory(memoryJSON)
	if err != nil {
		return err
	}
	merged, err := json.Marshal(chat.MergeMemory(current, memory))
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ?, memory_json = ? WHERE id = ?`,
		now.UnixNano(), string(merged), sessionID,
	); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	s.logger.Debug("session turns appended", zap.String("session_id", sessionID), zap.Int("turns", len(turns)), zap.Int64("last_seq", seq))
	return nil
}

// Read returns the last window turns ordered by seq (all when window <= 0).
func (s *SQLiteStore) Read(ctx context.Context, sessionID string, window int) ([]chat.Turn, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	query := `SELECT id, seq, role, content, payload_json, created_at FROM session_turns WHERE session_id = ? ORDER BY seq ASC`
	args := []any{sessionID}
	if window > 0 {
		query = `SELECT id, seq, role, content, payload_json, created_at FROM (
			SELECT * FROM session_turns WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`
		args = append(args, window)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select turns: %w", err)
	}
	defer rows.Close()

	turns := make([]chat.Turn, 0, 16)
	for rows.Next() {
		var (
			t       chat.Turn
			role    string
			payload sql.NullString
			created int64
		)
		if err := rows.Scan(&t.ID, &t.Seq, &role, &t.Content, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.SessionID = sessionID
		t.Role = chat.Role(role)
		t.CreatedAt = time.Unix(0, created).UTC()
		if payload.Valid && payload.String != "" {
			t.Payload = &chat.Payload{}
			if err := json.Unmarshal([]byte(payload.String), t.Payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// PutMemory merges updates into the stored working memory.
func (s *SQLiteStore) PutMemory(ctx context.Context, sessionID string, updates map[string]any) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin memory update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var memoryJSON string
	err = tx.QueryRowContext(ctx, `SELECT memory_json FROM sessions WHERE id = ?`, sessionID).Scan(&memoryJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("select session: %w", err)
	}

	current, err := decodeMemory(memoryJSON)
	if err != nil {
		return err
	}
	merged, err := json.Marshal(chat.MergeMemory(current, updates))
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ?, memory_json = ? WHERE id = ?`,
		s.now().UnixNano(), string(merged), sessionID,
	); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return tx.Commit()
}

// Expire deletes a session and its turns.
func (s *SQLiteStore) Expire(ctx context.Context, sessionID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin expire: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrSessionNotFound
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM session_turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	return tx.Commit()
}

// Sweep evicts sessions idle since before cutoff.
func (s *SQLiteStore) Sweep(ctx context.Context, cutoff time.Time) (_ int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sweep: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	bound := cutoff.UnixNano()
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM session_turns WHERE session_id IN (SELECT id FROM sessions WHERE updated_at < ?)`, bound,
	); err != nil {
		return 0, fmt.Errorf("sweep turns: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, bound)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sweep: %w", err)
	}
	return int(n), nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeMemory(raw string) (map[string]any, error) {
	memory := map[string]any{}
	if raw == "" {
		return memory, nil
	}
	if err := json.Unmarshal([]byte(raw), &memory); err != nil {
		return nil, fmt.Errorf("decode memory: %w", err)
	}
	return memory, nil
}
