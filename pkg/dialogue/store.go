package dialogue

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BretMeraki/forestd/pkg/dialogue"

//go:embed schema.sql
var schemaSQL string

// Errors for session operations.
var (
	// ErrNotFound reports an unknown session id. A normal result, not a
	// failure.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidSession reports a session that cannot be persisted.
	ErrInvalidSession = errors.New("invalid session")
)

// Store persists dialogue sessions across process restarts.
type Store interface {
	// Save upserts a session keyed by its ID. Idempotent; safe to call
	// every round.
	Save(ctx context.Context, session *Session) error

	// Load retrieves a session by ID. Returns ErrNotFound when absent.
	Load(ctx context.Context, sessionID string) (*Session, error)

	// ListActive returns active sessions ordered by start time
	// descending. An empty projectID means all projects.
	ListActive(ctx context.Context, projectID string) ([]*Session, error)

	// Complete marks a session terminal and stores its result. The
	// record remains readable afterward.
	Complete(ctx context.Context, sessionID string, result json.RawMessage, finalConfidence float64) error

	// Close releases the store.
	Close() error
}

// sqliteStore is the durable Store backed by an embedded SQLite file.
// Uses WAL mode for concurrent read access during writes.
type sqliteStore struct {
	db     *sql.DB
	logger *zap.Logger

	saveCount     metric.Int64Counter
	completeCount metric.Int64Counter
}

// Open creates or opens the session database at the given path, applying
// pragmas and schema idempotently. logger may be nil.
func Open(path string, logger *zap.Logger) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &sqliteStore{
		db:     db,
		logger: logger.Named("dialogue"),
	}

	meter := otel.Meter(instrumentationName)
	if s.saveCount, err = meter.Int64Counter("forestd.dialogue.saves",
		metric.WithDescription("Session upserts")); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create save counter: %w", err)
	}
	if s.completeCount, err = meter.Int64Counter("forestd.dialogue.completions",
		metric.WithDescription("Sessions marked terminal")); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create completion counter: %w", err)
	}

	return s, nil
}

// NewStoreOrFallback opens the durable store, degrading to an in-memory
// store when the database cannot be opened. The fallback keeps the
// session feature alive for the process lifetime but is lost on restart.
func NewStoreOrFallback(path string, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := Open(path, logger)
	if err != nil {
		logger.Warn("session database unavailable, falling back to in-memory sessions (lost on restart)",
			zap.String("path", path),
			zap.Error(err))
		return NewMemoryStore()
	}
	return s
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Save(ctx context.Context, session *Session) error {
	if err := validateSession(session); err != nil {
		return err
	}

	responsesJSON, err := marshalNullable(session.Responses)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	summariesJSON, err := marshalNullable(session.Summaries)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions
		(session_id, project_id, status, goal, context_json, round,
		 responses_json, summaries_json, result_json, final_confidence,
		 started_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			project_id       = excluded.project_id,
			status           = excluded.status,
			goal             = excluded.goal,
			context_json     = excluded.context_json,
			round            = excluded.round,
			responses_json   = excluded.responses_json,
			summaries_json   = excluded.summaries_json,
			result_json      = excluded.result_json,
			final_confidence = excluded.final_confidence,
			started_at       = excluded.started_at,
			updated_at       = excluded.updated_at,
			completed_at     = excluded.completed_at
	`,
		session.ID,
		session.ProjectID,
		string(session.Status),
		session.Goal,
		rawToNull(session.Context),
		session.Round,
		responsesJSON,
		summariesJSON,
		rawToNull(session.Result),
		session.FinalConfidence,
		session.StartedAt.UnixNano(),
		session.UpdatedAt.UnixNano(),
		timeToNull(session.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	s.saveCount.Add(ctx, 1)
	return nil
}

func (s *sqliteStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrInvalidSession)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, project_id, status, goal, context_json, round,
		       responses_json, summaries_json, result_json, final_confidence,
		       started_at, updated_at, completed_at
		FROM sessions WHERE session_id = ?
	`, sessionID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return session, nil
}

func (s *sqliteStore) ListActive(ctx context.Context, projectID string) ([]*Session, error) {
	query := `
		SELECT session_id, project_id, status, goal, context_json, round,
		       responses_json, summaries_json, result_json, final_confidence,
		       started_at, updated_at, completed_at
		FROM sessions WHERE status = ?`
	args := []any{string(StatusActive)}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list active sessions: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

func (s *sqliteStore) Complete(ctx context.Context, sessionID string, result json.RawMessage, finalConfidence float64) error {
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidSession)
	}

	now := time.Now().UTC().UnixNano()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, result_json = ?, final_confidence = ?,
		    completed_at = ?, updated_at = ?
		WHERE session_id = ?
	`, string(StatusCompleted), rawToNull(result), finalConfidence, now, now, sessionID)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	s.completeCount.Add(ctx, 1)
	s.logger.Info("session completed",
		zap.String("session_id", sessionID),
		zap.Float64("final_confidence", finalConfidence))
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		session       Session
		status        string
		contextJSON   sql.NullString
		responsesJSON sql.NullString
		summariesJSON sql.NullString
		resultJSON    sql.NullString
		startedAt     int64
		updatedAt     int64
		completedAt   sql.NullInt64
	)

	err := row.Scan(
		&session.ID, &session.ProjectID, &status, &session.Goal,
		&contextJSON, &session.Round, &responsesJSON, &summariesJSON,
		&resultJSON, &session.FinalConfidence,
		&startedAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	session.Status = Status(status)
	session.Context = nullToRaw(contextJSON)
	session.Result = nullToRaw(resultJSON)
	session.StartedAt = time.Unix(0, startedAt).UTC()
	session.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		session.CompletedAt = &t
	}

	if responsesJSON.Valid {
		if err := json.Unmarshal([]byte(responsesJSON.String), &session.Responses); err != nil {
			return nil, fmt.Errorf("corrupt response log: %w", err)
		}
	}
	if summariesJSON.Valid {
		if err := json.Unmarshal([]byte(summariesJSON.String), &session.Summaries); err != nil {
			return nil, fmt.Errorf("corrupt summaries: %w", err)
		}
	}

	return &session, nil
}

func validateSession(session *Session) error {
	if session == nil {
		return fmt.Errorf("%w: nil session", ErrInvalidSession)
	}
	if session.ID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidSession)
	}
	if session.ProjectID == "" {
		return fmt.Errorf("%w: empty project id", ErrInvalidSession)
	}
	if session.Status != StatusActive && session.Status != StatusCompleted {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSession, session.Status)
	}
	return nil
}

// marshalNullable encodes a slice, mapping empty to SQL NULL.
func marshalNullable(v any) (any, error) {
	switch vv := v.(type) {
	case []Response:
		if len(vv) == 0 {
			return nil, nil
		}
	case []string:
		if len(vv) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func rawToNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullToRaw(ns sql.NullString) json.RawMessage {
	if !ns.Valid {
		return nil
	}
	return json.RawMessage(ns.String)
}

func timeToNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
