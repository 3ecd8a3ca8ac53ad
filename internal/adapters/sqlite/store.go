// Package sqlite persists sessions and graph messages in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"github.com/avencia/graphrun/pkg/domain"
)

// Store implements ports.SessionStore and ports.MessageStore.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc.org/sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		graph_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		status_updated_at TIMESTAMP NOT NULL,
		time_to_live_ms INTEGER NOT NULL DEFAULT 0,
		finished_at TIMESTAMP,
		status_data TEXT,
		variables TEXT,
		graph_schema TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS graph_session_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		name TEXT NOT NULL,
		execution_order INTEGER NOT NULL,
		message_type TEXT NOT NULL,
		message_data TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON graph_session_messages(session_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

func marshalJSON(v map[string]any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, err
	}
	str := string(data)
	return &str, nil
}

func unmarshalJSON(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var out map[string]any
	if err := sonic.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts the session row.
func (s *Store) Create(ctx context.Context, sess *domain.Session) error {
	statusData, err := marshalJSON(sess.StatusData)
	if err != nil {
		return fmt.Errorf("failed to marshal status data: %w", err)
	}
	variables, err := marshalJSON(sess.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}
	graphSchema, err := marshalJSON(sess.GraphSchema)
	if err != nil {
		return fmt.Errorf("failed to marshal graph schema: %w", err)
	}

	now := time.Now().UTC()
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	statusUpdatedAt := sess.StatusUpdatedAt
	if statusUpdatedAt.IsZero() {
		statusUpdatedAt = now
	}
	status := sess.Status
	if status == "" {
		status = domain.StatusPending
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, graph_name, status, status_updated_at, time_to_live_ms, status_data, variables, graph_schema, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.GraphName, status, statusUpdatedAt,
		sess.TimeToLive.Milliseconds(), statusData, variables, graphSchema, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Get returns the session by id.
func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, graph_name, status, status_updated_at, time_to_live_ms, finished_at, status_data, variables, graph_schema, created_at
		 FROM sessions WHERE id = ?`, id,
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// UpdateStatus transitions the session. An "expired" transition is dropped
// when the session already reached end or error, so a late timeout can never
// rewrite a finished run. finished_at is written once.
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.SessionStatus, data map[string]any) error {
	statusData, err := marshalJSON(data)
	if err != nil {
		return fmt.Errorf("failed to marshal status data: %w", err)
	}

	now := time.Now().UTC()
	var finishedAt *time.Time
	if status.Terminal() {
		finishedAt = &now
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET status = ?, status_data = ?, status_updated_at = ?,
		     finished_at = COALESCE(finished_at, ?)
		 WHERE id = ?
		   AND NOT (status IN ('end', 'error') AND ? = 'expired')`,
		status, statusData, now, finishedAt, id, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the session is unknown or the guard dropped the downgrade.
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// SaveVariables persists the durable copy of the variable store.
func (s *Store) SaveVariables(ctx context.Context, id string, variables map[string]any) error {
	data, err := marshalJSON(variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET variables = ? WHERE id = ?`, data, id)
	if err != nil {
		return fmt.Errorf("failed to save variables: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// ListActive returns sessions still subject to timeout monitoring.
func (s *Store) ListActive(ctx context.Context) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, graph_name, status, status_updated_at, time_to_live_ms, finished_at, status_data, variables, graph_schema, created_at
		 FROM sessions
		 WHERE status IN ('pending', 'run', 'wait_for_user') AND time_to_live_ms > 0
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var (
		sess        domain.Session
		ttlMillis   int64
		finishedAt  sql.NullTime
		statusData  sql.NullString
		variables   sql.NullString
		graphSchema sql.NullString
	)
	err := row.Scan(
		&sess.ID, &sess.GraphName, &sess.Status, &sess.StatusUpdatedAt,
		&ttlMillis, &finishedAt, &statusData, &variables, &graphSchema, &sess.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.TimeToLive = time.Duration(ttlMillis) * time.Millisecond
	if finishedAt.Valid {
		sess.FinishedAt = &finishedAt.Time
	}
	if sess.StatusData, err = unmarshalJSON(statusData); err != nil {
		return nil, err
	}
	if sess.Variables, err = unmarshalJSON(variables); err != nil {
		return nil, err
	}
	if sess.GraphSchema, err = unmarshalJSON(graphSchema); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Append stores one graph message.
func (s *Store) Append(ctx context.Context, env *domain.Envelope) error {
	data, err := sonic.Marshal(env.MessageData)
	if err != nil {
		return fmt.Errorf("failed to marshal message data: %w", err)
	}
	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO graph_session_messages (session_id, name, execution_order, message_type, message_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		env.SessionID, env.Name, env.ExecutionOrder, env.MessageData.Type, string(data), ts,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// List returns the session's messages in insertion order.
func (s *Store) List(ctx context.Context, sessionID string) ([]*domain.Envelope, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, name, execution_order, message_data, created_at
		 FROM graph_session_messages WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.Envelope
	for rows.Next() {
		var (
			env  domain.Envelope
			data string
		)
		if err := rows.Scan(&env.SessionID, &env.Name, &env.ExecutionOrder, &data, &env.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if err := sonic.Unmarshal([]byte(data), &env.MessageData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message data: %w", err)
		}
		out = append(out, &env)
	}
	return out, rows.Err()
}
