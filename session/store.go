// Package session persists sessions and their message history in
// SQLite and handles inbound message preparation: attachment decoding,
// activation detection and the sync-on-finish protocol.
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
	_ "modernc.org/sqlite"
)

// Session statuses.
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusArchived  = "archived"
)

// Message types.
const (
	TypeUser   = "user"
	TypeAI     = "ai"
	TypeSystem = "system"
	TypeTool   = "tool"
)

// Assistant types.
const (
	AssistantLisa = "lisa"
	AssistantAlex = "alex"
)

// Sentinel errors.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrUnknownAssistant = errors.New("unknown assistant type")
)

// Session is one conversation row.
type Session struct {
	ID               string          `json:"id"`
	ProjectName      string          `json:"project_name"`
	AssistantType    string          `json:"assistant_type"`
	SessionStatus    string          `json:"session_status"`
	CurrentStage     string          `json:"current_stage,omitempty"`
	UserContext      json.RawMessage `json:"user_context,omitempty"`
	AIContext        json.RawMessage `json:"ai_context,omitempty"`
	ConsensusContent json.RawMessage `json:"consensus_content,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Message is one stored chat message row.
type Message struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	MessageType   string          `json:"message_type"`
	Content       string          `json:"content"`
	AttachedFiles json.RawMessage `json:"attached_files,omitempty"`
	Metadata      json.RawMessage `json:"message_metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Store is the SQLite-backed session store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("session: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("session: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("session: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id                TEXT PRIMARY KEY,
			project_name      TEXT NOT NULL,
			assistant_type    TEXT NOT NULL,
			session_status    TEXT NOT NULL DEFAULT 'active',
			current_stage     TEXT,
			user_context      TEXT,
			ai_context        TEXT,
			consensus_content TEXT,
			created_at        TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at        TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS messages (
			id               TEXT PRIMARY KEY,
			session_id       TEXT NOT NULL,
			message_type     TEXT NOT NULL,
			content          TEXT NOT NULL,
			attached_files   TEXT,
			message_metadata TEXT,
			created_at       TEXT NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_msg_session ON messages(session_id);
		CREATE INDEX IF NOT EXISTS idx_msg_created ON messages(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a new session and returns it with a generated id.
func (s *Store) Create(ctx context.Context, projectName, assistantType string) (*Session, error) {
	switch assistantType {
	case AssistantLisa, AssistantAlex:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAssistant, assistantType)
	}

	sess := &Session{
		ID:            uuid.NewString(),
		ProjectName:   projectName,
		AssistantType: assistantType,
		SessionStatus: StatusActive,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_name, assistant_type, session_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectName, sess.AssistantType, sess.SessionStatus,
		sess.CreatedAt.Format(time.RFC3339), sess.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// Get loads one session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_name, assistant_type, session_status,
		       COALESCE(current_stage, ''), user_context, ai_context,
		       consensus_content, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var sess Session
	var userCtx, aiCtx, consensus sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&sess.ID, &sess.ProjectName, &sess.AssistantType,
		&sess.SessionStatus, &sess.CurrentStage, &userCtx, &aiCtx,
		&consensus, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}

	sess.UserContext = rawJSON(userCtx)
	sess.AIContext = rawJSON(aiCtx)
	sess.ConsensusContent = rawJSON(consensus)
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &sess, nil
}

// UpdateContext stores the per-turn context snapshot on the session row.
func (s *Store) UpdateContext(ctx context.Context, id, currentStage string, aiContext any) error {
	data, err := json.Marshal(aiContext)
	if err != nil {
		return fmt.Errorf("session: marshal ai context: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET current_stage = ?, ai_context = ?, updated_at = ?
		WHERE id = ?`,
		currentStage, string(data), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("session: update context: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// AddMessage inserts one message row. A blank id gets a generated UUID.
func (s *Store) AddMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, message_type, content, attached_files, message_metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.MessageType, msg.Content,
		nullable(msg.AttachedFiles), nullable(msg.Metadata),
		msg.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("session: add message: %w", err)
	}
	return nil
}

// Messages returns a session's messages in insertion order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, message_type, content, attached_files, message_metadata, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		var attached, meta sql.NullString
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.MessageType,
			&msg.Content, &attached, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("session: scan message: %w", err)
		}
		msg.AttachedFiles = rawJSON(attached)
		msg.Metadata = rawJSON(meta)
		msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, msg)
	}
	return out, rows.Err()
}

// UpdateMessageContent replaces a stored message's content.
func (s *Store) UpdateMessageContent(ctx context.Context, id, content string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("session: update message: %w", err)
	}
	return nil
}

// HasToolMessage reports whether a tool row with the given tool_call_id
// already exists for the session. Sync-on-finish uses this to stay
// idempotent.
func (s *Store) HasToolMessage(ctx context.Context, sessionID, toolCallID string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE session_id = ? AND message_type = 'tool'
		  AND json_extract(message_metadata, '$.tool_call_id') = ?`,
		sessionID, toolCallID)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("session: tool message lookup: %w", err)
	}
	return n > 0, nil
}

func rawJSON(v sql.NullString) json.RawMessage {
	if !v.Valid || v.String == "" {
		return nil
	}
	return json.RawMessage(v.String)
}

func nullable(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}
