// Package store is the narrow slice of the conversation database that the
// control plane reads and writes: conversations and their messages.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/lai/internal/model"
)

// ErrConversationNotFound is returned when a conversation id does not
// name a live conversation.
var ErrConversationNotFound = errors.New("store: conversation not found")

// Store is a single serialized handle on the conversation database.
// Every method holds the lock only for its own statements.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			model TEXT NOT NULL,
			provider TEXT NOT NULL,
			system_prompt TEXT,
			deleted INTEGER NOT NULL DEFAULT 0,
			deleted_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('user', 'assistant', 'system')),
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			tokens_used INTEGER,
			deleted INTEGER NOT NULL DEFAULT 0,
			deleted_at INTEGER,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation inserts a new conversation.
func (s *Store) CreateConversation(ctx context.Context, in model.NewConversation) (*model.Conversation, error) {
	now := s.now().Unix()
	c := &model.Conversation{
		ID:           uuid.NewString(),
		Title:        in.Title,
		CreatedAt:    now,
		UpdatedAt:    now,
		Model:        in.Model,
		Provider:     in.Provider,
		SystemPrompt: in.SystemPrompt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at, model, provider, system_prompt)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.CreatedAt, c.UpdatedAt, c.Model, c.Provider, c.SystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("store: create conversation: %w", err)
	}
	return c, nil
}

// GetConversation returns a live conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c model.Conversation
	var prompt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at, model, provider, system_prompt
		 FROM conversations WHERE id = ? AND deleted = 0`, id).
		Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.Model, &c.Provider, &prompt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}
	if prompt.Valid {
		c.SystemPrompt = &prompt.String
	}
	return &c, nil
}

// DeleteConversation soft-deletes a conversation.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET deleted = 1, deleted_at = ? WHERE id = ? AND deleted = 0`,
		s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// CreateMessage appends a message and touches the conversation's
// updated_at so it becomes the most recent conversation.
func (s *Store) CreateMessage(ctx context.Context, in model.NewMessage) (*model.Message, error) {
	if !in.Role.Valid() {
		return nil, fmt.Errorf("store: create message: invalid role %q", in.Role)
	}
	now := s.now().Unix()
	m := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		Role:           in.Role,
		Content:        in.Content,
		Timestamp:      now,
		TokensUsed:     in.TokensUsed,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: create message: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ? AND deleted = 0`, now, in.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("store: touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrConversationNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, timestamp, tokens_used)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, m.Timestamp, m.TokensUsed)
	if err != nil {
		return nil, fmt.Errorf("store: insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: create message: %w", err)
	}
	return m, nil
}

// LastAssistantMessage returns the newest assistant message of the most
// recently updated live conversation, or nil when there is none.
func (s *Store) LastAssistantMessage(ctx context.Context) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, content, timestamp, tokens_used
		 FROM messages
		 WHERE conversation_id = (
			SELECT id FROM conversations WHERE deleted = 0
			ORDER BY updated_at DESC, rowid DESC LIMIT 1
		 )
		 AND role = 'assistant' AND deleted = 0
		 ORDER BY timestamp DESC, rowid DESC
		 LIMIT 1`)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: last assistant message: %w", err)
	}
	return m, nil
}

// ListMessages returns a conversation's live messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, timestamp, tokens_used
		 FROM messages WHERE conversation_id = ? AND deleted = 0
		 ORDER BY timestamp ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list messages: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc scanner) (*model.Message, error) {
	var m model.Message
	var role string
	var tokens sql.NullInt64
	if err := sc.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Timestamp, &tokens); err != nil {
		return nil, err
	}
	m.Role = model.Role(role)
	if tokens.Valid {
		m.TokensUsed = &tokens.Int64
	}
	return &m, nil
}
