// Package store persists members, conversations, messages and escalations in
// PostgreSQL. All queries are hand-written parameterized SQL over pgx.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides CRUD access to the support schema.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     DB
	logger *slog.Logger
}

// New creates a Store backed by the given database handle.
func New(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// GetUserBySessionKey looks up a user by session key.
// Returns ErrNotFound when no user exists for the key.
func (s *Store) GetUserBySessionKey(ctx context.Context, sessionKey string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, session_key, COALESCE(name, ''), COALESCE(email, ''),
		       COALESCE(phone, ''), COALESCE(notes, ''), created_at, updated_at
		FROM users WHERE session_key = $1`, sessionKey).
		Scan(&u.ID, &u.SessionKey, &u.Name, &u.Email, &u.Phone, &u.Notes, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user for session %q: %w", sessionKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by session key: %w", err)
	}
	return &u, nil
}

// CreateUser creates a user for a session key.
// ON CONFLICT handles the race where two requests bind the same new session
// concurrently: both end up with the same row.
func (s *Store) CreateUser(ctx context.Context, sessionKey string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (id, session_key)
		VALUES ($1, $2)
		ON CONFLICT (session_key) DO UPDATE SET updated_at = now()
		RETURNING id, session_key, COALESCE(name, ''), COALESCE(email, ''),
		          COALESCE(phone, ''), COALESCE(notes, ''), created_at, updated_at`,
		uuid.New(), sessionKey).
		Scan(&u.ID, &u.SessionKey, &u.Name, &u.Email, &u.Phone, &u.Notes, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating user for session %q: %w", sessionKey, err)
	}

	s.logger.Debug("created user", "id", u.ID, "session_key", sessionKey)
	return &u, nil
}

// UpdateUserContact merges non-empty contact fields into the user row.
// Notes append rather than replace, so details from earlier in the
// conversation survive later updates.
func (s *Store) UpdateUserContact(ctx context.Context, userID uuid.UUID, update ContactUpdate) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET
		    name  = CASE WHEN $2 <> '' THEN $2 ELSE name END,
		    email = CASE WHEN $3 <> '' THEN $3 ELSE email END,
		    phone = CASE WHEN $4 <> '' THEN $4 ELSE phone END,
		    notes = CASE WHEN $5 <> '' THEN trim(both E'\n' from COALESCE(notes, '') || E'\n' || $5) ELSE notes END,
		    updated_at = now()
		WHERE id = $1`,
		userID, update.Name, update.Email, update.Phone, update.Notes)
	if err != nil {
		return fmt.Errorf("updating contact for user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// CreateConversation starts a new conversation for a user.
func (s *Store) CreateConversation(ctx context.Context, userID uuid.UUID) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRow(ctx, `
		INSERT INTO conversations (id, user_id)
		VALUES ($1, $2)
		RETURNING id, user_id, created_at`,
		uuid.New(), userID).
		Scan(&c.ID, &c.UserID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating conversation for user %s: %w", userID, err)
	}

	s.logger.Debug("created conversation", "id", c.ID, "user_id", userID)
	return &c, nil
}

// LatestConversation returns the most recent conversation of a user.
// Returns ErrNotFound when the user has no conversations.
func (s *Store) LatestConversation(ctx context.Context, userID uuid.UUID) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, created_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, userID).
		Scan(&c.ID, &c.UserID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversations for user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest conversation: %w", err)
	}
	return &c, nil
}

// AddMessage appends a message to a conversation. The timestamp is assigned
// by the database.
func (s *Store) AddMessage(ctx context.Context, conversationID uuid.UUID, role, content string) (*Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return nil, fmt.Errorf("invalid message role %q", role)
	}

	var m Message
	err := s.db.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, role, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, conversation_id, role, content, sent_at`,
		uuid.New(), conversationID, role, content).
		Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.SentAt)
	if err != nil {
		return nil, fmt.Errorf("adding message to conversation %s: %w", conversationID, err)
	}
	return &m, nil
}

// RecentMessages returns the last limit messages of a conversation in
// chronological order. The (sent_at, id) ordering keeps results stable when
// two messages share a timestamp.
func (s *Store) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	if limit < 1 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, role, content, sent_at
		FROM (
		    SELECT id, conversation_id, role, content, sent_at
		    FROM messages
		    WHERE conversation_id = $1
		    ORDER BY sent_at DESC, id DESC
		    LIMIT $2
		) recent
		ORDER BY sent_at ASC, id ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("getting messages for conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CreateEscalation records a new escalation in pending state.
func (s *Store) CreateEscalation(ctx context.Context, esc Escalation) (*Escalation, error) {
	if !ValidIssueType(esc.IssueType) {
		return nil, fmt.Errorf("invalid issue type %q", esc.IssueType)
	}

	var out Escalation
	var resolvedAt *time.Time
	err := s.db.QueryRow(ctx, `
		INSERT INTO escalations (id, conversation_id, issue_type, original_request,
		                         contact_name, contact_email, contact_phone, context, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, conversation_id, issue_type, original_request,
		          COALESCE(contact_name, ''), COALESCE(contact_email, ''),
		          COALESCE(contact_phone, ''), COALESCE(context, ''),
		          status, created_at, resolved_at`,
		uuid.New(), esc.ConversationID, esc.IssueType, esc.OriginalRequest,
		esc.ContactName, esc.ContactEmail, esc.ContactPhone, esc.Context, StatusPending).
		Scan(&out.ID, &out.ConversationID, &out.IssueType, &out.OriginalRequest,
			&out.ContactName, &out.ContactEmail, &out.ContactPhone, &out.Context,
			&out.Status, &out.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, fmt.Errorf("creating escalation: %w", err)
	}
	out.ResolvedAt = resolvedAt

	s.logger.Info("escalation recorded",
		"id", out.ID, "conversation_id", out.ConversationID, "issue_type", out.IssueType)
	return &out, nil
}

// EscalationByConversationAndType returns the newest escalation of a given
// issue type within a conversation. Returns ErrNotFound when none exists.
func (s *Store) EscalationByConversationAndType(ctx context.Context, conversationID uuid.UUID, issueType string) (*Escalation, error) {
	var esc Escalation
	var resolvedAt *time.Time
	err := s.db.QueryRow(ctx, `
		SELECT id, conversation_id, issue_type, original_request,
		       COALESCE(contact_name, ''), COALESCE(contact_email, ''),
		       COALESCE(contact_phone, ''), COALESCE(context, ''),
		       status, created_at, resolved_at
		FROM escalations
		WHERE conversation_id = $1 AND issue_type = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, conversationID, issueType).
		Scan(&esc.ID, &esc.ConversationID, &esc.IssueType, &esc.OriginalRequest,
			&esc.ContactName, &esc.ContactEmail, &esc.ContactPhone, &esc.Context,
			&esc.Status, &esc.CreatedAt, &resolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("escalation %s/%s: %w", conversationID, issueType, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting escalation: %w", err)
	}
	esc.ResolvedAt = resolvedAt
	return &esc, nil
}

// UpdateEscalationStatus transitions an escalation to a new status.
func (s *Store) UpdateEscalationStatus(ctx context.Context, id uuid.UUID, status string) error {
	if status != StatusPending && status != StatusNotified && status != StatusError {
		return fmt.Errorf("invalid escalation status %q", status)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE escalations SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("updating escalation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("escalation %s: %w", id, ErrNotFound)
	}
	return nil
}

// ResolveEscalation marks an escalation resolved, stamping resolved_at.
func (s *Store) ResolveEscalation(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE escalations SET resolved_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resolving escalation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("escalation %s: %w", id, ErrNotFound)
	}
	return nil
}

// LogUnknownQuestion records a question the knowledge base could not answer.
func (s *Store) LogUnknownQuestion(ctx context.Context, question, questionContext string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return fmt.Errorf("question is empty")
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO unknown_questions (question, context) VALUES ($1, $2)`,
		question, strings.TrimSpace(questionContext))
	if err != nil {
		return fmt.Errorf("logging unknown question: %w", err)
	}
	return nil
}
