// Package session binds caller-supplied session keys to users and
// conversations. A session key maps to exactly one conversation for the
// lifetime of the process; the binding is materialized lazily on first use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/horizonbay/support-agent/internal/store"
)

// ErrEmptySessionKey is returned when a session key is blank.
var ErrEmptySessionKey = errors.New("session key must not be empty")

// MaxSessionKeyLength bounds caller-supplied session keys.
const MaxSessionKeyLength = 256

// Store is the slice of the persistence layer the binder needs.
type Store interface {
	GetUserBySessionKey(ctx context.Context, sessionKey string) (*store.User, error)
	CreateUser(ctx context.Context, sessionKey string) (*store.User, error)
	CreateConversation(ctx context.Context, userID uuid.UUID) (*store.Conversation, error)
	LatestConversation(ctx context.Context, userID uuid.UUID) (*store.Conversation, error)
}

// Binding is the resolved user and conversation for a session key.
type Binding struct {
	User         *store.User
	Conversation *store.Conversation
}

// Binder resolves session keys to bindings. A per-key lock serializes the
// lookup-or-create sequence so two concurrent first messages for the same
// session cannot create two conversations.
//
// Binder is safe for concurrent use by multiple goroutines.
type Binder struct {
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBinder creates a Binder.
func NewBinder(s Store, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binder{
		store:  s,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Bind resolves the binding for a session key, creating the user and
// conversation on first contact.
func (b *Binder) Bind(ctx context.Context, sessionKey string) (*Binding, error) {
	sessionKey = strings.TrimSpace(sessionKey)
	if sessionKey == "" {
		return nil, ErrEmptySessionKey
	}
	if len(sessionKey) > MaxSessionKeyLength {
		return nil, fmt.Errorf("session key exceeds %d characters", MaxSessionKeyLength)
	}

	unlock := b.lock(sessionKey)
	defer unlock()

	user, err := b.store.GetUserBySessionKey(ctx, sessionKey)
	if errors.Is(err, store.ErrNotFound) {
		user, err = b.store.CreateUser(ctx, sessionKey)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving user for session: %w", err)
	}

	conversation, err := b.store.LatestConversation(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		conversation, err = b.store.CreateConversation(ctx, user.ID)
		if err == nil {
			b.logger.Debug("session bound",
				"session_key", sessionKey, "conversation_id", conversation.ID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolving conversation for session: %w", err)
	}

	return &Binding{User: user, Conversation: conversation}, nil
}

// bindingKey is the context key for the resolved Binding.
type bindingKey struct{}

// ContextWithBinding attaches a resolved binding to the context. The
// orchestrator calls this once per turn so tool handlers can identify the
// member without the model supplying a session identifier.
func ContextWithBinding(ctx context.Context, b *Binding) context.Context {
	return context.WithValue(ctx, bindingKey{}, b)
}

// BindingFromContext returns the binding attached to the context, or nil
// when the turn was not bound.
func BindingFromContext(ctx context.Context) *Binding {
	b, _ := ctx.Value(bindingKey{}).(*Binding)
	return b
}

// lock acquires the mutex for a session key.
func (b *Binder) lock(sessionKey string) func() {
	b.mu.Lock()
	m, ok := b.locks[sessionKey]
	if !ok {
		m = &sync.Mutex{}
		b.locks[sessionKey] = m
	}
	b.mu.Unlock()

	m.Lock()
	return m.Unlock
}
