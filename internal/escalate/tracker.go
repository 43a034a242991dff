// Package escalate hands member issues off to human support. It records an
// escalation, enriches it with recent conversation context, delivers a
// Pushover alert and deduplicates repeat requests for the same issue.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/horizonbay/support-agent/internal/notify"
	"github.com/horizonbay/support-agent/internal/store"
)

// contextMessages is how many recent messages are attached to an alert.
const contextMessages = 5

// ErrInvalidIssueType is returned for unrecognized issue types.
var ErrInvalidIssueType = errors.New("invalid issue type")

// Store is the slice of the persistence layer the tracker needs.
type Store interface {
	CreateEscalation(ctx context.Context, esc store.Escalation) (*store.Escalation, error)
	EscalationByConversationAndType(ctx context.Context, conversationID uuid.UUID, issueType string) (*store.Escalation, error)
	UpdateEscalationStatus(ctx context.Context, id uuid.UUID, status string) error
	RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]store.Message, error)
}

// Request describes one escalation attempt.
type Request struct {
	ConversationID  uuid.UUID
	IssueType       string
	OriginalRequest string
	ContactName     string
	ContactEmail    string
	ContactPhone    string
}

// Outcome reports what Escalate did.
type Outcome struct {
	Escalation *store.Escalation

	// AlreadyEscalated is true when a previous escalation for the same
	// conversation and issue type was already delivered, so no new alert
	// was sent.
	AlreadyEscalated bool
}

// Tracker coordinates escalations. A per-conversation-and-issue lock makes
// the check-then-create sequence atomic, so two concurrent requests for the
// same issue produce exactly one alert.
//
// Tracker is safe for concurrent use by multiple goroutines.
type Tracker struct {
	store    Store
	notifier notify.Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a Tracker.
func NewTracker(s Store, notifier notify.Notifier, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:    s,
		notifier: notifier,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Escalate records the issue and alerts the support team.
//
// A repeat request for an issue already delivered returns a success-shaped
// outcome with AlreadyEscalated set, so the model can tell the member their
// issue is in the queue without paging the team twice. Notification failure
// leaves the escalation recorded with status "error" and returns an error.
func (t *Tracker) Escalate(ctx context.Context, req Request) (*Outcome, error) {
	if !store.ValidIssueType(req.IssueType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIssueType, req.IssueType)
	}
	if strings.TrimSpace(req.OriginalRequest) == "" {
		return nil, errors.New("original request must not be empty")
	}

	unlock := t.lock(req.ConversationID, req.IssueType)
	defer unlock()

	existing, err := t.store.EscalationByConversationAndType(ctx, req.ConversationID, req.IssueType)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking for existing escalation: %w", err)
	}
	if existing != nil && existing.Status == store.StatusNotified {
		t.logger.Debug("duplicate escalation suppressed",
			"conversation_id", req.ConversationID, "issue_type", req.IssueType)
		return &Outcome{Escalation: existing, AlreadyEscalated: true}, nil
	}

	esc, err := t.store.CreateEscalation(ctx, store.Escalation{
		ConversationID:  req.ConversationID,
		IssueType:       req.IssueType,
		OriginalRequest: req.OriginalRequest,
		ContactName:     req.ContactName,
		ContactEmail:    req.ContactEmail,
		ContactPhone:    req.ContactPhone,
		Context:         t.conversationContext(ctx, req.ConversationID),
	})
	if err != nil {
		return nil, fmt.Errorf("recording escalation: %w", err)
	}

	if err := t.notifier.Send(ctx, t.alertMessage(esc), alertTitle(esc.IssueType)); err != nil {
		if statusErr := t.store.UpdateEscalationStatus(ctx, esc.ID, store.StatusError); statusErr != nil {
			t.logger.Error("failed to mark escalation errored", "id", esc.ID, "error", statusErr)
		}
		return nil, fmt.Errorf("delivering escalation alert: %w", err)
	}

	if err := t.store.UpdateEscalationStatus(ctx, esc.ID, store.StatusNotified); err != nil {
		// The alert went out; a stale status only risks one duplicate page.
		t.logger.Error("failed to mark escalation notified", "id", esc.ID, "error", err)
	}
	esc.Status = store.StatusNotified

	return &Outcome{Escalation: esc}, nil
}

// lock acquires the mutex for a conversation and issue type pair.
func (t *Tracker) lock(conversationID uuid.UUID, issueType string) func() {
	key := conversationID.String() + "/" + issueType

	t.mu.Lock()
	m, ok := t.locks[key]
	if !ok {
		m = &sync.Mutex{}
		t.locks[key] = m
	}
	t.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// conversationContext formats the recent messages of a conversation for the
// alert body. Failure to load history degrades to an alert without context.
func (t *Tracker) conversationContext(ctx context.Context, conversationID uuid.UUID) string {
	messages, err := t.store.RecentMessages(ctx, conversationID, contextMessages)
	if err != nil {
		t.logger.Warn("failed to load conversation context",
			"conversation_id", conversationID, "error", err)
		return ""
	}

	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// alertMessage builds the Pushover message body.
func (t *Tracker) alertMessage(esc *store.Escalation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Issue: %s\n", esc.IssueType)
	fmt.Fprintf(&sb, "Request: %s\n", esc.OriginalRequest)
	if esc.ContactName != "" {
		fmt.Fprintf(&sb, "Name: %s\n", esc.ContactName)
	}
	if esc.ContactEmail != "" {
		fmt.Fprintf(&sb, "Email: %s\n", esc.ContactEmail)
	}
	if esc.ContactPhone != "" {
		fmt.Fprintf(&sb, "Phone: %s\n", esc.ContactPhone)
	}
	if esc.Context != "" {
		fmt.Fprintf(&sb, "Recent conversation:\n%s\n", esc.Context)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// alertTitle returns the notification title for an issue type.
func alertTitle(issueType string) string {
	if issueType == store.IssueFraud {
		return "Fraud Alert"
	}
	return notify.DefaultTitle
}
