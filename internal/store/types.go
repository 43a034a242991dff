package store

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Escalation statuses.
const (
	// StatusPending marks an escalation recorded but not yet delivered.
	StatusPending = "pending"

	// StatusNotified marks an escalation whose alert reached the support team.
	StatusNotified = "notified"

	// StatusError marks an escalation whose alert delivery failed.
	StatusError = "error"
)

// Issue types accepted for escalations.
const (
	IssueLoan      = "loan"
	IssueCard      = "card"
	IssueAccount   = "account"
	IssueFraud     = "fraud"
	IssueRefinance = "refinance"
)

// ValidIssueType reports whether t is a recognized escalation issue type.
func ValidIssueType(t string) bool {
	switch t {
	case IssueLoan, IssueCard, IssueAccount, IssueFraud, IssueRefinance:
		return true
	}
	return false
}

// User is a member identified by their session key.
// Contact fields are filled in as the member volunteers them.
type User struct {
	ID         uuid.UUID
	SessionKey string
	Name       string
	Email      string
	Phone      string
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Conversation groups the messages of one support session.
type Conversation struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CreatedAt time.Time
}

// Message is a single turn in a conversation.
// SentAt is assigned by the database so ordering never depends on client clocks.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	SentAt         time.Time
}

// Escalation records an issue handed off to human support.
type Escalation struct {
	ID              uuid.UUID
	ConversationID  uuid.UUID
	IssueType       string
	OriginalRequest string
	ContactName     string
	ContactEmail    string
	ContactPhone    string
	Context         string
	Status          string
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

// ContactUpdate carries the fields of a contact-details update.
// Empty fields leave the stored value unchanged.
type ContactUpdate struct {
	Name  string
	Email string
	Phone string
	Notes string
}
