// Package tools defines the agent's tool surface: knowledge base search,
// contact capture, escalation and unknown-question logging. Each tool has a
// typed parameter contract and returns the uniform Result shape.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/horizonbay/support-agent/internal/escalate"
	"github.com/horizonbay/support-agent/internal/knowledge"
	"github.com/horizonbay/support-agent/internal/session"
	"github.com/horizonbay/support-agent/internal/store"
)

// Tool name constants registered with Genkit.
const (
	// SearchKnowledgeBaseName is the retrieval tool.
	SearchKnowledgeBaseName = "search_knowledge_base"
	// RecordUserDetailsName captures member contact information.
	RecordUserDetailsName = "record_user_details"
	// SendNotificationName escalates an issue to the human support team.
	SendNotificationName = "send_notification"
	// LogUnknownQuestionName records a question the knowledge base
	// could not answer.
	LogUnknownQuestionName = "log_unknown_question"
)

// SearchKnowledgeBaseInput defines input for search_knowledge_base.
type SearchKnowledgeBaseInput struct {
	Query string `json:"query" jsonschema_description:"The member question to search the knowledge base for"`
	TopK  int    `json:"topK,omitempty" jsonschema_description:"Maximum results to return (1-10)"`
}

// RecordUserDetailsInput defines input for record_user_details. The member
// is identified by the session binding on the request context, never by the
// model. All contact fields are optional; an all-empty call is an idempotent
// no-op.
type RecordUserDetailsInput struct {
	Name  string `json:"name,omitempty" jsonschema_description:"The member's name"`
	Email string `json:"email,omitempty" jsonschema_description:"The member's email address"`
	Phone string `json:"phone,omitempty" jsonschema_description:"The member's phone number"`
	Notes string `json:"notes,omitempty" jsonschema_description:"Additional context about the member worth keeping"`
}

// SendNotificationInput defines input for send_notification.
type SendNotificationInput struct {
	OriginalRequest string `json:"original_request" jsonschema_description:"The member's request in their own words"`
	IssueType       string `json:"issue_type" jsonschema_description:"Issue category: loan, card, account, fraud or refinance"`
	ContactName     string `json:"contact_name,omitempty" jsonschema_description:"Member name for the support team to use"`
	ContactEmail    string `json:"contact_email,omitempty" jsonschema_description:"Member email for the support team to use"`
	ContactPhone    string `json:"contact_phone,omitempty" jsonschema_description:"Member phone number for the support team to use"`
}

// LogUnknownQuestionInput defines input for log_unknown_question.
type LogUnknownQuestionInput struct {
	Question string `json:"question" jsonschema_description:"The question the knowledge base could not answer"`
	Context  string `json:"context,omitempty" jsonschema_description:"Surrounding conversation context, if helpful"`
}

// KnowledgeSearcher is the retrieval dependency.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// ContactStore persists member contact updates.
type ContactStore interface {
	UpdateUserContact(ctx context.Context, userID uuid.UUID, update store.ContactUpdate) error
}

// Escalator hands issues off to human support.
type Escalator interface {
	Escalate(ctx context.Context, req escalate.Request) (*escalate.Outcome, error)
}

// GapStore records questions the knowledge base could not answer.
type GapStore interface {
	LogUnknownQuestion(ctx context.Context, question, questionContext string) error
}

// Config contains the dependencies of the tool handlers.
type Config struct {
	Searcher  KnowledgeSearcher
	Contacts  ContactStore
	Escalator Escalator
	Gaps      GapStore
	Logger    *slog.Logger
}

// validate checks that all required dependencies are present.
func (cfg Config) validate() error {
	if cfg.Searcher == nil {
		return errors.New("searcher is required")
	}
	if cfg.Contacts == nil {
		return errors.New("contact store is required")
	}
	if cfg.Escalator == nil {
		return errors.New("escalator is required")
	}
	if cfg.Gaps == nil {
		return errors.New("gap store is required")
	}
	return nil
}

// Support holds the dependencies of the tool handlers.
type Support struct {
	searcher KnowledgeSearcher
	contacts ContactStore
	escalate Escalator
	gaps     GapStore
	logger   *slog.Logger
}

// NewSupport creates a Support instance from its dependencies.
func NewSupport(cfg Config) (*Support, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Support{
		searcher: cfg.Searcher,
		contacts: cfg.Contacts,
		escalate: cfg.Escalator,
		gaps:     cfg.Gaps,
		logger:   logger,
	}, nil
}

// Register registers all support tools with Genkit, wrapped so the
// orchestrator can observe invocations through a context Recorder.
func Register(g *genkit.Genkit, s *Support) ([]ai.Tool, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if s == nil {
		return nil, fmt.Errorf("Support is required")
	}

	return []ai.Tool{
		genkit.DefineTool(g, SearchKnowledgeBaseName,
			"Search the Horizon Bay Credit Union knowledge base using semantic similarity. "+
				"Returns the most relevant policy and product excerpts with source attribution. "+
				"ALWAYS use this before answering questions about accounts, cards, loans, fees or policies.",
			WithRecording(SearchKnowledgeBaseName, s.SearchKnowledgeBase)),
		genkit.DefineTool(g, RecordUserDetailsName,
			"Record the member's contact details (name, email, phone) for follow-up. "+
				"Use this as soon as the member shares any contact information. "+
				"Contact details must be recorded before an issue can be escalated.",
			WithRecording(RecordUserDetailsName, s.RecordUserDetails)),
		genkit.DefineTool(g, SendNotificationName,
			"Escalate an issue to the human support team. "+
				"Requires an issue type (loan, card, account, fraud or refinance) and member "+
				"contact details recorded beforehand. Alerts the team immediately.",
			WithRecording(SendNotificationName, s.SendNotification)),
		genkit.DefineTool(g, LogUnknownQuestionName,
			"Log a question the knowledge base could not answer so the content team can fill the gap. "+
				"Use this whenever a search returns nothing relevant.",
			WithRecording(LogUnknownQuestionName, s.LogUnknownQuestion)),
	}, nil
}

// SearchKnowledgeBase wraps the retriever. Never side-effecting.
func (s *Support) SearchKnowledgeBase(ctx *ai.ToolContext, input SearchKnowledgeBaseInput) (Result, error) {
	if strings.TrimSpace(input.Query) == "" {
		return validationError("query is required"), nil
	}

	var opts []knowledge.SearchOption
	if input.TopK > 0 {
		opts = append(opts, knowledge.WithTopK(input.TopK))
	}

	results, err := s.searcher.Search(ctx, input.Query, opts...)
	if err != nil {
		s.logger.Warn("knowledge search failed", "query", input.Query, "error", err)
		return executionError(fmt.Sprintf("searching knowledge base: %v", err)), nil
	}

	excerpts := make([]map[string]any, 0, len(results))
	for _, r := range results {
		excerpts = append(excerpts, map[string]any{
			"content":    r.Document.Content,
			"source":     r.Document.Metadata["source"],
			"similarity": r.Similarity,
		})
	}

	s.logger.Debug("knowledge search", "query", input.Query, "result_count", len(excerpts))
	return success(map[string]any{
		"query":        input.Query,
		"result_count": len(excerpts),
		"results":      excerpts,
	}), nil
}

// RecordUserDetails upserts contact fields onto the member record for the
// bound session. An all-empty update succeeds as a no-op.
func (s *Support) RecordUserDetails(ctx *ai.ToolContext, input RecordUserDetailsInput) (Result, error) {
	binding := session.BindingFromContext(ctx)
	if binding == nil {
		return executionError("no active session for this conversation turn"), nil
	}

	update := store.ContactUpdate{
		Name:  strings.TrimSpace(input.Name),
		Email: strings.TrimSpace(input.Email),
		Phone: strings.TrimSpace(input.Phone),
		Notes: strings.TrimSpace(input.Notes),
	}
	if update == (store.ContactUpdate{}) {
		return success(map[string]any{"message": "no details provided, nothing recorded"}), nil
	}

	if err := s.contacts.UpdateUserContact(ctx, binding.User.ID, update); err != nil {
		s.logger.Warn("contact update failed", "user_id", binding.User.ID, "error", err)
		return executionError(fmt.Sprintf("recording details: %v", err)), nil
	}

	s.logger.Info("contact details recorded", "user_id", binding.User.ID)
	return success(map[string]any{"message": "contact details recorded"}), nil
}

// SendNotification escalates an issue through the escalation tracker.
// Contact identification must exist before escalating, either stored on the
// member record by record_user_details or supplied in this call.
func (s *Support) SendNotification(ctx *ai.ToolContext, input SendNotificationInput) (Result, error) {
	if !store.ValidIssueType(input.IssueType) {
		return validationError(fmt.Sprintf(
			"issue_type %q is not valid, must be one of: loan, card, account, fraud, refinance",
			input.IssueType)), nil
	}
	if strings.TrimSpace(input.OriginalRequest) == "" {
		return validationError("original_request is required"), nil
	}

	binding := session.BindingFromContext(ctx)
	if binding == nil {
		return executionError("no active session for this conversation turn"), nil
	}

	name := firstNonEmpty(input.ContactName, binding.User.Name)
	email := firstNonEmpty(input.ContactEmail, binding.User.Email)
	phone := firstNonEmpty(input.ContactPhone, binding.User.Phone)
	if name == "" && email == "" && phone == "" {
		return validationError(
			"no contact information available; record the member's details with record_user_details first"), nil
	}

	outcome, err := s.escalate.Escalate(ctx, escalate.Request{
		ConversationID:  binding.Conversation.ID,
		IssueType:       input.IssueType,
		OriginalRequest: input.OriginalRequest,
		ContactName:     name,
		ContactEmail:    email,
		ContactPhone:    phone,
	})
	if err != nil {
		s.logger.Warn("escalation failed",
			"conversation_id", binding.Conversation.ID, "issue_type", input.IssueType, "error", err)
		return executionError(fmt.Sprintf("escalating issue: %v", err)), nil
	}

	if outcome.AlreadyEscalated {
		return success(map[string]any{
			"message": "this issue has already been escalated to the support team",
			"status":  outcome.Escalation.Status,
		}), nil
	}
	return success(map[string]any{
		"message": "the support team has been notified",
		"status":  outcome.Escalation.Status,
	}), nil
}

// LogUnknownQuestion records a knowledge gap, both in the structured log and
// in the unknown_questions table.
func (s *Support) LogUnknownQuestion(ctx *ai.ToolContext, input LogUnknownQuestionInput) (Result, error) {
	if strings.TrimSpace(input.Question) == "" {
		return validationError("question is required"), nil
	}

	s.logger.Warn("unknown question logged",
		"question", input.Question, "context", input.Context)

	if err := s.gaps.LogUnknownQuestion(ctx, input.Question, input.Context); err != nil {
		s.logger.Warn("persisting unknown question failed", "error", err)
		return executionError(fmt.Sprintf("logging question: %v", err)), nil
	}
	return success(map[string]any{"message": "question logged for the content team"}), nil
}

// firstNonEmpty returns the first non-blank string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
