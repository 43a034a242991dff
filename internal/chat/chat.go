// Package chat drives the member-support conversation loop: it binds the
// session, replays bounded history, runs the model through its tools, and
// applies the forced-retrieval backstop so every answer is grounded in the
// knowledge base or a known fallback message.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/horizonbay/support-agent/internal/knowledge"
	"github.com/horizonbay/support-agent/internal/session"
	"github.com/horizonbay/support-agent/internal/store"
	"github.com/horizonbay/support-agent/internal/tools"
)

const (
	// Name is the unique identifier for the support agent.
	Name = "support"

	// PromptName is the Dotprompt file holding the agent's instruction
	// profile. Corresponds to prompts/alexa.prompt.
	PromptName = "alexa"

	// defaultMaxTurns bounds the reasoning/act loop per request.
	defaultMaxTurns = 5

	// defaultMaxHistoryMessages bounds how much conversation history is
	// replayed into the prompt.
	defaultMaxHistoryMessages = 20

	// notFoundMessage is returned when forced retrieval finds nothing
	// relevant to ground an answer in.
	notFoundMessage = "I'm sorry, I couldn't find information about that in our knowledge base. " +
		"Please call us at 1-888-HBCU-HELP and a member advocate will help you directly."

	// apologyMessage is returned when anything fails internally. Detail
	// goes to the log, never to the member.
	apologyMessage = "I apologize, but I ran into a problem while handling your request. " +
		"Please try again in a moment, or call us at 1-888-HBCU-HELP."

	// emptyResponseMessage covers a model that produced no text at all.
	emptyResponseMessage = "I apologize, but I couldn't generate a response. " +
		"Please try rephrasing your question, or call us at 1-888-HBCU-HELP."
)

// groundingPrompt is the forced-retrieval completion template. It runs
// without tools so the model can only draw on the excerpts provided.
const groundingPrompt = `You are Alexa, the virtual member advocate for Horizon Bay Credit Union.
Answer the member's question using ONLY the knowledge base excerpts below.
If the excerpts do not contain the answer, say so and direct the member to call 1-888-HBCU-HELP.
Do not use any knowledge that is not in the excerpts.

Knowledge base excerpts:
%s

Member question: %s`

// ErrInvalidSession indicates the session key is empty or malformed.
var ErrInvalidSession = errors.New("invalid session")

// Response is the result of one conversation turn.
type Response struct {
	FinalText    string
	ToolRequests []*ai.ToolRequest

	// ForcedRetrieval reports whether the deterministic fallback replaced
	// the model's ungrounded answer.
	ForcedRetrieval bool
}

// SessionBinder resolves session keys to users and conversations.
type SessionBinder interface {
	Bind(ctx context.Context, sessionKey string) (*session.Binding, error)
}

// MessageStore persists and replays conversation messages.
type MessageStore interface {
	AddMessage(ctx context.Context, conversationID uuid.UUID, role, content string) (*store.Message, error)
	RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]store.Message, error)
}

// KnowledgeSearcher is the retriever used for the forced-retrieval backstop.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// Config contains all required parameters for the support agent.
type Config struct {
	Genkit   *genkit.Genkit
	Binder   SessionBinder
	Messages MessageStore
	Searcher KnowledgeSearcher
	Logger   *slog.Logger
	Tools    []ai.Tool

	// ModelName is the provider-qualified model name, e.g.
	// "googleai/gemini-2.5-flash". Overrides the Dotprompt model.
	ModelName string

	// MaxTurns bounds the agentic loop. Zero uses the default.
	MaxTurns int

	// MaxHistoryMessages bounds replayed history. Zero uses the default.
	MaxHistoryMessages int

	// RetryConfig tunes LLM retry behavior. Zero-value uses defaults.
	RetryConfig RetryConfig

	// RateLimiter applies proactive rate limiting per attempt. Nil uses
	// a default limiter.
	RateLimiter *rate.Limiter
}

// validate checks that all required parameters are present.
func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Binder == nil {
		return errors.New("session binder is required")
	}
	if cfg.Messages == nil {
		return errors.New("message store is required")
	}
	if cfg.Searcher == nil {
		return errors.New("knowledge searcher is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if len(cfg.Tools) == 0 {
		return errors.New("at least one tool is required")
	}
	return nil
}

// Agent is the member-support conversational agent. It is stateless; all
// configuration is captured immutably at construction for safe concurrent
// use.
type Agent struct {
	modelName  string
	maxTurns   int
	maxHistory int

	retryConfig RetryConfig
	rateLimiter *rate.Limiter

	g        *genkit.Genkit
	binder   SessionBinder
	messages MessageStore
	searcher KnowledgeSearcher
	logger   *slog.Logger
	tools    []ai.Tool
	toolRefs []ai.ToolRef
	prompt   ai.Prompt
}

// New creates the support agent. The instruction profile prompts/alexa.prompt
// must be registered with Genkit; a missing prompt is a configuration error.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	maxHistory := cfg.MaxHistoryMessages
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistoryMessages
	}

	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}

	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
	}

	a := &Agent{
		modelName:   cfg.ModelName,
		maxTurns:    maxTurns,
		maxHistory:  maxHistory,
		retryConfig: retryConfig,
		rateLimiter: rl,
		g:           cfg.Genkit,
		binder:      cfg.Binder,
		messages:    cfg.Messages,
		searcher:    cfg.Searcher,
		logger:      cfg.Logger,
		tools:       cfg.Tools,
		toolRefs:    toolRefs,
	}

	a.prompt = genkit.LookupPrompt(a.g, PromptName)
	if a.prompt == nil {
		return nil, fmt.Errorf("dotprompt %q not found: ensure the prompts directory is configured", PromptName)
	}

	a.logger.Info("support agent initialized",
		"tools", len(a.tools),
		"max_turns", a.maxTurns,
	)
	return a, nil
}

// Execute runs one conversation turn. Internal failures never propagate to
// the caller; they are logged and converted to a fixed apology message so
// the member always receives a polite answer.
func (a *Agent) Execute(ctx context.Context, sessionKey, input string) *Response {
	resp, err := a.execute(ctx, sessionKey, input)
	if err != nil {
		a.logger.Error("chat turn failed",
			"session_key", sessionKey,
			"error", err,
		)
		return &Response{FinalText: apologyMessage}
	}
	return resp
}

func (a *Agent) execute(ctx context.Context, sessionKey, input string) (*Response, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidSession)
	}

	binding, err := a.binder.Bind(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	convID := binding.Conversation.ID

	// Tool handlers identify the member through the context, never through
	// model-supplied arguments.
	ctx = session.ContextWithBinding(ctx, binding)

	history, err := a.messages.RecentMessages(ctx, convID, a.maxHistory)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	if _, err := a.messages.AddMessage(ctx, convID, store.RoleUser, input); err != nil {
		return nil, fmt.Errorf("appending user message: %w", err)
	}

	// Track tool invocations so the grounding backstop can tell whether
	// the model consulted the knowledge base on its own.
	recorder := tools.NewRecorder()
	ctx = tools.ContextWithRecorder(ctx, recorder)

	resp, err := a.generateResponse(ctx, input, historyToMessages(history))
	if err != nil {
		return nil, err
	}

	answer := strings.TrimSpace(resp.Text())
	forced := false

	if recorder.Count(tools.SearchKnowledgeBaseName) == 0 {
		// The model answered without consulting the knowledge base. Its
		// answer is not trusted; retrieve directly and either re-ask
		// with grounding or fall back to the fixed not-found message.
		a.logger.Info("forcing retrieval, model skipped knowledge base",
			"session_key", sessionKey)
		answer, err = a.forceRetrieval(ctx, input)
		if err != nil {
			return nil, err
		}
		forced = true
	} else if answer == "" && len(resp.ToolRequests()) == 0 {
		a.logger.Warn("model returned empty response", "session_key", sessionKey)
		answer = emptyResponseMessage
	}

	// Best-effort: a failed append must not cost the member their answer.
	if _, err := a.messages.AddMessage(ctx, convID, store.RoleAssistant, answer); err != nil {
		a.logger.Warn("appending assistant message", "error", err)
	}

	return &Response{
		FinalText:       answer,
		ToolRequests:    resp.ToolRequests(),
		ForcedRetrieval: forced,
	}, nil
}

// generateResponse renders the instruction profile and runs the model with
// the full tool set, bounded turns, retry and rate limiting. The request is
// assembled as instructions first, then replayed history, then the member's
// message, so the member's question is always the last user turn.
func (a *Agent) generateResponse(ctx context.Context, input string, history []*ai.Message) (*ai.ModelResponse, error) {
	actionOpts, err := a.prompt.Render(ctx, map[string]any{
		"current_date": time.Now().Format("2006-01-02"),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering prompt %q: %w", PromptName, err)
	}

	// Render returns the template as a user message. Re-role it to system:
	// it is the agent's standing instructions, not a member turn.
	messages := make([]*ai.Message, 0, len(actionOpts.Messages)+len(history)+1)
	for _, m := range actionOpts.Messages {
		messages = append(messages, &ai.Message{
			Role:     ai.RoleSystem,
			Content:  m.Content,
			Metadata: m.Metadata,
		})
	}
	messages = append(messages, history...)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(input)))
	actionOpts.Messages = messages

	actionOpts.MaxTurns = a.maxTurns
	toolNames := make([]string, len(a.toolRefs))
	for i, t := range a.toolRefs {
		toolNames[i] = t.Name()
	}
	actionOpts.Tools = toolNames
	if a.modelName != "" {
		actionOpts.Model = a.modelName
	}

	return a.executeWithRetry(ctx, actionOpts)
}

// forceRetrieval is the deterministic grounding backstop. It searches the
// knowledge base with the raw member message; on hits it issues one extra
// completion constrained to the excerpts, on zero hits it returns the fixed
// not-found message.
func (a *Agent) forceRetrieval(ctx context.Context, input string) (string, error) {
	results, err := a.searcher.Search(ctx, input)
	if err != nil {
		return "", fmt.Errorf("forced retrieval: %w", err)
	}
	if len(results) == 0 {
		return notFoundMessage, nil
	}

	var excerpts strings.Builder
	for i, r := range results {
		if i > 0 {
			excerpts.WriteString("\n\n")
		}
		if src := r.Document.Metadata["source"]; src != "" {
			fmt.Fprintf(&excerpts, "[%s]\n", src)
		}
		excerpts.WriteString(r.Document.Content)
	}

	genOpts := []ai.GenerateOption{
		ai.WithPrompt(groundingPrompt, excerpts.String(), input),
	}
	if a.modelName != "" {
		genOpts = append(genOpts, ai.WithModelName(a.modelName))
	}

	resp, err := genkit.Generate(ctx, a.g, genOpts...)
	if err != nil {
		return "", fmt.Errorf("grounded completion: %w", err)
	}
	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		return notFoundMessage, nil
	}
	return answer, nil
}

// historyToMessages converts stored conversation rows to model messages.
// Unknown roles are skipped.
func historyToMessages(history []store.Message) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case store.RoleUser:
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		case store.RoleAssistant:
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		}
	}
	return msgs
}
