package chat

import (
	"context"
	"sync"

	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"
)

// Input is the request payload for the chat flow.
type Input struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// Output is the response payload from the chat flow.
type Output struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// FlowName is the registered name of the chat flow in Genkit.
const FlowName = "support/chat"

// Flow is the type alias for the agent's Genkit flow, exported for use with
// genkit.Handler in the api package.
type Flow = core.Flow[Input, Output, struct{}]

// Package-level singleton: genkit.DefineFlow panics on re-registration.
var (
	flowOnce sync.Once
	flow     *Flow
)

// NewFlow returns the chat flow singleton, initializing it on first call.
// Subsequent calls return the existing flow.
func NewFlow(g *genkit.Genkit, agent *Agent) *Flow {
	flowOnce.Do(func() {
		flow = agent.defineFlow(g)
	})
	return flow
}

// ResetFlowForTesting resets the flow singleton so tests can initialize with
// different configurations. Not safe for concurrent use.
func ResetFlowForTesting() {
	flowOnce = sync.Once{}
	flow = nil
}

// defineFlow registers the chat flow with Genkit. The flow is a thin typed
// wrapper; Agent.Execute contains the orchestration logic and never returns
// an internal fault to the caller.
func (a *Agent) defineFlow(g *genkit.Genkit) *Flow {
	return genkit.DefineFlow(g, FlowName,
		func(ctx context.Context, input Input) (Output, error) {
			resp := a.Execute(ctx, input.SessionID, input.Message)
			return Output{
				Response:  resp.FinalText,
				SessionID: input.SessionID,
			}, nil
		},
	)
}
