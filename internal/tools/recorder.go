package tools

import (
	"context"
	"sync"

	"github.com/firebase/genkit/go/ai"
)

// Recorder counts tool invocations during one orchestrator turn. The
// orchestrator inspects it after the reasoning loop to decide whether the
// model consulted the knowledge base or needs the forced-retrieval fallback.
//
// Recorder is safe for concurrent use by multiple goroutines.
type Recorder struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{counts: make(map[string]int)}
}

// Record notes one invocation of the named tool.
func (r *Recorder) Record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[name]++
}

// Count returns how many times the named tool was invoked.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

// Total returns the number of tool invocations across all tools.
func (r *Recorder) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.counts {
		total += n
	}
	return total
}

// recorderKey is the context key for the per-request Recorder.
type recorderKey struct{}

// ContextWithRecorder stores a Recorder in the context. The orchestrator
// injects one per request before invoking the model.
func ContextWithRecorder(ctx context.Context, r *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, r)
}

// RecorderFromContext retrieves the Recorder from the context.
// Returns nil when no recorder is set.
func RecorderFromContext(ctx context.Context) *Recorder {
	r, _ := ctx.Value(recorderKey{}).(*Recorder)
	return r
}

// WithRecording wraps a typed tool handler to count invocations through the
// context-carried Recorder. Handlers run unchanged when no recorder is set,
// so non-orchestrated calls degrade gracefully.
func WithRecording[In, Out any](name string, fn func(*ai.ToolContext, In) (Out, error)) func(*ai.ToolContext, In) (Out, error) {
	return func(ctx *ai.ToolContext, input In) (Out, error) {
		if r := RecorderFromContext(ctx.Context); r != nil {
			r.Record(name)
		}
		return fn(ctx, input)
	}
}
