// Package llmtest provides scripted adapters for tests.
package llmtest

import (
	"context"
	"sync"
	"time"

	"github.com/joseph-ayodele/doc-analyzer/constants"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
)

// Step produces the outcome of one call.
type Step func(ctx context.Context, variant string) llm.Outcome

// Call records one invocation of the stub.
type Call struct {
	Variant string
	Timeout time.Duration
	Request llm.AnalysisRequest
}

// Stub is an llm.Adapter that replays Steps in order and repeats the last one.
type Stub struct {
	name     string
	variants []string

	mu    sync.Mutex
	steps []Step
	calls []Call
}

func NewStub(name string, variants []string, steps ...Step) *Stub {
	return &Stub{name: name, variants: variants, steps: steps}
}

func (s *Stub) Name() string       { return s.name }
func (s *Stub) Variants() []string { return s.variants }

func (s *Stub) Call(ctx context.Context, req llm.AnalysisRequest, variant string, timeout time.Duration) llm.Outcome {
	s.mu.Lock()
	idx := len(s.calls)
	s.calls = append(s.calls, Call{Variant: variant, Timeout: timeout, Request: req})
	var step Step
	switch {
	case len(s.steps) == 0:
		step = Fail(llm.KindUnknown)
	case idx < len(s.steps):
		step = s.steps[idx]
	default:
		step = s.steps[len(s.steps)-1]
	}
	s.mu.Unlock()

	out := step(ctx, variant)
	if out.Err != nil && out.Err.Provider == "" {
		out.Err.Provider = s.name
	}
	return out
}

// Calls returns a snapshot of the recorded invocations.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many times Call ran.
func (s *Stub) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Succeed returns a step yielding the given narrative and metadata.
func Succeed(narrative string, metadata map[string]string) Step {
	return func(context.Context, string) llm.Outcome {
		r := llm.AnalysisResult{Narrative: narrative}
		for k, v := range metadata {
			if r.Metadata == nil {
				r.Metadata = map[constants.MetadataSlot]string{}
			}
			r.Metadata[constants.MetadataSlot(k)] = v
		}
		return llm.Succeeded(r)
	}
}

// Fail returns a step failing with kind.
func Fail(kind llm.ErrorKind) Step {
	return func(_ context.Context, variant string) llm.Outcome {
		return llm.Failed(&llm.ProviderCallError{Kind: kind, Variant: variant, Message: "stub " + kind.String()})
	}
}

// Block waits for ctx and then fails the way a real adapter does on a dead context.
func Block() Step {
	return func(ctx context.Context, variant string) llm.Outcome {
		<-ctx.Done()
		return llm.Failed(llm.NewCallError(llm.KindUnavailable, "stub", variant, ctx.Err()))
	}
}
