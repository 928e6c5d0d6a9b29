package llm

import (
	"context"
	"time"

	"github.com/joseph-ayodele/doc-analyzer/constants"
)

// Document is one ingested input: immutable bytes plus a declared media type.
type Document struct {
	Name      string
	MediaType string
	Data      []byte
}

// AnalysisRequest is what the caller asks the providers to do.
type AnalysisRequest struct {
	Documents []Document
	Prompt    string
	// ContextOverride, when non-empty, is prepended to the prompt and takes
	// precedence over conflicting values found in the documents.
	ContextOverride string
}

// AnalysisResult is the normalized shape we want from the LLM.
type AnalysisResult struct {
	Narrative string                            `json:"narrative"`
	Metadata  map[constants.MetadataSlot]string `json:"metadata,omitempty"`
}

// Value returns the metadata slot value and whether the provider returned it.
func (r AnalysisResult) Value(slot constants.MetadataSlot) (string, bool) {
	v, ok := r.Metadata[slot]
	return v, ok
}

// OutcomeTag discriminates Outcome.
type OutcomeTag int

const (
	OutcomeSuccess OutcomeTag = iota
	OutcomeTransient
	OutcomeFatal
)

func (t OutcomeTag) String() string {
	switch t {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Status maps the tag to its stable label.
func (t OutcomeTag) Status() constants.AttemptStatus {
	switch t {
	case OutcomeSuccess:
		return constants.AttemptSuccess
	case OutcomeTransient:
		return constants.AttemptTransient
	default:
		return constants.AttemptFatal
	}
}

// Outcome is the result of a single provider call: exactly one of Result (Success)
// or Err (Transient/Fatal) is meaningful.
type Outcome struct {
	Tag    OutcomeTag
	Result AnalysisResult
	Err    *ProviderCallError
}

func Succeeded(r AnalysisResult) Outcome { return Outcome{Tag: OutcomeSuccess, Result: r} }

// Failed tags err as transient or fatal from its kind.
func Failed(err *ProviderCallError) Outcome {
	if err.Kind.Transient() {
		return Outcome{Tag: OutcomeTransient, Err: err}
	}
	return Outcome{Tag: OutcomeFatal, Err: err}
}

// Adapter encapsulates one vendor's call semantics. Implementations must be safe
// for concurrent use and hold no per-call state.
type Adapter interface {
	// Name identifies the provider in logs, metrics and errors.
	Name() string
	// Variants lists model variants in rotation order; the first is the default.
	Variants() []string
	// Call performs one structured extraction attempt against variant.
	Call(ctx context.Context, req AnalysisRequest, variant string, timeout time.Duration) Outcome
}
