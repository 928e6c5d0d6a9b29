package gemini

import (
	"errors"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
)

// classify maps a generateContent failure onto the shared error kinds.
// Safety blocks and unexpected errors are never retried as transient.
func classify(err error, variant string) *llm.ProviderCallError {
	callErr := llm.NewCallError(llm.KindUnknown, ProviderName, variant, err)

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		callErr.Message = "response blocked: " + err.Error()
		return callErr
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		callErr.StatusCode = apiErr.Code
		callErr.Kind = llm.KindForHTTPStatus(apiErr.Code)
		return callErr
	}

	if st, ok := status.FromError(err); ok {
		callErr.Kind = kindForCode(st.Code())
		return callErr
	}

	callErr.Kind = llm.KindForTransportError(err)
	return callErr
}

func kindForCode(c codes.Code) llm.ErrorKind {
	switch c {
	case codes.ResourceExhausted:
		return llm.KindRateLimited
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
		return llm.KindUnavailable
	default:
		return llm.KindUnknown
	}
}
