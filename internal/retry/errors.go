package retry

import (
	"fmt"

	"github.com/joseph-ayodele/doc-analyzer/internal/common"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
)

// ExhaustedError is returned when one adapter used up its attempt budget.
type ExhaustedError struct {
	Provider string
	Attempts int
	Last     *llm.ProviderCallError
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%s: retries exhausted after %d attempts", e.Provider, e.Attempts)
	}
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Provider, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	if e.Last == nil {
		return nil
	}
	return e.Last
}

func (e *ExhaustedError) Is(target error) bool {
	return target == common.ErrRetriesExhausted
}
