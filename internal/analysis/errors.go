package analysis

import (
	"fmt"

	"github.com/joseph-ayodele/doc-analyzer/internal/common"
)

// AllProvidersExhaustedError is the terminal failure: both retry cycles ran out.
type AllProvidersExhaustedError struct {
	Primary   error
	Secondary error
}

func (e *AllProvidersExhaustedError) Error() string {
	return fmt.Sprintf("all providers exhausted: primary: %v; secondary: %v", e.Primary, e.Secondary)
}

func (e *AllProvidersExhaustedError) Unwrap() []error {
	return []error{e.Primary, e.Secondary}
}

func (e *AllProvidersExhaustedError) Is(target error) bool {
	return target == common.ErrAllProvidersExhausted
}
