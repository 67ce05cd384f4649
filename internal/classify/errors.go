package classify

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when a comment has no text to classify.
var ErrEmptyInput = errors.New("comment is empty")

// QuotaExceededCode is the stable code carried by QuotaExceededError messages.
const QuotaExceededCode = "quota_exceeded"

// QuotaExceededError means the provider refuses further requests for now.
// Batch callers stop calling the provider when they see it.
type QuotaExceededError struct {
	Provider string
	Err      error
}

func (e *QuotaExceededError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s quota exhausted", QuotaExceededCode, e.Provider)
	}
	return fmt.Sprintf("%s: %s quota exhausted: %v", QuotaExceededCode, e.Provider, e.Err)
}

func (e *QuotaExceededError) Unwrap() error { return e.Err }

// ProviderError is any classification failure other than quota exhaustion:
// timeouts, auth failures, malformed responses.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("classification failed: %v", e.Err)
	}
	return fmt.Sprintf("%s classification failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsQuotaExceeded reports whether err is or wraps a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
