package tts

import (
	"fmt"

	"github.com/jurayed/ushi-project-sub000/internal/failure"
	"github.com/jurayed/ushi-project-sub000/internal/reliability"
)

// APIError is a non-2xx answer from a synthesis API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Provider   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tts [%s]: API error %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("tts [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *APIError) IsRetryable() bool {
	return reliability.IsRetryableHTTPStatus(e.StatusCode)
}

// synthesisError classifies err as a synthesis failure for provider.
func synthesisError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*failure.Error); ok {
		return fe
	}
	fe := failure.SynthesisFailure(provider, err)
	if apiErr, ok := err.(*APIError); ok {
		fe.Code = fmt.Sprintf("http_%d", apiErr.StatusCode)
		if apiErr.Code != "" {
			fe.Code = apiErr.Code
		}
		fe.Retryable = apiErr.IsRetryable()
		return fe
	}
	fe.Retryable = reliability.IsTransientError(err)
	return fe
}
