package orchestrate

import (
	"fmt"
	"strings"
)

// ConfigurationError reports credentials that are missing at construction.
// No call can proceed without them.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "orchestrate: missing required configuration: " + strings.Join(e.Missing, ", ")
}

// AuthenticationError is returned when the identity service is unreachable or
// rejects the API key.
type AuthenticationError struct {
	StatusCode int
	Err        error
}

func (e *AuthenticationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// SubmissionError is returned when the run endpoint is unreachable or answers
// with a non-2xx status.
type SubmissionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("run submission failed (status %d): %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("run submission failed (status %d)", e.StatusCode)
	default:
		return fmt.Sprintf("run submission failed: %v", e.Err)
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }
