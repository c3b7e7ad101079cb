package generation

import (
	"errors"
	"fmt"
)

// ErrGenerationInProgress is returned when Generate is called while another generation is running.
var ErrGenerationInProgress = errors.New("generation already in progress")

// ErrNothingToRecover is returned by CompletionClient.ChatCompletionsLast when the
// relay holds no stored result for the request.
var ErrNothingToRecover = errors.New("no stored completion for request")

// NetworkError is a failure where no HTTP response was received at all.
// It is the only error class the network loop retries.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPStatusError is a non-2xx response from the relay or the upstream model API.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.Status, e.Body)
}

// ExhaustedError is returned once both retry loops have given up.
// Err is the last parse error seen.
type ExhaustedError struct {
	ParseAttempts int
	Err           error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("generation failed after %d parse attempts: %v", e.ParseAttempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err is, or wraps, a *NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
