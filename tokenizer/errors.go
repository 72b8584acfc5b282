package tokenizer

import "fmt"

// NetworkError is a failed exchange with the service: the request could
// not be sent, or the service answered with a non-2xx status.
type NetworkError struct {
	Status int // zero when no response was received
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("tokenizer returned %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("tokenizer request: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying may help. Client errors (4xx) are
// not retried.
func (e *NetworkError) Temporary() bool {
	return e.Status == 0 || e.Status >= 500 || e.Status == 429
}

// MalformedResponseError means the service answered 2xx with a body that
// is not a token list.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed tokenizer response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// TokenCountMismatchError means the tokens cannot be mapped back onto the
// text they were requested for.
type TokenCountMismatchError struct {
	Reason string
}

func (e *TokenCountMismatchError) Error() string {
	return "token mismatch: " + e.Reason
}
