package inference

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnsupported marks a protocol incompatibility that must abort the
// current variant rather than be retried: the server accepted a logprobs
// request but returned an empty logprobs array (§4.1, §7).
var ErrUnsupported = errors.New("inference: server does not support the requested feature")

// ErrNotFound corresponds to a 404 response; callers typically treat it as
// "model absent" rather than an error (e.g. delete treats it as success).
var ErrNotFound = errors.New("inference: not found")

// statusError wraps a non-2xx HTTP response. IsRetryable classifies it.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("inference: server returned status %d: %s", e.StatusCode, e.Body)
}

func newStatusError(resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, string(body))
	}
	return &statusError{StatusCode: resp.StatusCode, Body: string(body)}
}

// IsRetryable classifies an error from this package per §4.1/§7: transport
// failures, 5xx, and empty-payload errors are retryable; 4xx (other than
// 404, already mapped to ErrNotFound) and ErrUnsupported are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsupported) {
		return false
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}

	// Anything else (dial errors, timeouts, empty-payload errors, ErrNotFound
	// for generate/chat/show which should never normally occur) is treated
	// as a transient transport-level failure and is retryable.
	return true
}
