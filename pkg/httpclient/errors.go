package httpclient

import (
	"fmt"
)

// RetryableError reports that the attempt budget ran out on a failure that
// would otherwise have been retried. StatusCode is 0 for transport errors.
type RetryableError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}
