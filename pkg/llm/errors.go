package llm

import (
	"context"
	"errors"
	"net/url"

	"github.com/polisware/polis/pkg/fault"
	"github.com/polisware/polis/pkg/httpclient"
)

// classifyTransport maps an HTTP client error to a fault kind:
// deadlines become Timeout, connection-level failures become
// ServerUnreachable, everything else is UpstreamError.
func classifyTransport(err error) fault.Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fault.Timeout
	}

	var retryErr *httpclient.RetryableError
	if errors.As(err, &retryErr) {
		if retryErr.StatusCode == 0 {
			return fault.ServerUnreachable
		}
		return fault.UpstreamError
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return fault.Timeout
		}
		return fault.ServerUnreachable
	}

	return fault.UpstreamError
}
