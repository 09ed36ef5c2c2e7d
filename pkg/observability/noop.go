package observability

import (
	"context"
	"net/http"
	"time"
)

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

func (NoopMetrics) RecordChatRequest(context.Context, time.Duration, error) {}

func (NoopMetrics) RecordTask(context.Context, string, time.Duration, bool) {}

func (NoopMetrics) RecordLLMCall(context.Context, string, string, time.Duration, int, int, error) {}

func (NoopMetrics) RecordToolCall(context.Context, string, string, string, time.Duration) {}

// Handler answers 503 so an accidental scrape of a disabled instance
// is distinguishable from an empty one.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled\n"))
	})
}

var (
	_ Metrics = NoopMetrics{}
	_ Metrics = (*PrometheusMetrics)(nil)
)
