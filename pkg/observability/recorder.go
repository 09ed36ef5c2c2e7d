package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	globalMetrics Metrics = NoopMetrics{}
	metricsMu     sync.RWMutex
)

// Metrics records the four operational signals the system emits:
// chat requests, agent-to-agent tasks, LLM calls, and tool calls.
type Metrics interface {
	RecordChatRequest(ctx context.Context, duration time.Duration, err error)
	RecordTask(ctx context.Context, agent string, duration time.Duration, failed bool)
	RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordToolCall(ctx context.Context, serverID, tool, status string, duration time.Duration)
	Handler() http.Handler
}

// PrometheusMetrics implements Metrics on OpenTelemetry instruments
// exported through a private Prometheus registry. The zero value is a
// safe no-op.
type PrometheusMetrics struct {
	registry *promclient.Registry
	provider *sdkmetric.MeterProvider

	chatDuration metric.Float64Histogram
	chatTotal    metric.Int64Counter
	chatErrors   metric.Int64Counter

	taskDuration metric.Float64Histogram
	taskTotal    metric.Int64Counter
	taskFailures metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolTotal    metric.Int64Counter
}

func (m *PrometheusMetrics) RecordChatRequest(ctx context.Context, duration time.Duration, err error) {
	if m == nil || m.chatDuration == nil {
		return
	}
	m.chatDuration.Record(ctx, duration.Seconds())
	m.chatTotal.Add(ctx, 1)
	if err != nil {
		m.chatErrors.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordTask(ctx context.Context, agent string, duration time.Duration, failed bool) {
	if m == nil || m.taskDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("agent", agent))
	m.taskDuration.Record(ctx, duration.Seconds(), attrs)
	m.taskTotal.Add(ctx, 1, attrs)
	if failed {
		m.taskFailures.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	)
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	if inputTokens > 0 {
		m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	}
	if outputTokens > 0 {
		m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	}
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, serverID, tool, status string, duration time.Duration) {
	if m == nil || m.toolDuration == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("server", serverID),
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolTotal.Add(ctx, 1, attrs)
}

// SetGlobalMetrics installs the process-wide metrics sink.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if m == nil {
		m = NoopMetrics{}
	}
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics sink. It is never
// nil; before initialization it is a no-op.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
