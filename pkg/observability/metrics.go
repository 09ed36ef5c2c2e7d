// Copyright 2025 The Polis Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics builds the Prometheus-backed metrics implementation.
// When metrics are disabled it returns a nil-instrument value whose
// record methods are safe no-ops.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := meterProvider.Meter("polis")

	name := func(suffix string) string {
		if cfg.Subsystem != "" {
			return fmt.Sprintf("%s_%s_%s", cfg.Namespace, cfg.Subsystem, suffix)
		}
		return fmt.Sprintf("%s_%s", cfg.Namespace, suffix)
	}

	m := &PrometheusMetrics{registry: registry, provider: meterProvider}

	if m.chatDuration, err = meter.Float64Histogram(
		name("chat_request_duration_seconds"),
		metric.WithDescription("Chat request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create chat duration histogram: %w", err)
	}
	if m.chatTotal, err = meter.Int64Counter(
		name("chat_requests_total"),
		metric.WithDescription("Total chat requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create chat requests counter: %w", err)
	}
	if m.chatErrors, err = meter.Int64Counter(
		name("chat_errors_total"),
		metric.WithDescription("Chat requests that ended in an internal error"),
	); err != nil {
		return nil, fmt.Errorf("failed to create chat errors counter: %w", err)
	}

	if m.taskDuration, err = meter.Float64Histogram(
		name("a2a_task_duration_seconds"),
		metric.WithDescription("Agent-to-agent task handling duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create task duration histogram: %w", err)
	}
	if m.taskTotal, err = meter.Int64Counter(
		name("a2a_tasks_total"),
		metric.WithDescription("Total agent-to-agent tasks handled"),
	); err != nil {
		return nil, fmt.Errorf("failed to create task counter: %w", err)
	}
	if m.taskFailures, err = meter.Int64Counter(
		name("a2a_task_failures_total"),
		metric.WithDescription("Agent-to-agent tasks that returned status failed"),
	); err != nil {
		return nil, fmt.Errorf("failed to create task failures counter: %w", err)
	}

	if m.llmDuration, err = meter.Float64Histogram(
		name("llm_request_duration_seconds"),
		metric.WithDescription("LLM request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}
	if m.llmInputTokens, err = meter.Int64Counter(
		name("llm_tokens_input_total"),
		metric.WithDescription("Total input tokens sent to the LLM"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}
	if m.llmOutputTokens, err = meter.Int64Counter(
		name("llm_tokens_output_total"),
		metric.WithDescription("Total output tokens received from the LLM"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}
	if m.llmErrors, err = meter.Int64Counter(
		name("llm_errors_total"),
		metric.WithDescription("Total failed LLM requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	if m.toolDuration, err = meter.Float64Histogram(
		name("tool_call_duration_seconds"),
		metric.WithDescription("Backend tool call duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}
	if m.toolTotal, err = meter.Int64Counter(
		name("tool_calls_total"),
		metric.WithDescription("Total backend tool calls by terminal status"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	return m, nil
}

// Handler exposes the metrics registry for scraping. Disabled metrics
// serve 503 so a scrape misconfiguration is visible.
func (m *PrometheusMetrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return NoopMetrics{}.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *PrometheusMetrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
