package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for the conversation orchestrator.
type MetricsCollector struct {
	meter metric.Meter

	// Turn metrics
	turnsStarted   metric.Int64Counter
	turnsCompleted metric.Int64Counter
	turnDuration   metric.Float64Histogram

	// Streaming metrics
	textFragments  metric.Int64Counter
	bufferFlushes  metric.Int64Counter
	rejectedChunks metric.Int64Counter

	// Tool metrics
	toolExecutions metric.Int64Counter
	toolDuration   metric.Float64Histogram
	toolTimeouts   metric.Int64Counter

	// Handoff / artifact metrics
	agentHandoffs     metric.Int64Counter
	artifactsResolved metric.Int64Counter

	// Persistence metrics
	messagesPersisted metric.Int64Counter

	// Server for Prometheus scraping
	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("rfpez")

	mc := &MetricsCollector{meter: meter}

	if mc.turnsStarted, err = meter.Int64Counter("rfpez_turns_started_total",
		metric.WithDescription("Conversational turns started")); err != nil {
		return nil, err
	}
	if mc.turnsCompleted, err = meter.Int64Counter("rfpez_turns_completed_total",
		metric.WithDescription("Conversational turns reaching a terminal state, by outcome")); err != nil {
		return nil, err
	}
	if mc.turnDuration, err = meter.Float64Histogram("rfpez_turn_duration_seconds",
		metric.WithDescription("End-to-end turn duration")); err != nil {
		return nil, err
	}
	if mc.textFragments, err = meter.Int64Counter("rfpez_text_fragments_total",
		metric.WithDescription("Accepted streaming text fragments")); err != nil {
		return nil, err
	}
	if mc.bufferFlushes, err = meter.Int64Counter("rfpez_buffer_flushes_total",
		metric.WithDescription("Chunk buffer flushes, by trigger")); err != nil {
		return nil, err
	}
	if mc.rejectedChunks, err = meter.Int64Counter("rfpez_rejected_chunks_total",
		metric.WithDescription("Stream units rejected as transport metadata")); err != nil {
		return nil, err
	}
	if mc.toolExecutions, err = meter.Int64Counter("rfpez_tool_executions_total",
		metric.WithDescription("Tool lifecycle completions, by status")); err != nil {
		return nil, err
	}
	if mc.toolDuration, err = meter.Float64Histogram("rfpez_tool_duration_seconds",
		metric.WithDescription("Tool execution duration from start to completion")); err != nil {
		return nil, err
	}
	if mc.toolTimeouts, err = meter.Int64Counter("rfpez_tool_timeouts_total",
		metric.WithDescription("Tool executions forced to error after the bounded wait")); err != nil {
		return nil, err
	}
	if mc.agentHandoffs, err = meter.Int64Counter("rfpez_agent_handoffs_total",
		metric.WithDescription("Mid-turn agent handoffs")); err != nil {
		return nil, err
	}
	if mc.artifactsResolved, err = meter.Int64Counter("rfpez_artifacts_resolved_total",
		metric.WithDescription("Artifact references produced from terminal metadata")); err != nil {
		return nil, err
	}
	if mc.messagesPersisted, err = meter.Int64Counter("rfpez_messages_persisted_total",
		metric.WithDescription("Messages written to durable storage, by role")); err != nil {
		return nil, err
	}

	if config.PrometheusPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promclient.Handler())
		mc.prometheusServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", config.PrometheusPort),
			Handler: mux,
		}
		go func() {
			_ = mc.prometheusServer.ListenAndServe()
		}()
	}

	return mc, nil
}

// Shutdown stops the Prometheus scrape server if one was started.
func (mc *MetricsCollector) Shutdown(ctx context.Context) error {
	if mc == nil || mc.prometheusServer == nil {
		return nil
	}
	return mc.prometheusServer.Shutdown(ctx)
}

func (mc *MetricsCollector) enabled() bool {
	return mc != nil && mc.meter != nil
}

// RecordTurnStarted increments the started-turn counter.
func (mc *MetricsCollector) RecordTurnStarted(ctx context.Context) {
	if !mc.enabled() {
		return
	}
	mc.turnsStarted.Add(ctx, 1)
}

// RecordTurnCompleted records a terminal turn outcome and its duration.
func (mc *MetricsCollector) RecordTurnCompleted(ctx context.Context, outcome string, duration time.Duration) {
	if !mc.enabled() {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	mc.turnsCompleted.Add(ctx, 1, attrs)
	mc.turnDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordTextFragment counts one accepted streaming fragment.
func (mc *MetricsCollector) RecordTextFragment(ctx context.Context) {
	if !mc.enabled() {
		return
	}
	mc.textFragments.Add(ctx, 1)
}

// RecordBufferFlush counts one chunk buffer flush with its trigger (size, interval, boundary).
func (mc *MetricsCollector) RecordBufferFlush(ctx context.Context, trigger string) {
	if !mc.enabled() {
		return
	}
	mc.bufferFlushes.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// RecordRejectedChunk counts one stream unit dropped by the classifier.
func (mc *MetricsCollector) RecordRejectedChunk(ctx context.Context, reason string) {
	if !mc.enabled() {
		return
	}
	mc.rejectedChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordToolExecution records a finished tool execution.
func (mc *MetricsCollector) RecordToolExecution(ctx context.Context, toolName, status string, duration time.Duration) {
	if !mc.enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", toolName),
		attribute.String("status", status),
	)
	mc.toolExecutions.Add(ctx, 1, attrs)
	mc.toolDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordToolTimeout counts one tool execution forced to error by the bounded wait.
func (mc *MetricsCollector) RecordToolTimeout(ctx context.Context, toolName string) {
	if !mc.enabled() {
		return
	}
	mc.toolTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", toolName)))
}

// RecordAgentHandoff counts one mid-turn agent handoff.
func (mc *MetricsCollector) RecordAgentHandoff(ctx context.Context) {
	if !mc.enabled() {
		return
	}
	mc.agentHandoffs.Add(ctx, 1)
}

// RecordArtifactResolved counts artifact references produced for a turn.
func (mc *MetricsCollector) RecordArtifactResolved(ctx context.Context, artifactType string) {
	if !mc.enabled() {
		return
	}
	mc.artifactsResolved.Add(ctx, 1, metric.WithAttributes(attribute.String("type", artifactType)))
}

// RecordMessagePersisted counts one durable message write.
func (mc *MetricsCollector) RecordMessagePersisted(ctx context.Context, role string) {
	if !mc.enabled() {
		return
	}
	mc.messagesPersisted.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}
