// Package observe provides application-wide observability primitives for
// voxface: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider] so they can be scraped from /metrics. A
// package-level [DefaultMetrics] instance is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxface metrics.
const meterName = "github.com/MrWong99/voxface"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// HandshakeDuration tracks the time from dial to initiation metadata.
	HandshakeDuration metric.Float64Histogram

	// ProviderDuration tracks collaborator latency. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderDuration metric.Float64Histogram

	// --- Session counters ---

	// SessionStarts counts Start attempts. Use with attributes:
	//   attribute.String("status", "ok"|"failed"), attribute.String("reason", ...)
	SessionStarts metric.Int64Counter

	// ReconnectAttempts counts connection attempts made by the retry policy.
	ReconnectAttempts metric.Int64Counter

	// Interruptions counts interruption events from the agent.
	Interruptions metric.Int64Counter

	// StaleFramesDropped counts agent audio discarded by the interruption
	// watermark.
	StaleFramesDropped metric.Int64Counter

	// AgentFramesPlayed counts agent audio frames handed to playback.
	AgentFramesPlayed metric.Int64Counter

	// CaptureFramesSent counts microphone frames sent to the agent.
	CaptureFramesSent metric.Int64Counter

	// PingsAnswered counts pongs sent in reply to pings.
	PingsAnswered metric.Int64Counter

	// ProtocolViolations counts inbound messages that could not be decoded.
	ProtocolViolations metric.Int64Counter

	// --- Provider counters ---

	// ProviderRequests counts collaborator calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts collaborator errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected conversations.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// handshake and collaborator latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.HandshakeDuration, err = m.Float64Histogram("voxface.convai.handshake.duration",
		metric.WithDescription("Time from dial until the conversation initiation metadata arrives."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("voxface.provider.duration",
		metric.WithDescription("Latency of collaborator calls by provider and kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.SessionStarts, "voxface.session.starts", "Conversation start attempts by status and reason."},
		{&met.ReconnectAttempts, "voxface.session.reconnect_attempts", "Connection attempts made by the retry policy."},
		{&met.Interruptions, "voxface.session.interruptions", "Interruption events received from the agent."},
		{&met.StaleFramesDropped, "voxface.session.stale_frames_dropped", "Agent audio frames discarded by the interruption watermark."},
		{&met.AgentFramesPlayed, "voxface.session.agent_frames", "Agent audio frames handed to playback."},
		{&met.CaptureFramesSent, "voxface.session.capture_frames", "Microphone frames sent to the agent."},
		{&met.PingsAnswered, "voxface.session.pings_answered", "Pongs sent in reply to pings."},
		{&met.ProtocolViolations, "voxface.convai.protocol_violations", "Inbound messages that could not be decoded."},
		{&met.ProviderRequests, "voxface.provider.requests", "Collaborator requests by provider, kind, and status."},
		{&met.ProviderErrors, "voxface.provider.errors", "Collaborator errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxface.active_sessions",
		metric.WithDescription("Number of connected conversations."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxface.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSessionStart records the outcome of one Start attempt. reason is
// empty on success.
func (m *Metrics) RecordSessionStart(ctx context.Context, status, reason string) {
	m.SessionStarts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("reason", reason),
		),
	)
}

// RecordProviderRequest records a collaborator call with its latency.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string, elapsed time.Duration) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
	m.ProviderDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
