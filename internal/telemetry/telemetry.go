// Package telemetry wires OpenTelemetry tracing and Prometheus metrics for
// the daemon: one span per RPC call, agent run, and envelope delivery, plus
// a 127.0.0.1-only debug HTTP listener serving /metrics. Both halves are
// disabled by default — the daemon calls New with whatever config.Config
// resolved, and an empty MetricsAddr/OTLP endpoint leaves metrics
// unregistered-but-served-nowhere and tracing on the OTEL no-op global
// tracer, matching spec SPEC_FULL §2.6.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/hiboss/hiboss"

// Telemetry holds the daemon's tracer and Prometheus instruments. The zero
// value is not usable; construct with New.
type Telemetry struct {
	tracer   trace.Tracer
	registry *prometheus.Registry

	rpcRequestsTotal   *prometheus.CounterVec
	rpcDuration        *prometheus.HistogramVec
	envelopeDeliveries *prometheus.CounterVec
	agentRunsTotal     *prometheus.CounterVec
	agentRunDuration   *prometheus.HistogramVec
	activeSessions     prometheus.Gauge

	tracerShutdown func(context.Context) error
	debugServer    *http.Server
}

// New wires telemetry. metricsAddr, when non-empty, serves Prometheus on
// that 127.0.0.1 address; otlpEndpoint, when non-empty, batches spans to
// that collector over OTLP/HTTP. Either or both may be empty.
func New(ctx context.Context, metricsAddr, otlpEndpoint, serviceVersion string) (*Telemetry, error) {
	t := &Telemetry{registry: prometheus.NewRegistry()}
	t.registerMetrics()

	if otlpEndpoint != "" {
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(otlpEndpoint))
		if err != nil {
			return nil, err
		}
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName("hiboss"),
				semconv.ServiceVersion(serviceVersion),
			),
		)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
		otel.SetTracerProvider(tp)
		t.tracerShutdown = tp.Shutdown
	}
	t.tracer = otel.Tracer(scopeName)

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		t.debugServer = srv
		go func() { _ = srv.ListenAndServe() }()
	}

	return t, nil
}

func (t *Telemetry) registerMetrics() {
	t.rpcRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hiboss_rpc_requests_total",
		Help: "Total JSON-RPC requests handled, by method and result code.",
	}, []string{"method", "code"})

	t.rpcDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hiboss_rpc_request_duration_seconds",
		Help:    "JSON-RPC request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	t.envelopeDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hiboss_envelope_deliveries_total",
		Help: "Envelope delivery attempts, by destination kind and outcome.",
	}, []string{"destination", "outcome"})

	t.agentRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hiboss_agent_runs_total",
		Help: "Agent executor runs, by agent and terminal status.",
	}, []string{"agent", "status"})

	t.agentRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hiboss_agent_run_duration_seconds",
		Help:    "Agent executor run duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"agent"})

	t.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hiboss_active_provider_sessions",
		Help: "Number of currently open provider sessions.",
	})

	t.registry.MustRegister(
		t.rpcRequestsTotal, t.rpcDuration, t.envelopeDeliveries,
		t.agentRunsTotal, t.agentRunDuration, t.activeSessions,
	)
}

// StartSpan starts a span under the daemon's tracer — one per RPC call,
// agent run, or envelope delivery (spec SPEC_FULL §2.6).
func (t *Telemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpanWithError records err on span (if non-nil) before ending it.
func EndSpanWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RecordRPC records one JSON-RPC call's outcome and latency.
func (t *Telemetry) RecordRPC(method, code string, d time.Duration) {
	t.rpcRequestsTotal.WithLabelValues(method, code).Inc()
	t.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordEnvelopeDelivery records one delivery attempt's outcome.
func (t *Telemetry) RecordEnvelopeDelivery(destination, outcome string) {
	t.envelopeDeliveries.WithLabelValues(destination, outcome).Inc()
}

// RecordAgentRun records one executor run's terminal status and latency.
func (t *Telemetry) RecordAgentRun(agentName, status string, d time.Duration) {
	t.agentRunsTotal.WithLabelValues(agentName, status).Inc()
	t.agentRunDuration.WithLabelValues(agentName).Observe(d.Seconds())
}

// SetActiveSessions reports the current count of open provider sessions.
func (t *Telemetry) SetActiveSessions(n int) {
	t.activeSessions.Set(float64(n))
}

// Shutdown tears down the debug HTTP listener and flushes any batched
// trace exporter. Safe to call even when both were disabled.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.debugServer != nil {
		errs = append(errs, t.debugServer.Shutdown(ctx))
	}
	if t.tracerShutdown != nil {
		errs = append(errs, t.tracerShutdown(ctx))
	}
	return errors.Join(errs...)
}
