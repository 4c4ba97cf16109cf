// Package observability provides hierarchical tracing, metrics collection,
// structured logging and health endpoints for agent executions.
//
// # Overview
//
// The package is organised in layers:
//
//	┌─────────────────────────────────────────────┐
//	│         Manager                             │
//	│   - per-agent AgentObserver cache           │
//	│   - periodic sampler and alert rules        │
//	│   - export, trace analysis, dashboards      │
//	├──────────────────────┬──────────────────────┤
//	│   Tracer             │   MetricsCollector   │
//	│   - spans & traces   │   - counter, gauge   │
//	│   - active span per  │   - histogram, timer │
//	│     execution ctx    │   - summaries        │
//	├──────────────────────┴──────────────────────┤
//	│   OpenTelemetry mirror (spans, instruments) │
//	└─────────────────────────────────────────────┘
//
// # Tracing
//
// A Tracer records every span it starts so that a whole trace can be
// reconstructed later. Each span is also mirrored to an OpenTelemetry tracer,
// so spans reach an OTLP collector when one is configured:
//
//	tracer := observability.NewTracer(telemetry.Tracer, logger)
//	err := tracer.Trace(ctx, "plan", nil, func(ctx context.Context, span *observability.Span) error {
//	    span.SetTag("step", 1)
//	    return plan(ctx)
//	})
//
// The active span is tracked per execution context. Goroutines started with
// WithExecutionContext each get their own slot, so concurrent agents never
// overwrite one another's current span.
//
// # Metrics
//
// MetricsCollector keys series by name and label set. A metric name keeps the
// kind of its first sample; samples of another kind are rejected and logged.
// Summaries cover the last SummaryWindow samples of a name:
//
//	metrics.Histogram("latency", 0.25, observability.Labels{"agent_id": "a1"})
//	s, ok := metrics.Summary("latency") // s.P95, s.Avg, ...
//
// # Manager
//
// Manager owns a Tracer and a MetricsCollector. Start launches the sampler,
// which publishes the system.* gauges and evaluates alert rules; Shutdown
// stops it:
//
//	manager := observability.NewManager(observability.WithManagerLogger(logger))
//	if err := manager.Start(ctx); err != nil {
//	    return err
//	}
//	defer manager.Shutdown(context.Background())
//
// # HTTP
//
// HealthServer exposes:
//   - /health and /ready
//   - /metrics (summary collector plus any extra gatherers)
//   - /export?format=prometheus|json
//   - /traces/{id}
//   - /dashboards/{name}
//
// # Logging
//
// Handler wraps any slog.Handler and adds trace_id, span_id and service to
// every record, counting records in the logs.total metric.
package observability
