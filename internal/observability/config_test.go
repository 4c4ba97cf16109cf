package observability

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetryExposesInstruments(t *testing.T) {
	ctx := context.Background()
	telemetry, err := NewTelemetry(ctx, DefaultConfig("agentcore-test"))
	require.NoError(t, err)
	defer telemetry.Shutdown(ctx)

	metrics := NewMetricsCollector(WithInstruments(NewInstruments(telemetry.Meter, nil)))
	metrics.Counter("agent.operations.started", 1, Labels{"agent_id": "a"})

	tracer := NewTracer(telemetry.Tracer, nil)
	_, span := tracer.StartSpan(ctx, "op")
	tracer.FinishSpan(span)

	families, err := telemetry.Registry.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "otel_agent_operations_started") {
			found = true
		}
	}
	assert.True(t, found, "otel exporter should expose the mirrored counter")
}
