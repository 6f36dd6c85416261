package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}

func TestInstruments_RecordRun(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	inst := NewInstruments(mp, tp)
	ctx, span := inst.StartRun(context.Background(), "run-1", "background")
	inst.RecordRun(ctx, "completed", "background", 12, 2, 40*time.Millisecond)
	span.End()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), sums["scanwarden_runs_total"])
	assert.Equal(t, int64(12), sums["scanwarden_artifacts_scanned_total"])
	assert.Equal(t, int64(2), sums["scanwarden_threats_found_total"])

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "scan.run", ended[0].Name())
}

func TestNewInstruments_GlobalFallback(t *testing.T) {
	inst := NewInstruments(nil, nil)
	ctx, span := inst.StartRun(context.Background(), "r", "foreground")
	inst.RecordRun(ctx, "failed", "foreground", 0, 0, 0)
	span.End()
}
