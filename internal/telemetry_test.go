package internal

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// lookupSum returns the value of the named sum and whether it has been observed.
func lookupSum(t *testing.T, reader *sdkmetric.ManualReader, name string) (int64, bool) {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)

			if len(sum.DataPoints) == 0 {
				return 0, false
			}
			require.Len(t, sum.DataPoints, 1)

			return sum.DataPoints[0].Value, true
		}
	}

	return 0, false
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()

	value, ok := lookupSum(t, reader, name)
	require.True(t, ok, "metric %q not found", name)

	return value
}

func Test_Telemetry_counters(t *testing.T) {
	assert := assert.New(t)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	tel := NewTelemetryWithProvider("channel", "test", provider)

	var value int64 = 3
	tel.NewCounter("test_counter", func() int64 { return value })
	tel.NewUpDownCounter("test_gauge", func() int64 { return -value })

	assert.Equal(int64(3), collectSum(t, reader, "test_counter"))
	assert.Equal(int64(-3), collectSum(t, reader, "test_gauge"))

	value = 10
	assert.Equal(int64(10), collectSum(t, reader, "test_counter"))
}

func Test_Telemetry_close(t *testing.T) {
	assert := assert.New(t)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	tel := NewTelemetryWithProvider("peer", "test", provider)

	calls := 0
	tel.NewCounter("test_counter", func() int64 {
		calls++
		return 7
	})
	tel.NewUpDownCounter("test_gauge", func() int64 { return 1 })

	assert.Equal(int64(7), collectSum(t, reader, "test_counter"))
	assert.Equal(1, calls)

	assert.NoError(tel.Close())

	_, ok := lookupSum(t, reader, "test_counter")
	assert.False(ok)
	_, ok = lookupSum(t, reader, "test_gauge")
	assert.False(ok)
	assert.Equal(1, calls)

	assert.NoError(tel.Close())
}

func Test_Telemetry_logs(t *testing.T) {
	assert := assert.New(t)

	prev := *logHandler.Load()
	defer SetLogHandler(prev)

	buf := &bytes.Buffer{}
	SetLogHandler(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tel := NewTelemetry("peer", "test")
	tel.LogWarn("dropped", "seq", 12)
	tel.LogError("failed", errors.New("boom"))

	out := buf.String()
	assert.Contains(out, "kind=peer")
	assert.Contains(out, "name=test")
	assert.Contains(out, "seq=12")
	assert.Contains(out, "error=boom")
}
