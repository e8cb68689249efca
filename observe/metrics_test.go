package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestCountersRecord(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.BlocksCaptured.Add(ctx, 3)
	m.BlocksGated.Add(ctx, 2)
	m.BlocksSent.Add(ctx, 1)
	m.BytesSent.Add(ctx, 512)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"pcmlink.blocks.captured": 3,
		"pcmlink.blocks.gated":    2,
		"pcmlink.blocks.sent":     1,
		"pcmlink.bytes.sent":      512,
	} {
		met := findMetric(rm, name)
		require.NotNil(t, met, name)
		sum, ok := met.Data.(metricdata.Sum[int64])
		require.True(t, ok, name)
		require.Len(t, sum.DataPoints, 1)
		assert.Equal(t, want, sum.DataPoints[0].Value, name)
	}
}

func TestRecordErrorAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordError(ctx, "client", "*interfaces.SendError")
	m.RecordError(ctx, "client", "*interfaces.SendError")
	m.RecordError(ctx, "server", "*interfaces.FramingError")

	met := findMetric(collect(t, reader), "pcmlink.errors")
	require.NotNil(t, met)
	sum := met.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 2)

	for _, dp := range sum.DataPoints {
		role, _ := dp.Attributes.Value(attribute.Key("role"))
		switch role.AsString() {
		case "client":
			assert.Equal(t, int64(2), dp.Value)
		case "server":
			assert.Equal(t, int64(1), dp.Value)
		default:
			t.Errorf("unexpected role %q", role.AsString())
		}
	}
}

func TestActiveSessionsGoesUpAndDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionStarted(ctx, "server")
	m.SessionStarted(ctx, "server")
	m.SessionEnded(ctx, "server")

	met := findMetric(collect(t, reader), "pcmlink.active_sessions")
	require.NotNil(t, met)
	sum := met.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
	assert.False(t, sum.IsMonotonic)
}

func TestProviderExposesPrometheus(t *testing.T) {
	p, err := InitProvider(ProviderConfig{ServiceName: "pcmlink-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p.MeterProvider())
	require.NoError(t, err)
	m.BlocksSent.Add(context.Background(), 7)

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`pcmlink[._]blocks[._]sent`), string(body))
}
