package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns Metrics backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
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

// sumByAttr returns the value of the data point whose attribute key equals
// value, or -1.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordRecognizerCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecognizerCall(ctx, "batch", 120*time.Millisecond, nil)
	m.RecordRecognizerCall(ctx, "batch", 80*time.Millisecond, errors.New("boom"))
	m.RecordRecognizerCall(ctx, "stream", 10*time.Millisecond, nil)

	rm := collect(t, reader)
	met := findMetric(rm, "livescribe.recognizer.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration metric is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("sample count = %d, want 3", total)
	}
	if got := sumByAttr(t, rm, "livescribe.recognizer.errors", "mode", "batch"); got != 1 {
		t.Errorf("batch errors = %d, want 1", got)
	}
}

func TestRecordSegmentKinds(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSegment(ctx, "inserted")
	m.RecordSegment(ctx, "inserted")
	m.RecordSegment(ctx, "revised")

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "livescribe.segments.total", "kind", "inserted"); got != 2 {
		t.Errorf("inserted = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "livescribe.segments.total", "kind", "revised"); got != 1 {
		t.Errorf("revised = %d, want 1", got)
	}
}

func TestRecordGateChunkAndDrop(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGateChunk(ctx, true)
	m.RecordGateChunk(ctx, false)
	m.RecordGateChunk(ctx, false)
	m.RecordDrop(ctx, "queue_full")

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "livescribe.gate.chunks", "result", "silent"); got != 2 {
		t.Errorf("silent = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "livescribe.frames.dropped", "reason", "queue_full"); got != 1 {
		t.Errorf("queue_full drops = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.QueueDepth.Add(ctx, 3)
	m.QueueDepth.Add(ctx, -1)
	m.SessionsActive.Add(ctx, 1)

	rm := collect(t, reader)
	gauges := []struct {
		name string
		want int64
	}{
		{"livescribe.queue.depth", 2},
		{"livescribe.sessions.active", 1},
	}
	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no sum data", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
