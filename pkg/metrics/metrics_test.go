package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		t.Fatal(err)
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("metric is neither counter nor gauge")
	return 0
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.DocsIndexed(3)
	m.Flush(nil)
	m.Merge("full", time.Second, nil)
	m.Query(time.Millisecond, 2, nil)
	m.Segments(4)
	m.Invalidated(1)
	m.CacheHit()
	m.CacheMiss()
	m.Event("insert", nil)
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.DocsIndexed(5)
	m.Flush(nil)
	m.Flush(errors.New("disk full"))
	m.Merge("cascade", 10*time.Millisecond, nil)
	m.Query(time.Millisecond, 0, nil)
	m.Query(time.Millisecond, 3, nil)
	m.Segments(2)

	if got := value(t, m.DocsIndexedTotal); got != 5 {
		t.Errorf("docs indexed = %v, want 5", got)
	}
	if got := value(t, m.IndexFlushesTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("failed flushes = %v, want 1", got)
	}
	if got := value(t, m.MergesTotal.WithLabelValues("cascade", "ok")); got != 1 {
		t.Errorf("cascade merges = %v, want 1", got)
	}
	if got := value(t, m.QueriesTotal.WithLabelValues("empty")); got != 1 {
		t.Errorf("empty queries = %v, want 1", got)
	}
	if got := value(t, m.LiveSegments); got != 2 {
		t.Errorf("live segments = %v, want 2", got)
	}
}
