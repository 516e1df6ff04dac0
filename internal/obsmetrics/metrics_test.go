package obsmetrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockCountsAndHistograms(t *testing.T) {
	m := NewMock()
	m.IncCounter("jobs_claimed", map[string]string{"worker": "w1"})
	m.IncCounter("jobs_claimed", map[string]string{"worker": "w2"})
	m.ObserveHistogram("chunk_latency_ms", 12.5, map[string]string{"stage": "extract"})

	require.Equal(t, 2, m.Counters["jobs_claimed"])
	require.Len(t, m.Labels["jobs_claimed"], 2)
	require.Equal(t, []float64{12.5}, m.Hists["chunk_latency_ms"])
}

func TestOtelNilSafe(t *testing.T) {
	var o *Otel
	require.NotPanics(t, func() {
		o.IncCounter("noop", nil)
		o.ObserveHistogram("noop", 1, nil)
	})
}

func TestOtelCachesInstruments(t *testing.T) {
	o := New()
	o.IncCounter("jobs_completed", map[string]string{"ontology": "research"})
	o.IncCounter("jobs_completed", map[string]string{"ontology": "research"})
	_, ok := o.getCounter("jobs_completed")
	require.True(t, ok)
}
