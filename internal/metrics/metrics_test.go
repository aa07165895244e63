package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	m := New("softdb", "core")
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	m.IntervalsAlive.Set(3)
	m.MarkersPlaced.Inc()
	m.HotKeyOverlap.Observe(2)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	require.True(t, names["softdb_core_intervals_alive"])
	require.True(t, names["softdb_core_markers_placed_total"])
	require.True(t, names["softdb_core_hotkey_overlap"])

	// Registering the same collectors twice fails.
	require.Error(t, m.Register(reg))
}

func TestLatencyRecorders(t *testing.T) {
	m := New("softdb", "core")
	for i := 1; i <= 100; i++ {
		m.RecordGet(time.Duration(i) * time.Microsecond)
		m.RecordStab(time.Duration(i) * time.Microsecond)
	}
	m.RecordCompaction(5 * time.Millisecond)

	require.InDelta(t, 50, m.GetLatencyPercentile(50), 2)
	require.InDelta(t, 99, m.StabLatencyPercentile(99), 2)
	require.InDelta(t, 5000, m.CompactionLatencyPercentile(50), 50)
}
