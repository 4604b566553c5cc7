package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyWindowSplitsByOutcome(t *testing.T) {
	w := NewLatencyWindow(8)
	w.DeclareTarget("completed", 800*time.Millisecond)
	w.Record("completed", "ok", 500*time.Millisecond)
	w.Record("completed", "ok", 700*time.Millisecond)
	w.Record("completed", "ok", 900*time.Millisecond)
	w.Record("completed", "apology", 8*time.Second)
	w.Count("completion_fallback")
	w.Count("completion_fallback")

	snap := w.Snapshot()
	assert.Equal(t, 8, snap.WindowSize)
	require.Len(t, snap.Stages, 2)

	degraded, ok := snap.Stages[0], snap.Stages[1]
	assert.Equal(t, "apology", degraded.Outcome)
	assert.Equal(t, 1, degraded.Samples)
	assert.Equal(t, 8000.0, degraded.P95MS)
	assert.True(t, degraded.OverTarget)

	assert.Equal(t, "ok", ok.Outcome)
	assert.Equal(t, 3, ok.Samples)
	assert.Equal(t, 900.0, ok.LastMS)
	assert.Equal(t, 700.0, ok.MeanMS)
	assert.Equal(t, 700.0, ok.P50MS)
	assert.Equal(t, 900.0, ok.P95MS)
	assert.Equal(t, 800.0, ok.TargetP95MS)
	assert.True(t, ok.OverTarget)

	assert.Equal(t, map[string]int{"completion_fallback": 2}, snap.Events)
}

func TestLatencyWindowKeepsNewestSamples(t *testing.T) {
	w := NewLatencyWindow(2)
	for _, ms := range []int{10, 20, 30} {
		w.Record("persisted", "ok", time.Duration(ms)*time.Millisecond)
	}
	w.Record("persisted", "ok", -time.Millisecond)
	w.Record(" ", "ok", time.Millisecond)

	snap := w.Snapshot()
	require.Len(t, snap.Stages, 1)
	st := snap.Stages[0]
	assert.Equal(t, 2, st.Samples)
	assert.Equal(t, 25.0, st.MeanMS)
	assert.Equal(t, 30.0, st.MaxMS)
	assert.False(t, st.OverTarget)

	w.Record("persisted", "", time.Millisecond)
	assert.Equal(t, "ok", w.Snapshot().Stages[0].Outcome)

	w.DeclareTarget("persisted", 5*time.Millisecond)
	w.Reset()
	assert.Empty(t, w.Snapshot().Stages)
	assert.Nil(t, w.Snapshot().Events)

	w.Record("persisted", "ok", 10*time.Millisecond)
	assert.Equal(t, 5.0, w.Snapshot().Stages[0].TargetP95MS, "targets survive reset")
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTurn("ok", time.Second)
	m.ObserveCompletion("primary", "ok")
	m.ObserveStorageError("append")
	m.ObserveSpeechError("nijivoice", "synthesis")
	m.ObserveWSMessage("in", "send_message")
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.DeclareStageTarget("completed", time.Second)
	m.ObserveStage("completed", "ok", time.Millisecond)
	m.CountTurnEvent("x")
	m.ResetLatency()
	assert.Empty(t, m.LatencySnapshot().Stages)
}

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m := NewMetrics("companion_test")
	m.ObserveTurn("ok", 1200*time.Millisecond)
	m.ObserveCompletion("gemini-1.5-flash", "error")
	m.ObserveStage("completed", "apology", 1500*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `companion_test_turns_total{outcome="ok"} 1`)
	assert.Contains(t, string(body), `companion_test_completion_attempts_total{backend="gemini-1.5-flash",result="error"} 1`)
	assert.Contains(t, string(body), `companion_test_turn_stage_latency_ms_count{outcome="apology",stage="completed"} 1`)

	snap := m.LatencySnapshot()
	require.Len(t, snap.Stages, 1)
	assert.Equal(t, 1500.0, snap.Stages[0].LastMS)
	assert.Equal(t, "apology", snap.Stages[0].Outcome)

	// A second instance must not collide with the first registry.
	assert.NotPanics(t, func() { NewMetrics("companion_test") })
}
