package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	m := New()
	m.BuildsTotal.WithLabelValues("complete").Inc()
	m.PhaseTransitions.WithLabelValues("building").Add(3)
	m.BuildDuration.Observe(42)
	m.BreakerState.WithLabelValues("agent").Set(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `forge_builds_total{status="complete"} 1`)
	assert.Contains(t, out, `forge_phase_transitions_total{phase="building"} 3`)
	assert.Contains(t, out, "forge_build_duration_seconds_sum 42")
	assert.Contains(t, out, `forge_breaker_state{collaborator="agent"} 2`)
	assert.Contains(t, out, "forge_stream_subscribers 0")
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a := New()
	b := New()
	a.BuildsTotal.WithLabelValues("failed").Inc()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.NotContains(t, rec.Body.String(), `forge_builds_total{status="failed"}`)
}
