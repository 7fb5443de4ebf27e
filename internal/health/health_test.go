package health

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAll(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", func(context.Context) Status { return StatusOK })
	c.Register("github", func(context.Context) Status { return StatusDegraded })

	results := c.RunAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, StatusOK, results["store"])
	assert.Equal(t, StatusDegraded, results["github"])
}

func TestIsReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	assert.True(t, c.IsReady(context.Background()), "no checks means ready")

	c.Register("store", func(context.Context) Status { return StatusOK })
	c.Register("github", func(context.Context) Status { return StatusDegraded })
	assert.True(t, c.IsReady(context.Background()), "degraded is still ready")

	c.Register("cluster", func(context.Context) Status { return StatusDown })
	assert.False(t, c.IsReady(context.Background()))
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", func(context.Context) Status { return StatusOK })

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest("GET", "/ready", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ready"`)

	c.Register("cluster", func(context.Context) Status { return StatusDown })
	rec = httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest("GET", "/ready", nil))
	assert.Equal(t, 503, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"not_ready"`)
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 200, rec.Code)
}
