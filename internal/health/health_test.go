package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	name   string
	status Status
}

func (c *mockChecker) Name() string { return c.name }

func (c *mockChecker) Check(_ context.Context) CheckResult {
	return CheckResult{Status: c.status}
}

func TestHealthNoCheckers(t *testing.T) {
	m := NewManager("v1.0.0", "srv-1")

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.Equal(t, "srv-1", resp.ServerID)
	assert.Nil(t, resp.Checks)
}

func TestHealthVerboseIncludesChecks(t *testing.T) {
	m := NewManager("v1.0.0", "srv-1")
	m.RegisterChecker(&mockChecker{name: "redis", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "mongo", status: StatusDegraded})

	resp := m.Health(context.Background(), false)
	assert.Nil(t, resp.Checks)
	assert.Equal(t, StatusHealthy, resp.Status)

	resp = m.Health(context.Background(), true)
	assert.Len(t, resp.Checks, 2)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, StatusHealthy, resp.Checks["redis"].Status)
}

func TestReadyGatedOnBootstrap(t *testing.T) {
	m := NewManager("v1.0.0", "srv-1")
	m.RegisterChecker(&mockChecker{name: "redis", status: StatusHealthy})

	resp := m.Ready(context.Background())
	assert.False(t, resp.Ready, "not ready before SetReady")

	m.SetReady()
	resp = m.Ready(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestReadyUnhealthyComponent(t *testing.T) {
	m := NewManager("v1.0.0", "srv-1")
	m.SetReady()
	m.RegisterChecker(&mockChecker{name: "redis", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "kafka", status: StatusUnhealthy})

	resp := m.Ready(context.Background())
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestReadyDegradedStillReady(t *testing.T) {
	m := NewManager("v1.0.0", "srv-1")
	m.SetReady()
	m.RegisterChecker(&mockChecker{name: "mongo", status: StatusDegraded})

	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready, "degraded components do not fail readiness")
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestServeHealthAlways200(t *testing.T) {
	m := NewManager("v1.0.0", "srv-1")
	m.RegisterChecker(&mockChecker{name: "redis", status: StatusUnhealthy})

	req := httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil)
	rec := httptest.NewRecorder()
	m.ServeHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Len(t, resp.Checks, 1)
}

func TestServeReadyStatusCodes(t *testing.T) {
	m := NewManager("v1.0.0", "srv-1")

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	m.ServeReady(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	m.SetReady()
	rec = httptest.NewRecorder()
	m.ServeReady(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Ready)
}

func TestPingChecker(t *testing.T) {
	ok := NewPingChecker("redis", func(context.Context) error { return nil })
	result := ok.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)

	down := NewPingChecker("kafka", func(context.Context) error { return errors.New("broker unreachable") })
	result = down.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Contains(t, result.Error, "broker unreachable")
}

func TestPingCheckerHonorsContext(t *testing.T) {
	c := NewPingChecker("mongo", func(ctx context.Context) error { return ctx.Err() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewManager("v1.0.0", "srv-1")
	m.SetReady()
	m.RegisterChecker(c)

	resp := m.Ready(ctx)
	assert.False(t, resp.Ready)
}
