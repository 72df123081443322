package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(ctx context.Context) CheckResult {
	return CheckResult{Status: StatusHealthy}
}

func TestOverallStatus(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("a", true, healthy)
	c.RegisterFunc("b", false, healthy)

	assert.Equal(t, StatusUnknown, c.OverallStatus(), "critical check never ran")

	c.Check(context.Background())
	assert.Equal(t, StatusHealthy, c.OverallStatus())

	c.RegisterFunc("b", false, PingCheck("thing", func(context.Context) error { return errors.New("down") }))
	c.Check(context.Background())
	assert.Equal(t, StatusDegraded, c.OverallStatus(), "non-critical failure degrades")

	c.RegisterFunc("a", true, PingCheck("thing", func(context.Context) error { return errors.New("down") }))
	c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, c.OverallStatus())
}

func TestCheckPanicAndTimeout(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("panics", false, func(ctx context.Context) CheckResult { panic("boom") })
	c.Register(&Component{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})

	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, results["panics"].Status)
	assert.Equal(t, "boom", results["panics"].Error)
	assert.Equal(t, StatusUnhealthy, results["slow"].Status)
	assert.Equal(t, "check timed out", results["slow"].Message)
	assert.Equal(t, []string{"panics", "slow"}, c.Names())
}

func TestFlagCheck(t *testing.T) {
	on := false
	check := FlagCheck("up", "down", func() bool { return on })

	assert.Equal(t, CheckResult{Status: StatusDegraded, Message: "down"}, check(context.Background()))
	on = true
	assert.Equal(t, CheckResult{Status: StatusHealthy, Message: "up"}, check(context.Background()))
}

func TestHandler(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("settings", true, healthy)
	c.SetReady(true)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.True(t, resp.Ready)
	assert.Contains(t, resp.Components, "settings")

	c.RegisterFunc("settings", true, PingCheck("settings", func(context.Context) error { return errors.New("gone") }))
	rec = httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("settings", true, healthy)

	rec := httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c.SetReady(true)
	rec = httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":true`)
}
