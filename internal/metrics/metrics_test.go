package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSwitch(t *testing.T) {
	m := New()

	m.RecordSwitch("switched", 3*time.Millisecond)
	m.RecordSwitch("switched", time.Millisecond)
	m.RecordSwitch("excluded", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SwitchesTotal.WithLabelValues("switched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SwitchesTotal.WithLabelValues("excluded")))
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var samples uint64
	for _, f := range families {
		if f.GetName() == "cmdime_switch_duration_seconds" {
			samples = f.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), samples, "zero durations are not observed")
	assert.Greater(t, testutil.ToFloat64(m.LastSwitchTimestamp), 0.0)
}

func TestRecordTriggerAndDropped(t *testing.T) {
	m := New()

	m.RecordTrigger("Command_L")
	m.RecordTrigger("Command_L")
	m.RecordDropped(0)
	m.RecordDropped(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TriggersTotal.WithLabelValues("Command_L")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.DroppedEventsTotal))
}

func TestSettingsAndMonitoring(t *testing.T) {
	m := New()

	m.RecordSettingsUpdate("update", true)
	m.RecordSettingsUpdate("update", false)
	m.SetMonitoring(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SettingsUpdates.WithLabelValues("update", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SettingsUpdates.WithLabelValues("update", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Monitoring))

	m.SetMonitoring(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Monitoring))
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.RecordTrigger("Command_R")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TriggersTotal.WithLabelValues("Command_R")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordSwitch("switched", time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cmdime_switches_total{result="switched"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServeStopsOnCancel(t *testing.T) {
	m := New()
	m.Handle("/ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "pong")
	}))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "cmdime_monitoring"))

	resp, err = http.Get("http://" + ln.Addr().String() + "/ping")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
