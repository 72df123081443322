// Package metrics exposes Prometheus metrics for the cmd-ime runtime.
//
// Each Metrics value owns its registry, so tests and multiple controllers
// never collide on the process-global default registry.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cmdime"

// Metrics holds all runtime collectors.
type Metrics struct {
	registry *prometheus.Registry

	routesMu sync.Mutex
	routes   map[string]http.Handler

	TriggersTotal       *prometheus.CounterVec
	SwitchesTotal       *prometheus.CounterVec
	DroppedEventsTotal  prometheus.Counter
	SettingsUpdates     *prometheus.CounterVec
	Monitoring          prometheus.Gauge
	SwitchDuration      prometheus.Histogram
	LastSwitchTimestamp prometheus.Gauge
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Solo modifier taps recognised, by input key.",
		}, []string{"input_key"}),
		SwitchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "switches_total",
			Help:      "Input source switch attempts, by result.",
		}, []string{"result"}),
		DroppedEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Keyboard events discarded because the dispatcher fell behind.",
		}),
		SettingsUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_updates_total",
			Help:      "Settings replacements, by origin and result.",
		}, []string{"origin", "result"}),
		Monitoring: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitoring",
			Help:      "1 while the keyboard event tap is engaged.",
		}),
		SwitchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "switch_duration_seconds",
			Help:      "Time taken to select an input source.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		LastSwitchTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_switch_timestamp_seconds",
			Help:      "Unix time of the last successful switch.",
		}),
	}

	reg.MustRegister(
		m.TriggersTotal,
		m.SwitchesTotal,
		m.DroppedEventsTotal,
		m.SettingsUpdates,
		m.Monitoring,
		m.SwitchDuration,
		m.LastSwitchTimestamp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTrigger counts a recognised tap.
func (m *Metrics) RecordTrigger(inputKey string) {
	m.TriggersTotal.WithLabelValues(inputKey).Inc()
}

// RecordSwitch counts a switch attempt and, when it succeeded, its
// duration.
func (m *Metrics) RecordSwitch(result string, d time.Duration) {
	m.SwitchesTotal.WithLabelValues(result).Inc()
	if d > 0 {
		m.SwitchDuration.Observe(d.Seconds())
	}
	if result == "switched" {
		m.LastSwitchTimestamp.SetToCurrentTime()
	}
}

// RecordDropped adds n dropped events.
func (m *Metrics) RecordDropped(n uint64) {
	if n > 0 {
		m.DroppedEventsTotal.Add(float64(n))
	}
}

// RecordSettingsUpdate counts a settings replacement attempt.
func (m *Metrics) RecordSettingsUpdate(origin string, ok bool) {
	result := "ok"
	if !ok {
		result = "rejected"
	}
	m.SettingsUpdates.WithLabelValues(origin, result).Inc()
}

// SetMonitoring records whether the tap is engaged.
func (m *Metrics) SetMonitoring(on bool) {
	if on {
		m.Monitoring.Set(1)
	} else {
		m.Monitoring.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Handle adds a route to the endpoint started by Serve. Register routes
// before calling Serve.
func (m *Metrics) Handle(pattern string, h http.Handler) {
	m.routesMu.Lock()
	defer m.routesMu.Unlock()
	if m.routes == nil {
		m.routes = make(map[string]http.Handler)
	}
	m.routes[pattern] = h
}

// Serve serves /metrics and any added routes on addr until ctx is
// cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.serve(ctx, ln)
}

func (m *Metrics) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.routesMu.Lock()
	for pattern, h := range m.routes {
		mux.Handle(pattern, h)
	}
	m.routesMu.Unlock()

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
