// Package health tracks the responsiveness of the text-generation backend
// over a rolling window of recent calls.
package health

import (
	"sort"
	"sync"
	"time"
)

// Status is the three-state health signal.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
)

// Sample is one observed backend call.
type Sample struct {
	At      time.Time
	Latency time.Duration
	Success bool
	Err     string
}

// Report is the aggregate over the current window.
type Report struct {
	Status        Status        `json:"status" yaml:"status"`
	ServiceType   string        `json:"service_type" yaml:"service_type"`
	MedianLatency time.Duration `json:"median_latency" yaml:"median_latency"`
	Samples       int           `json:"samples" yaml:"samples"`
	Failures      int           `json:"failures" yaml:"failures"`
	LastError     string        `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at" yaml:"updated_at"`
}

// minUnavailableFailures is how many failures, capped at the window size,
// the window must hold before a failing majority counts as unavailable.
const minUnavailableFailures = 3

// Config controls the window and the latency threshold.
type Config struct {
	WindowSize       int
	LatencyThreshold time.Duration
}

// Monitor aggregates samples into a Report. It is safe for concurrent use.
type Monitor struct {
	cfg Config

	mu          sync.Mutex
	samples     []Sample
	next        int
	full        bool
	lastLatency time.Duration
	serviceType string
	report      Report
	onChange    func(old, cur Report)
}

// NewMonitor creates a monitor. A window size below 1 is treated as 10.
func NewMonitor(cfg Config) *Monitor {
	if cfg.WindowSize < 1 {
		cfg.WindowSize = 10
	}
	if cfg.LatencyThreshold <= 0 {
		cfg.LatencyThreshold = 30 * time.Second
	}
	m := &Monitor{
		cfg:     cfg,
		samples: make([]Sample, cfg.WindowSize),
	}
	m.report = m.aggregate(time.Now().UTC())
	return m
}

// OnChange registers a callback invoked, outside the monitor lock, whenever
// a new sample changes the status.
func (m *Monitor) OnChange(fn func(old, cur Report)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// SetServiceType labels which backend is answering.
func (m *Monitor) SetServiceType(name string) {
	m.mu.Lock()
	m.serviceType = name
	m.report.ServiceType = name
	m.mu.Unlock()
}

// RecordSample adds one observation. A nil err is a success.
func (m *Monitor) RecordSample(latency time.Duration, err error) Report {
	now := time.Now().UTC()
	s := Sample{At: now, Latency: latency, Success: err == nil}
	if err != nil {
		s.Err = err.Error()
	}

	m.mu.Lock()
	m.samples[m.next] = s
	m.next = (m.next + 1) % len(m.samples)
	if m.next == 0 {
		m.full = true
	}
	if s.Success {
		m.lastLatency = latency
	}
	old := m.report
	m.report = m.aggregate(now)
	cur := m.report
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil && old.Status != cur.Status {
		onChange(old, cur)
	}
	return cur
}

// CurrentReport returns the latest aggregate.
func (m *Monitor) CurrentReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.report
}

// LastLatency returns the latency of the most recent successful call.
func (m *Monitor) LastLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLatency
}

// Samples returns the window contents, oldest first.
func (m *Monitor) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.window()
}

func (m *Monitor) window() []Sample {
	if !m.full {
		return append([]Sample(nil), m.samples[:m.next]...)
	}
	out := make([]Sample, 0, len(m.samples))
	out = append(out, m.samples[m.next:]...)
	return append(out, m.samples[:m.next]...)
}

// aggregate must be called with m.mu held.
func (m *Monitor) aggregate(now time.Time) Report {
	samples := m.window()
	r := Report{
		Status:      StatusHealthy,
		ServiceType: m.serviceType,
		Samples:     len(samples),
		UpdatedAt:   now,
	}
	if len(samples) == 0 {
		return r
	}

	var latencies []time.Duration
	for _, s := range samples {
		if s.Success {
			latencies = append(latencies, s.Latency)
			continue
		}
		r.Failures++
		r.LastError = s.Err
	}
	r.MedianLatency = median(latencies)

	switch {
	case 2*r.Failures > r.Samples && r.Failures >= min(m.cfg.WindowSize, minUnavailableFailures):
		r.Status = StatusUnavailable
	case r.Failures > 0:
		r.Status = StatusDegraded
	case r.MedianLatency > m.cfg.LatencyThreshold:
		r.Status = StatusDegraded
	}
	return r
}

func median(values []time.Duration) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
