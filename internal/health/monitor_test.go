package health

import (
	"errors"
	"testing"
	"time"
)

var errTimeout = errors.New("timeout")

func TestEmptyMonitorIsHealthy(t *testing.T) {
	m := NewMonitor(Config{WindowSize: 5, LatencyThreshold: time.Second})
	r := m.CurrentReport()
	if r.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", r.Status)
	}
	if r.Samples != 0 {
		t.Errorf("expected 0 samples, got %d", r.Samples)
	}
}

func TestSlowResponsesDegrade(t *testing.T) {
	m := NewMonitor(Config{WindowSize: 5, LatencyThreshold: time.Second})
	m.RecordSample(500*time.Millisecond, nil)
	if s := m.CurrentReport().Status; s != StatusHealthy {
		t.Fatalf("expected healthy, got %s", s)
	}

	m.RecordSample(3*time.Second, nil)
	m.RecordSample(4*time.Second, nil)
	r := m.CurrentReport()
	if r.Status != StatusDegraded {
		t.Errorf("expected degraded on slow median, got %s", r.Status)
	}
	if r.MedianLatency != 3*time.Second {
		t.Errorf("expected median 3s, got %v", r.MedianLatency)
	}
}

func TestConsecutiveFailuresDegradeMonotonically(t *testing.T) {
	m := NewMonitor(Config{WindowSize: 10, LatencyThreshold: time.Second})
	for i := 0; i < 10; i++ {
		m.RecordSample(100*time.Millisecond, nil)
	}

	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnavailable: 2}
	prev := m.CurrentReport().Status
	seen := map[Status]bool{prev: true}

	for i := 0; i < 10; i++ {
		cur := m.RecordSample(5*time.Second, errTimeout).Status
		if rank[cur] < rank[prev] {
			t.Fatalf("status moved backwards from %s to %s after failure %d", prev, cur, i+1)
		}
		seen[cur] = true
		prev = cur
	}

	if !seen[StatusDegraded] {
		t.Error("expected to pass through degraded")
	}
	if prev != StatusUnavailable {
		t.Errorf("expected unavailable after consecutive failures, got %s", prev)
	}
}

func TestMajorityThreshold(t *testing.T) {
	tests := []struct {
		failures int
		want     Status
	}{
		{failures: 0, want: StatusHealthy},
		{failures: 1, want: StatusDegraded},
		{failures: 5, want: StatusDegraded},
		{failures: 6, want: StatusUnavailable},
	}
	for _, tt := range tests {
		m := NewMonitor(Config{WindowSize: 10, LatencyThreshold: time.Second})
		for i := 0; i < 10-tt.failures; i++ {
			m.RecordSample(10*time.Millisecond, nil)
		}
		for i := 0; i < tt.failures; i++ {
			m.RecordSample(10*time.Millisecond, errTimeout)
		}
		if got := m.CurrentReport().Status; got != tt.want {
			t.Errorf("%d failures: expected %s, got %s", tt.failures, tt.want, got)
		}
	}
}

func TestRecoveryRequiresSuccesses(t *testing.T) {
	m := NewMonitor(Config{WindowSize: 4, LatencyThreshold: time.Second})
	for i := 0; i < 4; i++ {
		m.RecordSample(time.Second, errTimeout)
	}
	if s := m.CurrentReport().Status; s != StatusUnavailable {
		t.Fatalf("expected unavailable, got %s", s)
	}

	statuses := []Status{}
	for i := 0; i < 4; i++ {
		statuses = append(statuses, m.RecordSample(10*time.Millisecond, nil).Status)
	}
	want := []Status{StatusUnavailable, StatusDegraded, StatusDegraded, StatusHealthy}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("after %d successes expected %s, got %s", i+1, want[i], statuses[i])
		}
	}
}

func TestOnChangeFiresOnTransitionsOnly(t *testing.T) {
	m := NewMonitor(Config{WindowSize: 4, LatencyThreshold: time.Second})
	var transitions [][2]Status
	m.OnChange(func(old, cur Report) {
		transitions = append(transitions, [2]Status{old.Status, cur.Status})
	})

	m.RecordSample(10*time.Millisecond, nil)
	m.RecordSample(10*time.Millisecond, nil)
	m.RecordSample(10*time.Millisecond, errTimeout)

	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0] != [2]Status{StatusHealthy, StatusDegraded} {
		t.Errorf("unexpected transition %v", transitions[0])
	}
}

func TestServiceTypeAndLastLatency(t *testing.T) {
	m := NewMonitor(Config{})
	m.SetServiceType("ollama")
	m.RecordSample(750*time.Millisecond, nil)
	m.RecordSample(9*time.Second, errTimeout)

	r := m.CurrentReport()
	if r.ServiceType != "ollama" {
		t.Errorf("expected service type ollama, got %q", r.ServiceType)
	}
	if r.LastError != "timeout" {
		t.Errorf("expected last error timeout, got %q", r.LastError)
	}
	if m.LastLatency() != 750*time.Millisecond {
		t.Errorf("expected last successful latency, got %v", m.LastLatency())
	}
	if len(m.Samples()) != 2 {
		t.Errorf("expected 2 samples, got %d", len(m.Samples()))
	}
}

func TestColdStartFailureDegradesFirst(t *testing.T) {
	m := NewMonitor(Config{WindowSize: 10, LatencyThreshold: time.Second})

	want := []Status{StatusDegraded, StatusDegraded, StatusUnavailable}
	for i, w := range want {
		if got := m.RecordSample(time.Second, errTimeout).Status; got != w {
			t.Errorf("after %d failures on a fresh monitor expected %s, got %s", i+1, w, got)
		}
	}
}

func TestSmallWindowNeedsOnlyItsSize(t *testing.T) {
	m := NewMonitor(Config{WindowSize: 2, LatencyThreshold: time.Second})
	if got := m.RecordSample(time.Second, errTimeout).Status; got != StatusDegraded {
		t.Errorf("expected degraded after one failure, got %s", got)
	}
	if got := m.RecordSample(time.Second, errTimeout).Status; got != StatusUnavailable {
		t.Errorf("expected unavailable with a full failing window, got %s", got)
	}
}
