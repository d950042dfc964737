package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/TobiSchelling/reqlens/internal/events"
	"github.com/TobiSchelling/reqlens/internal/health"
	"github.com/TobiSchelling/reqlens/internal/model"
)

func batchRequirements(descs ...string) []*model.Requirement {
	reqs := make([]*model.Requirement, len(descs))
	for i, d := range descs {
		reqs[i] = &model.Requirement{ID: string(rune('A' + i)), Description: d}
	}
	return reqs
}

func TestAnalyzeBatch(t *testing.T) {
	f := newFixture(t, &mockProvider{response: goodResponse}, Config{})
	reqs := batchRequirements(
		"The system shall log every login.",
		"The system shall export reports as PDF.",
		"The system shall log every login.",
	)

	var states []events.WorkflowState
	var progress []events.BatchProgress
	events.Subscribe(f.bus, func(ev events.WorkflowStateChanged) { states = append(states, ev.New) })
	events.Subscribe(f.bus, func(ev events.BatchProgress) { progress = append(progress, ev) })

	res := f.orch.AnalyzeBatch(context.Background(), reqs)

	if res.Total != 3 || res.Succeeded != 3 || res.Failed != 0 || res.Cancelled != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.CacheHits != 1 {
		t.Errorf("expected the duplicate text to hit the cache, got %d hits", res.CacheHits)
	}
	if f.backend.calls.Load() != 2 {
		t.Errorf("expected 2 backend calls, got %d", f.backend.calls.Load())
	}
	for _, r := range reqs {
		if r.Analysis == nil || !r.Analysis.IsAnalyzed {
			t.Errorf("expected %s to carry an analysis", r.ID)
		}
	}

	if len(progress) != 3 {
		t.Fatalf("expected 3 progress events, got %d", len(progress))
	}
	for i, p := range progress {
		if p.Index != i+1 || p.Total != 3 || p.Requirement != reqs[i] {
			t.Errorf("progress %d: unexpected %+v", i, p)
		}
	}
	if !progress[2].FromCache {
		t.Error("expected the last item to come from the cache")
	}

	if len(states) != 2 || states[0] != events.WorkflowAnalyzing || states[1] != events.WorkflowIdle {
		t.Errorf("unexpected workflow states %v", states)
	}
}

func TestAnalyzeBatchContinuesPastFailures(t *testing.T) {
	f := newFixture(t, &mockProvider{err: errors.New("HTTP 500")}, Config{})
	reqs := batchRequirements("first requirement", "second requirement")

	res := f.orch.AnalyzeBatch(context.Background(), reqs)

	if res.Failed != 2 || res.Succeeded != 0 {
		t.Errorf("expected both items to fail, got %+v", res)
	}
	for _, r := range reqs {
		if r.Analysis == nil || r.Analysis.IsAnalyzed {
			t.Errorf("expected %s to carry a failure record, got %+v", r.ID, r.Analysis)
		}
	}
}

func TestAnalyzeBatchCancellation(t *testing.T) {
	f := newFixture(t, &mockProvider{response: goodResponse}, Config{})
	reqs := batchRequirements("first requirement", "second requirement", "third requirement")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events.Subscribe(f.bus, func(ev events.BatchProgress) {
		if ev.Index == 1 {
			cancel()
		}
	})

	res := f.orch.AnalyzeBatch(ctx, reqs)

	if res.Succeeded != 1 || res.Cancelled != 2 {
		t.Errorf("expected 1 analyzed and 2 cancelled, got %+v", res)
	}
	if reqs[1].Analysis != nil || reqs[2].Analysis != nil {
		t.Error("cancelled items must stay unanalyzed")
	}
	if f.backend.calls.Load() != 1 {
		t.Errorf("expected a single backend call, got %d", f.backend.calls.Load())
	}
}

func TestAnalyzeBatchRecoversFromEarlyFailure(t *testing.T) {
	backend := &mockProvider{response: goodResponse, failFirst: 1}
	f := newFixture(t, backend, Config{})
	reqs := batchRequirements("first requirement", "second requirement", "third requirement", "fourth requirement", "fifth requirement")

	res := f.orch.AnalyzeBatch(context.Background(), reqs)

	if res.Failed != 1 || res.Succeeded != 4 {
		t.Errorf("expected only the first item to fail, got %+v", res)
	}
	if backend.calls.Load() != 5 {
		t.Errorf("expected every item to reach the backend, got %d calls", backend.calls.Load())
	}
	if s := f.health.CurrentReport().Status; s == health.StatusUnavailable {
		t.Errorf("a single failure must not make the backend unavailable, got %s", s)
	}
}
