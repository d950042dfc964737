package app

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/TobiSchelling/reqlens/internal/config"
	"github.com/TobiSchelling/reqlens/internal/model"
)

type countingBackend struct {
	calls atomic.Int32
}

func (c *countingBackend) Name() string { return "counting" }

func (c *countingBackend) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	c.calls.Add(1)
	return "QUALITY SCORE: 8\nISSUES FOUND:\n* Testability Issue (Low): no trigger | Fix: add a trigger condition", nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Output.DataDir = t.TempDir()
	return cfg
}

func TestAnalysisSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	backend := &countingBackend{}

	a, err := New(cfg, Options{Backend: backend})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.Project.Import([]*model.Requirement{
		{ID: "R1", Description: "The system shall export reports as PDF."},
	}); err != nil {
		t.Fatalf("Import: %v", err)
	}
	req, _ := a.Project.Get("R1")
	rec := a.Engine.Analyze(context.Background(), req)
	if !rec.IsAnalyzed || rec.QualityScore != 8 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := New(cfg, Options{Backend: backend})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()

	req, err = b.Project.Get("R1")
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	if req.Analysis == nil || req.Analysis.QualityScore != 8 {
		t.Fatalf("expected persisted analysis, got %+v", req.Analysis)
	}

	b.Engine.Analyze(context.Background(), req)
	if backend.calls.Load() != 1 {
		t.Errorf("expected the restored cache to answer, got %d backend calls", backend.calls.Load())
	}
	if b.Engine.Statistics().CacheHits != 1 {
		t.Errorf("expected one cache hit, got %+v", b.Engine.Statistics())
	}
}

func TestNoBackendUsesFallback(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg, Options{NoBackend: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Engine.BackendName() != "none" {
		t.Errorf("expected no backend, got %s", a.Engine.BackendName())
	}
	a.Project.Import([]*model.Requirement{{ID: "R1", Description: "The system should be fast and reliable."}})
	req, _ := a.Project.Get("R1")

	rec := a.Engine.Analyze(context.Background(), req)
	if !rec.IsAnalyzed || rec.Source != "fallback" {
		t.Errorf("expected heuristic fallback record, got %+v", rec)
	}
	if a.Cache.Len() != 0 {
		t.Error("expected fallback results to stay out of the cache")
	}
}

func TestCacheNotPersistedWhenDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Persist = false
	backend := &countingBackend{}

	a, err := New(cfg, Options{Backend: backend})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Project.Import([]*model.Requirement{{ID: "R1", Description: "The system shall archive logs daily."}})
	req, _ := a.Project.Get("R1")
	a.Engine.Analyze(context.Background(), req)

	stats, err := a.DB.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	a.Close()
	if stats.CacheEntries != 0 {
		t.Errorf("expected no persisted cache entries, got %d", stats.CacheEntries)
	}
	if stats.Analyzed != 1 {
		t.Errorf("expected the analysis itself to be persisted, got %d", stats.Analyzed)
	}
}

func TestSelectionSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg, Options{NoBackend: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Project.Import([]*model.Requirement{
		{ID: "R1", Description: "one"},
		{ID: "R2", ItemCode: "SYS-2", Description: "two"},
	})
	if _, err := a.Project.Select("SYS-2"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	a.Close()

	b, err := New(cfg, Options{NoBackend: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()

	if sel := b.Project.Selected(); sel == nil || sel.ID != "R2" {
		t.Errorf("expected R2 selected after restart, got %+v", sel)
	}

	b.Project.ClearSelection()
	if v, _ := b.DB.GetState(selectionKey); v != "" {
		t.Errorf("expected cleared selection stored, got %q", v)
	}
}
