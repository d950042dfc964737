package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TobiSchelling/reqlens/internal/analysis"
	"github.com/TobiSchelling/reqlens/internal/cache"
	"github.com/TobiSchelling/reqlens/internal/events"
	"github.com/TobiSchelling/reqlens/internal/health"
	"github.com/TobiSchelling/reqlens/internal/model"
	"github.com/TobiSchelling/reqlens/internal/project"
)

type stubBackend struct {
	calls atomic.Int32
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	s.calls.Add(1)
	return "QUALITY SCORE: 6\nISSUES FOUND:\n* Clarity Issue (High): 'fast' is vague | Fix: state a latency bound\nOVERALL ASSESSMENT: Needs numbers.", nil
}

type env struct {
	srv     *Server
	proj    *project.Project
	orch    *analysis.Orchestrator
	backend *stubBackend
	bus     *events.Bus
}

func newEnv(t *testing.T) *env {
	t.Helper()
	bus := events.New(events.WithScheduler(func(func()) {}))
	h := health.NewMonitor(health.Config{WindowSize: 5, LatencyThreshold: time.Second})
	c := cache.New(cache.Options{Latency: h})
	backend := &stubBackend{}
	orch := analysis.New(backend, c, h, bus, analysis.Config{})
	proj := project.New(bus, nil, orch)
	orch.SetAttacher(proj)
	if _, err := proj.Import([]*model.Requirement{
		{ID: "R1", ItemCode: "SYS-1", Description: "The system shall be fast."},
		{ID: "R2", ItemCode: "SYS-2", Description: "The system shall log in within 2 seconds."},
	}); err != nil {
		t.Fatalf("Import: %v", err)
	}

	srv, err := New(proj, orch, bus)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(srv.Close)
	return &env{srv: srv, proj: proj, orch: orch, backend: backend, bus: bus}
}

func (e *env) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndexRoute(t *testing.T) {
	e := newEnv(t)

	rec := e.do("GET", "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Requirements", "SYS-1", "SYS-2", "2 total", "stub: healthy"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response body", want)
		}
	}
}

func TestUnknownPathIs404(t *testing.T) {
	e := newEnv(t)
	if rec := e.do("GET", "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := e.do("GET", "/requirement/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown requirement, got %d", rec.Code)
	}
}

func TestRequirementRoute(t *testing.T) {
	e := newEnv(t)

	rec := e.do("GET", "/requirement/SYS-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "The system shall be fast.") {
		t.Error("expected description in response")
	}
	if !strings.Contains(body, "Not analyzed yet.") {
		t.Error("expected pending analysis hint")
	}
}

func TestAnalyzeAction(t *testing.T) {
	e := newEnv(t)

	rec := e.do("POST", "/requirement/R1/analyze")
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	if e.backend.calls.Load() != 1 {
		t.Errorf("expected one backend call, got %d", e.backend.calls.Load())
	}

	body := e.do("GET", "/requirement/R1").Body.String()
	for _, want := range []string{"6/10", "state a latency bound", "Needs numbers."} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in rendered analysis", want)
		}
	}

	index := e.do("GET", "/").Body.String()
	if !strings.Contains(index, "SYS-1 analyzed: 6/10") {
		t.Error("expected analysis in activity feed")
	}
}

func TestAnalyzeRequiresPost(t *testing.T) {
	e := newEnv(t)
	rec := e.do("GET", "/requirement/R1/analyze")
	if rec.Code != http.StatusFound {
		t.Errorf("expected redirect, got %d", rec.Code)
	}
	if e.backend.calls.Load() != 0 {
		t.Error("expected no analysis on GET")
	}
}

func TestSelectAction(t *testing.T) {
	e := newEnv(t)
	e.do("POST", "/requirement/SYS-2/select")

	if sel := e.proj.Selected(); sel == nil || sel.ID != "R2" {
		t.Fatalf("expected R2 selected, got %+v", sel)
	}
	if !strings.Contains(e.do("GET", "/requirement/R2").Body.String(), "This requirement is selected.") {
		t.Error("expected selected hint")
	}
}

func TestHealthAPI(t *testing.T) {
	e := newEnv(t)

	rec := e.do("GET", "/api/health")
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	var report health.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if report.Status != health.StatusHealthy || report.ServiceType != "stub" {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestCacheAPI(t *testing.T) {
	e := newEnv(t)
	e.do("POST", "/requirement/R1/analyze")
	e.do("POST", "/requirement/R1/analyze")

	var stats cache.Stats
	if err := json.Unmarshal(e.do("GET", "/api/cache").Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if stats.TotalRequests != 2 || stats.CacheHits != 1 || stats.Entries != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestRequirementsAPI(t *testing.T) {
	e := newEnv(t)

	var payload struct {
		Requirements []model.Requirement `json:"requirements"`
	}
	if err := json.Unmarshal(e.do("GET", "/api/requirements").Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(payload.Requirements) != 2 {
		t.Errorf("expected 2 requirements, got %d", len(payload.Requirements))
	}
}

func TestStaticFiles(t *testing.T) {
	e := newEnv(t)
	if rec := e.do("GET", "/static/style.css"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for stylesheet, got %d", rec.Code)
	}
}

type countingProber struct {
	calls atomic.Int32
}

func (c *countingProber) Probe(ctx context.Context) (health.Report, error) {
	c.calls.Add(1)
	return health.Report{Status: health.StatusHealthy}, nil
}

func TestStartProbe(t *testing.T) {
	p := &countingProber{}

	stop, err := StartProbe("", p, time.Second)
	if err != nil || stop != nil {
		t.Errorf("expected empty schedule to disable probing, got %v", err)
	}

	if _, err := StartProbe("not a schedule", p, time.Second); err == nil {
		t.Error("expected invalid schedule error")
	}

	stop, err = StartProbe("@every 1h", p, time.Second)
	if err != nil {
		t.Fatalf("StartProbe: %v", err)
	}
	stop()
	if p.calls.Load() != 0 {
		t.Errorf("expected no probe before the first tick, got %d", p.calls.Load())
	}

	runProbe(p, time.Second)
	if p.calls.Load() != 1 {
		t.Errorf("expected one probe, got %d", p.calls.Load())
	}
}

func TestConcurrentAnalyzeAndRender(t *testing.T) {
	e := newEnv(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			e.orch.ClearCache()
			if rec := e.do("POST", "/requirement/R1/analyze"); rec.Code != http.StatusFound {
				t.Errorf("analyze: expected 302, got %d", rec.Code)
			}
		}()
		go func() {
			defer wg.Done()
			if rec := e.do("GET", "/"); rec.Code != http.StatusOK {
				t.Errorf("index: expected 200, got %d", rec.Code)
			}
		}()
		go func() {
			defer wg.Done()
			if rec := e.do("GET", "/api/requirements"); rec.Code != http.StatusOK {
				t.Errorf("api: expected 200, got %d", rec.Code)
			}
			if rec := e.do("GET", "/requirement/SYS-1"); rec.Code != http.StatusOK {
				t.Errorf("detail: expected 200, got %d", rec.Code)
			}
		}()
	}
	wg.Wait()

	req, _ := e.proj.View("R1")
	if req.Analysis == nil || req.Analysis.QualityScore != 6 {
		t.Errorf("expected R1 to end up analyzed, got %+v", req.Analysis)
	}
}
