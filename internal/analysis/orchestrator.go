// Package analysis coordinates requirement analysis: cache lookup, backend
// health, the backend call or its offline fallback, parsing and publication.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/TobiSchelling/reqlens/internal/cache"
	"github.com/TobiSchelling/reqlens/internal/events"
	"github.com/TobiSchelling/reqlens/internal/health"
	"github.com/TobiSchelling/reqlens/internal/model"
	"github.com/TobiSchelling/reqlens/internal/parser"
)

var (
	// ErrUnavailable is reported when the health monitor rules the backend out.
	ErrUnavailable = errors.New("analysis service unavailable")
	// ErrNoBackend is reported when no backend is configured.
	ErrNoBackend = errors.New("no analysis backend configured")
)

// SourceExternal marks records parsed from a pasted external response.
const SourceExternal = "external"

// Backend generates text for a prompt. Every llm.Provider satisfies it.
type Backend interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	Name() string
}

// Attacher stores a finished record on its requirement. The owner of the
// requirements implements it so writes happen under the same lock as its
// reads.
type Attacher interface {
	Attach(req *model.Requirement, rec *model.AnalysisRecord)
}

// Config holds the orchestrator settings.
type Config struct {
	MaxTokens       int
	CallTimeout     time.Duration
	FallbackEnabled bool
	MaxPromptChars  int
}

// Orchestrator runs analyses. It is safe for concurrent use.
type Orchestrator struct {
	backend Backend
	cache   *cache.Cache
	health  *health.Monitor
	bus     *events.Bus
	cfg     Config

	flights  singleflight.Group
	attacher Attacher
	attachMu sync.Mutex
}

// SetAttacher routes attachment through a. Without one the orchestrator
// sets req.Analysis under its own lock. Call it before the orchestrator is
// shared between goroutines.
func (o *Orchestrator) SetAttacher(a Attacher) {
	o.attacher = a
}

// New creates an orchestrator. backend may be nil, in which case every
// analysis is answered by the fallback or fails.
func New(backend Backend, c *cache.Cache, h *health.Monitor, bus *events.Bus, cfg Config) *Orchestrator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1500
	}
	o := &Orchestrator{backend: backend, cache: c, health: h, bus: bus, cfg: cfg}

	if backend != nil {
		h.SetServiceType(backend.Name())
	} else {
		h.SetServiceType("none")
	}
	h.OnChange(func(old, cur health.Report) {
		logrus.Infof("Backend health changed: %s -> %s", old.Status, cur.Status)
		events.Publish(bus, events.HealthStatusChanged{Old: old, New: cur})
	})
	return o
}

type outcome int

const (
	outcomeBackend outcome = iota
	outcomeCache
	outcomeFallback
	outcomeFailed
	outcomeCancelled
)

type flightResult struct {
	record  *model.AnalysisRecord
	outcome outcome
}

// Analyze returns the analysis for req, attaches it and publishes
// RequirementAnalyzed. It never returns an error: failures are reported as
// failed records. A cancelled analysis is returned but not attached.
func (o *Orchestrator) Analyze(ctx context.Context, req *model.Requirement) *model.AnalysisRecord {
	rec, out := o.run(ctx, req)
	o.attach(req, rec, out)
	return rec
}

func (o *Orchestrator) run(ctx context.Context, req *model.Requirement) (*model.AnalysisRecord, outcome) {
	fp := cache.FingerprintRequirement(req)
	if rec, ok := o.cache.Get(fp); ok {
		logrus.Debugf("Cache hit for %s", req.Label())
		return rec, outcomeCache
	}

	for {
		if err := ctx.Err(); err != nil {
			return cancelledRecord(err), outcomeCancelled
		}

		ch := o.flights.DoChan(fp, func() (any, error) {
			return o.compute(ctx, req, fp)
		})

		select {
		case <-ctx.Done():
			return cancelledRecord(ctx.Err()), outcomeCancelled
		case r := <-ch:
			if r.Err != nil {
				// The leader was cancelled; retry under our own context.
				if ctx.Err() == nil {
					logrus.Debugf("Shared analysis of %s was cancelled, retrying", req.Label())
					continue
				}
				return cancelledRecord(ctx.Err()), outcomeCancelled
			}
			res := r.Val.(flightResult)
			return res.record.Clone(), res.outcome
		}
	}
}

// compute runs inside the single flight for fp. It returns an error only
// when ctx was cancelled, in which case nothing is cached or sampled.
func (o *Orchestrator) compute(ctx context.Context, req *model.Requirement, fp string) (flightResult, error) {
	if rec, ok := o.cache.Peek(fp); ok {
		return flightResult{rec, outcomeCache}, nil
	}

	if o.backend == nil {
		return o.unavailable(req, ErrNoBackend), nil
	}
	if report := o.health.CurrentReport(); report.Status == health.StatusUnavailable {
		return o.unavailable(req, ErrUnavailable), nil
	}

	prompt, truncated := buildPrompt(req, o.cfg.MaxPromptChars, false)
	if truncated {
		logrus.Warnf("Prompt for %s truncated to %d characters", req.Label(), o.cfg.MaxPromptChars)
	}

	raw, latency, err := o.generate(ctx, prompt)
	if ctx.Err() != nil {
		return flightResult{}, ctx.Err()
	}
	o.health.RecordSample(latency, err)

	if err != nil {
		logrus.Warnf("Analysis of %s failed after %s: %v", req.Label(), latency.Round(time.Millisecond), err)
		if o.cfg.FallbackEnabled {
			return flightResult{fallbackRecord(req, "backend failed: "+err.Error()), outcomeFallback}, nil
		}
		return flightResult{model.FailedRecord(fmt.Sprintf("analysis failed: %v", err), o.backend.Name()), outcomeFailed}, nil
	}

	res := parser.Parse(raw, parser.Options{Source: o.backend.Name()})
	rec := res.Record
	if !rec.IsAnalyzed {
		logrus.Warnf("Could not interpret response for %s (%d chars)", req.Label(), len(raw))
		return flightResult{rec, outcomeFailed}, nil
	}
	for _, u := range res.Unparsed {
		logrus.Debugf("Unparsed line for %s: %s", req.Label(), u)
	}
	if truncated {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("prompt truncated to %d characters", o.cfg.MaxPromptChars))
	}
	o.cache.Put(fp, rec)
	return flightResult{rec, outcomeBackend}, nil
}

// generate calls the backend under the call timeout and converts panics
// into errors.
func (o *Orchestrator) generate(ctx context.Context, prompt string) (raw string, latency time.Duration, err error) {
	callCtx := ctx
	if o.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		latency = time.Since(start)
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panicked: %v", r)
		}
	}()

	raw, err = o.backend.Generate(callCtx, prompt, o.cfg.MaxTokens)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("timed out after %s: %w", o.cfg.CallTimeout, err)
	}
	return raw, latency, err
}

func (o *Orchestrator) unavailable(req *model.Requirement, reason error) flightResult {
	logrus.Debugf("Skipping backend for %s: %v", req.Label(), reason)
	if o.cfg.FallbackEnabled {
		return flightResult{fallbackRecord(req, reason.Error()+"; offline heuristics used"), outcomeFallback}
	}
	return flightResult{model.FailedRecord(ErrUnavailable.Error(), ""), outcomeFailed}
}

func cancelledRecord(err error) *model.AnalysisRecord {
	return model.FailedRecord("analysis cancelled: "+err.Error(), "")
}

func (o *Orchestrator) attach(req *model.Requirement, rec *model.AnalysisRecord, out outcome) {
	if out == outcomeCancelled {
		return
	}
	if a := o.attacher; a != nil {
		a.Attach(req, rec)
	} else {
		o.attachMu.Lock()
		req.Analysis = rec
		o.attachMu.Unlock()
	}

	events.Publish(o.bus, events.RequirementAnalyzed{
		Requirement: req,
		Record:      rec,
		FromCache:   out == outcomeCache,
	})
}

// Prompt returns the prompt to hand to an external tool.
func (o *Orchestrator) Prompt(req *model.Requirement) string {
	prompt, _ := buildPrompt(req, o.cfg.MaxPromptChars, true)
	return prompt
}

// ExternalResult is the outcome of applying a pasted response.
type ExternalResult struct {
	Record   *model.AnalysisRecord
	Unparsed []parser.UnparsedLine
	Improved string
}

// ApplyExternal parses a response produced by an external tool, attaches it
// and publishes it. External results are not cached.
func (o *Orchestrator) ApplyExternal(req *model.Requirement, raw string) ExternalResult {
	res := parser.Parse(raw, parser.Options{ExtractImproved: true, Source: SourceExternal})
	out := outcomeBackend
	if !res.Record.IsAnalyzed {
		out = outcomeFailed
	}
	o.attach(req, res.Record, out)
	return ExternalResult{
		Record:   res.Record,
		Unparsed: res.Unparsed,
		Improved: res.Record.Improved(),
	}
}

// Invalidate drops the cached analysis for the requirement's current text.
func (o *Orchestrator) Invalidate(req *model.Requirement) bool {
	return o.cache.Invalidate(cache.FingerprintRequirement(req))
}

// InvalidateFingerprint drops a cached analysis by fingerprint, typically
// the fingerprint of a requirement's text before an edit.
func (o *Orchestrator) InvalidateFingerprint(fp string) bool {
	return o.cache.Invalidate(fp)
}

// ClearCache drops every cached analysis.
func (o *Orchestrator) ClearCache() {
	o.cache.Clear()
}

// Statistics returns cache statistics.
func (o *Orchestrator) Statistics() cache.Stats {
	return o.cache.Statistics()
}

// Health returns the current backend health report.
func (o *Orchestrator) Health() health.Report {
	return o.health.CurrentReport()
}

// BackendName returns the configured backend name, or "none".
func (o *Orchestrator) BackendName() string {
	if o.backend == nil {
		return "none"
	}
	return o.backend.Name()
}

const probePrompt = "Reply with the single word OK."

// Probe makes a minimal backend call and records it as a health sample.
// While the monitor reports unavailable, analyses skip the backend and
// only these calls add successful samples to the window.
func (o *Orchestrator) Probe(ctx context.Context) (health.Report, error) {
	if o.backend == nil {
		return o.health.CurrentReport(), ErrNoBackend
	}
	_, latency, err := o.generate(ctx, probePrompt)
	if ctx.Err() != nil {
		return o.health.CurrentReport(), ctx.Err()
	}
	report := o.health.RecordSample(latency, err)
	if err != nil {
		return report, fmt.Errorf("probing %s: %w", o.backend.Name(), err)
	}
	return report, nil
}
