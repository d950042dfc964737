// Package server is the local web view of a project.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/reqlens/internal/cache"
	"github.com/TobiSchelling/reqlens/internal/events"
	"github.com/TobiSchelling/reqlens/internal/health"
	"github.com/TobiSchelling/reqlens/internal/model"
	"github.com/TobiSchelling/reqlens/internal/project"
	"github.com/TobiSchelling/reqlens/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

const maxActivity = 20

// Requirements is the project surface the server reads and selects from.
// Pages render the copies returned by Snapshot and View; Get returns the
// live requirement handed to the engine.
type Requirements interface {
	Snapshot() []*model.Requirement
	View(key string) (*model.Requirement, error)
	Get(key string) (*model.Requirement, error)
	Select(key string) (*model.Requirement, error)
	Selected() *model.Requirement
}

// Engine is the analysis surface the server drives.
type Engine interface {
	Analyze(ctx context.Context, req *model.Requirement) *model.AnalysisRecord
	Health() health.Report
	Statistics() cache.Stats
	BackendName() string
}

// Activity is one line of the recent-activity feed.
type Activity struct {
	At      time.Time
	Message string
}

// Server is the HTTP server for browsing requirements and analyses.
type Server struct {
	reqs   Requirements
	engine Engine
	pages  map[string]*template.Template
	mux    *http.ServeMux

	subs []*events.Subscription

	mu       sync.Mutex
	activity []Activity
}

// New creates a new Server observing bus for the activity feed.
func New(reqs Requirements, engine Engine, bus *events.Bus) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"analysis": func(rec *model.AnalysisRecord) template.HTML {
			return renderMarkdown(report.AnalysisMarkdown(rec))
		},
		"score": func(rec *model.AnalysisRecord) string {
			switch {
			case rec == nil:
				return "-"
			case rec.Failed():
				return "error"
			}
			return fmt.Sprintf("%d/10", rec.QualityScore)
		},
		"scoreClass": func(rec *model.AnalysisRecord) string {
			switch {
			case rec == nil:
				return "pending"
			case rec.Failed():
				return "failed"
			case rec.QualityScore >= 8:
				return "good"
			case rec.QualityScore >= 5:
				return "fair"
			}
			return "poor"
		},
		"timeAgo": func(t time.Time) string {
			return time.Since(t).Round(time.Second).String() + " ago"
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "requirement.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{reqs: reqs, engine: engine, pages: pages, mux: http.NewServeMux()}
	if bus != nil {
		s.observe(bus)
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Close stops observing the bus.
func (s *Server) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
}

func (s *Server) observe(bus *events.Bus) {
	s.subs = append(s.subs,
		events.Subscribe(bus, func(ev events.RequirementAnalyzed) {
			msg := fmt.Sprintf("%s analyzed: %s", ev.Requirement.Label(), scoreText(ev.Record))
			if ev.FromCache {
				msg += " (cached)"
			}
			s.record(ev.At, msg)
		}),
		events.Subscribe(bus, func(ev events.HealthStatusChanged) {
			s.record(ev.At, fmt.Sprintf("Backend %s: %s -> %s", ev.New.ServiceType, ev.Old.Status, ev.New.Status))
		}),
		events.Subscribe(bus, func(ev events.RequirementsCollectionChanged) {
			s.record(ev.At, fmt.Sprintf("Requirements %s: %d total", ev.Reason, ev.Count))
		}),
	)
}

func scoreText(rec *model.AnalysisRecord) string {
	if rec.Failed() {
		return "failed (" + rec.Error() + ")"
	}
	return fmt.Sprintf("%d/10", rec.QualityScore)
}

func (s *Server) record(at time.Time, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append([]Activity{{At: at, Message: msg}}, s.activity...)
	if len(s.activity) > maxActivity {
		s.activity = s.activity[:maxActivity]
	}
}

// Activity returns the recent activity, newest first.
func (s *Server) Activity() []Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Activity(nil), s.activity...)
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Routes
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/requirement/", s.handleRequirement)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/cache", s.handleCache)
	s.mux.HandleFunc("/api/requirements", s.handleRequirementsAPI)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	all := s.reqs.Snapshot()
	s.render(w, "index.html", map[string]any{
		"Requirements": all,
		"Summary":      report.Summarize(all),
		"Selected":     s.reqs.Selected(),
		"Health":       s.engine.Health(),
		"Cache":        s.engine.Statistics(),
		"Backend":      s.engine.BackendName(),
		"Activity":     s.Activity(),
	})
}

// handleRequirement serves /requirement/{key} and the POST actions
// /requirement/{key}/analyze and /requirement/{key}/select.
func (s *Server) handleRequirement(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/requirement/")
	key, action, _ := strings.Cut(path, "/")
	if key == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	if action != "" {
		if r.Method != http.MethodPost {
			http.Redirect(w, r, "/requirement/"+key, http.StatusFound)
			return
		}
		req, err := s.reqs.Get(key)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		switch action {
		case "analyze":
			s.engine.Analyze(r.Context(), req)
		case "select":
			s.reqs.Select(key)
		default:
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/requirement/"+key, http.StatusFound)
		return
	}

	req, err := s.reqs.View(key)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	selected := s.reqs.Selected()
	s.render(w, "requirement.html", map[string]any{
		"Requirement": req,
		"Selected":    selected != nil && selected.ID == req.ID,
		"Health":      s.engine.Health(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Health())
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Statistics())
}

func (s *Server) handleRequirementsAPI(w http.ResponseWriter, r *http.Request) {
	all := s.reqs.Snapshot()
	writeJSON(w, map[string]any{
		"summary":      report.Summarize(all),
		"requirements": all,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logrus.Errorf("Error encoding response: %v", err)
	}
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		logrus.Errorf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		logrus.Errorf("Error rendering template %s: %v", name, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve runs the server on the given port until ctx is cancelled.
func Serve(ctx context.Context, srv *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	hs := &http.Server{Addr: addr, Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Server listening on http://%s", addr)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Make sure the project satisfies the interface the server reads from.
var _ Requirements = (*project.Project)(nil)
