// Package app constructs the analysis engine and its collaborators from
// configuration.
package app

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/reqlens/internal/analysis"
	"github.com/TobiSchelling/reqlens/internal/cache"
	"github.com/TobiSchelling/reqlens/internal/config"
	"github.com/TobiSchelling/reqlens/internal/database"
	"github.com/TobiSchelling/reqlens/internal/events"
	"github.com/TobiSchelling/reqlens/internal/health"
	"github.com/TobiSchelling/reqlens/internal/llm"
	"github.com/TobiSchelling/reqlens/internal/project"
)

// App holds every long-lived component of a run.
type App struct {
	Config  *config.Config
	DB      *database.DB
	Bus     *events.Bus
	Health  *health.Monitor
	Cache   *cache.Cache
	Engine  *analysis.Orchestrator
	Project *project.Project

	selSub *events.Subscription
}

const selectionKey = "selected_requirement"

// Options overrides parts of the wiring, mostly for tests.
type Options struct {
	// Backend replaces the provider chosen from configuration. Set
	// NoBackend to run without one.
	Backend   analysis.Backend
	NoBackend bool
}

// New opens the database, restores the persisted cache and loads the
// project.
func New(cfg *config.Config, opts Options) (*App, error) {
	db, err := database.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, DB: db, Bus: events.New()}

	a.Health = health.NewMonitor(health.Config{
		WindowSize:       cfg.Health.WindowSize,
		LatencyThreshold: cfg.Health.LatencyThreshold,
	})

	cacheOpts := cache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		TTL:        cfg.Cache.TTL,
		Latency:    a.Health,
	}
	if cfg.Cache.Persist {
		cacheOpts.Store = db
	}
	a.Cache = cache.New(cacheOpts)
	if cfg.Cache.Persist {
		if err := a.warmCache(); err != nil {
			logrus.Warnf("Could not restore analysis cache: %v", err)
		}
	}

	a.Engine = analysis.New(a.backend(opts), a.Cache, a.Health, a.Bus, analysis.Config{
		MaxTokens:       cfg.Backend.MaxTokens,
		CallTimeout:     cfg.Backend.CallTimeout,
		FallbackEnabled: cfg.Analysis.FallbackEnabled,
		MaxPromptChars:  cfg.Analysis.MaxPromptChars,
	})

	a.Project = project.New(a.Bus, db, a.Engine)
	a.Engine.SetAttacher(a.Project)
	if err := a.Project.Load(); err != nil {
		db.Close()
		return nil, err
	}
	a.restoreSelection()
	return a, nil
}

// restoreSelection reselects the requirement selected in the previous run
// and keeps the stored selection current from then on.
func (a *App) restoreSelection() {
	a.selSub = events.Subscribe(a.Bus, func(ev events.RequirementSelected) {
		if ev.Replay {
			return
		}
		var id string
		if ev.Requirement != nil {
			id = ev.Requirement.ID
		}
		if err := a.DB.SetState(selectionKey, id); err != nil {
			logrus.Warnf("Storing selection: %v", err)
		}
	})

	id, err := a.DB.GetState(selectionKey)
	if err != nil {
		logrus.Warnf("Reading stored selection: %v", err)
		return
	}
	if id == "" {
		return
	}
	if _, err := a.Project.Select(id); err != nil {
		logrus.Debugf("Stored selection %s no longer exists", id)
		a.Project.ClearSelection()
	}
}

func (a *App) backend(opts Options) analysis.Backend {
	switch {
	case opts.NoBackend:
		return nil
	case opts.Backend != nil:
		return opts.Backend
	}

	b := a.Config.Backend
	provider := llm.CreateProvider(llm.Options{
		Provider:        b.Provider,
		Model:           b.Model,
		OllamaURL:       b.OllamaURL,
		OpenAIModel:     b.OpenAIModel,
		OpenAIBaseURL:   b.OpenAIBaseURL,
		APIKeyEnv:       b.APIKeyEnv,
		AnthropicModel:  b.AnthropicModel,
		AnthropicKeyEnv: b.AnthropicKeyEnv,
	})
	if provider == nil {
		return nil
	}
	return provider
}

// warmCache loads persisted entries that have not expired and prunes the
// rest.
func (a *App) warmCache() error {
	var since time.Time
	if ttl := a.Config.Cache.TTL; ttl > 0 {
		since = time.Now().Add(-ttl)
		if n, err := a.DB.PruneCacheEntries(since); err != nil {
			return fmt.Errorf("pruning expired cache entries: %w", err)
		} else if n > 0 {
			logrus.Debugf("Pruned %d expired cache entries", n)
		}
	}

	entries, err := a.DB.LoadCacheEntries(since)
	if err != nil {
		return err
	}
	n := a.Cache.Warm(entries)
	logrus.Debugf("Restored %d cached analyses", n)
	return nil
}

// Close releases the bus subscriptions and the database.
func (a *App) Close() error {
	a.selSub.Unsubscribe()
	a.Project.Close()
	return a.DB.Close()
}
