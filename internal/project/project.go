// Package project holds the working set of requirements and keeps it in
// step with persistence by observing analysis events.
package project

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/reqlens/internal/cache"
	"github.com/TobiSchelling/reqlens/internal/events"
	"github.com/TobiSchelling/reqlens/internal/model"
)

// ErrNotFound is returned when no requirement matches a key.
var ErrNotFound = errors.New("requirement not found")

// Store persists requirements and their analyses.
type Store interface {
	SaveRequirement(req *model.Requirement) error
	ListRequirements() ([]*model.Requirement, error)
	SaveAnalysis(requirementID string, rec *model.AnalysisRecord) error
	DeleteAnalysis(requirementID string) error
}

// Invalidator drops cached analyses by fingerprint.
type Invalidator interface {
	InvalidateFingerprint(fp string) bool
}

// Project is the in-memory requirement collection. It is safe for
// concurrent use.
type Project struct {
	bus   *events.Bus
	store Store
	inv   Invalidator

	mu   sync.RWMutex
	reqs []*model.Requirement
	byID map[string]*model.Requirement

	sub *events.Subscription
}

// New creates an empty project. store and inv may be nil.
func New(bus *events.Bus, store Store, inv Invalidator) *Project {
	p := &Project{
		bus:   bus,
		store: store,
		inv:   inv,
		byID:  make(map[string]*model.Requirement),
	}
	p.sub = events.Subscribe(bus, p.onAnalyzed)
	return p
}

// Close stops observing the bus.
func (p *Project) Close() {
	p.sub.Unsubscribe()
}

func (p *Project) onAnalyzed(ev events.RequirementAnalyzed) {
	if p.store == nil || ev.Requirement == nil || ev.Record == nil {
		return
	}
	p.mu.RLock()
	owned := p.byID[ev.Requirement.ID] == ev.Requirement
	p.mu.RUnlock()
	if !owned {
		return
	}
	if err := p.store.SaveAnalysis(ev.Requirement.ID, ev.Record); err != nil {
		logrus.Errorf("Persisting analysis of %s: %v", ev.Requirement.Label(), err)
	}
}

// Load replaces the collection with the stored requirements.
func (p *Project) Load() error {
	if p.store == nil {
		return nil
	}
	reqs, err := p.store.ListRequirements()
	if err != nil {
		return fmt.Errorf("loading requirements: %w", err)
	}

	p.mu.Lock()
	p.reqs = reqs
	p.byID = make(map[string]*model.Requirement, len(reqs))
	for _, r := range reqs {
		p.byID[r.ID] = r
	}
	count := len(p.reqs)
	p.mu.Unlock()

	logrus.Debugf("Loaded %d requirements", count)
	events.Publish(p.bus, events.RequirementsCollectionChanged{Count: count, Reason: "load"})
	return nil
}

// ImportResult counts what an import changed.
type ImportResult struct {
	Added     int
	Updated   int
	Unchanged int
}

// Import merges reqs into the collection by ID. Existing requirements keep
// their identity; when their analyzable text changes the attached analysis
// is dropped.
func (p *Project) Import(reqs []*model.Requirement) (ImportResult, error) {
	if err := Validate(reqs); err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	var changed []saved
	var cleared []string

	p.mu.Lock()
	for _, in := range reqs {
		cur, ok := p.byID[in.ID]
		if !ok {
			r := *in
			p.reqs = append(p.reqs, &r)
			p.byID[r.ID] = &r
			changed = append(changed, saved{&r, r.Analysis})
			res.Added++
			continue
		}
		if cur.ItemCode == in.ItemCode && cur.AnalyzableText() == in.AnalyzableText() {
			res.Unchanged++
			continue
		}
		textChanged := cur.AnalyzableText() != in.AnalyzableText()
		cur.ItemCode = in.ItemCode
		cur.Description = in.Description
		cur.Paragraphs = in.Paragraphs
		cur.Tables = in.Tables
		if textChanged {
			cur.Analysis = nil
			cleared = append(cleared, cur.ID)
		}
		changed = append(changed, saved{cur, cur.Analysis})
		res.Updated++
	}
	count := len(p.reqs)
	p.mu.Unlock()

	if err := p.persist(changed, cleared); err != nil {
		return res, err
	}

	logrus.Infof("Imported %d requirements (%d new, %d updated)", len(reqs), res.Added, res.Updated)
	events.Publish(p.bus, events.RequirementsCollectionChanged{Count: count, Reason: "import"})
	return res, nil
}

// saved pairs a requirement with the analysis it carried when it was
// changed, read under the project lock.
type saved struct {
	req      *model.Requirement
	analysis *model.AnalysisRecord
}

func (p *Project) persist(items []saved, cleared []string) error {
	if p.store == nil {
		return nil
	}
	for _, it := range items {
		if err := p.store.SaveRequirement(it.req); err != nil {
			return err
		}
		if it.analysis != nil {
			if err := p.store.SaveAnalysis(it.req.ID, it.analysis); err != nil {
				return err
			}
		}
	}
	for _, id := range cleared {
		if err := p.store.DeleteAnalysis(id); err != nil {
			return fmt.Errorf("clearing analysis of %s: %w", id, err)
		}
	}
	return nil
}

// Get returns the requirement whose ID or item code equals key.
func (p *Project) Get(key string) (*model.Requirement, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if r, ok := p.byID[key]; ok {
		return r, nil
	}
	for _, r := range p.reqs {
		if r.ItemCode == key {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
}

// All returns the requirements in import order.
func (p *Project) All() []*model.Requirement {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*model.Requirement(nil), p.reqs...)
}

// Snapshot returns copies of the requirements in import order, taken under
// the project lock. Readers on other goroutines render these instead of the
// live requirements, which analyses update in place.
func (p *Project) Snapshot() []*model.Requirement {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*model.Requirement, len(p.reqs))
	for i, r := range p.reqs {
		c := *r
		out[i] = &c
	}
	return out
}

// View returns a copy of the requirement matching key.
func (p *Project) View(key string) (*model.Requirement, error) {
	r, err := p.Get(key)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	c := *r
	p.mu.RUnlock()
	return &c, nil
}

// Attach stores rec as the analysis of req under the project lock.
func (p *Project) Attach(req *model.Requirement, rec *model.AnalysisRecord) {
	p.mu.Lock()
	req.Analysis = rec
	p.mu.Unlock()
}

// Len returns the number of requirements.
func (p *Project) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.reqs)
}

// Select makes the requirement matching key the current selection.
func (p *Project) Select(key string) (*model.Requirement, error) {
	r, err := p.Get(key)
	if err != nil {
		return nil, err
	}
	events.Publish(p.bus, events.RequirementSelected{Requirement: r})
	return r, nil
}

// ClearSelection clears the current selection.
func (p *Project) ClearSelection() {
	events.Publish(p.bus, events.RequirementSelected{})
}

// Selected returns the current selection, or nil.
func (p *Project) Selected() *model.Requirement {
	return p.bus.Selection()
}

// UpdateDescription replaces a requirement's description. The analysis of
// the old text is dropped from the requirement and the cache.
func (p *Project) UpdateDescription(key, description string) (*model.Requirement, error) {
	r, err := p.Get(key)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if r.Description == description {
		p.mu.Unlock()
		return r, nil
	}
	oldFP := cache.FingerprintRequirement(r)
	r.Description = description
	r.Analysis = nil
	count := len(p.reqs)
	p.mu.Unlock()

	if p.inv != nil && p.inv.InvalidateFingerprint(oldFP) {
		logrus.Debugf("Invalidated cached analysis of %s", r.Label())
	}
	if p.store != nil {
		if err := p.store.SaveRequirement(r); err != nil {
			return r, err
		}
		if err := p.store.DeleteAnalysis(r.ID); err != nil {
			return r, fmt.Errorf("clearing analysis of %s: %w", r.ID, err)
		}
	}

	events.Publish(p.bus, events.RequirementsCollectionChanged{Count: count, Reason: "edit"})
	if sel := p.bus.Selection(); sel != nil && sel.ID == r.ID {
		events.Publish(p.bus, events.RequirementSelected{Requirement: r})
	}
	return r, nil
}

// Pending returns the requirements without a successful analysis.
func (p *Project) Pending() []*model.Requirement {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*model.Requirement
	for _, r := range p.reqs {
		if r.Analysis == nil || r.Analysis.Failed() {
			out = append(out, r)
		}
	}
	return out
}
