package analysis

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/reqlens/internal/events"
	"github.com/TobiSchelling/reqlens/internal/model"
)

// BatchResult summarizes a batch run.
type BatchResult struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	CacheHits int `json:"cache_hits"`
	Cancelled int `json:"cancelled"`
}

// AnalyzeBatch analyzes reqs one after another, continuing past failures.
// When ctx is cancelled the remaining items are counted as cancelled.
func (o *Orchestrator) AnalyzeBatch(ctx context.Context, reqs []*model.Requirement) BatchResult {
	res := BatchResult{Total: len(reqs)}

	events.Publish(o.bus, events.WorkflowStateChanged{
		Old:     events.WorkflowIdle,
		New:     events.WorkflowAnalyzing,
		Message: fmt.Sprintf("analyzing %d requirements", len(reqs)),
	})

	for i, req := range reqs {
		rec, out := o.run(ctx, req)
		if out == outcomeCancelled {
			res.Cancelled = len(reqs) - i
			logrus.Infof("Batch cancelled after %d of %d requirements", i, len(reqs))
			break
		}
		o.attach(req, rec, out)

		if rec.IsAnalyzed {
			res.Succeeded++
		} else {
			res.Failed++
		}
		if out == outcomeCache {
			res.CacheHits++
		}

		events.Publish(o.bus, events.BatchProgress{
			Index:       i + 1,
			Total:       len(reqs),
			Requirement: req,
			Record:      rec,
			FromCache:   out == outcomeCache,
		})
	}

	events.Publish(o.bus, events.WorkflowStateChanged{
		Old:     events.WorkflowAnalyzing,
		New:     events.WorkflowIdle,
		Message: fmt.Sprintf("%d analyzed, %d failed, %d cache hits", res.Succeeded, res.Failed, res.CacheHits),
	})
	return res
}
