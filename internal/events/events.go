package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/reqlens/internal/health"
	"github.com/TobiSchelling/reqlens/internal/model"
)

// Kind identifies an event type.
type Kind string

const (
	KindRequirementSelected           Kind = "requirement_selected"
	KindRequirementAnalyzed           Kind = "requirement_analyzed"
	KindWorkflowStateChanged          Kind = "workflow_state_changed"
	KindRequirementsCollectionChanged Kind = "requirements_collection_changed"
	KindBatchProgress                 Kind = "batch_progress"
	KindHealthStatusChanged           Kind = "health_status_changed"
)

// Event is implemented by every event type in this package.
type Event interface {
	Kind() Kind
}

// Meta is stamped onto every event when it is published.
type Meta struct {
	ID uuid.UUID `json:"id"`
	At time.Time `json:"at"`
}

func (m *Meta) stamp() {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.At.IsZero() {
		m.At = time.Now().UTC()
	}
}

type stamper interface{ stamp() }

// RequirementSelected announces the current selection. A nil Requirement
// clears it. Replay is set on the copy delivered to late subscribers.
type RequirementSelected struct {
	Meta
	Requirement *model.Requirement
	Replay      bool
}

func (RequirementSelected) Kind() Kind { return KindRequirementSelected }

// RequirementAnalyzed carries a record just attached to a requirement.
type RequirementAnalyzed struct {
	Meta
	Requirement *model.Requirement
	Record      *model.AnalysisRecord
	FromCache   bool
}

func (RequirementAnalyzed) Kind() Kind { return KindRequirementAnalyzed }

// WorkflowState is the coarse state of the analysis workflow.
type WorkflowState string

const (
	WorkflowIdle      WorkflowState = "idle"
	WorkflowAnalyzing WorkflowState = "analyzing"
)

type WorkflowStateChanged struct {
	Meta
	Old     WorkflowState
	New     WorkflowState
	Message string
}

func (WorkflowStateChanged) Kind() Kind { return KindWorkflowStateChanged }

// RequirementsCollectionChanged is published after imports and edits.
type RequirementsCollectionChanged struct {
	Meta
	Count  int
	Reason string
}

func (RequirementsCollectionChanged) Kind() Kind { return KindRequirementsCollectionChanged }

// BatchProgress is published once per item of a batch analysis.
type BatchProgress struct {
	Meta
	Index       int
	Total       int
	Requirement *model.Requirement
	Record      *model.AnalysisRecord
	FromCache   bool
}

func (BatchProgress) Kind() Kind { return KindBatchProgress }

type HealthStatusChanged struct {
	Meta
	Old health.Report
	New health.Report
}

func (HealthStatusChanged) Kind() Kind { return KindHealthStatusChanged }
