// Package store persists finished workflow runs so they can be fetched by run
// id or listed per vehicle after the HTTP request that started them returns.
package store

import (
	"context"
	"sort"

	"github.com/korrapati-satish/vahan-rakshak/pkg/models"
)

// Store is the storage interface for workflow results. Handlers and the
// workflow engine depend only on this interface so the in-memory and Redis
// implementations are interchangeable.
type Store interface {
	WorkflowStore

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Workflow Store ──────────────────────────────────────────

type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, result *models.WorkflowResult) error
	GetWorkflow(ctx context.Context, runID string) (*models.WorkflowResult, error)
	// ListWorkflows returns matching results, newest first.
	ListWorkflows(ctx context.Context, filter ListFilter) ([]models.WorkflowResult, error)
}

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ── Filter helpers ──────────────────────────────────────────

// DefaultListLimit caps list results when the filter sets no limit.
const DefaultListLimit = 50

// ListFilter narrows ListWorkflows. Empty fields match everything.
type ListFilter struct {
	VehicleID  string
	WorkflowID string
	Limit      int
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func (f ListFilter) matches(r *models.WorkflowResult) bool {
	if f.VehicleID != "" && r.VehicleID != f.VehicleID {
		return false
	}
	if f.WorkflowID != "" && r.WorkflowID != f.WorkflowID {
		return false
	}
	return true
}

// cloneResult copies r deeply enough that the caller can keep mutating its
// own value.
func cloneResult(r *models.WorkflowResult) *models.WorkflowResult {
	c := *r
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		c.CompletedAt = &at
	}
	c.Steps = make([]models.WorkflowStep, len(r.Steps))
	for i, s := range r.Steps {
		if s.Result != nil {
			res := *s.Result
			s.Result = &res
		}
		c.Steps[i] = s
	}
	return &c
}

func sortNewestFirst(results []models.WorkflowResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})
}
