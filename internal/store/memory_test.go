package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/korrapati-satish/vahan-rakshak/internal/store"
	"github.com/korrapati-satish/vahan-rakshak/pkg/models"
)

// newTestStore creates a fresh in-memory store with no persistence.
func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore(store.MemoryOptions{})
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func finished(runID, vehicleID, workflowID string, startOffset time.Duration) *models.WorkflowResult {
	r := &models.WorkflowResult{
		RunID:      runID,
		WorkflowID: workflowID,
		VehicleID:  vehicleID,
		Status:     models.WorkflowRunning,
		StartedAt:  base.Add(startOffset),
	}
	r.AppendStep(models.WorkflowStep{
		Name:   "scan_cargo",
		Kind:   models.StepAgent,
		Status: models.CallSuccess,
		Result: &models.CallOutcome{Agent: models.CapabilityGatekeeper, Decision: "clear"},
	})
	r.Finish(models.WorkflowSuccess, r.StartedAt.Add(3*time.Second))
	return r
}

// ─── Workflow CRUD ───────────────────────────────────────────

func TestSaveAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveWorkflow(ctx, finished("run-1", "KA-01", models.DepartureWorkflowID, 0)); err != nil {
		t.Fatalf("SaveWorkflow() error = %v", err)
	}

	got, err := s.GetWorkflow(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetWorkflow() error = %v", err)
	}
	if got.VehicleID != "KA-01" {
		t.Errorf("GetWorkflow().VehicleID = %q, want %q", got.VehicleID, "KA-01")
	}
	if got.Status != models.WorkflowSuccess {
		t.Errorf("GetWorkflow().Status = %q, want %q", got.Status, models.WorkflowSuccess)
	}
	if len(got.Steps) != 1 || got.Steps[0].Result.Decision != "clear" {
		t.Errorf("GetWorkflow().Steps = %+v, want one scan step", got.Steps)
	}
}

func TestGetWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetWorkflow(context.Background(), "missing")
	var nf *store.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("GetWorkflow() error = %v, want *ErrNotFound", err)
	}
	if nf.Key != "missing" {
		t.Errorf("ErrNotFound.Key = %q, want %q", nf.Key, "missing")
	}
}

func TestSaveWorkflow_StoresCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := finished("run-1", "KA-01", models.DepartureWorkflowID, 0)
	_ = s.SaveWorkflow(ctx, r)
	r.Steps[0].Result.Decision = "mutated"
	r.VehicleID = "other"

	got, _ := s.GetWorkflow(ctx, "run-1")
	if got.VehicleID != "KA-01" {
		t.Errorf("stored VehicleID = %q, want %q", got.VehicleID, "KA-01")
	}
	if got.Steps[0].Result.Decision != "clear" {
		t.Errorf("stored Decision = %q, want %q", got.Steps[0].Result.Decision, "clear")
	}
}

func TestListWorkflows_FilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.SaveWorkflow(ctx, finished("a", "KA-01", models.DepartureWorkflowID, 0))
	_ = s.SaveWorkflow(ctx, finished("b", "KA-01", models.EmergencyWorkflowID, time.Minute))
	_ = s.SaveWorkflow(ctx, finished("c", "KA-02", models.DepartureWorkflowID, 2*time.Minute))
	_ = s.SaveWorkflow(ctx, finished("d", "KA-01", models.DepartureWorkflowID, 3*time.Minute))

	got, err := s.ListWorkflows(ctx, store.ListFilter{VehicleID: "KA-01"})
	if err != nil {
		t.Fatalf("ListWorkflows() error = %v", err)
	}
	want := []string{"d", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("ListWorkflows() returned %d results, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].RunID != id {
			t.Errorf("ListWorkflows()[%d].RunID = %q, want %q", i, got[i].RunID, id)
		}
	}

	got, _ = s.ListWorkflows(ctx, store.ListFilter{VehicleID: "KA-01", WorkflowID: models.EmergencyWorkflowID})
	if len(got) != 1 || got[0].RunID != "b" {
		t.Errorf("ListWorkflows(emergency) = %+v, want only b", got)
	}

	got, _ = s.ListWorkflows(ctx, store.ListFilter{Limit: 2})
	if len(got) != 2 || got[0].RunID != "d" || got[1].RunID != "c" {
		t.Errorf("ListWorkflows(limit 2) = %+v, want d, c", got)
	}
}

func TestListWorkflows_EmptyIsNotNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.ListWorkflows(context.Background(), store.ListFilter{VehicleID: "nobody"})
	if err != nil {
		t.Fatalf("ListWorkflows() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("ListWorkflows() = %#v, want empty slice", got)
	}
}

// ─── Persistence ─────────────────────────────────────────────

func TestSnapshot_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := store.NewMemoryStore(store.MemoryOptions{DataDir: dir})
	if err := first.SaveWorkflow(ctx, finished("run-1", "KA-01", models.DepartureWorkflowID, 0)); err != nil {
		t.Fatalf("SaveWorkflow() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Second close is a no-op.
	if err := first.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	second := newPersistentStore(t, dir)
	got, err := second.GetWorkflow(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetWorkflow() after restart error = %v", err)
	}
	if got.CompletedAt == nil {
		t.Error("GetWorkflow().CompletedAt = nil after restart, want set")
	}
}

func newPersistentStore(t *testing.T, dir string) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore(store.MemoryOptions{DataDir: dir})
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEvictExpired(t *testing.T) {
	s := store.NewMemoryStore(store.MemoryOptions{Retention: time.Hour})
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	_ = s.SaveWorkflow(ctx, finished("old", "KA-01", models.DepartureWorkflowID, 0))
	_ = s.SaveWorkflow(ctx, finished("new", "KA-01", models.DepartureWorkflowID, 2*time.Hour))
	running := &models.WorkflowResult{RunID: "live", VehicleID: "KA-01", Status: models.WorkflowRunning, StartedAt: base}
	_ = s.SaveWorkflow(ctx, running)

	if n := s.EvictExpired(base.Add(2*time.Hour + 30*time.Minute)); n != 1 {
		t.Errorf("EvictExpired() = %d, want 1", n)
	}
	if _, err := s.GetWorkflow(ctx, "old"); err == nil {
		t.Error("GetWorkflow(old) succeeded after eviction, want not found")
	}
	for _, id := range []string{"new", "live"} {
		if _, err := s.GetWorkflow(ctx, id); err != nil {
			t.Errorf("GetWorkflow(%s) error = %v, want kept", id, err)
		}
	}
}
