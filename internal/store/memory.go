package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/korrapati-satish/vahan-rakshak/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Workflows map[string]*models.WorkflowResult `json:"workflows"` // key: run_id
}

// MemoryOptions configures a MemoryStore.
type MemoryOptions struct {
	// DataDir enables snapshot persistence to DataDir/workflows.json.
	DataDir string
	// Retention evicts results that completed longer ago than this. Zero keeps
	// everything.
	Retention time.Duration
}

// MemoryStore implements Store with an in-memory map, optionally snapshotted
// to disk so results survive restarts.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*models.WorkflowResult // key: run_id

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
	closeOnce    sync.Once

	retention time.Duration
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	m := &MemoryStore{
		workflows: make(map[string]*models.WorkflowResult),
		saveCh:    make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		retention: opts.Retention,
	}

	if opts.DataDir != "" {
		m.snapshotPath = filepath.Join(opts.DataDir, "workflows.json")
		if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", opts.DataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}
	if m.retention > 0 {
		go m.evictionLoop()
	}

	log.Info().
		Str("retention", m.retention.String()).
		Str("snapshot", m.snapshotPath).
		Msg("Memory store configured")

	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			select {
			case <-m.doneCh:
				return
			case <-time.After(500 * time.Millisecond):
			}
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) evictionLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.doneCh:
			return
		case <-ticker.C:
			m.evictExpired(time.Now())
		}
	}
}

// evictExpired removes results that completed before now minus retention.
// Running results are never evicted.
func (m *MemoryStore) evictExpired(now time.Time) int {
	cutoff := now.Add(-m.retention)

	m.mu.Lock()
	var evicted int
	for id, r := range m.workflows {
		if r.CompletedAt != nil && r.CompletedAt.Before(cutoff) {
			delete(m.workflows, id)
			evicted++
		}
	}
	m.mu.Unlock()

	if evicted > 0 {
		log.Info().Int("evicted", evicted).Str("retention", m.retention.String()).Msg("Evicted expired workflow results")
		m.requestSave()
	}
	return evicted
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	data, err := json.MarshalIndent(snapshot{Workflows: m.workflows}, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Workflows != nil {
		m.workflows = snap.Workflows
	}
	log.Info().Int("workflows", len(m.workflows)).Str("path", m.snapshotPath).Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		if m.snapshotPath != "" {
			log.Info().Msg("Flushing final snapshot before shutdown...")
			m.saveSnapshot()
		}
	})
	return nil
}

// ── Workflow Store ──────────────────────────────────────────

func (m *MemoryStore) SaveWorkflow(_ context.Context, result *models.WorkflowResult) error {
	m.mu.Lock()
	m.workflows[result.RunID] = cloneResult(result)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetWorkflow(_ context.Context, runID string) (*models.WorkflowResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.workflows[runID]
	if !ok {
		return nil, &ErrNotFound{Entity: "workflow", Key: runID}
	}
	return cloneResult(r), nil
}

func (m *MemoryStore) ListWorkflows(_ context.Context, filter ListFilter) ([]models.WorkflowResult, error) {
	m.mu.RLock()
	result := make([]models.WorkflowResult, 0)
	for _, r := range m.workflows {
		if filter.matches(r) {
			result = append(result, *cloneResult(r))
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(result)
	if limit := filter.limit(); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
