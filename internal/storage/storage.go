// Package storage keeps a bounded, thread-safe history of analysis runs in memory.
// The oldest runs are rotated out once the configured capacity is reached.
// Durable copies of runs are written by the report package; this store only
// serves what the current process has seen.
package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/calspread/internal/models"
)

// ErrNotFound is returned when a run ID is not in the history.
var ErrNotFound = errors.New("run not found")

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Start      string    `json:"start"`
	End        string    `json:"end"`
	Spreads    int       `json:"spreads"`
	Failures   int       `json:"failures"`
}

// Storage holds up to maxRuns runs keyed by ID.
type Storage struct {
	runs    map[string]*models.Run
	order   []string // oldest first
	mu      sync.RWMutex
	maxRuns int
}

// New creates a Storage that keeps at most maxRuns runs.
func New(maxRuns int) *Storage {
	if maxRuns < 1 {
		maxRuns = 1
	}
	return &Storage{
		runs:    make(map[string]*models.Run),
		maxRuns: maxRuns,
	}
}

// AddRun stores a run, replacing any run with the same ID, and rotates out
// the oldest runs beyond capacity.
func (s *Storage) AddRun(run *models.Run) error {
	if run == nil {
		return fmt.Errorf("invalid run: nil")
	}
	if run.ID == "" {
		return fmt.Errorf("invalid run: ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		s.remove(run.ID)
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	s.rotate()
	return nil
}

// GetRun retrieves a run by ID.
func (s *Storage) GetRun(id string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, nil
}

// Latest returns the most recently added run, or nil.
func (s *Storage) Latest() *models.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 {
		return nil
	}
	return s.runs[s.order[len(s.order)-1]]
}

// List returns summaries of all stored runs, newest first by start time.
func (s *Storage) List() []RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RunSummary, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		run := s.runs[s.order[i]]
		out = append(out, RunSummary{
			ID:         run.ID,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
			Start:      run.Window.Start.Format(models.DateLayout),
			End:        run.Window.End.Format(models.DateLayout),
			Spreads:    len(run.Results),
			Failures:   len(run.Failures),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Len returns the number of stored runs.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// remove drops id from the order slice. Caller holds the lock.
func (s *Storage) remove(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	delete(s.runs, id)
}

// rotate keeps only the most recent maxRuns runs. Caller holds the lock.
func (s *Storage) rotate() {
	if len(s.order) <= s.maxRuns {
		return
	}
	toRemove := len(s.order) - s.maxRuns
	for _, id := range s.order[:toRemove] {
		delete(s.runs, id)
	}
	s.order = append([]string(nil), s.order[toRemove:]...)
}
