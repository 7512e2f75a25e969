// Package status tracks the lifecycle of analysis requests: pending when
// accepted, in_progress while dispatched, then completed or failed.
package status

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/crosscheckhq/crosscheck/pkg/errors"
)

// State is an analysis lifecycle state.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Record is the stored view of one analysis.
type Record struct {
	AnalysisID string          `json:"analysisId"`
	Provider   string          `json:"provider"`
	State      State           `json:"state"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Result     json.RawMessage `json:"result,omitempty"`
	ErrorCode  string          `json:"errorCode,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Store persists analysis records.
type Store interface {
	// Create registers a new analysis in StatePending.
	Create(ctx context.Context, analysisID, provider string) error

	// UpdateState transitions the analysis to the given state.
	UpdateState(ctx context.Context, analysisID string, state State) error

	// SetResult stores the result payload and marks the analysis completed.
	SetResult(ctx context.Context, analysisID string, result []byte) error

	// SetError records the classified failure (error-kind code plus
	// message) and marks the analysis failed.
	SetError(ctx context.Context, analysisID string, code, message string) error

	// Get returns the record for the analysis.
	Get(ctx context.Context, analysisID string) (*Record, error)
}

// =============================================================================
// In-Memory Store
// =============================================================================

// MemoryStore is the default Store, suitable for single-process use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, analysisID, provider string) error {
	const op = "status.MemoryStore.Create"

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[analysisID]; ok {
		return errors.E(errors.KindInvalidInput, op, "analysis already exists: "+analysisID)
	}
	now := time.Now()
	s.records[analysisID] = &Record{
		AnalysisID: analysisID,
		Provider:   provider,
		State:      StatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

// UpdateState implements Store.
func (s *MemoryStore) UpdateState(_ context.Context, analysisID string, state State) error {
	const op = "status.MemoryStore.UpdateState"

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[analysisID]
	if !ok {
		return errors.E(errors.KindNotFound, op, "unknown analysis: "+analysisID)
	}
	rec.State = state
	rec.UpdatedAt = time.Now()
	return nil
}

// SetResult implements Store.
func (s *MemoryStore) SetResult(_ context.Context, analysisID string, result []byte) error {
	const op = "status.MemoryStore.SetResult"

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[analysisID]
	if !ok {
		return errors.E(errors.KindNotFound, op, "unknown analysis: "+analysisID)
	}
	rec.Result = append([]byte(nil), result...)
	rec.State = StateCompleted
	rec.UpdatedAt = time.Now()
	return nil
}

// SetError implements Store.
func (s *MemoryStore) SetError(_ context.Context, analysisID string, code, message string) error {
	const op = "status.MemoryStore.SetError"

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[analysisID]
	if !ok {
		return errors.E(errors.KindNotFound, op, "unknown analysis: "+analysisID)
	}
	rec.ErrorCode = code
	rec.Error = message
	rec.State = StateFailed
	rec.UpdatedAt = time.Now()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, analysisID string) (*Record, error) {
	const op = "status.MemoryStore.Get"

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[analysisID]
	if !ok {
		return nil, errors.E(errors.KindNotFound, op, "unknown analysis: "+analysisID)
	}
	copied := *rec
	return &copied, nil
}

// IDs lists all known analysis IDs, in no particular order.
func (s *MemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids
}

var _ Store = (*MemoryStore)(nil)
