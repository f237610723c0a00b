package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process AttemptStore and ExecutionLogger. State is
// lost on restart.
type MemoryStore struct {
	mu         sync.Mutex
	attempts   []Attempt
	xp         map[string]int
	levels     map[string]int
	hintsUsed  map[hintUse]bool
	executions []Execution
}

type hintUse struct {
	userID, hintID string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		xp:        make(map[string]int),
		levels:    make(map[string]int),
		hintsUsed: make(map[hintUse]bool),
	}
}

func (s *MemoryStore) RecordAttempt(_ context.Context, a *Attempt, xpReward int) (AttemptOutcome, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	alreadyPassed := false
	for _, prev := range s.attempts {
		if prev.UserID == a.UserID && prev.ExerciseID == a.ExerciseID && prev.Passed {
			alreadyPassed = true
			break
		}
	}
	s.attempts = append(s.attempts, *a)

	var out AttemptOutcome
	if a.Passed && !alreadyPassed && xpReward > 0 {
		s.xp[a.UserID] += xpReward
		out.XPAwarded = xpReward
	}
	out.TotalXP = s.xp[a.UserID]
	out.Level = max(s.levels[a.UserID], LevelForXP(out.TotalXP))
	s.levels[a.UserID] = out.Level
	return out, nil
}

func (s *MemoryStore) ListAttempts(_ context.Context, filter AttemptFilter) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Attempt
	for _, a := range s.attempts {
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		if filter.ExerciseID != "" && a.ExerciseID != filter.ExerciseID {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, filter.Offset, clampLimit(filter.Limit)), nil
}

func (s *MemoryStore) UseHint(_ context.Context, userID, hintID string, xpCost int) (HintOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hintUse{userID, hintID}
	if s.hintsUsed[key] {
		return HintOutcome{AlreadyUsed: true, RemainingXP: s.xp[userID]}, nil
	}
	s.hintsUsed[key] = true

	if xpCost > 0 {
		s.xp[userID] = max(0, s.xp[userID]-xpCost)
	}
	return HintOutcome{XPCost: xpCost, RemainingXP: s.xp[userID]}, nil
}

func (s *MemoryStore) LogExecution(_ context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, *exec)
	return nil
}

// GetExecution returns the execution with the given ID.
func (s *MemoryStore) GetExecution(_ context.Context, id string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.executions {
		if s.executions[i].ID == id {
			exec := s.executions[i]
			return &exec, nil
		}
	}
	return nil, ErrNotFound
}

// ListExecutions returns matching executions, newest first.
func (s *MemoryStore) ListExecutions(_ context.Context, filter ExecutionFilter) ([]Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Execution
	for _, e := range s.executions {
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, filter.Offset, clampLimit(filter.Limit)), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[max(offset, 0):]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
