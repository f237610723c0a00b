package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// AttemptStore records exercise attempts and the XP they earn.
type AttemptStore interface {
	// RecordAttempt stores a and awards xpReward when a is the user's first
	// passing attempt on the exercise.
	RecordAttempt(ctx context.Context, a *Attempt, xpReward int) (AttemptOutcome, error)
	// ListAttempts returns matching attempts, newest first.
	ListAttempts(ctx context.Context, filter AttemptFilter) ([]Attempt, error)
	// UseHint records that the user revealed a hint. The first reveal
	// deducts xpCost, never below zero; the level is kept.
	UseHint(ctx context.Context, userID, hintID string, xpCost int) (HintOutcome, error)
}

// ExecutionLogger persists execution audit records.
type ExecutionLogger interface {
	LogExecution(ctx context.Context, exec *Execution) error
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
