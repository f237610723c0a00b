package storage

import "time"

// Execution represents a stored execution record.
type Execution struct {
	ID           string     `json:"id" db:"id"`
	Kind         string     `json:"kind" db:"kind"`
	CodeHash     string     `json:"code_hash" db:"code_hash"`
	Success      bool       `json:"success" db:"success"`
	Output       string     `json:"output" db:"output"`
	Error        string     `json:"error,omitempty" db:"error"`
	RowsAffected int64      `json:"rows_affected" db:"rows_affected"`
	DurationMS   int64      `json:"duration_ms" db:"duration_ms"`
	Status       string     `json:"status" db:"status"` // success, error, timeout, unavailable
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// ExecutionFilter provides criteria for querying executions.
type ExecutionFilter struct {
	Kind   string
	Status string
	Limit  int
	Offset int
}

// AttemptData is the client-reported snapshot of an attempt.
type AttemptData struct {
	Code      string `json:"code"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// Attempt is one submission of an exercise by a user.
type Attempt struct {
	ID         string      `json:"id" db:"id"`
	UserID     string      `json:"user_id" db:"user_id"`
	ExerciseID string      `json:"exercise_id" db:"exercise_id"`
	Passed     bool        `json:"passed" db:"passed"`
	Score      int         `json:"score" db:"score"`
	Data       AttemptData `json:"attempt_data" db:"attempt_data"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// AttemptFilter provides criteria for querying attempts.
type AttemptFilter struct {
	UserID     string
	ExerciseID string
	Limit      int
	Offset     int
}

// AttemptOutcome is the user's progress after an attempt was recorded.
type AttemptOutcome struct {
	XPAwarded int `json:"xp_awarded"`
	TotalXP   int `json:"total_xp"`
	Level     int `json:"level"`
}

// HintOutcome is the user's XP after revealing a hint. A hint is paid for
// once; AlreadyUsed reports a repeat reveal, which costs nothing.
type HintOutcome struct {
	AlreadyUsed bool `json:"already_used"`
	XPCost      int  `json:"xp_cost"`
	RemainingXP int  `json:"remaining_xp"`
}

// XPPerLevel is the experience needed to gain one level.
const XPPerLevel = 100

// LevelForXP returns the level reached with xp experience points.
func LevelForXP(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return xp/XPPerLevel + 1
}
