package api

import (
	"exercise-runner/internal/grading"
)

// RunRequest asks for one execution of user code.
type RunRequest struct {
	Language string `json:"language"` // python, sql
	Code     string `json:"code"`
}

// TestsRequest runs code against a set of checks. When ExerciseID is set the
// checks, language and schema come from the catalog instead.
type TestsRequest struct {
	Language   string             `json:"language"`
	Code       string             `json:"code"`
	Tests      []grading.TestCase `json:"tests,omitempty"`
	ExerciseID string             `json:"exercise_id,omitempty"`
}

// DatabaseRequest replaces the SQL database with a fresh one built from Schema.
type DatabaseRequest struct {
	Schema string `json:"schema"`
}

// SubmitResponse reports the recorded attempt and the user's progress.
type SubmitResponse struct {
	Success   bool `json:"success"`
	Passed    bool `json:"passed"`
	Score     int  `json:"score"`
	XPAwarded int  `json:"xp_awarded"`
	TotalXP   int  `json:"total_xp"`
	Level     int  `json:"level"`
}

// HintResponse answers a hint reveal. A repeat reveal only sets
// AlreadyUsed.
type HintResponse struct {
	Success     bool   `json:"success"`
	Content     string `json:"content"`
	AlreadyUsed bool   `json:"already_used,omitempty"`
	XPCost      *int   `json:"xp_cost,omitempty"`
	RemainingXP *int   `json:"remaining_xp,omitempty"`
}

// FailureResponse is the error shape of the submission endpoint.
type FailureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// CSRFResponse carries the token also set in the CSRF cookie.
type CSRFResponse struct {
	CSRFToken string `json:"csrf_token"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Database  bool   `json:"database"`
	Exercises int    `json:"exercises"`
	Uptime    string `json:"uptime"`
}
