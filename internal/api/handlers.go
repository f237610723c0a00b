package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"exercise-runner/internal/editor"
	"exercise-runner/internal/execution"
	"exercise-runner/internal/exercise"
	"exercise-runner/internal/grading"
	"exercise-runner/internal/monitor"
	"exercise-runner/internal/runtime"
	"exercise-runner/internal/storage"
	"exercise-runner/internal/submission"
)

// ExecutionReader serves the audit log of past executions.
type ExecutionReader interface {
	GetExecution(ctx context.Context, id string) (*storage.Execution, error)
	ListExecutions(ctx context.Context, filter storage.ExecutionFilter) ([]storage.Execution, error)
}

// Dependencies wires the handlers to the rest of the service. Executions may
// be nil when no audit store is configured.
type Dependencies struct {
	Executor   *execution.Executor
	Grader     *grading.Grader
	Editors    *editor.Manager
	Catalog    *exercise.Catalog
	Attempts   storage.AttemptStore
	Executions ExecutionReader
	Metrics    *monitor.Metrics
}

// RequestSettings names the cookies and headers the handlers read.
type RequestSettings struct {
	CSRFCookie string
	CSRFHeader string
	UserHeader string
}

type Handlers struct {
	exec       *execution.Executor
	grader     *grading.Grader
	editors    *editor.Manager
	catalog    *exercise.Catalog
	attempts   storage.AttemptStore
	executions ExecutionReader
	metrics    *monitor.Metrics
	settings   RequestSettings
}

func NewHandlers(deps Dependencies, settings RequestSettings) *Handlers {
	if deps.Catalog == nil {
		deps.Catalog, _ = exercise.NewCatalog(nil)
	}
	if settings.CSRFCookie == "" {
		settings.CSRFCookie = submission.DefaultCSRFCookie
	}
	if settings.CSRFHeader == "" {
		settings.CSRFHeader = submission.DefaultCSRFHeader
	}
	return &Handlers{
		exec:       deps.Executor,
		grader:     deps.Grader,
		editors:    deps.Editors,
		catalog:    deps.Catalog,
		attempts:   deps.Attempts,
		executions: deps.Executions,
		metrics:    deps.Metrics,
		settings:   settings,
	}
}

func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	kind, ok := parseLanguage(w, r, req.Language)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, h.exec.Run(r.Context(), kind, req.Code))
}

func (h *Handlers) HandleTests(w http.ResponseWriter, r *http.Request) {
	var req TestsRequest
	// Expected values keep integer precision.
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	tests := req.Tests
	language := req.Language
	if req.ExerciseID != "" {
		ex, err := h.catalog.Get(req.ExerciseID)
		if err != nil || !ex.Published {
			writeError(w, "exercise not found", "NOT_FOUND", http.StatusNotFound, r)
			return
		}
		kind, ok := ex.Kind()
		if !ok {
			writeError(w, "exercise "+ex.ID+" has no code runner", "UNSUPPORTED_LANGUAGE", http.StatusBadRequest, r)
			return
		}
		language, tests = string(kind), ex.Tests
		if kind == runtime.KindSQL && ex.Schema != "" {
			if res := h.exec.InitDatabase(r.Context(), ex.Schema); !res.Success {
				writeJSON(w, http.StatusOK, grading.Report{Error: res.ErrorText()})
				return
			}
		}
	}

	kind, ok := parseLanguage(w, r, language)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, h.grader.Run(r.Context(), kind, req.Code, tests))
}

func (h *Handlers) HandleInitDatabase(w http.ResponseWriter, r *http.Request) {
	var req DatabaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	writeJSON(w, http.StatusOK, h.exec.InitDatabase(r.Context(), req.Schema))
}

func (h *Handlers) HandleEditorConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.editors.Config(r.PathValue("language")))
}

func (h *Handlers) HandleListExercises(w http.ResponseWriter, r *http.Request) {
	published := h.catalog.Published()
	out := make([]exercise.Exercise, 0, len(published))
	for _, ex := range published {
		out = append(out, ex.Public())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) HandleGetExercise(w http.ResponseWriter, r *http.Request) {
	ex, err := h.catalog.Get(r.PathValue("id"))
	if err != nil || !ex.Published {
		writeError(w, "exercise not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	writeJSON(w, http.StatusOK, ex.Public())
}

// HandleCSRF issues the token the submission client echoes back in its
// CSRF header. An existing cookie is reused.
func (h *Handlers) HandleCSRF(w http.ResponseWriter, r *http.Request) {
	token := ""
	if c, err := r.Cookie(h.settings.CSRFCookie); err == nil && c.Value != "" {
		token = c.Value
	} else {
		token = uuid.New().String()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.settings.CSRFCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	writeJSON(w, http.StatusOK, CSRFResponse{CSRFToken: token})
}

func (h *Handlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if !h.csrfValid(r) {
		h.metrics.RecordSubmission("rejected", 0)
		writeJSON(w, http.StatusForbidden, FailureResponse{Error: "CSRF verification failed"})
		return
	}
	userID := r.Header.Get(h.settings.UserHeader)
	if userID == "" {
		h.metrics.RecordSubmission("rejected", 0)
		writeJSON(w, http.StatusUnauthorized, FailureResponse{Error: "authentication required"})
		return
	}

	ex, err := h.catalog.Get(r.PathValue("id"))
	if err != nil {
		h.submitFailed(w, "exercise not found")
		return
	}

	var payload submission.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.submitFailed(w, "invalid JSON: "+err.Error())
		return
	}
	if payload.Score < 0 || payload.Score > 100 {
		h.submitFailed(w, "score must be between 0 and 100")
		return
	}

	attempt := &storage.Attempt{
		ID:         uuid.New().String(),
		UserID:     userID,
		ExerciseID: ex.ID,
		Passed:     payload.Passed,
		Score:      payload.Score,
		Data: storage.AttemptData{
			Code:      payload.AttemptData.Code,
			Type:      payload.AttemptData.Type,
			Timestamp: payload.AttemptData.Timestamp,
		},
		CreatedAt: time.Now().UTC(),
	}

	outcome, err := h.attempts.RecordAttempt(r.Context(), attempt, ex.XPReward)
	if err != nil {
		log.Error().Err(err).
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("exercise_id", ex.ID).
			Msg("recording attempt failed")
		h.metrics.RecordError("storage")
		h.submitFailed(w, err.Error())
		return
	}

	status := "failed"
	if attempt.Passed {
		status = "passed"
	}
	h.metrics.RecordSubmission(status, outcome.XPAwarded)

	log.Info().
		Str("request_id", RequestIDFromContext(r.Context())).
		Str("exercise_id", ex.ID).
		Str("user_id", userID).
		Bool("passed", attempt.Passed).
		Int("xp_awarded", outcome.XPAwarded).
		Msg("attempt recorded")

	writeJSON(w, http.StatusOK, SubmitResponse{
		Success:   true,
		Passed:    attempt.Passed,
		Score:     attempt.Score,
		XPAwarded: outcome.XPAwarded,
		TotalXP:   outcome.TotalXP,
		Level:     outcome.Level,
	})
}

// HandleUseHint reveals a hint and charges its XP cost on first use.
func (h *Handlers) HandleUseHint(w http.ResponseWriter, r *http.Request) {
	if !h.csrfValid(r) {
		writeJSON(w, http.StatusForbidden, FailureResponse{Error: "CSRF verification failed"})
		return
	}
	userID := r.Header.Get(h.settings.UserHeader)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, FailureResponse{Error: "authentication required"})
		return
	}

	hint, ex, err := h.catalog.Hint(r.PathValue("id"))
	if err != nil || !ex.Published {
		writeJSON(w, http.StatusNotFound, FailureResponse{Error: "hint not found"})
		return
	}

	outcome, err := h.attempts.UseHint(r.Context(), userID, hint.ID, hint.XPCost)
	if err != nil {
		log.Error().Err(err).
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("hint_id", hint.ID).
			Msg("recording hint usage failed")
		h.metrics.RecordError("storage")
		writeJSON(w, http.StatusBadRequest, FailureResponse{Error: err.Error()})
		return
	}
	h.metrics.RecordHint(outcome.AlreadyUsed, outcome.XPCost)

	resp := HintResponse{Success: true, Content: hint.Content}
	if outcome.AlreadyUsed {
		resp.AlreadyUsed = true
	} else {
		resp.XPCost, resp.RemainingXP = &outcome.XPCost, &outcome.RemainingXP
		log.Info().
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("exercise_id", ex.ID).
			Str("hint_id", hint.ID).
			Str("user_id", userID).
			Int("xp_cost", outcome.XPCost).
			Msg("hint used")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleListAttempts(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(h.settings.UserHeader)
	if userID == "" {
		writeError(w, "authentication required", "AUTH_REQUIRED", http.StatusUnauthorized, r)
		return
	}

	filter := storage.AttemptFilter{
		UserID:     userID,
		ExerciseID: r.URL.Query().Get("exercise"),
		Limit:      queryInt(r, "limit", 100),
		Offset:     queryInt(r, "offset", 0),
	}
	attempts, err := h.attempts.ListAttempts(r.Context(), filter)
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	if h.executions == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	exec, err := h.executions.GetExecution(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, "execution not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, exec)
}

func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.executions == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	filter := storage.ExecutionFilter{
		Kind:   r.URL.Query().Get("kind"),
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}

	execs, err := h.executions.ListExecutions(r.Context(), filter)
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, execs)
}

// csrfValid checks that the CSRF header repeats the CSRF cookie.
func (h *Handlers) csrfValid(r *http.Request) bool {
	c, err := r.Cookie(h.settings.CSRFCookie)
	if err != nil || c.Value == "" {
		return false
	}
	header := r.Header.Get(h.settings.CSRFHeader)
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(header)) == 1
}

func (h *Handlers) submitFailed(w http.ResponseWriter, msg string) {
	h.metrics.RecordSubmission("error", 0)
	writeJSON(w, http.StatusBadRequest, FailureResponse{Error: msg})
}

func parseLanguage(w http.ResponseWriter, r *http.Request, language string) (runtime.Kind, bool) {
	if language == "" {
		writeError(w, "language is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return "", false
	}
	kind, err := runtime.ParseKind(language)
	if err != nil {
		writeError(w, err.Error(), "UNSUPPORTED_LANGUAGE", http.StatusBadRequest, r)
		return "", false
	}
	return kind, true
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
