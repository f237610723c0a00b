package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"exercise-runner/internal/editor"
	"exercise-runner/internal/execution"
	"exercise-runner/internal/exercise"
	"exercise-runner/internal/grading"
	"exercise-runner/internal/monitor"
	"exercise-runner/internal/runtime"
	"exercise-runner/internal/storage"
)

const testCatalog = `
exercises:
  - id: villes
    title: Grandes villes
    type: SQL
    schema: |
      CREATE TABLE villes (nom TEXT, habitants INTEGER);
      INSERT INTO villes VALUES ('Paris', 2100000), ('Lyon', 520000), ('Lille', 235000);
    tests:
      - name: grandes villes
        expected_query: SELECT nom FROM villes WHERE habitants > 300000 ORDER BY nom
    hints:
      - id: villes-where
        content: Filtrer avec WHERE habitants > 300000.
        order: 1
        xp_cost: 15
      - id: villes-order
        content: Trier avec ORDER BY nom.
        order: 2
        xp_cost: 10
    xp_reward: 20
    published: true
  - id: quiz
    title: Quiz
    type: MCQ
    published: true
  - id: brouillon
    title: Brouillon
    type: SQL
    published: false
    tests:
      - name: secret
        expected_query: SELECT 'reponse' AS r
    hints:
      - id: brouillon-1
        content: indice cache
`

func newTestDeps(t *testing.T) Dependencies {
	t.Helper()
	session := runtime.NewSession(runtime.PythonConfig{StartTimeout: 20 * time.Second}, runtime.SQLConfig{})
	t.Cleanup(func() { session.Close() })

	catalog, err := exercise.ParseCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatal(err)
	}
	metrics := monitor.NewMetrics()
	executor := execution.NewExecutor(session, execution.WithMetrics(metrics))
	store := storage.NewMemoryStore()
	return Dependencies{
		Executor:   executor,
		Grader:     grading.NewGrader(executor, metrics),
		Editors:    editor.NewManager(editor.NewBuffer),
		Catalog:    catalog,
		Attempts:   store,
		Executions: store,
		Metrics:    metrics,
	}
}

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	return NewHandlers(newTestDeps(t), RequestSettings{UserHeader: "X-User-ID"})
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestHandleRun_SQL(t *testing.T) {
	h := newTestHandlers(t)

	rec := postJSON(t, h.HandleInitDatabase, DatabaseRequest{Schema: "CREATE TABLE t (x INTEGER); INSERT INTO t VALUES (1), (2);"})
	if rec.Code != http.StatusOK {
		t.Fatalf("init status = %d", rec.Code)
	}
	if res := decode[map[string]any](t, rec); res["success"] != true || res["message"] != "Database initialized" {
		t.Fatalf("init response = %v", res)
	}

	rec = postJSON(t, h.HandleRun, RunRequest{Language: "sql", Code: "SELECT x FROM t ORDER BY x"})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var res struct {
		Success bool `json:"success"`
		Result  []struct {
			Columns []string `json:"columns"`
			Values  [][]any  `json:"values"`
		} `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.Success || len(res.Result) != 1 || len(res.Result[0].Values) != 2 {
		t.Errorf("response = %+v", res)
	}
}

func TestHandleRun_ExecutionErrorIsResult(t *testing.T) {
	h := newTestHandlers(t)

	rec := postJSON(t, h.HandleRun, RunRequest{Language: "SQL", Code: "SELECT * FROM absente"})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	res := decode[map[string]any](t, rec)
	if res["success"] != false || !strings.Contains(res["error"].(string), "absente") {
		t.Errorf("response = %v", res)
	}
}

func TestHandleRun_ValidationErrors(t *testing.T) {
	h := newTestHandlers(t)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"empty body", map[string]string{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown language", RunRequest{Language: "ruby", Code: "puts 1"}, http.StatusBadRequest, "UNSUPPORTED_LANGUAGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h.HandleRun, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", rec.Code, tt.wantStatus)
			}
			if resp := decode[ErrorResponse](t, rec); resp.Code != tt.wantCode {
				t.Errorf("got code %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.HandleRun(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: got status %d, want 400", rec.Code)
	}
}

func TestHandleTests_ExerciseFromCatalog(t *testing.T) {
	h := newTestHandlers(t)

	rec := postJSON(t, h.HandleTests, TestsRequest{
		ExerciseID: "villes",
		Code:       "SELECT nom FROM villes WHERE habitants > 300000 ORDER BY nom",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	res := decode[map[string]any](t, rec)
	if res["success"] != true || res["allPassed"] != true {
		t.Errorf("response = %v", res)
	}

	rec = postJSON(t, h.HandleTests, TestsRequest{ExerciseID: "quiz", Code: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("MCQ exercise: got status %d, want 400", rec.Code)
	}
	rec = postJSON(t, h.HandleTests, TestsRequest{ExerciseID: "inconnu", Code: "x"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown exercise: got status %d, want 404", rec.Code)
	}
}

func TestHandleTests_UnpublishedExerciseNotFound(t *testing.T) {
	h := newTestHandlers(t)

	rec := postJSON(t, h.HandleTests, TestsRequest{ExerciseID: "brouillon", Code: "SELECT 1"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "reponse") {
		t.Errorf("response leaks the expected answer: %s", rec.Body.String())
	}
}

func TestHandleTests_LargeIntegersCompareExactly(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	h := newTestHandlers(t)

	tests := []struct {
		expected string
		want     bool
	}{
		{"18446744073709551617", true},
		{"18446744073709551615", false},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			body := `{"language":"python","code":"x = 2**64 + 1","tests":[{"name":"grand","code":"x","expected":` + tt.expected + `}]}`
			rec := httptest.NewRecorder()
			h.HandleTests(rec, httptest.NewRequest(http.MethodPost, "/tests", strings.NewReader(body)))

			res := decode[map[string]any](t, rec)
			if res["success"] != true || res["allPassed"] != tt.want {
				t.Errorf("response = %v, want allPassed %v", res, tt.want)
			}
		})
	}
}

func TestHandleRun_EmptyCodeSucceeds(t *testing.T) {
	h := newTestHandlers(t)

	rec := postJSON(t, h.HandleRun, RunRequest{Language: "sql", Code: ""})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	res := decode[map[string]any](t, rec)
	if res["success"] != true {
		t.Errorf("response = %v, want success", res)
	}

	rec = postJSON(t, h.HandleTests, TestsRequest{Language: "sql", Code: ""})
	if rec.Code != http.StatusOK {
		t.Fatalf("tests: got status %d, want 200", rec.Code)
	}
	if res := decode[map[string]any](t, rec); res["success"] != true || res["allPassed"] != true {
		t.Errorf("tests response = %v", res)
	}
}

func TestHandleTests_InlineChecks(t *testing.T) {
	h := newTestHandlers(t)

	rec := postJSON(t, h.HandleTests, TestsRequest{
		Language: "sql",
		Code:     "SELECT 1 AS un",
		Tests: []grading.TestCase{
			{Name: "un", ExpectedQuery: "SELECT 1 AS un"},
			{Name: "deux", ExpectedQuery: "SELECT 2 AS un"},
		},
	})
	res := decode[map[string]any](t, rec)
	if res["success"] != true || res["allPassed"] != false {
		t.Fatalf("response = %v", res)
	}
	results := res["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("results = %v", results)
	}
}

func TestHandleListExercises_HidesDetails(t *testing.T) {
	h := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.HandleListExercises(rec, httptest.NewRequest(http.MethodGet, "/exercises", nil))

	list := decode[[]exercise.Exercise](t, rec)
	if len(list) != 2 {
		t.Fatalf("got %d exercises, want the 2 published ones", len(list))
	}
	for _, ex := range list {
		for _, tc := range ex.Tests {
			if tc.ExpectedQuery != "" || tc.Expected != nil || tc.Code != "" {
				t.Errorf("exercise %s leaks test details: %+v", ex.ID, tc)
			}
		}
		for _, hint := range ex.Hints {
			if hint.Content != "" {
				t.Errorf("exercise %s leaks hint %s content", ex.ID, hint.ID)
			}
		}
	}
}

func TestHandleEditorConfig(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/editor/sql", nil)
	req.SetPathValue("language", "sql")
	rec := httptest.NewRecorder()
	h.HandleEditorConfig(rec, req)

	bundle := decode[editor.Bundle](t, rec)
	if bundle.Options.Language != "sql" || bundle.Options.Theme != editor.DefaultTheme {
		t.Errorf("options = %+v", bundle.Options)
	}
	if len(bundle.Keybindings) != 2 || len(bundle.Completions) == 0 {
		t.Errorf("bundle = %+v", bundle)
	}
}

func TestHandleGetExecution_NoStore(t *testing.T) {
	deps := newTestDeps(t)
	deps.Executions = nil
	h := NewHandlers(deps, RequestSettings{UserHeader: "X-User-ID"})

	req := httptest.NewRequest(http.MethodGet, "/executions/x", nil)
	req.SetPathValue("id", "x")
	rec := httptest.NewRecorder()
	h.HandleGetExecution(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got status %d, want 503", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Code != "DB_UNAVAILABLE" {
		t.Errorf("got code %q, want DB_UNAVAILABLE", resp.Code)
	}
}
