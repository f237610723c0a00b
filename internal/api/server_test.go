package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"exercise-runner/internal/config"
	"exercise-runner/internal/storage"
	"exercise-runner/internal/submission"
)

func newTestServer(t *testing.T) (*httptest.Server, Dependencies) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Security.AllowedKeys = []string{"test-key"}
	cfg.Security.RateLimitRPS = 0

	deps := newTestDeps(t)
	srv := httptest.NewServer(NewServer(cfg, deps).Handler())
	t.Cleanup(srv.Close)
	return srv, deps
}

// userTransport adds the header a fronting auth proxy would set.
type userTransport struct {
	user string
}

func (u userTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("X-User-ID", u.user)
	return http.DefaultTransport.RoundTrip(r)
}

func TestServer_SubmitFlow(t *testing.T) {
	srv, deps := newTestServer(t)
	ctx := context.Background()

	jar, _ := cookiejar.New(nil)
	client := submission.NewClient(srv.URL, submission.WithHTTPClient(&http.Client{
		Jar:       jar,
		Timeout:   5 * time.Second,
		Transport: userTransport{user: "alice"},
	}))
	if err := client.FetchCSRF(ctx); err != nil {
		t.Fatalf("FetchCSRF: %v", err)
	}

	steps := []struct {
		passed    bool
		score     int
		xpAwarded float64
		totalXP   float64
	}{
		{false, 0, 0, 0},
		{true, 100, 20, 20},
		{true, 100, 0, 20},
	}
	for i, step := range steps {
		resp := client.Submit(ctx, "villes", "SQL", "SELECT nom FROM villes", step.passed, step.score)
		if !resp.Success() {
			t.Fatalf("step %d: %v", i, resp)
		}
		if resp["passed"] != step.passed || resp["xp_awarded"] != step.xpAwarded || resp["total_xp"] != step.totalXP {
			t.Errorf("step %d: response = %v", i, resp)
		}
		if resp["level"] != float64(1) {
			t.Errorf("step %d: level = %v, want 1", i, resp["level"])
		}
	}

	attempts, err := deps.Attempts.ListAttempts(ctx, storage.AttemptFilter{UserID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 3 || attempts[0].Data.Type != "SQL" {
		t.Errorf("attempts = %+v", attempts)
	}
}

func TestServer_UseHint(t *testing.T) {
	srv, deps := newTestServer(t)
	ctx := context.Background()

	if _, err := deps.Attempts.RecordAttempt(ctx, &storage.Attempt{UserID: "alice", ExerciseID: "villes", Passed: true}, 20); err != nil {
		t.Fatal(err)
	}

	use := func(hintID, user string, withCSRF bool) (int, map[string]any) {
		t.Helper()
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/hints/"+hintID+"/use", nil)
		if withCSRF {
			req.AddCookie(&http.Cookie{Name: "csrftoken", Value: "jeton"})
			req.Header.Set("X-CSRFToken", "jeton")
		}
		if user != "" {
			req.Header.Set("X-User-ID", user)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	status, out := use("villes-where", "alice", true)
	if status != http.StatusOK || out["success"] != true {
		t.Fatalf("first use: status %d, body %v", status, out)
	}
	if out["content"] != "Filtrer avec WHERE habitants > 300000." || out["xp_cost"] != float64(15) || out["remaining_xp"] != float64(5) {
		t.Errorf("first use = %v", out)
	}

	status, out = use("villes-where", "alice", true)
	if status != http.StatusOK || out["already_used"] != true {
		t.Fatalf("repeat use: status %d, body %v", status, out)
	}
	if _, charged := out["xp_cost"]; charged {
		t.Errorf("repeat use reports a cost: %v", out)
	}

	_, out = use("villes-order", "alice", true)
	if out["remaining_xp"] != float64(0) {
		t.Errorf("second hint = %v, want XP floored at 0", out)
	}

	tests := []struct {
		name       string
		hint       string
		user       string
		csrf       bool
		wantStatus int
	}{
		{"unknown hint", "inconnu", "alice", true, http.StatusNotFound},
		{"unpublished exercise", "brouillon-1", "alice", true, http.StatusNotFound},
		{"missing csrf", "villes-where", "alice", false, http.StatusForbidden},
		{"missing user", "villes-where", "", true, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := use(tt.hint, tt.user, tt.csrf)
			if status != tt.wantStatus || out["success"] != false {
				t.Errorf("status %d body %v, want %d and success false", status, out, tt.wantStatus)
			}
			if strings.Contains(fmt.Sprint(out), "indice cache") {
				t.Errorf("response leaks hint content: %v", out)
			}
		})
	}
}

func TestServer_SubmitRejections(t *testing.T) {
	srv, _ := newTestServer(t)

	post := func(path, cookie, token, user, body string) (int, map[string]any) {
		t.Helper()
		req, _ := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: "csrftoken", Value: cookie})
		}
		if token != "" {
			req.Header.Set("X-CSRFToken", token)
		}
		if user != "" {
			req.Header.Set("X-User-ID", user)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	body := `{"passed": true, "score": 100, "attempt_data": {"code": "x", "type": "SQL", "timestamp": "2025-01-01T00:00:00.000Z"}}`
	tests := []struct {
		name       string
		path       string
		cookie     string
		token      string
		user       string
		body       string
		wantStatus int
	}{
		{"no csrf cookie", "/exercises/villes/submit/", "", "t", "alice", body, http.StatusForbidden},
		{"token mismatch", "/exercises/villes/submit/", "t", "u", "alice", body, http.StatusForbidden},
		{"no user", "/exercises/villes/submit/", "t", "t", "", body, http.StatusUnauthorized},
		{"unknown exercise", "/exercises/inconnu/submit/", "t", "t", "alice", body, http.StatusBadRequest},
		{"bad json", "/exercises/villes/submit/", "t", "t", "alice", "{", http.StatusBadRequest},
		{"score out of range", "/exercises/villes/submit/", "t", "t", "alice", `{"passed": true, "score": 101}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := post(tt.path, tt.cookie, tt.token, tt.user, tt.body)
			if status != tt.wantStatus {
				t.Errorf("got status %d, want %d", status, tt.wantStatus)
			}
			if out["success"] != false || out["error"] == "" {
				t.Errorf("response = %v, want {success:false, error}", out)
			}
		})
	}
}

func TestServer_ExecutionRoutesRequireKey(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"language": "sql", "code": "SELECT 1"}`
	resp, err := http.Post(srv.URL+"/run", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without key: got status %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/run", strings.NewReader(body))
	req.Header.Set("X-API-Key", "test-key")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with key: got status %d, want 200", resp.StatusCode)
	}
}

func TestServer_PublicRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/health", "/metrics", "/exercises", "/exercises/villes", "/editor/python", "/csrf"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: got status %d, want 200", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/exercises/brouillon")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unpublished exercise: got status %d, want 404", resp.StatusCode)
	}
}

func TestServer_CSRFReusesCookie(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/csrf", nil)
	req.AddCookie(&http.Cookie{Name: "csrftoken", Value: "existing"})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out CSRFResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.CSRFToken != "existing" {
		t.Errorf("token = %q, want existing", out.CSRFToken)
	}
}
