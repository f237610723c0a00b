// Package submission posts exercise outcomes to the portal.
package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// TimestampFormat is ISO-8601 UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

const (
	DefaultCSRFCookie = "csrftoken"
	DefaultCSRFHeader = "X-CSRFToken"
)

// AttemptData describes what was submitted.
type AttemptData struct {
	Code      string `json:"code"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// Payload is the body of a submission.
type Payload struct {
	Passed      bool        `json:"passed"`
	Score       int         `json:"score"`
	AttemptData AttemptData `json:"attempt_data"`
}

// Response is the server's JSON reply, returned as-is. On a transport or
// decoding failure it is {"success": false, "error": msg}.
type Response map[string]any

// Success reports the "success" field.
func (r Response) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// Error returns the "error" field, or "".
func (r Response) Error() string {
	msg, _ := r["error"].(string)
	return msg
}

func failure(err error) Response {
	return Response{"success": false, "error": err.Error()}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Its cookie jar, if any,
// is searched for the CSRF cookie.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCookieHeader sets a raw "a=1; b=2" cookie string, sent with every
// request and searched for the CSRF cookie before the jar.
func WithCookieHeader(raw string) Option {
	return func(c *Client) { c.cookies = raw }
}

// WithCSRF overrides the CSRF cookie and header names.
func WithCSRF(cookie, header string) Option {
	return func(c *Client) {
		if cookie != "" {
			c.csrfCookie = cookie
		}
		if header != "" {
			c.csrfHeader = header
		}
	}
}

// WithClock sets the time source for attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client submits attempts to {baseURL}/exercises/{id}/submit/.
type Client struct {
	baseURL    string
	http       *http.Client
	cookies    string
	csrfCookie string
	csrfHeader string
	now        func() time.Time
}

// NewClient creates a client for the portal at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 30 * time.Second},
		csrfCookie: DefaultCSRFCookie,
		csrfHeader: DefaultCSRFHeader,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts one attempt. It never returns an error: failures are
// reported inside the Response. There are no retries.
func (c *Client) Submit(ctx context.Context, exerciseID, exerciseType, code string, passed bool, score int) Response {
	payload := Payload{
		Passed: passed,
		Score:  score,
		AttemptData: AttemptData{
			Code:      code,
			Type:      exerciseType,
			Timestamp: c.now().UTC().Format(TimestampFormat),
		},
	}

	resp, err := c.submit(ctx, exerciseID, payload)
	if err != nil {
		log.Error().Err(err).Str("exercise_id", exerciseID).Msg("error submitting exercise")
		return failure(err)
	}
	return resp
}

func (c *Client) submit(ctx context.Context, exerciseID string, payload Payload) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/exercises/%s/submit/", c.baseURL, url.PathEscape(exerciseID))
	return c.post(ctx, endpoint, body)
}

// UseHint reveals a hint. The first reveal costs the hint's XP; the
// Response carries content, xp_cost and remaining_xp, or already_used on
// a repeat.
func (c *Client) UseHint(ctx context.Context, hintID string) Response {
	endpoint := fmt.Sprintf("%s/hints/%s/use", c.baseURL, url.PathEscape(hintID))
	resp, err := c.post(ctx, endpoint, nil)
	if err != nil {
		log.Error().Err(err).Str("hint_id", hintID).Msg("error using hint")
		return failure(err)
	}
	return resp
}

// post sends body with the cookie and CSRF headers and decodes the JSON
// answer whatever the status.
func (c *Client) post(ctx context.Context, endpoint string, body []byte) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cookies != "" {
		req.Header.Set("Cookie", c.cookies)
	}
	if token, ok := c.CSRFToken(req.URL); ok {
		req.Header.Set(c.csrfHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting to %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	if out == nil {
		return nil, fmt.Errorf("empty response (status %d)", resp.StatusCode)
	}
	return out, nil
}

// FetchCSRF asks the portal for a CSRF cookie so that later submissions
// carry a token. It needs an HTTP client with a cookie jar.
func (c *Client) FetchCSRF(ctx context.Context) error {
	if c.http.Jar == nil {
		return fmt.Errorf("fetching csrf token: http client has no cookie jar")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/csrf", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching csrf token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching csrf token: status %d", resp.StatusCode)
	}
	if _, ok := c.CSRFToken(req.URL); !ok {
		return fmt.Errorf("fetching csrf token: no %s cookie set", c.csrfCookie)
	}
	return nil
}

// CSRFToken returns the CSRF cookie value for u, looking first at the raw
// cookie string and then at the client's jar.
func (c *Client) CSRFToken(u *url.URL) (string, bool) {
	if v, ok := CookieValue(c.cookies, c.csrfCookie); ok {
		return v, true
	}
	if c.http.Jar == nil {
		return "", false
	}
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == c.csrfCookie {
			return decode(ck.Value), true
		}
	}
	return "", false
}

// CookieValue finds name in a raw cookie header. Only an exact "name="
// prefix matches, so "csrftoken2=x" is not csrftoken. The value is
// percent-decoded; an undecodable value is returned raw.
func CookieValue(header, name string) (string, bool) {
	if header == "" || name == "" {
		return "", false
	}
	prefix := name + "="
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, prefix) {
			return decode(part[len(prefix):]), true
		}
	}
	return "", false
}

func decode(v string) string {
	if d, err := url.PathUnescape(v); err == nil {
		return d
	}
	return v
}
