// Package backend talks to the VeganAgain REST API. It returns raw response
// envelopes; shaping them into the restaurant model happens in package restaurants.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"veganagain/internal/config"
)

const (
	// DefaultBaseURL matches the backend's local development address.
	DefaultBaseURL = "http://localhost:5000/api"

	userAgent    = "veganagain-web/1"
	maxBodyBytes = 8 << 20
)

// Envelope is the common response wrapper: {success, count, data, error, message}.
// Login responses carry the user at the top level instead of under data.
type Envelope struct {
	Success *bool           `json:"success,omitempty"`
	Count   int             `json:"count,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	User    json.RawMessage `json:"user,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	// image upload responses.
	ImageURL string `json:"imageUrl,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Client calls the backend. Reads may be retried when configured; writes never are.
type Client struct {
	baseURL string
	reads   *retryablehttp.Client
	writes  *retryablehttp.Client
	tracer  trace.Tracer
}

// NewClient creates a backend client.
func NewClient(cfg config.BackendConfig) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		reads:   newRetryClient(cfg.HTTPClient, timeout, cfg.RetryMax),
		writes:  newRetryClient(cfg.HTTPClient, timeout, 0),
		tracer:  otel.Tracer("veganagain/internal/backend"),
	}, nil
}

func newRetryClient(httpClient *http.Client, timeout time.Duration, retryMax int) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	if httpClient != nil {
		rc.HTTPClient = httpClient
	} else {
		rc.HTTPClient.Timeout = timeout
	}
	rc.RetryMax = max(retryMax, 0)
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	// hand the final response back so status codes can be classified.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = slog.Default()
	return rc
}

// Credentials hold the backend session cookies for one browser session. The
// backend may rotate them on any response, so updates are captured in place.
type Credentials struct {
	mu      sync.Mutex
	cookies map[string]string
	changed bool
}

func NewCredentials(cookies map[string]string) *Credentials {
	c := &Credentials{cookies: make(map[string]string, len(cookies))}
	for k, v := range cookies {
		c.cookies[k] = v
	}
	return c
}

// Snapshot returns a copy suitable for persisting in the session.
func (c *Credentials) Snapshot() map[string]string {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.cookies))
	for k, v := range c.cookies {
		out[k] = v
	}
	return out
}

// Changed reports whether the backend rotated a cookie since creation.
func (c *Credentials) Changed() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

func (c *Credentials) Empty() bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cookies) == 0
}

func (c *Credentials) apply(req *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

func (c *Credentials) capture(cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cookies == nil {
		c.cookies = map[string]string{}
	}
	for _, ck := range cookies {
		if ck.MaxAge < 0 || ck.Value == "" {
			if _, ok := c.cookies[ck.Name]; ok {
				delete(c.cookies, ck.Name)
				c.changed = true
			}
			continue
		}
		if c.cookies[ck.Name] != ck.Value {
			c.cookies[ck.Name] = ck.Value
			c.changed = true
		}
	}
}

type credentialsKey struct{}

// WithCredentials scopes backend calls made with ctx to one browser session.
func WithCredentials(ctx context.Context, creds *Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, creds)
}

func CredentialsFrom(ctx context.Context) *Credentials {
	creds, _ := ctx.Value(credentialsKey{}).(*Credentials)
	return creds
}

type request struct {
	operation string
	method    string
	path      string
	query     url.Values
	body      any
}

func (c *Client) do(ctx context.Context, r request) (*Envelope, error) {
	ctx, span := c.tracer.Start(ctx, "backend."+r.operation, trace.WithAttributes(
		attribute.String("http.method", r.method),
		attribute.String("backend.path", r.path),
	))
	defer span.End()

	env, status, err := c.roundTrip(ctx, r)
	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return env, err
}

func (c *Client) roundTrip(ctx context.Context, r request) (*Envelope, int, error) {
	endpoint := c.baseURL + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, 0, fmt.Errorf("encode %s request: %w", r.operation, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return nil, 0, fmt.Errorf("build %s request: %w", r.operation, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	creds := CredentialsFrom(ctx)
	if creds != nil {
		creds.apply(req.Request)
	}

	client := c.writes
	if r.method == http.MethodGet {
		client = c.reads
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, &NetworkError{Operation: r.operation, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if creds != nil {
		creds.capture(resp.Cookies())
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, &NetworkError{Operation: r.operation, Err: fmt.Errorf("read response: %w", err)}
	}

	var env Envelope
	var decodeErr error
	if len(bytes.TrimSpace(raw)) > 0 {
		decodeErr = json.Unmarshal(raw, &env)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		se := &StatusError{Operation: r.operation, StatusCode: resp.StatusCode}
		if decodeErr == nil {
			se.Message = firstNonEmpty(env.Error, env.Message)
		} else {
			se.Body = truncate(strings.TrimSpace(string(raw)), 256)
		}
		return nil, resp.StatusCode, se
	}
	if decodeErr != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode %s response: %w", r.operation, decodeErr)
	}
	if env.Success != nil && !*env.Success {
		return nil, resp.StatusCode, &StatusError{
			Operation:  r.operation,
			StatusCode: resp.StatusCode,
			Message:    firstNonEmpty(env.Error, env.Message),
		}
	}
	return &env, resp.StatusCode, nil
}

// Ready probes the backend root.
func (c *Client) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?keyword=", nil)
	if err != nil {
		return err
	}
	resp, err := c.writes.Do(req)
	if err != nil {
		return &NetworkError{Operation: "ready", Err: err}
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return &StatusError{Operation: "ready", StatusCode: resp.StatusCode}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var errMissingData = errors.New("response carried no data")
