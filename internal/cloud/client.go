// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud is the request orchestrator for the regis backend.
//
// Every operation composes cancellation with the request timeout, wraps the
// POST in bounded retries, recovers once from an expired session, and
// normalizes failures into the Kind taxonomy.
package cloud

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/abort"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/auth"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/model"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/retry"
)

// Configuration constants for the backend API.
const (
	// DefaultBaseURL is where the edge backend listens by default.
	DefaultBaseURL = "http://127.0.0.1:8787/api"

	// DefaultTimeout is the internal budget for one prompt.
	DefaultTimeout = abort.DefaultTimeout

	// HealthTimeout bounds a single health check.
	HealthTimeout = 10 * time.Second

	// MaxResponseSize is the maximum allowed buffered response body size.
	MaxResponseSize = 10 * 1024 * 1024

	// UnknownModel is reported when the backend never names its model.
	UnknownModel = "unknown"
)

// Operation names used for logging and metrics.
const (
	OpExecute = "execute"
	OpStream  = "stream"
	OpHealth  = "health"
)

// Backend endpoints, relative to the base URL.
const (
	pathExecute = "/execute"
	pathStream  = "/stream"
	pathHealth  = "/health"
	pathRefresh = "/auth/refresh"
	pathLogout  = "/auth/logout"
)

// =============================================================================
// TYPES
// =============================================================================

// Metrics receives request outcomes. *telemetry.Recorder satisfies it.
type Metrics interface {
	ObserveRequest(operation, model string, latency time.Duration, errorType string)
	ObserveRetry(operation string, status int)
}

// Config configures a Client. Zero values fall back to defaults.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Policy     retry.Policy
	UserAgent  string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    Metrics
}

// DefaultConfig returns a configuration pointing at the local backend.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Timeout:   DefaultTimeout,
		Policy:    retry.DefaultPolicy(),
		UserAgent: "regis",
	}
}

// Result is the outcome of a prompt.
type Result struct {
	Text               string         `json:"response"`
	Sources            []model.Source `json:"sources"`
	ModelUsed          string         `json:"model_used"`
	GroundingPerformed bool           `json:"grounding_performed"`
}

// executeRequest is the body of POST /execute.
type executeRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
	Stream bool   `json:"stream"`
}

// streamRequest is the body of POST /stream.
type streamRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// executeResponse is the body returned by POST /execute.
type executeResponse struct {
	Success            bool           `json:"success"`
	Response           string         `json:"response"`
	Sources            []model.Source `json:"sources"`
	ModelUsed          string         `json:"model_used"`
	GroundingPerformed bool           `json:"grounding_performed"`
}

// apiErrorResponse is the optional JSON body of a failed request.
type apiErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client talks to the regis backend. It holds the session cookies and is
// safe for concurrent use.
type Client struct {
	baseURL     string
	timeout     time.Duration
	policy      retry.Policy
	userAgent   string
	httpClient  *http.Client
	interceptor *auth.Interceptor
	logger      *zap.Logger
	metrics     Metrics
}

// =============================================================================
// CONSTRUCTOR
// =============================================================================

// NewClient creates a client from cfg.
func NewClient(cfg Config) (*Client, error) {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = def.Policy
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		clone := *httpClient
		clone.Jar = jar
		httpClient = &clone
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		policy:     cfg.Policy,
		userAgent:  cfg.UserAgent,
		httpClient: httpClient,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	c.interceptor = auth.NewInterceptor(c, cfg.Logger)
	return c, nil
}

// newHTTPClient builds a pooled client. Timeouts come from the request
// context, so the client itself has none.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// BUFFERED EXECUTE
// =============================================================================

// Execute sends a prompt and waits for the complete answer.
func (c *Client) Execute(ctx context.Context, prompt, modelName string) (result *Result, err error) {
	start := time.Now()
	defer func() { c.observe(OpExecute, modelName, result, start, err) }()

	scope := abort.Compose(ctx, c.timeout)
	defer scope.Cleanup()

	resp, err := c.post(scope.Context(), OpExecute, pathExecute, executeRequest{
		Prompt: prompt,
		Model:  modelName,
		Stream: true,
	})
	if err != nil {
		return nil, normalize(scope, err)
	}
	defer resp.Body.Close()

	if !isOK(resp.StatusCode) {
		return nil, c.errorFromResponse(resp)
	}

	body, err := readResponse(resp)
	if err != nil {
		return nil, normalize(scope, err)
	}

	var decoded executeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &Error{Kind: KindUnknown, Status: resp.StatusCode, Message: "malformed response body", Cause: err}
	}

	result = &Result{
		Text:               decoded.Response,
		Sources:            decoded.Sources,
		ModelUsed:          decoded.ModelUsed,
		GroundingPerformed: decoded.GroundingPerformed,
	}
	if result.ModelUsed == "" {
		result.ModelUsed = UnknownModel
	}
	if result.Sources == nil {
		result.Sources = []model.Source{}
	}
	return result, nil
}

// =============================================================================
// HEALTH & SESSION
// =============================================================================

// CheckHealth reports whether the backend answers its health check with 2xx.
func (c *Client) CheckHealth(ctx context.Context) bool {
	scope := abort.Compose(ctx, HealthTimeout)
	defer scope.Cleanup()

	req, err := c.newRequest(scope.Context(), http.MethodGet, pathHealth, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("health check failed", zap.Error(err))
		return false
	}
	drainAndClose(resp)
	return isOK(resp.StatusCode)
}

// Refresh renews the session cookie. It implements auth.Session.
func (c *Client) Refresh(ctx context.Context) error {
	return c.sessionCall(ctx, pathRefresh)
}

// Logout ends the session. It implements auth.Session.
func (c *Client) Logout(ctx context.Context) error {
	return c.sessionCall(ctx, pathLogout)
}

func (c *Client) sessionCall(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	drainAndClose(resp)
	if !isOK(resp.StatusCode) {
		return fmt.Errorf("%s returned HTTP %d", path, resp.StatusCode)
	}
	return nil
}

// =============================================================================
// PIPELINE
// =============================================================================

// post sends a JSON body through the retry controller and the auth
// interceptor. Each replay after a refresh gets a fresh retry budget.
func (c *Client) post(ctx context.Context, op, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	policy := c.policy
	policy.Observer = retry.ObserverFunc(func(attempt, status int, err error, delay time.Duration) {
		c.logger.Warn("retrying request",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Duration("delay", delay),
			zap.Error(err))
		if c.metrics != nil {
			c.metrics.ObserveRetry(op, status)
		}
	})

	send := func(ctx context.Context) (*http.Response, error) {
		return retry.Do(ctx, policy, func(ctx context.Context) (*http.Response, error) {
			req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			if op == OpStream {
				req.Header.Set("Accept", "text/event-stream")
				req.Header.Set("Cache-Control", "no-cache")
			}
			return c.httpClient.Do(req)
		})
	}
	return c.interceptor.Do(ctx, send)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// errorFromResponse classifies a non-2xx response, using the server's
// error message when the body carries one.
func (c *Client) errorFromResponse(resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var apiErr apiErrorResponse
	message := ""
	if err := json.Unmarshal(body, &apiErr); err == nil {
		message = apiErr.Error
		if message == "" {
			message = apiErr.Message
		}
	}
	return statusError(resp.StatusCode, message)
}

// observe logs and records the outcome of one operation.
func (c *Client) observe(op, requested string, result *Result, start time.Time, err error) {
	latency := time.Since(start)
	modelName := requested
	if result != nil && result.ModelUsed != "" && result.ModelUsed != UnknownModel {
		modelName = result.ModelUsed
	}

	errorType := ""
	if err != nil {
		kind := KindOf(err)
		errorType = kind.String()
		if kind == KindCancelled {
			c.logger.Debug("request cancelled", zap.String("operation", op))
		} else {
			c.logger.Warn("request failed",
				zap.String("operation", op),
				zap.String("kind", errorType),
				zap.Duration("latency", latency),
				zap.Error(err))
		}
	} else {
		c.logger.Debug("request completed",
			zap.String("operation", op),
			zap.String("model", modelName),
			zap.Duration("latency", latency))
	}

	if c.metrics != nil {
		c.metrics.ObserveRequest(op, modelName, latency, errorType)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func isOK(status int) bool {
	return status >= 200 && status < 300
}

// readResponse reads a buffered body, refusing anything over MaxResponseSize.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, &Error{Kind: KindUnknown, Status: resp.StatusCode, Message: fmt.Sprintf("response exceeded maximum size of %d bytes", MaxResponseSize)}
	}
	return body, nil
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
}

// errNoBody guards against a 2xx streaming response without a body.
var errNoBody = errors.New("no response body")
