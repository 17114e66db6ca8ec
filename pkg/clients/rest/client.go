// Package rest is the JSON-over-HTTP client shared by the authorization
// and cloud access clients. Calls are rate limited, traced and counted, and
// non-2xx responses become *StatusError values that match the profile
// package's collaborator sentinels.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/bpmanager/bpmanager/pkg/profile"
	"github.com/bpmanager/bpmanager/pkg/telemetry"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// maxBodySize caps how much of a response is read.
const maxBodySize = 4 << 20

// ErrConflict matches 409 responses.
var ErrConflict = errors.New("conflict")

// Config configures a Client.
type Config struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// RateLimit is the sustained requests per second. Zero disables
	// limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
}

// Client sends JSON requests to one service.
type Client struct {
	service    string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tracer     *telemetry.Tracer
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTelemetry traces and counts calls. Either argument may be nil.
func WithTelemetry(tracer *telemetry.Tracer, metrics *telemetry.Metrics) Option {
	return func(c *Client) {
		c.tracer = tracer
		c.metrics = metrics
	}
}

// New creates a client for service, e.g. "sam".
func New(service string, cfg Config, logger zerolog.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		service:    service,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", service+"-client").Logger(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request describes one call.
type Request struct {
	// Operation names the call in spans and metrics.
	Operation string
	Method    string
	Path      string
	Query     map[string]string
	Token     string
	Body      any
}

// Response is a successful response.
type Response struct {
	StatusCode int
	Body       []byte
}

// JSON parses the body.
func (r *Response) JSON() gjson.Result {
	return gjson.ParseBytes(r.Body)
}

// Do sends req. Non-2xx responses return a *StatusError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	err := telemetry.ObserveCall(ctx, c.tracer, c.metrics, c.service, req.Operation, func(ctx context.Context) error {
		var err error
		resp, err = c.do(ctx, req)
		return err
	})
	return resp, err
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", req.Operation, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", req.Operation, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	if len(req.Query) > 0 {
		q := httpReq.URL.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", c.service, req.Operation, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", req.Operation, err)
	}

	c.logger.Debug().
		Str("operation", req.Operation).
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", httpResp.StatusCode).
		Msg("Request completed")

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &StatusError{
			Service:    c.service,
			Operation:  req.Operation,
			StatusCode: httpResp.StatusCode,
			Message:    errorMessage(data),
		}
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: data}, nil
}

// errorMessage finds the message in the error body shapes the upstream
// services use.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	for _, path := range []string{"message", "error.message", "error_description", "error"} {
		if r := gjson.GetBytes(body, path); r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return ""
}

// StatusError is a non-2xx response.
type StatusError struct {
	Service    string
	Operation  string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Service, e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Service, e.Operation, e.StatusCode, e.Message)
}

// Unwrap maps the status to a sentinel: 401 and 403 to
// profile.ErrAccessDenied, 404 to profile.ErrNotFound, 409 to ErrConflict.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return profile.ErrAccessDenied
	case http.StatusNotFound:
		return profile.ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		return nil
	}
}

// StatusCode returns the HTTP status of err, or 0 if it is not a
// *StatusError.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
