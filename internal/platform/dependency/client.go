// Package dependency wraps outbound HTTP calls to the services the order
// flow depends on. Every call goes through the dependency's circuit breaker
// and carries its own deadline.
package dependency

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"orderflow/internal/platform/breaker"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	DefaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
)

// Request is a single outbound call. Body, when set, is sent as JSON.
type Request struct {
	Method  string
	Path    string
	Header  http.Header
	Body    any
	Timeout time.Duration
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithStaticHeader adds a header to every request, e.g. a service API key.
func WithStaticHeader(key, value string) Option {
	return func(c *Client) {
		c.staticHeaders.Set(key, value)
	}
}

// WithFailureStatus decides which response statuses count as breaker
// failures. The default counts 5xx only.
func WithFailureStatus(fn func(status int) bool) Option {
	return func(c *Client) {
		c.isFailureStatus = fn
	}
}

// NonSuccess treats every answer outside 2xx as a failure. Use it for
// dependencies whose callers turn any non-2xx into an error.
func NonSuccess(status int) bool {
	return status < 200 || status > 299
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client calls one named dependency.
type Client struct {
	name            string
	baseURL         string
	breaker         *breaker.Breaker
	httpClient      *http.Client
	timeout         time.Duration
	staticHeaders   http.Header
	isFailureStatus func(int) bool
	logger          *zap.Logger
}

func New(name, baseURL string, b *breaker.Breaker, opts ...Option) *Client {
	c := &Client{
		name:    name,
		baseURL: baseURL,
		breaker: b,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		timeout:         DefaultTimeout,
		staticHeaders:   make(http.Header),
		isFailureStatus: func(status int) bool { return status >= http.StatusInternalServerError },
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// Do performs req through the circuit breaker. A non-2xx answer is returned
// together with a KindStatus error so callers can still inspect the body.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var payload []byte
	if req.Body != nil {
		var err error
		if payload, err = json.Marshal(req.Body); err != nil {
			return nil, fmt.Errorf("failed to marshal %s request body: %w", c.name, err)
		}
	}

	done, err := c.breaker.Allow()
	if err != nil {
		c.logger.Warn("Circuit breaker is open, rejecting call",
			zap.String("dependency", c.name),
			zap.String("path", req.Path),
		)
		return nil, &Error{Dependency: c.name, Method: req.Method, Path: req.Path, Kind: KindBreakerOpen, Err: err}
	}

	resp, err := c.send(ctx, req, payload)
	if err != nil {
		done(false)
		c.logger.Error("Dependency call failed",
			zap.String("dependency", c.name),
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Error(err),
		)
		return nil, &Error{Dependency: c.name, Method: req.Method, Path: req.Path, Kind: KindTransport, Err: err}
	}

	done(!c.isFailureStatus(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, &Error{
			Dependency: c.name,
			Method:     req.Method,
			Path:       req.Path,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
		}
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, req Request, payload []byte) (*Response, error) {
	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range c.staticHeaders {
		httpReq.Header[k] = vs
	}
	for k, vs := range req.Header {
		httpReq.Header[k] = vs
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
