// Package invoker calls backend service operations resolved from indexed
// OpenAPI documents, with a circuit breaker and retry policy per service.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/vendordesk/internal/config"
	"github.com/pitabwire/vendordesk/internal/observability"
	"github.com/pitabwire/vendordesk/internal/openapi"
	"github.com/pitabwire/vendordesk/model"
)

// maxResponseBytes caps how much of a backend response body is read.
const maxResponseBytes = 10 << 20

// Request is a backend call before URL and header construction.
type Request struct {
	PathParams  map[string]string
	QueryParams map[string]string
	Headers     map[string]string
	Body        any
}

// Response is a decoded backend response. Body holds the parsed JSON, or nil.
type Response struct {
	StatusCode int
	Body       any
	Headers    map[string]string
}

// Recorder receives backend call telemetry.
type Recorder interface {
	RecordBackendRequest(serviceID, operationID string, status int, duration time.Duration)
	SetBackendCircuitBreakerState(serviceID string, state float64)
	RecordBackendRetry(serviceID string)
}

type nopRecorder struct{}

func (nopRecorder) RecordBackendRequest(string, string, int, time.Duration) {}
func (nopRecorder) SetBackendCircuitBreakerState(string, float64)           {}
func (nopRecorder) RecordBackendRetry(string)                               {}

// serviceClient holds the HTTP client, circuit breaker, and retry config
// for a single backend service.
type serviceClient struct {
	id      string
	cfg     config.ServiceConfig
	client  *http.Client
	breaker *CircuitBreaker
}

// Client executes indexed OpenAPI operations against backend services.
type Client struct {
	index   *openapi.Index
	clients map[string]*serviceClient
	rec     Recorder
	logger  *zap.Logger
}

// ClientOption configures optional dependencies.
type ClientOption func(*Client)

// WithRecorder sets the telemetry recorder.
func WithRecorder(r Recorder) ClientOption {
	return func(c *Client) {
		if r != nil {
			c.rec = r
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient replaces the transport of every service client, keeping
// each service's timeout. Tests use it to route through httptest servers.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		for _, svc := range c.clients {
			svc.client.Transport = hc.Transport
		}
	}
}

// NewClient creates a Client with per-service HTTP clients, circuit breakers,
// and retry policies.
func NewClient(idx *openapi.Index, services map[string]config.ServiceConfig, opts ...ClientOption) *Client {
	c := &Client{
		index:   idx,
		clients: make(map[string]*serviceClient, len(services)),
		rec:     nopRecorder{},
		logger:  zap.NewNop(),
	}
	for id, svcCfg := range services {
		timeout := svcCfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.clients[id] = &serviceClient{
			id:  id,
			cfg: svcCfg,
			client: &http.Client{
				Timeout: timeout,
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxConnsPerHost:     50,
					IdleConnTimeout:     90 * time.Second,
					TLSHandshakeTimeout: 10 * time.Second,
				},
			},
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	for id, svc := range c.clients {
		svc.breaker = NewCircuitBreaker(svc.cfg.CircuitBreaker, func(s BreakerState) {
			c.rec.SetBackendCircuitBreakerState(id, float64(s))
		})
	}
	return c
}

// Has reports whether both the service and the operation are known.
func (c *Client) Has(serviceID, operationID string) bool {
	if _, ok := c.clients[serviceID]; !ok {
		return false
	}
	_, ok := c.index.Operation(serviceID, operationID)
	return ok
}

// Breaker returns the circuit breaker of a service, or nil.
func (c *Client) Breaker(serviceID string) *CircuitBreaker {
	if svc, ok := c.clients[serviceID]; ok {
		return svc.breaker
	}
	return nil
}

// Invoke looks up the operation in the OpenAPI index, builds an HTTP request,
// and executes it with circuit breaker and retry support.
func (c *Client) Invoke(
	ctx context.Context,
	rctx *model.RequestContext,
	serviceID, operationID string,
	req Request,
) (Response, error) {
	op, ok := c.index.Operation(serviceID, operationID)
	if !ok {
		return Response{}, fmt.Errorf(
			"invoker: operation %s/%s not found in OpenAPI index",
			serviceID, operationID,
		)
	}

	svc, ok := c.clients[serviceID]
	if !ok {
		return Response{}, fmt.Errorf("invoker: service %q not configured", serviceID)
	}

	baseURL := op.BaseURL
	if svc.cfg.BaseURL != "" {
		baseURL = svc.cfg.BaseURL
	}
	reqURL := buildRequestURL(baseURL, op.Path, req)
	headers := buildRequestHeaders(ctx, rctx, svc.cfg.Auth, req, op.Method)

	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = json.Marshal(req.Body)
		if err != nil {
			return Response{}, fmt.Errorf("invoker: marshal body: %w", err)
		}
	}

	ctx, span := observability.StartSpan(ctx, "backend.invoke",
		observability.AttrServiceID.String(serviceID),
	)
	start := time.Now()
	resp, err := c.executeWithRetry(ctx, svc, op.Method, reqURL, headers, bodyBytes)
	c.rec.RecordBackendRequest(serviceID, operationID, resp.StatusCode, time.Since(start))
	observability.EndSpanWithError(span, err)
	return resp, err
}

// executeWithRetry repeats executeOnce while the service's retry policy
// allows it, waiting out the backoff between attempts.
func (c *Client) executeWithRetry(
	ctx context.Context,
	svc *serviceClient,
	method, reqURL string,
	headers http.Header,
	bodyBytes []byte,
) (Response, error) {
	policy := newRetryPolicy(svc.cfg.Retry, method)
	for attempt := 1; ; attempt++ {
		resp, err := c.executeOnce(ctx, svc, method, reqURL, headers, bodyBytes)
		if attempt >= policy.attempts || !policy.retryable(resp.StatusCode, err) {
			return resp, err
		}

		wait := policy.wait(attempt, resp.Headers["Retry-After"], time.Now())
		c.logger.Debug("invoker: retrying",
			zap.String("service_id", svc.id),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.attempts),
			zap.Int("status", resp.StatusCode),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		c.rec.RecordBackendRetry(svc.id)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Response{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// executeOnce performs a single HTTP request with circuit breaker protection.
func (c *Client) executeOnce(
	ctx context.Context,
	svc *serviceClient,
	method, reqURL string,
	headers http.Header,
	bodyBytes []byte,
) (Response, error) {
	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return Response{}, fmt.Errorf("invoker: build request: %w", err)
	}
	req.Header = headers.Clone()

	done, err := svc.breaker.Allow()
	if err != nil {
		return Response{}, model.NewBackendUnavailableError()
	}

	resp, err := svc.client.Do(req)
	if err != nil {
		// A caller that gave up says nothing about the backend.
		if ctx.Err() != nil && !isConnectionError(err) {
			done(OutcomeIgnored)
			return Response{}, model.NewBackendTimeoutError()
		}
		done(OutcomeFailure)
		if isConnectionError(err) {
			return Response{}, model.NewBackendUnavailableError()
		}
		return Response{}, fmt.Errorf("invoker: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		done(OutcomeFailure)
		return Response{}, fmt.Errorf("invoker: read response: %w", err)
	}

	switch {
	case isServerError(resp.StatusCode):
		done(OutcomeFailure)
	case isClientError(resp.StatusCode):
		done(OutcomeIgnored)
	default:
		done(OutcomeSuccess)
	}

	result := Response{
		StatusCode: resp.StatusCode,
		Headers:    extractResponseHeaders(resp),
	}
	if len(respBody) > 0 {
		var parsed any
		if err := json.Unmarshal(respBody, &parsed); err == nil {
			result.Body = parsed
		}
	}

	return result, nil
}

// --- URL and header building ---

func buildRequestURL(baseURL, pathTemplate string, req Request) string {
	path := pathTemplate
	for name, value := range req.PathParams {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
	}

	result := strings.TrimSuffix(baseURL, "/") + path

	if len(req.QueryParams) > 0 {
		params := url.Values{}
		for k, v := range req.QueryParams {
			params.Set(k, v)
		}
		result += "?" + params.Encode()
	}

	return result
}

func buildRequestHeaders(ctx context.Context, rctx *model.RequestContext, auth config.ServiceAuthConfig, req Request, method string) http.Header {
	h := make(http.Header)

	h.Set("Accept", "application/json")
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		h.Set("Content-Type", "application/json")
	}

	if rctx != nil {
		if rctx.Token != "" && auth.Strategy != "none" {
			h.Set("Authorization", "Bearer "+sanitizeHeader(rctx.Token))
		}
		h.Set("X-Tenant-Id", sanitizeHeader(rctx.TenantID))
		h.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		h.Set("X-Request-Subject", sanitizeHeader(rctx.SubjectID))
	}
	observability.InjectTraceHeaders(ctx, h)

	// Custom headers go last so they can override the standard ones.
	for k, v := range req.Headers {
		h.Set(sanitizeHeader(k), sanitizeHeader(v))
	}

	return h
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

func extractResponseHeaders(resp *http.Response) map[string]string {
	headers := make(map[string]string)
	for _, key := range []string{
		"Content-Type", "X-Correlation-Id", "X-Trace-Id",
		"X-Request-Id", "Retry-After",
	} {
		if v := resp.Header.Get(key); v != "" {
			headers[key] = v
		}
	}
	return headers
}

// --- classification helpers ---

func isServerError(code int) bool {
	return code >= 500
}

func isClientError(code int) bool {
	return code >= 400 && code < 500
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
