package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// maxErrorBody bounds how much of a rejected response is echoed into errors.
const maxErrorBody = 512

// Request is one logical outbound call. Body is replayed on every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// IdempotencyKey identifies the logical operation across retries.
	IdempotencyKey string
	// IdempotencyHeader, when set, carries the key to a platform that
	// deduplicates server-side; the local cache is bypassed.
	IdempotencyHeader string
	// Check inspects a 2xx response for failures the partner reports in the
	// body. A Retryable error feeds the retry loop; any error keeps the
	// response out of the dedup cache.
	Check func(*Response) error
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Replayed is true when the response came from the dedup cache.
	Replayed bool
}

// Clone returns a deep copy of r.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       append([]byte(nil), r.Body...),
		Replayed:   r.Replayed,
	}
}

// Options configures a Client.
type Options struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	MaxIdleConns   int
	Policy         Policy
	Dedup          *Deduplicator
	Sleeper        Sleeper
	// HTTPClient replaces the pooled client; used by tests.
	HTTPClient *http.Client
}

// Client is the outbound HTTP primitive shared by every adapter. It is safe
// for concurrent use.
type Client struct {
	http   *http.Client
	policy Policy
	dedup  *Deduplicator
	sleep  Sleeper
}

// NewClient builds a pooled client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		connectTimeout := opts.ConnectTimeout
		if connectTimeout <= 0 {
			connectTimeout = 5 * time.Second
		}
		maxIdle := opts.MaxIdleConns
		if maxIdle <= 0 {
			maxIdle = 100
		}
		dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
		httpClient = &http.Client{
			Timeout: opts.RequestTimeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				MaxIdleConns:          maxIdle,
				MaxIdleConnsPerHost:   maxIdle / 4,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   connectTimeout,
				ExpectContinueTimeout: time.Second,
			},
		}
	}
	policy := opts.Policy
	if policy.MaxAttempts == 0 && policy.RetryableStatus == nil {
		policy = DefaultPolicy()
	}
	sleep := opts.Sleeper
	if sleep == nil {
		sleep = ContextSleep
	}
	return &Client{http: httpClient, policy: policy, dedup: opts.Dedup, sleep: sleep}
}

// Do executes req with retries. Non-2xx responses are returned as errors:
// retryable codes and transport failures become TRANSIENT_NETWORK_ERROR once
// the budget is spent, other codes PERMANENT_REJECTION immediately.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.IdempotencyKey != "" && req.IdempotencyHeader == "" && c.dedup != nil {
		resp, replayed, err := c.dedup.Do(ctx, req.IdempotencyKey, func() (*Response, error) {
			return c.execute(ctx, req)
		})
		if err != nil {
			return nil, normalizeContextErr(err)
		}
		resp.Replayed = replayed
		return resp, nil
	}
	return c.execute(ctx, req)
}

// Retry runs op under the client's retry policy. Used by adapters whose
// transport is not HTTP.
func (c *Client) Retry(ctx context.Context, op func(attempt int) error) error {
	return c.policy.Retry(ctx, c.sleep, op)
}

// Dedup returns the client's dedup cache, or nil when none is configured.
func (c *Client) Dedup() *Deduplicator {
	return c.dedup
}

func (c *Client) execute(ctx context.Context, req Request) (*Response, error) {
	var result *Response
	err := c.policy.Retry(ctx, c.sleep, func(int) error {
		resp, err := c.attempt(ctx, req)
		if err != nil {
			return err
		}
		result = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("malformed request: %v", err), nil)
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	if req.IdempotencyHeader != "" && req.IdempotencyKey != "" {
		httpReq.Header.Set(req.IdempotencyHeader, req.IdempotencyKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperrors.NewTimeout(fmt.Sprintf("%s %s aborted", req.Method, req.URL), ctxErr)
		}
		if isTransientNetErr(err) {
			return nil, Retryable(fmt.Errorf("%s %s: %w", req.Method, req.URL, err), 0)
		}
		return nil, apperrors.NewPermanentRejection(fmt.Sprintf("%s %s: %v", req.Method, req.URL, err), 0)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperrors.NewTimeout("reading response aborted", ctxErr)
		}
		return nil, Retryable(fmt.Errorf("reading response body: %w", err), 0)
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: respBody}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if req.Check != nil {
			if err := req.Check(resp); err != nil {
				return nil, err
			}
		}
		return resp, nil
	case c.policy.IsRetryableStatus(resp.StatusCode):
		retryAfter := time.Duration(0)
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter = ParseRetryAfter(httpResp.Header.Get("Retry-After"), time.Now())
		}
		return nil, Retryable(&StatusError{Method: req.Method, URL: req.URL, Response: resp}, retryAfter)
	default:
		return nil, &StatusError{Method: req.Method, URL: req.URL, Response: resp}
	}
}

// StatusError carries a non-2xx partner response.
type StatusError struct {
	Method   string
	URL      string
	Response *Response
}

func (e *StatusError) Error() string {
	body := e.Response.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return fmt.Sprintf("unexpected status %d on %s %s: %s", e.Response.StatusCode, e.Method, e.URL, bytes.TrimSpace(body))
}

// Unwrap exposes the permanent-rejection classification.
func (e *StatusError) Unwrap() error {
	return apperrors.NewPermanentRejection(e.Error(), e.Response.StatusCode)
}

// AsStatusError extracts a StatusError from err.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	ok := errors.As(err, &se)
	return se, ok
}

func isTransientNetErr(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func normalizeContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if _, ok := err.(*apperrors.DomainError); !ok {
			return apperrors.NewTimeout("waiting for in-flight duplicate", err)
		}
	}
	return err
}
