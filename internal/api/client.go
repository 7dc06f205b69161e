// Package api implements the HTTP client all non-streaming calls flow
// through: URL and header construction, bearer auth from the auth store,
// JSON response handling, transient-failure retry, and the global 401
// session-invalidation side effect.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lyra-chat/lyra-cli/internal/authstore"
)

// Product identification headers sent with every request.
const (
	headerVersion = "X-Lyra-Version"
	headerClient  = "X-Lyra-Client"

	clientVersion = "cli/1.2.0"
	clientName    = "lyra-cli"
)

// RequestOptions carries the per-call extras for a request. All fields are
// optional; a nil *RequestOptions is valid.
type RequestOptions struct {
	// Query is encoded onto the URL. Multi-valued keys repeat.
	Query url.Values
	// Headers are merged over the defaults; the caller wins on conflict.
	Headers map[string]string
	// Body is JSON-marshalled for non-GET requests.
	Body any
}

// Client is the single HTTP entry point for the backend API.
type Client struct {
	baseURL string
	http    *http.Client
	store   authstore.Store
	retry   RetryPolicy
	log     *slog.Logger

	// OnSessionInvalidated fires after a 401 has cleared the auth store.
	// The hosting command decides what "go log in again" looks like.
	OnSessionInvalidated func()
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func WithSessionInvalidated(fn func()) Option {
	return func(c *Client) { c.OnSessionInvalidated = fn }
}

// NewClient creates a client for the given base URL. The store supplies the
// bearer token for every request and is cleared when the server says 401.
func NewClient(baseURL string, store authstore.Store, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPClient(),
		store:   store,
		retry:   DefaultRetryPolicy,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:      100,
		IdleConnTimeout:   90 * time.Second,
		ForceAttemptHTTP2: true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &http.Client{Transport: transport}
}

// HTTPClient exposes the underlying transport for callers that manage their
// own response lifecycle, such as the streaming session.
func (c *Client) HTTPClient() *http.Client { return c.http }

// Get issues a GET and decodes the response into out. See Do.
func (c *Client) Get(ctx context.Context, path string, opts *RequestOptions, out any) error {
	return c.request(ctx, http.MethodGet, path, opts, out)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body any, opts *RequestOptions, out any) error {
	return c.request(ctx, http.MethodPost, path, withBody(opts, body), out)
}

// Put issues a PUT with a JSON body and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, body any, opts *RequestOptions, out any) error {
	return c.request(ctx, http.MethodPut, path, withBody(opts, body), out)
}

// Patch issues a PATCH with a JSON body and decodes the response into out.
func (c *Client) Patch(ctx context.Context, path string, body any, opts *RequestOptions, out any) error {
	return c.request(ctx, http.MethodPatch, path, withBody(opts, body), out)
}

// Delete issues a DELETE and decodes the response into out.
func (c *Client) Delete(ctx context.Context, path string, opts *RequestOptions, out any) error {
	return c.request(ctx, http.MethodDelete, path, opts, out)
}

func withBody(opts *RequestOptions, body any) *RequestOptions {
	if opts == nil {
		opts = &RequestOptions{}
	}
	opts.Body = body
	return opts
}

func (c *Client) request(ctx context.Context, method, path string, opts *RequestOptions, out any) error {
	body, err := c.Do(ctx, method, path, opts)
	if err != nil {
		return err
	}
	return decode(body, out)
}

func decode(body []byte, out any) error {
	if out == nil {
		return nil
	}
	switch v := out.(type) {
	case *[]byte:
		*v = body
		return nil
	case *string:
		*v = string(body)
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{
			Kind:    ErrParse,
			Message: fmt.Sprintf("failed to parse response: %v", err),
			Details: body,
			cause:   err,
		}
	}
	return nil
}

// Do performs the request with the configured retry policy and returns the
// raw response body of the first successful attempt.
func (c *Client) Do(ctx context.Context, method, path string, opts *RequestOptions) ([]byte, error) {
	return Retry(ctx, c.retry, IsTransient, func() ([]byte, error) {
		return c.doOnce(ctx, method, path, opts)
	})
}

// NewRequest builds a request the way every API call does: base URL plus
// path plus query string, default and product headers, a per-request id,
// and the bearer token when one is stored. The streaming session reuses
// this to share auth and header conventions without the retry wrapper.
func (c *Client) NewRequest(ctx context.Context, method, path string, opts *RequestOptions) (*http.Request, error) {
	target := c.baseURL + path
	if opts != nil && len(opts.Query) > 0 {
		target += "?" + opts.Query.Encode()
	}

	var body io.Reader
	if opts != nil && opts.Body != nil && method != http.MethodGet {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerVersion, clientVersion)
	req.Header.Set(headerClient, clientName)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if token := c.store.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if opts != nil {
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}
	}
	return req, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, opts *RequestOptions) ([]byte, error) {
	req, err := c.NewRequest(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Debug("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, c.InvalidateSession(body)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, responseError(resp, body)
	}

	return body, nil
}

func (c *Client) transportError(ctx context.Context, err error) *APIError {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return &APIError{Kind: ErrCancelled, Message: "request cancelled", cause: err}
	}
	return &APIError{Kind: ErrNetwork, Message: fmt.Sprintf("request failed: %v", err), cause: err}
}

// InvalidateSession applies the global 401 policy: clear everything the
// auth store holds, tell the host, and fail with the fixed auth message no
// matter what the server put in the body. The streaming session calls this
// too, so a 401 on the stream POST behaves like a 401 anywhere else.
func (c *Client) InvalidateSession(body []byte) *APIError {
	if err := c.store.Clear(); err != nil {
		c.log.Warn("failed to clear auth state", "error", err)
	}
	if c.OnSessionInvalidated != nil {
		c.OnSessionInvalidated()
	}
	return &APIError{
		Kind:    ErrAuth,
		Message: AuthErrorMessage,
		Status:  http.StatusUnauthorized,
		Code:    strconv.Itoa(http.StatusUnauthorized),
		Details: body,
	}
}

// responseError builds the APIError for a non-2xx response. JSON bodies may
// carry a message and code; anything else degrades to "HTTP {status}".
func responseError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		Kind:    kindForStatus(resp.StatusCode),
		Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
		Status:  resp.StatusCode,
		Code:    strconv.Itoa(resp.StatusCode),
		Details: body,
	}

	if !isJSON(resp.Header.Get("Content-Type")) {
		return apiErr
	}

	var serverErr struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(body, &serverErr); err != nil {
		return apiErr
	}
	if serverErr.Message != "" {
		apiErr.Message = serverErr.Message
	} else if serverErr.Error != "" {
		apiErr.Message = serverErr.Error
	}
	if serverErr.Code != "" {
		apiErr.Code = serverErr.Code
	}
	return apiErr
}

func isJSON(contentType string) bool {
	return strings.Contains(contentType, "application/json")
}
