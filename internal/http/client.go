// Package http is the HTTP transport of the client: a go-retryablehttp
// client whose inner transport authenticates every request.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fedora-infra/fasjson-client/internal/auth"
	"github.com/fedora-infra/fasjson-client/internal/constants"
	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

// Static errors for err113 compliance.
var (
	ErrTransport      = errors.New("HTTP request failed")
	ErrEncodeBody     = errors.New("failed to encode request body")
	ErrInterceptor    = errors.New("interceptor rejected the exchange")
	ErrInvalidRequest = errors.New("invalid request")
)

// Request is an outbound request. Path is resolved against the client's
// base URL unless it is absolute.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Headers     map[string]string
	Body        interface{}
	ContentType string

	// Operation names the spec operation for logging and metrics.
	Operation string
}

// Response is a received response with its body fully read.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte

	// Raw is the underlying response. Its body has been consumed.
	Raw *http.Response
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// Client sends authenticated requests.
type Client struct {
	baseURL      string
	principal    string
	provider     fasjson.CredentialProvider
	base         *http.Client
	httpClient   *retryablehttp.Client
	logger       fasjson.Logger
	debug        bool
	userAgent    string
	interceptors *fasjson.InterceptorChain
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger fasjson.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDebug logs every request and response.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithRetryConfig enables retries of failed exchanges. Setup errors are
// never retried.
func WithRetryConfig(maxRetries int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = max(maxRetries, 0)

		if waitMin > 0 {
			c.httpClient.RetryWaitMin = waitMin
		}

		if waitMax > 0 {
			c.httpClient.RetryWaitMax = waitMax
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithTimeout bounds a single exchange.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.base.Timeout = timeout
		}
	}
}

// WithPrincipal sets the identity requests are authenticated as.
func WithPrincipal(principal string) Option {
	return func(c *Client) {
		c.principal = principal
	}
}

// WithInterceptors runs chain around every exchange.
func WithInterceptors(chain *fasjson.InterceptorChain) Option {
	return func(c *Client) {
		c.interceptors = chain
	}
}

// WithHTTPClient uses httpClient as the base client. Its transport is
// wrapped, the value itself is not modified.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			clone := *httpClient
			c.base = &clone
		}
	}
}

// NewClient creates a client for baseURL. A nil provider sends requests
// unauthenticated.
func NewClient(baseURL string, provider fasjson.CredentialProvider, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = constants.DefaultRetryMax
	rc.RetryWaitMin = constants.DefaultRetryWaitMin
	rc.RetryWaitMax = constants.DefaultRetryWaitMax
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.CheckRetry = checkRetry

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		provider:   provider,
		base:       &http.Client{Timeout: constants.DefaultHTTPTimeout},
		httpClient: rc,
		logger:     fasjson.NopLogger{},
		userAgent:  constants.UserAgent,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.base.Transport = auth.NewTransport(provider, c.principal, c.base.Transport)
	rc.HTTPClient = c.base

	if c.debug {
		rc.Logger = leveledLogger{c.logger}
	}

	return c
}

// BaseURL returns the URL relative paths are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type methodKey struct{}

// idempotent reports whether a request with method may be sent twice
// without changing the outcome.
func idempotent(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

// checkRetry follows the default policy but never retries setup errors or
// non-idempotent requests such as a certificate signing POST.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	var clientErr *fasjson.ClientError
	if errors.As(err, &clientErr) {
		return false, nil
	}

	method, _ := ctx.Value(methodKey{}).(string)
	if resp != nil && resp.Request != nil {
		method = resp.Request.Method
	}

	if method != "" && !idempotent(method) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		return false, nil
	}

	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Do sends req. A non-2xx status is not an error: callers classify the
// Response. Errors are either a *fasjson.ClientError raised while
// authenticating or a transport failure wrapping ErrTransport.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	target, err := c.resolve(req)
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	headers.Set("User-Agent", c.userAgent)

	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}

	for key, value := range req.Headers {
		headers.Set(key, value)
	}

	intercepted := &fasjson.HTTPRequest{
		Method:    req.Method,
		URL:       target,
		Operation: req.Operation,
		Headers:   headers,
		Body:      body,
	}

	if err := c.interceptors.BeforeSend(ctx, intercepted); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInterceptor, err)
	}

	var rawBody interface{}
	if body != nil {
		rawBody = body
	}

	sendCtx := context.WithValue(ctx, methodKey{}, req.Method)

	httpReq, err := retryablehttp.NewRequestWithContext(sendCtx, req.Method, target, rawBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	httpReq.Header = intercepted.Headers

	start := time.Now()

	if c.debug {
		c.logger.Debug("HTTP Request", map[string]interface{}{
			"method":    req.Method,
			"url":       target,
			"operation": req.Operation,
		})
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		_ = c.interceptors.AfterReceive(ctx, intercepted, &fasjson.HTTPResponse{Error: err})

		var clientErr *fasjson.ClientError
		if errors.As(err, &clientErr) {
			return nil, clientErr
		}

		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, target, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response of %s %s: %w", ErrTransport, req.Method, target, err)
	}

	if c.debug {
		c.logger.Debug("HTTP Response", map[string]interface{}{
			"method":      req.Method,
			"url":         target,
			"status_code": resp.StatusCode,
			"duration":    time.Since(start).String(),
		})
	}

	result := &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    resp.Header,
		Body:       respBody,
		Raw:        resp,
	}

	err = c.interceptors.AfterReceive(ctx, intercepted, &fasjson.HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInterceptor, err)
	}

	return result, nil
}

func (c *Client) resolve(req *Request) (string, error) {
	if req.Method == "" {
		return "", fmt.Errorf("%w: method is required", ErrInvalidRequest)
	}

	target := req.Path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if len(req.Query) > 0 {
		query := u.Query()
		for key, values := range req.Query {
			for _, value := range values {
				query.Add(key, value)
			}
		}

		u.RawQuery = query.Encode()
	}

	return u.String(), nil
}

func encodeBody(req *Request) ([]byte, string, error) {
	switch body := req.Body.(type) {
	case nil:
		return nil, req.ContentType, nil
	case []byte:
		return body, req.ContentType, nil
	case string:
		return []byte(body), req.ContentType, nil
	case url.Values:
		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/x-www-form-urlencoded"
		}

		return []byte(body.Encode()), contentType, nil
	case io.Reader:
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrEncodeBody, err)
		}

		return data, req.ContentType, nil
	default:
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrEncodeBody, err)
		}

		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/json"
		}

		return bytes.TrimRight(buf.Bytes(), "\n"), contentType, nil
	}
}

// leveledLogger hands retryablehttp's diagnostics to a fasjson.Logger.
type leveledLogger struct {
	logger fasjson.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, fields(keysAndValues))
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, fields(keysAndValues))
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fields(keysAndValues))
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, fields(keysAndValues))
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}

	return out
}
