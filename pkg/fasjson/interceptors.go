package fasjson

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HTTPRequest is the view of an outbound request given to interceptors.
// Header changes are applied to the request that is sent.
type HTTPRequest struct {
	Method    string
	URL       string
	Operation string
	Headers   http.Header
	Body      []byte
	Metadata  map[string]interface{}
}

// HTTPResponse is the view of a received response given to interceptors.
// Error is set when the exchange produced no response.
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Error      error
}

// Failed reports whether the exchange failed or the server answered
// with an HTTP error.
func (r *HTTPResponse) Failed() bool {
	return r.Error != nil || r.StatusCode >= http.StatusBadRequest
}

// RequestInterceptor is called before a request is sent.
type RequestInterceptor func(ctx context.Context, req *HTTPRequest) error

// ResponseInterceptor is called after a response is received.
type ResponseInterceptor func(ctx context.Context, req *HTTPRequest, resp *HTTPResponse) error

// InterceptorChain runs interceptors around every HTTP exchange of a
// client, in the order they were added. It must be complete before it is
// handed to a client.
type InterceptorChain struct {
	before []RequestInterceptor
	after  []ResponseInterceptor
}

// NewInterceptorChain creates an empty chain.
func NewInterceptorChain() *InterceptorChain {
	return &InterceptorChain{}
}

// OnRequest appends interceptors run before each request is sent.
func (c *InterceptorChain) OnRequest(interceptors ...RequestInterceptor) *InterceptorChain {
	c.before = append(c.before, interceptors...)

	return c
}

// OnResponse appends interceptors run after each exchange, failed ones
// included.
func (c *InterceptorChain) OnResponse(interceptors ...ResponseInterceptor) *InterceptorChain {
	c.after = append(c.after, interceptors...)

	return c
}

// BeforeSend runs the request interceptors. The first failure stops the
// chain and the request is not sent.
func (c *InterceptorChain) BeforeSend(ctx context.Context, req *HTTPRequest) error {
	if c == nil {
		return nil
	}

	for i, interceptor := range c.before {
		if err := interceptor(ctx, req); err != nil {
			return fmt.Errorf("request interceptor %d: %w", i, err)
		}
	}

	return nil
}

// AfterReceive runs the response interceptors. The first failure stops
// the chain.
func (c *InterceptorChain) AfterReceive(ctx context.Context, req *HTTPRequest, resp *HTTPResponse) error {
	if c == nil {
		return nil
	}

	for i, interceptor := range c.after {
		if err := interceptor(ctx, req, resp); err != nil {
			return fmt.Errorf("response interceptor %d: %w", i, err)
		}
	}

	return nil
}

// LogRequests logs every request at debug level.
func LogRequests(logger Logger) RequestInterceptor {
	return func(_ context.Context, req *HTTPRequest) error {
		logger.Debug("Sending request", map[string]interface{}{
			"method":    req.Method,
			"url":       req.URL,
			"operation": req.Operation,
		})

		return nil
	}
}

// LogResponses logs every exchange at debug level, failed ones included.
// Reporting failures is left to the caller of the operation.
func LogResponses(logger Logger) ResponseInterceptor {
	return func(_ context.Context, req *HTTPRequest, resp *HTTPResponse) error {
		fields := map[string]interface{}{
			"method":      req.Method,
			"url":         req.URL,
			"operation":   req.Operation,
			"status_code": resp.StatusCode,
		}

		if resp.Error != nil {
			fields["error"] = resp.Error.Error()
		}

		logger.Debug("Received response", fields)

		return nil
	}
}

// SetHeaders sets static headers on every request.
func SetHeaders(headers map[string]string) RequestInterceptor {
	return func(_ context.Context, req *HTTPRequest) error {
		if req.Headers == nil {
			req.Headers = make(http.Header)
		}

		for key, value := range headers {
			req.Headers.Set(key, value)
		}

		return nil
	}
}

// FieldMask restricts the fields FASJSON returns through the X-Fields
// header, unless the call already sets one.
func FieldMask(fields ...string) RequestInterceptor {
	mask, _ := MaskFormat(fields)

	return func(_ context.Context, req *HTTPRequest) error {
		if req.Headers == nil {
			req.Headers = make(http.Header)
		}

		if req.Headers.Get("X-Fields") == "" {
			req.Headers.Set("X-Fields", mask)
		}

		return nil
	}
}

const startTimeKey = "start_time"

// OperationStats counts the HTTP exchanges of one operation.
type OperationStats struct {
	Calls          int64
	Failures       int64
	TotalLatency   time.Duration
	AverageLatency time.Duration
	LastCall       time.Time
}

// MetricsCollector counts exchanges per operation. Exchanges outside an
// operation, such as the spec fetch, are keyed by method and URL. It is
// safe for concurrent use.
type MetricsCollector struct {
	mu       sync.Mutex
	stats    map[string]*OperationStats
	onChange func(operation string, stats OperationStats)
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{stats: make(map[string]*OperationStats)}
}

// Register adds the collector's interceptors to chain and returns it.
func (m *MetricsCollector) Register(chain *InterceptorChain) *InterceptorChain {
	return chain.OnRequest(m.start).OnResponse(m.finish)
}

// OnChange sets a callback run after each recorded exchange, outside the
// collector's lock.
func (m *MetricsCollector) OnChange(fn func(operation string, stats OperationStats)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onChange = fn
}

// Stats returns a copy of the counters of operation.
func (m *MetricsCollector) Stats(operation string) (OperationStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.stats[operation]
	if !ok {
		return OperationStats{}, false
	}

	return *stats, true
}

// Operations returns the keys seen so far, sorted.
func (m *MetricsCollector) Operations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return sortedKeys(m.stats)
}

func (m *MetricsCollector) start(_ context.Context, req *HTTPRequest) error {
	if req.Metadata == nil {
		req.Metadata = make(map[string]interface{})
	}

	req.Metadata[startTimeKey] = time.Now()

	return nil
}

func (m *MetricsCollector) finish(_ context.Context, req *HTTPRequest, resp *HTTPResponse) error {
	key := req.Operation
	if key == "" {
		key = req.Method + " " + req.URL
	}

	var latency time.Duration
	if started, ok := req.Metadata[startTimeKey].(time.Time); ok {
		latency = time.Since(started)
	}

	m.mu.Lock()

	stats, ok := m.stats[key]
	if !ok {
		stats = &OperationStats{}
		m.stats[key] = stats
	}

	stats.Calls++
	stats.LastCall = time.Now()
	stats.TotalLatency += latency
	stats.AverageLatency = stats.TotalLatency / time.Duration(stats.Calls)

	if resp.Failed() {
		stats.Failures++
	}

	snapshot := *stats
	onChange := m.onChange

	m.mu.Unlock()

	if onChange != nil {
		onChange(key, snapshot)
	}

	return nil
}
