// Package testutil provides a mock FASJSON deployment and fake
// credential providers for tests.
package testutil

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

// SpecJSON is a Swagger 2 description of the FASJSON v1 API.
//
//go:embed testdata/spec.json
var SpecJSON []byte

// SpecPath is where the mock server serves the spec.
const SpecPath = "/specs/v1.json"

// RecordedRequest is a request received by the mock server.
type RecordedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Header http.Header
	Body   []byte
}

// Server is a mock FASJSON deployment. The spec is served at SpecPath
// and API routes are registered relative to /v1.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	specStatus int
	spec       []byte
	specETag   string
	routes     map[string]http.HandlerFunc
	requests   []RecordedRequest
}

// NewServer starts a mock server serving SpecJSON. It is closed when the
// test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		specStatus: http.StatusOK,
		spec:       SpecJSON,
		routes:     make(map[string]http.HandlerFunc),
	}

	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)

	return s
}

// SpecURL returns the URL of the served spec.
func (s *Server) SpecURL() string {
	return s.URL + SpecPath
}

// SetSpec replaces the spec response.
func (s *Server) SetSpec(status int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.specStatus = status
	s.spec = body
}

// SetSpecETag makes the spec endpoint honor If-None-Match.
func (s *Server) SetSpecETag(etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.specETag = etag
}

// Handle registers handler for method and a path relative to /v1.
func (s *Server) Handle(method, path string, handler http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.routes[method+" /v1"+path] = handler
}

// JSON registers a route answering with status and body encoded as JSON.
func (s *Server) JSON(method, path string, status int, body interface{}) {
	s.Handle(method, path, func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, status, body)
	})
}

// Paginated registers a GET route serving records in pages the way
// FASJSON does, honoring page_size and page_number.
func (s *Server) Paginated(path string, records []interface{}) {
	s.Handle(http.MethodGet, path, func(w http.ResponseWriter, r *http.Request) {
		size := queryInt(r, "page_size", len(records))
		number := queryInt(r, "page_number", 1)

		if size <= 0 {
			size = max(len(records), 1)
		}

		total := (len(records) + size - 1) / size
		if total == 0 {
			total = 1
		}

		start := min((number-1)*size, len(records))
		end := min(start+size, len(records))

		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"result": records[start:end],
			"page": map[string]interface{}{
				"page_number":   number,
				"page_size":     size,
				"total_pages":   total,
				"total_results": len(records),
			},
		})
	})
}

// Requests returns the requests received so far, spec fetches included.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]RecordedRequest(nil), s.requests...)
}

// APICalls returns the number of requests received outside the spec
// endpoint.
func (s *Server) APICalls() int {
	count := 0

	for _, req := range s.Requests() {
		if req.Path != SpecPath {
			count++
		}
	}

	return count
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	})
	specStatus, spec, etag := s.specStatus, s.spec, s.specETag
	handler := s.routes[r.Method+" "+r.URL.Path]
	s.mu.Unlock()

	r.Body = io.NopCloser(bytes.NewReader(body))

	if r.URL.Path == SpecPath {
		if etag != "" {
			w.Header().Set("ETag", etag)

			if r.Header.Get("If-None-Match") == etag {
				w.WriteHeader(http.StatusNotModified)

				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(specStatus)
		_, _ = w.Write(spec)

		return
	}

	if handler == nil {
		WriteJSON(w, http.StatusNotFound, map[string]string{"message": "The requested URL was not found on the server."})

		return
	}

	handler(w, r)
}

// WriteJSON writes body as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func queryInt(r *http.Request, name string, fallback int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return fallback
	}

	return value
}

// FakeProvider is a credential provider issuing fixed credentials.
type FakeProvider struct {
	// Lifetime of issued credentials. Zero or less issues expired ones.
	Lifetime time.Duration

	// Err makes every authentication fail.
	Err error

	calls atomic.Int32
}

// NewFakeProvider returns a provider issuing credentials valid for an hour.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{Lifetime: time.Hour}
}

// Authenticate implements fasjson.CredentialProvider.
func (p *FakeProvider) Authenticate(_ context.Context, host, principal string) (*fasjson.Credentials, error) {
	p.calls.Add(1)

	if p.Err != nil {
		return nil, p.Err
	}

	return &fasjson.Credentials{Principal: principal, Host: host, Lifetime: p.Lifetime}, nil
}

// Apply implements fasjson.CredentialProvider.
func (p *FakeProvider) Apply(req *http.Request, creds *fasjson.Credentials) error {
	req.Header.Set("Authorization", "Negotiate fake-token")

	return nil
}

// Calls returns the number of Authenticate calls.
func (p *FakeProvider) Calls() int {
	return int(p.calls.Load())
}
