// Package spec loads the FASJSON spec document and turns it into a
// registry of callable operations.
package spec

import (
	"context"
	"errors"
	"net/http"
	"time"

	fjhttp "github.com/fedora-infra/fasjson-client/internal/http"
	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

// Loader fetches spec documents. Fetched documents are optionally kept
// in a cache and revalidated with their ETag.
type Loader struct {
	client *fjhttp.Client
	cache  fasjson.Cache
	ttl    time.Duration
	logger fasjson.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithCache stores fetched documents in cache. Entries younger than ttl
// are used without contacting the server.
func WithCache(cache fasjson.Cache, ttl time.Duration) LoaderOption {
	return func(l *Loader) {
		l.cache = cache
		l.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger fasjson.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a loader fetching through client.
func NewLoader(client *fjhttp.Client, opts ...LoaderOption) *Loader {
	l := &Loader{client: client, logger: fasjson.NopLogger{}}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Load fetches and parses the document at specURL. It either returns a
// fully validated Document or a *fasjson.ClientError whose reason is
// ErrSpecUnreachable, ErrSpecMalformed, ErrSpecInvalid or one of the
// authentication reasons.
func (l *Loader) Load(ctx context.Context, specURL string) (*Document, error) {
	key := fasjson.SpecCacheKey(specURL)
	cached := l.cached(ctx, key)

	if cached != nil && cached.Fresh(l.ttl) {
		l.logger.Debug("Spec cache hit", map[string]interface{}{"url": specURL})

		return Parse(ctx, cached.Data, specURL)
	}

	req := &fjhttp.Request{Method: http.MethodGet, Path: specURL, Headers: map[string]string{}}
	if cached != nil && cached.ETag != "" {
		req.Headers["If-None-Match"] = cached.ETag
	}

	resp, err := l.client.Do(ctx, req)
	if err != nil {
		var clientErr *fasjson.ClientError
		if errors.As(err, &clientErr) {
			return nil, clientErr
		}

		return nil, fasjson.NewClientError(fasjson.ErrSpecUnreachable, fasjson.CodeConnectionAborted,
			map[string]interface{}{"url": specURL, "message": err.Error()}, err)
	}

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		l.logger.Debug("Spec not modified", map[string]interface{}{"url": specURL})
		l.store(ctx, key, cached.Data, cached.ETag)

		return Parse(ctx, cached.Data, specURL)
	}

	if !resp.IsSuccess() {
		return nil, fasjson.NewClientError(fasjson.ErrSpecUnreachable, fasjson.CodeConnectionAborted,
			map[string]interface{}{
				"url":         specURL,
				"status_code": resp.StatusCode,
				"message":     resp.Status,
			}, nil)
	}

	doc, err := Parse(ctx, resp.Body, specURL)
	if err != nil {
		return nil, err
	}

	l.store(ctx, key, resp.Body, resp.Headers.Get("ETag"))

	return doc, nil
}

func (l *Loader) cached(ctx context.Context, key string) *fasjson.CacheEntry {
	if l.cache == nil {
		return nil
	}

	entry, err := l.cache.Get(ctx, key)
	if err != nil {
		l.logger.Debug("Spec cache miss", map[string]interface{}{"key": key, "reason": err.Error()})

		return nil
	}

	return entry
}

func (l *Loader) store(ctx context.Context, key string, data []byte, etag string) {
	if l.cache == nil {
		return
	}

	entry := &fasjson.CacheEntry{Data: data, ETag: etag, StoredAt: time.Now()}

	if err := l.cache.Set(ctx, key, entry); err != nil {
		l.logger.Debug("Failed to cache spec", map[string]interface{}{"key": key, "error": err.Error()})
	}
}
