package fasjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/fedora-infra/fasjson-client/internal/constants"
)

// NATSKVConfig configures the NATS JetStream key-value spec cache.
type NATSKVConfig struct {
	// URL of the NATS server. Ignored when Conn is set.
	URL string

	// Conn is an existing connection to reuse. It is not closed by Close.
	Conn *nats.Conn

	// Bucket is the key-value bucket name.
	Bucket string

	// TTL is the bucket-wide entry lifetime. Zero keeps entries forever.
	TTL time.Duration

	// Timeout bounds the connection attempt.
	Timeout time.Duration
}

// NATSKVCache stores specs in a JetStream key-value bucket so several
// processes can share one fetched spec.
type NATSKVCache struct {
	kv      jetstream.KeyValue
	conn    *nats.Conn
	ownConn bool
}

// NewNATSKVCache connects to NATS and opens, or creates, the bucket.
func NewNATSKVCache(ctx context.Context, config *NATSKVConfig) (*NATSKVCache, error) {
	if config == nil {
		return nil, ErrNATSConfigRequired
	}

	bucket := config.Bucket
	if bucket == "" {
		bucket = constants.DefaultNATSBucket
	}

	conn := config.Conn
	ownConn := false

	if conn == nil {
		url := config.URL
		if url == "" {
			url = nats.DefaultURL
		}

		timeout := config.Timeout
		if timeout == 0 {
			timeout = constants.ShortHTTPTimeout
		}

		var err error

		conn, err = nats.Connect(url, nats.Name("fasjson-client"), nats.Timeout(timeout))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
		}

		ownConn = true
	}

	js, err := jetstream.New(conn)
	if err != nil {
		if ownConn {
			conn.Close()
		}

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "FASJSON spec documents",
		TTL:         config.TTL,
	})
	if err != nil {
		if ownConn {
			conn.Close()
		}

		return nil, fmt.Errorf("failed to open key-value bucket %s: %w", bucket, err)
	}

	return &NATSKVCache{kv: kv, conn: conn, ownConn: ownConn}, nil
}

// Get returns the entry stored under key.
func (c *NATSKVCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	item, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrCacheKeyNotFound
		}

		return nil, fmt.Errorf("failed to read %s from NATS: %w", key, err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(item.Value(), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}

	if entry.Expired() {
		_ = c.Delete(ctx, key)

		return nil, ErrCacheExpired
	}

	return &entry, nil
}

// Set stores entry under key.
func (c *NATSKVCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}

	if _, err := c.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to write %s to NATS: %w", key, err)
	}

	return nil
}

// Delete removes key.
func (c *NATSKVCache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete %s from NATS: %w", key, err)
	}

	return nil
}

// Clear purges every key of the bucket.
func (c *NATSKVCache) Clear(ctx context.Context) error {
	keys, err := c.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil
		}

		return fmt.Errorf("failed to list NATS keys: %w", err)
	}

	for _, key := range keys {
		if err := c.kv.Purge(ctx, key); err != nil {
			return fmt.Errorf("failed to purge %s from NATS: %w", key, err)
		}
	}

	return nil
}

// Has reports whether key is stored.
func (c *NATSKVCache) Has(ctx context.Context, key string) bool {
	_, err := c.Get(ctx, key)

	return err == nil
}

// Close releases the connection if the cache opened it.
func (c *NATSKVCache) Close() {
	if c.ownConn && c.conn != nil {
		c.conn.Close()
	}
}
