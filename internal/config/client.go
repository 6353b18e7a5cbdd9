package config

import (
	"context"
	"fmt"

	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

// ClientConfig builds the library configuration described by the
// settings. A NATS spec cache is connected here; closing it is left to
// process exit.
func (s *Settings) ClientConfig(ctx context.Context, logger fasjson.Logger) (*fasjson.Config, error) {
	cache, err := s.specCache(ctx)
	if err != nil {
		return nil, err
	}

	cfg := &fasjson.Config{
		URL:          s.URL,
		Principal:    s.Principal,
		APIVersion:   s.APIVersion,
		HTTPTimeout:  s.Timeout,
		Logger:       logger,
		Debug:        s.Verbose,
		SpecCache:    cache,
		SpecCacheTTL: s.Cache.TTL,
	}

	if s.Kerberos != (Kerberos{}) {
		cfg.Kerberos = &fasjson.KerberosConfig{
			Krb5Conf: s.Kerberos.Krb5Conf,
			CCache:   s.Kerberos.CCache,
			Keytab:   s.Kerberos.Keytab,
			SPN:      s.Kerberos.SPN,
		}
	}

	return cfg, nil
}

func (s *Settings) specCache(ctx context.Context) (fasjson.Cache, error) {
	cacheType := fasjson.CacheType(s.Cache.Type)
	if cacheType == fasjson.CacheTypeNone || cacheType == "" {
		return nil, nil //nolint:nilnil // no cache configured
	}

	cfg := &fasjson.CacheConfig{Type: cacheType, Size: s.Cache.Size}

	if cacheType == fasjson.CacheTypeNATS {
		cfg.NATS = &fasjson.NATSKVConfig{
			URL:    s.Cache.NATSURL,
			Bucket: s.Cache.NATSBucket,
		}
	}

	cache, err := fasjson.NewCacheFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create spec cache: %w", err)
	}

	return cache, nil
}
