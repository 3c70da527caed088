// Package cache provides the two-tier, content-addressed result cache.
// The fast tier (in-process or Redis) absorbs repeat lookups within the
// TTL window; the durable tier rides on the session rows and survives
// restarts. Keys bind file fingerprint, pipeline version, and parameter
// signature, so any change to the pipeline reads as a miss rather than a
// stale hit.
package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/emgflow/emgflow/internal/persistence"
)

// ResultCache coordinates the fast and durable tiers.
type ResultCache struct {
	fast     FastLayer
	sessions persistence.SessionsRepo
	ttl      time.Duration
	group    singleflight.Group
	log      zerolog.Logger
}

// New creates a result cache over the given fast layer and sessions repo.
func New(fast FastLayer, sessions persistence.SessionsRepo, ttl time.Duration, log zerolog.Logger) *ResultCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResultCache{
		fast:     fast,
		sessions: sessions,
		ttl:      ttl,
		log:      log.With().Str("component", "result_cache").Logger(),
	}
}

// Lookup consults the fast tier first, then the durable tier. A durable
// hit is promoted back into the fast tier asynchronously so the caller is
// not held up by the write.
func (c *ResultCache) Lookup(ctx context.Context, key Key) (*Payload, bool) {
	keyStr := key.String()

	if raw, ok, err := c.fast.Get(ctx, keyStr); err != nil {
		c.log.Warn().Err(err).Msg("fast layer read failed, falling through to durable")
	} else if ok {
		payload, err := decodePayload(raw)
		if err == nil && payload.Matches(key) {
			return payload, true
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("discarding undecodable fast layer entry")
		}
	}

	raw, err := c.sessions.AnalyticsCacheByFingerprint(ctx, key.Fingerprint)
	if err != nil {
		c.log.Warn().Err(err).Msg("durable layer read failed")
		return nil, false
	}
	if raw == nil {
		return nil, false
	}

	payload, err := decodePayload(raw)
	if err != nil {
		c.log.Warn().Err(err).Str("fingerprint", key.Fingerprint).
			Msg("discarding undecodable durable cache payload")
		return nil, false
	}
	if !payload.Matches(key) {
		// Same bytes, different pipeline. Recompute.
		return nil, false
	}

	c.promote(keyStr, raw, payload.SourceSession)
	return payload, true
}

// promote writes a durable hit back into the fast tier and bumps the hit
// counter on the source session, off the caller's critical path.
func (c *ResultCache) promote(keyStr string, raw []byte, sourceSession string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := c.fast.Set(ctx, keyStr, raw, c.ttl); err != nil {
			c.log.Warn().Err(err).Msg("fast layer promotion failed")
		}
		if sourceSession != "" {
			if err := c.sessions.TouchCacheHit(ctx, sourceSession); err != nil {
				c.log.Warn().Err(err).Str("session", sourceSession).Msg("cache hit accounting failed")
			}
		}
	}()
}

// Store writes the payload to both tiers. The durable write lands on the
// session row named by sessionCode; a fast layer failure is logged but does
// not fail the store since the durable copy is authoritative.
func (c *ResultCache) Store(ctx context.Context, sessionCode string, key Key, payload *Payload) error {
	payload.Fingerprint = key.Fingerprint
	payload.ProcessingVersion = key.ProcessingVersion
	payload.ParamSignature = key.ParamSignature
	payload.SourceSession = sessionCode
	payload.CachedAt = time.Now().UTC()

	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}

	if err := c.sessions.SetAnalyticsCache(ctx, sessionCode, raw); err != nil {
		return err
	}
	if err := c.fast.Set(ctx, key.String(), raw, c.ttl); err != nil {
		c.log.Warn().Err(err).Msg("fast layer write failed")
	}
	return nil
}

// Invalidate drops both tiers for a fingerprint, used when a session is
// queued for reprocessing. Other fingerprints' entries are untouched.
func (c *ResultCache) Invalidate(ctx context.Context, fingerprint string) error {
	if err := c.fast.DeletePrefix(ctx, fingerprintPrefix(fingerprint)); err != nil {
		c.log.Warn().Err(err).Msg("fast layer invalidation failed")
	}
	return c.sessions.ClearAnalyticsCache(ctx, fingerprint)
}

// Compute runs fn at most once per key across concurrent callers. Workers
// that race on the same upload block on the first computation instead of
// repeating it.
func (c *ResultCache) Compute(key Key, fn func() (*Payload, error)) (*Payload, error) {
	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return v.(*Payload), nil
}

// Stats reports fast layer accounting.
func (c *ResultCache) Stats() LayerStats { return c.fast.Stats() }

// Healthy reports whether the fast tier answers.
func (c *ResultCache) Healthy(ctx context.Context) bool {
	return c.fast.Ping(ctx) == nil
}

// Close releases fast layer resources.
func (c *ResultCache) Close() error { return c.fast.Close() }
