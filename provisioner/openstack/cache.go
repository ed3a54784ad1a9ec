package openstack

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/gammadia/nimbus/metrics"
)

// SessionTTL bounds how long a session stays cached, whatever its token expiration.
const SessionTTL = time.Hour

// SessionCache shares authenticated sessions between callers using the same credentials.
// Concurrent misses on the same credentials may authenticate twice; the last write wins.
type SessionCache struct {
	factory SessionFactory
	cache   *ristretto.Cache[string, Session]
	log     *slog.Logger
	now     func() time.Time
}

func NewSessionCache(factory SessionFactory, logger *slog.Logger) (*SessionCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, Session]{
		NumCounters: 1_000,
		MaxCost:     100,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &SessionCache{
		factory: factory,
		cache:   cache,
		log:     logger,
		now:     time.Now,
	}, nil
}

// Get returns a session for creds that has not expired yet, authenticating if needed.
func (c *SessionCache) Get(creds Credentials) (Session, error) {
	creds, err := creds.normalize()
	if err != nil {
		return nil, err
	}

	key := creds.Fingerprint()
	if session, found := c.cache.Get(key); found {
		if c.now().Before(session.ExpiresAt()) {
			metrics.SessionCacheLookups.WithLabelValues("hit").Inc()
			return session, nil
		}
		metrics.SessionCacheLookups.WithLabelValues("expired").Inc()
		c.log.Debug("Cached session expired, authenticating again", "credentials", creds, "expired-at", session.ExpiresAt())
	} else {
		metrics.SessionCacheLookups.WithLabelValues("miss").Inc()
	}

	session, err := c.factory(creds)
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailure) {
			c.cache.Del(key)
		}
		return nil, err
	}

	c.cache.SetWithTTL(key, session, 1, SessionTTL)
	c.cache.Wait()
	c.log.Debug("Authenticated session", "credentials", creds, "expires-at", session.ExpiresAt())
	return session, nil
}

// Invalidate drops the cached session for creds, if any.
func (c *SessionCache) Invalidate(creds Credentials) {
	if creds, err := creds.normalize(); err == nil {
		c.cache.Del(creds.Fingerprint())
	}
}

func (c *SessionCache) Close() {
	c.cache.Close()
}
