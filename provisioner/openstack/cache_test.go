package openstack

import (
	"fmt"
	"testing"
	"time"

	"github.com/gophercloud/gophercloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id        int
	expiresAt time.Time
}

func (s *fakeSession) Current() *gophercloud.ProviderClient {
	return &gophercloud.ProviderClient{}
}

func (s *fakeSession) ExpiresAt() time.Time {
	return s.expiresAt
}

type countingFactory struct {
	calls    int
	lifetime time.Duration
	now      func() time.Time
	err      error
}

func (f *countingFactory) create(Credentials) (Session, error) {
	f.calls += 1
	if f.err != nil {
		return nil, f.err
	}
	return &fakeSession{id: f.calls, expiresAt: f.now().Add(f.lifetime)}, nil
}

func newTestCache(t *testing.T) (*SessionCache, *countingFactory, *time.Time) {
	now := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	factory := &countingFactory{lifetime: 10 * time.Minute, now: func() time.Time { return now }}

	cache, err := NewSessionCache(factory.create, silentLogger)
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	cache.now = func() time.Time { return now }

	return cache, factory, &now
}

func TestSessionCacheReusesSessions(t *testing.T) {
	cache, factory, _ := newTestCache(t)

	first, err := cache.Get(testCredentials())
	require.NoError(t, err)
	second, err := cache.Get(testCredentials())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, factory.calls)
}

func TestSessionCacheKeysOnAllFields(t *testing.T) {
	cache, factory, _ := newTestCache(t)

	other := testCredentials()
	other.Region = "RegionTwo"

	first, err := cache.Get(testCredentials())
	require.NoError(t, err)
	second, err := cache.Get(other)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, factory.calls)
}

func TestSessionCacheReauthenticatesExpiredSessions(t *testing.T) {
	cache, factory, now := newTestCache(t)

	first, err := cache.Get(testCredentials())
	require.NoError(t, err)

	*now = now.Add(11 * time.Minute)
	second, err := cache.Get(testCredentials())
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, factory.calls)
	assert.True(t, now.Before(second.ExpiresAt()))
}

func TestSessionCacheRejectsInvalidCredentials(t *testing.T) {
	cache, factory, _ := newTestCache(t)

	_, err := cache.Get(Credentials{Endpoint: "https://keystone.example.com/v3"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Zero(t, factory.calls)
}

func TestSessionCacheDoesNotKeepFailures(t *testing.T) {
	cache, factory, _ := newTestCache(t)

	factory.err = fmt.Errorf("%w: bad password", ErrAuthenticationFailure)
	_, err := cache.Get(testCredentials())
	assert.ErrorIs(t, err, ErrAuthenticationFailure)

	factory.err = nil
	_, err = cache.Get(testCredentials())
	require.NoError(t, err)
	assert.Equal(t, 2, factory.calls)
}

func TestSessionCacheInvalidate(t *testing.T) {
	cache, factory, _ := newTestCache(t)

	_, err := cache.Get(testCredentials())
	require.NoError(t, err)
	cache.Invalidate(testCredentials())
	_, err = cache.Get(testCredentials())
	require.NoError(t, err)

	assert.Equal(t, 2, factory.calls)
}

func TestConnect(t *testing.T) {
	cache, _, _ := newTestCache(t)

	_, err := Connect(cache, testCredentials(), "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	o, err := Connect(cache, testCredentials(), testFingerprint)
	require.NoError(t, err)
	assert.Equal(t, testFingerprint, o.Fingerprint())
	assert.False(t, o.ExpiresAt().IsZero())

	_, err = Connect(cache, Credentials{}, testFingerprint)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
