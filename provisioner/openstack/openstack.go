package openstack

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
)

// FingerprintKey is the server metadata key holding the deployment fingerprint.
const FingerprintKey = "nimbus-instance"

// Server statuses nimbus reasons about.
const (
	StatusActive    = "ACTIVE"
	StatusBuild     = "BUILD"
	StatusError     = "ERROR"
	StatusDeleted   = "DELETED"
	StatusShutoff   = "SHUTOFF"
	StatusMigrating = "MIGRATING"
	StatusUnknown   = "UNKNOWN"
)

// DefaultPollInterval is how often a booting server is polled.
const DefaultPollInterval = 5 * time.Second

// Openstack is the facade over one account, scoped to the servers carrying its fingerprint.
// It holds no mutable state and can be shared between goroutines.
type Openstack struct {
	api          API
	fingerprint  string
	expiresAt    func() time.Time
	pollInterval time.Duration
	log          *slog.Logger
}

// Option customizes an Openstack facade.
type Option func(*Openstack)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Openstack) {
		o.log = logger
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(o *Openstack) {
		o.pollInterval = interval
	}
}

func New(api API, fingerprint string, options ...Option) *Openstack {
	o := &Openstack{
		api:          api,
		fingerprint:  fingerprint,
		expiresAt:    func() time.Time { return time.Time{} },
		pollInterval: DefaultPollInterval,
		log:          slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(o)
	}
	return o
}

// Connect returns a facade taking its session from cache on every call.
// The credentials are authenticated once up front so that bad ones are reported right away.
func Connect(cache *SessionCache, creds Credentials, fingerprint string, options ...Option) (*Openstack, error) {
	if fingerprint == "" {
		return nil, fmt.Errorf("%w: no fingerprint specified", ErrInvalidCredentials)
	}

	if _, err := cache.Get(creds); err != nil {
		return nil, err
	}

	o := New(NewAPI(cache, creds), fingerprint, options...)
	o.expiresAt = func() time.Time {
		session, err := cache.Get(creds)
		if err != nil {
			return time.Time{}
		}
		return session.ExpiresAt()
	}
	return o, nil
}

func (o *Openstack) Fingerprint() string {
	return o.fingerprint
}

// ExpiresAt is the expiration of the current session, zero when unknown.
func (o *Openstack) ExpiresAt() time.Time {
	return o.expiresAt()
}

func (o *Openstack) isOurs(server servers.Server) bool {
	return server.Metadata[FingerprintKey] == o.fingerprint
}

// isOccupied tells whether a server still holds provider resources.
func (o *Openstack) isOccupied(server servers.Server) bool {
	switch server.Status {
	case StatusUnknown, StatusMigrating, StatusShutoff, StatusDeleted:
		return false
	case "PAUSED", "SUSPENDED", "SHELVED", "SHELVED_OFFLOADED",
		"SOFT_DELETED", "PASSWORD", "REBOOT", "HARD_REBOOT", "REBUILD",
		"RESCUE", "RESIZE", "REVERT_RESIZE", "VERIFY_RESIZE",
		StatusActive, StatusBuild, StatusError:
		return true
	default:
		o.log.Warn("Unrecognized server status, assuming it is occupied", "server", server.Name, "status", server.Status)
		return true
	}
}
