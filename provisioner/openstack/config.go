package openstack

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
)

type Config struct {
	Logger *slog.Logger

	BootSource       BootSource
	Flavor           string
	Networks         []servers.Network
	SecurityGroups   []string
	AvailabilityZone string
	Metadata         map[string]string
	UserData         string
	BootTimeout      time.Duration

	// FloatingIPPool enables floating IP assignment when set.
	FloatingIPPool         string
	ReleaseFreeFloatingIPs bool

	// SshUsername enables the SSH readiness probe when set.
	SshUsername string
	SshTimeout  time.Duration
	Workspace   string
}

func (c Config) Validate() error {
	var errs []error
	if c.BootSource.Name == "" {
		errs = append(errs, errors.New("no boot source specified"))
	}
	if c.Flavor == "" {
		errs = append(errs, errors.New("no flavor specified"))
	}
	if c.BootTimeout <= 0 {
		errs = append(errs, fmt.Errorf("boot timeout must be positive, got %s", c.BootTimeout))
	}
	if c.SshUsername != "" && c.SshTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ssh timeout must be positive, got %s", c.SshTimeout))
	}
	return errors.Join(errs...)
}
