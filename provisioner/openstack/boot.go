package openstack

import (
	"fmt"
	"strings"
	"time"

	"github.com/gammadia/nimbus/metrics"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/bootfromvolume"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
)

// BootRequest describes a server to create.
// Either ImageRef or a boot volume in BlockDevices must be set.
type BootRequest struct {
	Name             string
	ImageRef         string
	FlavorRef        string
	Networks         []servers.Network
	SecurityGroups   []string
	AvailabilityZone string
	KeyName          string
	UserData         []byte
	Metadata         map[string]string
	BlockDevices     []bootfromvolume.BlockDevice
}

func (r BootRequest) createOpts() servers.CreateOptsBuilder {
	base := servers.CreateOpts{
		Name:             r.Name,
		ImageRef:         r.ImageRef,
		FlavorRef:        r.FlavorRef,
		SecurityGroups:   r.SecurityGroups,
		AvailabilityZone: r.AvailabilityZone,
		UserData:         r.UserData,
		Metadata:         r.Metadata,
	}
	if len(r.Networks) > 0 {
		base.Networks = r.Networks
	}

	var opts servers.CreateOptsBuilder = base

	if r.KeyName != "" {
		opts = keypairs.CreateOptsExt{CreateOptsBuilder: opts, KeyName: r.KeyName}
	}
	if len(r.BlockDevices) > 0 {
		opts = bootfromvolume.CreateOptsExt{CreateOptsBuilder: opts, BlockDevice: r.BlockDevices}
	}
	return opts
}

// BootAndWaitActive creates a server stamped with the deployment fingerprint and waits for it to become active.
//
// A server that ends up in any other state is destroyed and reported as a *ProvisioningFailedError.
// When the deadline passes, the server is looked up by name and destroyed only if the lookup is unambiguous.
func (o *Openstack) BootAndWaitActive(req BootRequest, timeout time.Duration) (server *servers.Server, err error) {
	defer func() {
		metrics.OpenstackOperations.WithLabelValues("boot", metrics.Result(err)).Inc()
	}()

	req.Metadata = lo.Assign(req.Metadata, map[string]string{FingerprintKey: o.fingerprint})

	o.log.Debug("Booting server", "server", req.Name, "timeout", timeout)
	created, err := o.api.CreateServer(req)
	if err != nil {
		return nil, &ActionFailedError{Msg: fmt.Sprintf("failed to boot server '%s'", req.Name), Err: err}
	}

	server = o.waitForStatus(created.ID, timeout)
	if server == nil {
		return nil, o.abandonBoot(req.Name, timeout)
	}

	if err := o.failUnlessActive(server); err != nil {
		return nil, err
	}

	o.log.Debug("Server is active", "server", server.Name, "id", server.ID)
	return server, nil
}

// waitForStatus polls the server until it settles, or returns nil once timeout elapsed.
func (o *Openstack) waitForStatus(id string, timeout time.Duration) *servers.Server {
	deadline := time.Now().Add(timeout)
	for {
		server, err := o.api.GetServer(id)
		switch {
		case err == nil:
			switch server.Status {
			case StatusActive, StatusError, StatusDeleted:
				return server
			}
		case isNotFound(err):
			// Not visible yet
		default:
			o.log.Debug("Failed to poll server status", "id", id, "error", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		time.Sleep(min(o.pollInterval, remaining))
	}
}

func (o *Openstack) abandonBoot(name string, timeout time.Duration) error {
	failure := &ProvisioningFailedError{Server: name}

	found, err := o.ServersByName(name)
	if err != nil {
		failure.Msg = fmt.Sprintf("failed to provision server '%s' in time (%s)", name, timeout)
		failure.Suppressed = err
		return failure
	}

	failure.Msg = fmt.Sprintf("failed to provision server '%s' in time (%s): %s", name, timeout, describeServers(found))
	switch len(found) {
	case 0:
	case 1:
		failure.Status, failure.Fault = found[0].Status, found[0].Fault
		failure.Suppressed = o.DestroyServer(&found[0])
	default:
		o.log.Warn("Unable to destroy server as there are several of them", "server", name, "count", len(found))
	}
	return failure
}

func (o *Openstack) failUnlessActive(server *servers.Server) error {
	if server.Status == StatusActive {
		return nil
	}

	failure := &ProvisioningFailedError{
		Server: server.Name,
		Status: server.Status,
		Fault:  server.Fault,
		Msg:    fmt.Sprintf("failed to boot server '%s': status=%s fault=%s", server.Name, server.Status, describeFault(server.Fault)),
	}
	failure.Suppressed = o.DestroyServer(server)

	o.log.Warn("Server failed to boot", "server", server.Name, "status", server.Status, "error", failure)
	return failure
}

func describeServers(list []servers.Server) string {
	if len(list) == 0 {
		return "no server found"
	}
	return strings.Join(lo.Map(list, func(server servers.Server, _ int) string {
		return fmt.Sprintf("%s (%s) status=%s fault=%s", server.Name, server.ID, server.Status, describeFault(server.Fault))
	}), ", ")
}
