package openstack

import (
	"fmt"

	"github.com/gammadia/nimbus/metrics"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/floatingips"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
)

// AssignFloatingIP allocates an address from pool and binds it to server.
// An empty pool lets the provider pick its default one.
// The returned server info is stale: callers refresh it to see the address.
func (o *Openstack) AssignFloatingIP(server *servers.Server, pool string) (fip *floatingips.FloatingIP, err error) {
	defer func() {
		metrics.OpenstackOperations.WithLabelValues("assign-floating-ip", metrics.Result(err)).Inc()
	}()

	log := o.log.With("server", server.Name, "pool", pool)

	fip, err = o.api.AllocateFloatingIP(pool)
	if err != nil {
		if isForbidden(err) {
			return nil, fmt.Errorf("%w: %w", ErrNoFloatingIPCapability, err)
		}
		return nil, &ActionFailedError{Msg: fmt.Sprintf("failed to allocate floating IP from pool '%s'", pool), Err: err}
	}
	log.Debug("Allocated floating IP", "ip", fip.IP, "id", fip.ID)

	if err := o.api.AssociateFloatingIP(server.ID, fip.IP); err != nil {
		failure := &ActionFailedError{Msg: fmt.Sprintf("failed to associate floating IP '%s' with server '%s'", fip.IP, server.Name), Err: err}
		if deallocErr := o.api.DeallocateFloatingIP(fip.ID); deallocErr != nil {
			log.Warn("Failed to deallocate floating IP after failed association", "ip", fip.IP, "error", deallocErr)
			failure.Suppressed = deallocErr
		}
		return nil, failure
	}

	log.Info("Assigned floating IP", "ip", fip.IP)
	return fip, nil
}

// DestroyFloatingIP releases a network floating IP. Releasing an address that is already gone succeeds.
func (o *Openstack) DestroyFloatingIP(id string) error {
	err := o.api.DeleteNetworkFloatingIP(id)
	switch {
	case err == nil:
		o.log.Debug("Released floating IP", "id", id)
		return nil
	case isNotFound(err):
		return nil
	default:
		return &ActionFailedError{Msg: fmt.Sprintf("failed to release floating IP '%s'", id), Err: err}
	}
}

// boundFloatingIPs lists the compute floating IPs bound to server.
// Accounts without floating IP access have none.
func (o *Openstack) boundFloatingIPs(serverID string) ([]floatingips.FloatingIP, error) {
	all, err := o.api.ListFloatingIPs()
	if err != nil {
		if isForbidden(err) || isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var bound []floatingips.FloatingIP
	for _, fip := range all {
		if fip.InstanceID == serverID {
			bound = append(bound, fip)
		}
	}
	return bound, nil
}
