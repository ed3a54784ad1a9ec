package openstack

import (
	"fmt"

	"github.com/gammadia/nimbus/metrics"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
)

// DestroyServer releases the floating IPs bound to server then deletes it.
// It is idempotent: a server that is already gone or deleted is a success.
func (o *Openstack) DestroyServer(server *servers.Server) (err error) {
	defer func() {
		metrics.OpenstackOperations.WithLabelValues("destroy", metrics.Result(err)).Inc()
	}()

	log := o.log.With("server", server.Name, "id", server.ID)

	bound, err := o.boundFloatingIPs(server.ID)
	if err != nil {
		return &ActionFailedError{Msg: fmt.Sprintf("failed to list floating IPs of server '%s'", server.Name), Err: err}
	}
	for _, fip := range bound {
		if err := o.api.DeallocateFloatingIP(fip.ID); err != nil && !isNotFound(err) {
			return &ActionFailedError{Msg: fmt.Sprintf("failed to deallocate floating IP '%s' of server '%s'", fip.IP, server.Name), Err: err}
		}
		log.Debug("Deallocated floating IP", "ip", fip.IP)
	}

	current, err := o.api.GetServer(server.ID)
	switch {
	case isNotFound(err):
		log.Debug("Server already gone")
		return nil
	case err != nil:
		return &ActionFailedError{Msg: fmt.Sprintf("failed to get server '%s'", server.Name), Err: err}
	case current.Status == StatusDeleted:
		log.Debug("Server already deleted")
		return nil
	}

	if err := o.api.DeleteServer(server.ID); err != nil && !isNotFound(err) {
		return &ActionFailedError{Msg: fmt.Sprintf("failed to delete server '%s' (status=%s fault=%s)", server.Name, current.Status, describeFault(current.Fault)), Err: err}
	}

	log.Info("Server destroyed")
	return nil
}
