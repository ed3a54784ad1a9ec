package openstack

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/blockstorage/v3/snapshots"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/availabilityzones"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/floatingips"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/openstack/imageservice/v2/images"
	netfips "github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/layer3/floatingips"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/networks"
)

var silentLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func errNotFound() error {
	return gophercloud.ErrDefault404{ErrUnexpectedResponseCode: gophercloud.ErrUnexpectedResponseCode{Actual: http.StatusNotFound}}
}

func errForbidden() error {
	return gophercloud.ErrDefault403{ErrUnexpectedResponseCode: gophercloud.ErrUnexpectedResponseCode{Actual: http.StatusForbidden}}
}

func errInternal() error {
	return gophercloud.ErrDefault500{ErrUnexpectedResponseCode: gophercloud.ErrUnexpectedResponseCode{Actual: http.StatusInternalServerError}}
}

// fakeAPI is an in-memory OpenStack account.
type fakeAPI struct {
	mutex sync.Mutex

	servers      map[string]*servers.Server
	images       []images.Image
	snapshots    []snapshots.Snapshot
	flavors      []flavors.Flavor
	zones        []availabilityzones.AvailabilityZone
	networks     []networks.Network
	pools        []networks.Network
	keypairs     map[string]keypairs.KeyPair
	floatingIPs  map[string]*floatingips.FloatingIP
	networkFIPs  []netfips.FloatingIP
	volumeNames  map[string]string
	volumeDescs  map[string]string
	nextID       int
	lastCreation BootRequest

	// Status servers reach once created
	bootStatus string
	bootFault  servers.Fault
	// Attached volumes of created servers
	bootVolumes []servers.AttachedVolume

	createErr     error
	deleteErr     error
	allocateErr   error
	associateErr  error
	deallocateErr error
	listFIPsErr   error
	poolsErr      error

	deleteCalls     int
	deallocateCalls int
}

var _ API = (*fakeAPI)(nil)

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		servers:     map[string]*servers.Server{},
		keypairs:    map[string]keypairs.KeyPair{},
		floatingIPs: map[string]*floatingips.FloatingIP{},
		volumeNames: map[string]string{},
		volumeDescs: map[string]string{},
		bootStatus:  StatusActive,
	}
}

func (a *fakeAPI) id(prefix string) string {
	a.nextID += 1
	return fmt.Sprintf("%s-%d", prefix, a.nextID)
}

// addServer registers a server as if created by someone, returning its id.
func (a *fakeAPI) addServer(name, status string, metadata map[string]string) string {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	id := a.id("server")
	a.servers[id] = &servers.Server{ID: id, Name: name, Status: status, Metadata: metadata}
	return id
}

func (a *fakeAPI) setStatus(id, status string) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.servers[id].Status = status
}

func (a *fakeAPI) serverCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	count := 0
	for _, server := range a.servers {
		if server.Status != StatusDeleted {
			count += 1
		}
	}
	return count
}

func copyServer(server *servers.Server) *servers.Server {
	c := *server
	c.Metadata = maps.Clone(server.Metadata)
	return &c
}

func (a *fakeAPI) ListServers(opts servers.ListOpts) ([]servers.Server, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var result []servers.Server
	for _, server := range a.servers {
		// Nova matches names as regular expressions
		if opts.Name != "" && !strings.Contains(server.Name, opts.Name) {
			continue
		}
		result = append(result, *copyServer(server))
	}
	return result, nil
}

func (a *fakeAPI) GetServer(id string) (*servers.Server, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	server, found := a.servers[id]
	if !found {
		return nil, errNotFound()
	}
	return copyServer(server), nil
}

func (a *fakeAPI) CreateServer(req BootRequest) (*servers.Server, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.lastCreation = req
	if a.createErr != nil {
		return nil, a.createErr
	}

	id := a.id("server")
	server := &servers.Server{
		ID:              id,
		Name:            req.Name,
		Status:          a.bootStatus,
		Fault:           a.bootFault,
		Metadata:        maps.Clone(req.Metadata),
		AttachedVolumes: a.bootVolumes,
		Addresses: map[string]any{
			"private": []any{
				map[string]any{"addr": "fd00::10", "version": float64(6), "OS-EXT-IPS:type": "fixed"},
				map[string]any{"addr": "10.0.0.10", "version": float64(4), "OS-EXT-IPS:type": "fixed"},
			},
		},
	}
	a.servers[id] = server
	return copyServer(server), nil
}

func (a *fakeAPI) DeleteServer(id string) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.deleteCalls += 1
	if a.deleteErr != nil {
		return a.deleteErr
	}
	if _, found := a.servers[id]; !found {
		return errNotFound()
	}
	delete(a.servers, id)
	return nil
}

func (a *fakeAPI) ListImages(opts images.ListOpts) ([]images.Image, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var result []images.Image
	for _, image := range a.images {
		if opts.Name != "" && image.Name != opts.Name {
			continue
		}
		if opts.Status != "" && image.Status != opts.Status {
			continue
		}
		result = append(result, image)
	}
	return result, nil
}

func (a *fakeAPI) GetImage(id string) (*images.Image, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, image := range a.images {
		if image.ID == id {
			return &image, nil
		}
	}
	return nil, errNotFound()
}

func (a *fakeAPI) ListSnapshots() ([]snapshots.Snapshot, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return append([]snapshots.Snapshot(nil), a.snapshots...), nil
}

func (a *fakeAPI) GetSnapshot(id string) (*snapshots.Snapshot, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, snapshot := range a.snapshots {
		if snapshot.ID == id {
			return &snapshot, nil
		}
	}
	return nil, errNotFound()
}

func (a *fakeAPI) UpdateVolume(id, name, description string) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.volumeNames[id] = name
	a.volumeDescs[id] = description
	return nil
}

func (a *fakeAPI) ListFlavors() ([]flavors.Flavor, error) {
	return append([]flavors.Flavor(nil), a.flavors...), nil
}

func (a *fakeAPI) ListAvailabilityZones() ([]availabilityzones.AvailabilityZone, error) {
	return append([]availabilityzones.AvailabilityZone(nil), a.zones...), nil
}

func (a *fakeAPI) ListKeyPairs() ([]keypairs.KeyPair, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var result []keypairs.KeyPair
	for _, keypair := range a.keypairs {
		result = append(result, keypair)
	}
	return result, nil
}

func (a *fakeAPI) CreateKeyPair(name string) (*keypairs.KeyPair, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	keypair := keypairs.KeyPair{Name: name, PrivateKey: "not a key"}
	a.keypairs[name] = keypair
	return &keypair, nil
}

func (a *fakeAPI) DeleteKeyPair(name string) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if _, found := a.keypairs[name]; !found {
		return errNotFound()
	}
	delete(a.keypairs, name)
	return nil
}

func (a *fakeAPI) ListNetworks() ([]networks.Network, error) {
	return append([]networks.Network(nil), a.networks...), nil
}

func (a *fakeAPI) ListExternalNetworks() ([]networks.Network, error) {
	if a.poolsErr != nil {
		return nil, a.poolsErr
	}
	return append([]networks.Network(nil), a.pools...), nil
}

func (a *fakeAPI) ListFloatingIPs() ([]floatingips.FloatingIP, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.listFIPsErr != nil {
		return nil, a.listFIPsErr
	}
	var result []floatingips.FloatingIP
	for _, fip := range a.floatingIPs {
		result = append(result, *fip)
	}
	return result, nil
}

func (a *fakeAPI) AllocateFloatingIP(pool string) (*floatingips.FloatingIP, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.allocateErr != nil {
		return nil, a.allocateErr
	}
	id := a.id("fip")
	fip := &floatingips.FloatingIP{ID: id, IP: fmt.Sprintf("203.0.113.%d", a.nextID), Pool: pool}
	a.floatingIPs[id] = fip
	return fip, nil
}

func (a *fakeAPI) AssociateFloatingIP(serverID, address string) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.associateErr != nil {
		return a.associateErr
	}
	server, found := a.servers[serverID]
	if !found {
		return errNotFound()
	}
	for _, fip := range a.floatingIPs {
		if fip.IP == address {
			fip.InstanceID = serverID
		}
	}
	server.Addresses["private"] = append(server.Addresses["private"].([]any),
		map[string]any{"addr": address, "version": float64(4), "OS-EXT-IPS:type": "floating"})
	return nil
}

func (a *fakeAPI) DeallocateFloatingIP(id string) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.deallocateCalls += 1
	if a.deallocateErr != nil {
		return a.deallocateErr
	}
	if _, found := a.floatingIPs[id]; !found {
		return errNotFound()
	}
	delete(a.floatingIPs, id)
	return nil
}

func (a *fakeAPI) ListNetworkFloatingIPs() ([]netfips.FloatingIP, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return append([]netfips.FloatingIP(nil), a.networkFIPs...), nil
}

func (a *fakeAPI) DeleteNetworkFloatingIP(id string) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for i, fip := range a.networkFIPs {
		if fip.ID == id {
			a.networkFIPs = append(a.networkFIPs[:i], a.networkFIPs[i+1:]...)
			return nil
		}
	}
	return errNotFound()
}

const testFingerprint = "https://ci.example.com/"

func ours() map[string]string {
	return map[string]string{FingerprintKey: testFingerprint}
}

func newTestOpenstack(api API) *Openstack {
	return New(api, testFingerprint, WithLogger(silentLogger), WithPollInterval(time.Millisecond))
}
