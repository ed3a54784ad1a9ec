package openstack

import (
	"fmt"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/blockstorage/v3/snapshots"
	"github.com/gophercloud/gophercloud/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/availabilityzones"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/floatingips"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/openstack/imageservice/v2/images"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/external"
	netfips "github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/layer3/floatingips"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/networks"
	"github.com/gophercloud/gophercloud/pagination"
)

// API is the subset of the OpenStack services nimbus talks to.
// Implementations return gophercloud errors untouched so callers can classify them.
type API interface {
	ListServers(opts servers.ListOpts) ([]servers.Server, error)
	GetServer(id string) (*servers.Server, error)
	CreateServer(req BootRequest) (*servers.Server, error)
	DeleteServer(id string) error

	ListImages(opts images.ListOpts) ([]images.Image, error)
	GetImage(id string) (*images.Image, error)

	ListSnapshots() ([]snapshots.Snapshot, error)
	GetSnapshot(id string) (*snapshots.Snapshot, error)
	UpdateVolume(id, name, description string) error

	ListFlavors() ([]flavors.Flavor, error)
	ListAvailabilityZones() ([]availabilityzones.AvailabilityZone, error)

	ListKeyPairs() ([]keypairs.KeyPair, error)
	CreateKeyPair(name string) (*keypairs.KeyPair, error)
	DeleteKeyPair(name string) error

	ListNetworks() ([]networks.Network, error)
	ListExternalNetworks() ([]networks.Network, error)

	ListFloatingIPs() ([]floatingips.FloatingIP, error)
	AllocateFloatingIP(pool string) (*floatingips.FloatingIP, error)
	AssociateFloatingIP(serverID, address string) error
	DeallocateFloatingIP(id string) error

	ListNetworkFloatingIPs() ([]netfips.FloatingIP, error)
	DeleteNetworkFloatingIP(id string) error
}

// gopherAPI implements API on top of the session cache.
// Every call takes the current session from the cache, so expired sessions are replaced
// and a session the provider rejects is evicted.
type gopherAPI struct {
	cache *SessionCache
	creds Credentials
}

var _ API = (*gopherAPI)(nil)

func NewAPI(cache *SessionCache, creds Credentials) API {
	return &gopherAPI{cache: cache, creds: creds}
}

func (a *gopherAPI) provider() (*gophercloud.ProviderClient, error) {
	session, err := a.cache.Get(a.creds)
	if err != nil {
		return nil, err
	}
	return session.Current(), nil
}

// observe evicts the cached session when the provider no longer accepts its token.
func (a *gopherAPI) observe(err error) error {
	if isUnauthorized(err) {
		a.cache.Invalidate(a.creds)
	}
	return err
}

func (a *gopherAPI) endpoint() gophercloud.EndpointOpts {
	return gophercloud.EndpointOpts{Region: a.creds.Region}
}

func (a *gopherAPI) compute() (*gophercloud.ServiceClient, error) {
	provider, err := a.provider()
	if err != nil {
		return nil, err
	}
	client, err := openstack.NewComputeV2(provider, a.endpoint())
	if err != nil {
		return nil, fmt.Errorf("failed to get compute client: %w", err)
	}
	return client, nil
}

func (a *gopherAPI) image() (*gophercloud.ServiceClient, error) {
	provider, err := a.provider()
	if err != nil {
		return nil, err
	}
	client, err := openstack.NewImageServiceV2(provider, a.endpoint())
	if err != nil {
		return nil, fmt.Errorf("failed to get image client: %w", err)
	}
	return client, nil
}

func (a *gopherAPI) blockStorage() (*gophercloud.ServiceClient, error) {
	provider, err := a.provider()
	if err != nil {
		return nil, err
	}
	client, err := openstack.NewBlockStorageV3(provider, a.endpoint())
	if err != nil {
		return nil, fmt.Errorf("failed to get block storage client: %w", err)
	}
	return client, nil
}

func (a *gopherAPI) network() (*gophercloud.ServiceClient, error) {
	provider, err := a.provider()
	if err != nil {
		return nil, err
	}
	client, err := openstack.NewNetworkV2(provider, a.endpoint())
	if err != nil {
		return nil, fmt.Errorf("failed to get network client: %w", err)
	}
	return client, nil
}

func (a *gopherAPI) ListServers(opts servers.ListOpts) ([]servers.Server, error) {
	client, err := a.compute()
	if err != nil {
		return nil, err
	}
	result, err := extractAll(servers.List(client, opts), servers.ExtractServers)
	return result, a.observe(err)
}

func (a *gopherAPI) GetServer(id string) (*servers.Server, error) {
	client, err := a.compute()
	if err != nil {
		return nil, err
	}
	result, err := servers.Get(client, id).Extract()
	return result, a.observe(err)
}

func (a *gopherAPI) CreateServer(req BootRequest) (*servers.Server, error) {
	client, err := a.compute()
	if err != nil {
		return nil, err
	}
	result, err := servers.Create(client, req.createOpts()).Extract()
	return result, a.observe(err)
}

func (a *gopherAPI) DeleteServer(id string) error {
	client, err := a.compute()
	if err != nil {
		return err
	}
	return a.observe(servers.Delete(client, id).ExtractErr())
}

func (a *gopherAPI) ListImages(opts images.ListOpts) ([]images.Image, error) {
	client, err := a.image()
	if err != nil {
		return nil, err
	}
	result, err := extractAll(images.List(client, opts), images.ExtractImages)
	return result, a.observe(err)
}

func (a *gopherAPI) GetImage(id string) (*images.Image, error) {
	client, err := a.image()
	if err != nil {
		return nil, err
	}
	result, err := images.Get(client, id).Extract()
	return result, a.observe(err)
}

func (a *gopherAPI) ListSnapshots() ([]snapshots.Snapshot, error) {
	client, err := a.blockStorage()
	if err != nil {
		return nil, err
	}
	result, err := extractAll(snapshots.List(client, snapshots.ListOpts{}), snapshots.ExtractSnapshots)
	return result, a.observe(err)
}

func (a *gopherAPI) GetSnapshot(id string) (*snapshots.Snapshot, error) {
	client, err := a.blockStorage()
	if err != nil {
		return nil, err
	}
	result, err := snapshots.Get(client, id).Extract()
	return result, a.observe(err)
}

func (a *gopherAPI) UpdateVolume(id, name, description string) error {
	client, err := a.blockStorage()
	if err != nil {
		return err
	}
	_, err = volumes.Update(client, id, volumes.UpdateOpts{Name: &name, Description: &description}).Extract()
	return a.observe(err)
}

func (a *gopherAPI) ListFlavors() ([]flavors.Flavor, error) {
	client, err := a.compute()
	if err != nil {
		return nil, err
	}
	result, err := extractAll(flavors.ListDetail(client, flavors.ListOpts{}), flavors.ExtractFlavors)
	return result, a.observe(err)
}

func (a *gopherAPI) ListAvailabilityZones() ([]availabilityzones.AvailabilityZone, error) {
	client, err := a.compute()
	if err != nil {
		return nil, err
	}
	result, err := extractAll(availabilityzones.List(client), availabilityzones.ExtractAvailabilityZones)
	return result, a.observe(err)
}

func (a *gopherAPI) ListKeyPairs() ([]keypairs.KeyPair, error) {
	client, err := a.compute()
	if err != nil {
		return nil, err
	}
	result, err := extractAll(keypairs.List(client, nil), keypairs.ExtractKeyPairs)
	return result, a.observe(err)
}

func (a *gopherAPI) CreateKeyPair(name string) (*keypairs.KeyPair, error) {
	client, err := a.compute()
	if err != nil {
		return nil, err
	}
	result, err := keypairs.Create(client, keypairs.CreateOpts{Name: name}).Extract()
	return result, a.observe(err)
}

func (a *gopherAPI) DeleteKeyPair(name string) error {
	client, err := a.compute()
	if err != nil {
		return err
	}
	return a.observe(keypairs.Delete(client, name, nil).ExtractErr())
}

func (a *gopherAPI) ListNetworks() ([]networks.Network, error) {
	client, err := a.network()
	if err != nil {
		return nil, err
	}
	result, err := extractAll(networks.List(client, networks.ListOpts{}), networks.ExtractNetworks)
	return result, a.observe(err)
}

func (a *gopherAPI) ListExternalNetworks() ([]networks.Network, error) {
	client, err := a.network()
	if err != nil {
		return nil, err
	}
	isExternal := true
	opts := external.ListOptsExt{ListOptsBuilder: networks.ListOpts{}, External: &isExternal}
	result, err := extractAll(networks.List(client, opts), networks.ExtractNetworks)
	return result, a.observe(err)
}

func (a *gopherAPI) ListFloatingIPs() ([]floatingips.FloatingIP, error) {
	client, err := a.compute()
	if err != nil {
		return nil, err
	}
	result, err := extractAll(floatingips.List(client), floatingips.ExtractFloatingIPs)
	return result, a.observe(err)
}

func (a *gopherAPI) AllocateFloatingIP(pool string) (*floatingips.FloatingIP, error) {
	client, err := a.compute()
	if err != nil {
		return nil, err
	}
	result, err := floatingips.Create(client, floatingips.CreateOpts{Pool: pool}).Extract()
	return result, a.observe(err)
}

func (a *gopherAPI) AssociateFloatingIP(serverID, address string) error {
	client, err := a.compute()
	if err != nil {
		return err
	}
	return a.observe(floatingips.AssociateInstance(client, serverID, floatingips.AssociateOpts{FloatingIP: address}).ExtractErr())
}

func (a *gopherAPI) DeallocateFloatingIP(id string) error {
	client, err := a.compute()
	if err != nil {
		return err
	}
	return a.observe(floatingips.Delete(client, id).ExtractErr())
}

func (a *gopherAPI) ListNetworkFloatingIPs() ([]netfips.FloatingIP, error) {
	client, err := a.network()
	if err != nil {
		return nil, err
	}
	result, err := extractAll(netfips.List(client, netfips.ListOpts{}), netfips.ExtractFloatingIPs)
	return result, a.observe(err)
}

func (a *gopherAPI) DeleteNetworkFloatingIP(id string) error {
	client, err := a.network()
	if err != nil {
		return err
	}
	return a.observe(netfips.Delete(client, id).ExtractErr())
}

func extractAll[T any](pager pagination.Pager, extract func(pagination.Page) ([]T, error)) ([]T, error) {
	page, err := pager.AllPages()
	if err != nil {
		return nil, err
	}
	return extract(page)
}
