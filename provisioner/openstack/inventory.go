package openstack

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/gophercloud/gophercloud/openstack/blockstorage/v3/snapshots"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/availabilityzones"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/openstack/imageservice/v2/images"
	netfips "github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/layer3/floatingips"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/networks"
	"github.com/samber/lo"
)

const snapshotStatusAvailable = "available"

var idPattern = regexp.MustCompile(`^[0-9a-f-]{36}$`)

func compareFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func imageLabel(image images.Image) string {
	return lo.Ternary(image.Name == "", image.ID, image.Name)
}

func compareImageAge(a, b images.Image) int {
	return cmp.Or(
		a.UpdatedAt.Compare(b.UpdatedAt),
		a.CreatedAt.Compare(b.CreatedAt),
		strings.Compare(a.ID, b.ID),
	)
}

func snapshotLabel(snapshot snapshots.Snapshot) string {
	return lo.Ternary(snapshot.Name == "", snapshot.ID, snapshot.Name)
}

func compareSnapshotAge(a, b snapshots.Snapshot) int {
	return cmp.Or(
		a.CreatedAt.Compare(b.CreatedAt),
		strings.Compare(a.ID, b.ID),
	)
}

// distinctFold keeps the first spelling of every label, compared case-insensitively.
func distinctFold(labels []string) []string {
	return lo.UniqBy(labels, strings.ToLower)
}

// Images lists all images sorted by name, then from oldest to most recent.
func (o *Openstack) Images() ([]images.Image, error) {
	all, err := o.api.ListImages(images.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	slices.SortStableFunc(all, func(a, b images.Image) int {
		return cmp.Or(compareFold(imageLabel(a), imageLabel(b)), compareImageAge(a, b))
	})
	return all, nil
}

func (o *Openstack) ImageNames() ([]string, error) {
	all, err := o.Images()
	if err != nil {
		return nil, err
	}
	return distinctFold(lo.Map(all, func(image images.Image, _ int) string { return imageLabel(image) })), nil
}

// ImageIDsFor resolves a name or id to the ids of active images, oldest first.
func (o *Openstack) ImageIDsFor(nameOrID string) ([]string, error) {
	found, err := o.api.ListImages(images.ListOpts{Name: nameOrID, Status: images.ImageStatusActive})
	if err != nil {
		return nil, fmt.Errorf("failed to list images named '%s': %w", nameOrID, err)
	}

	if idPattern.MatchString(nameOrID) {
		image, err := o.api.GetImage(nameOrID)
		switch {
		case err == nil:
			if image.Status == images.ImageStatusActive {
				found = append(found, *image)
			}
		case !isNotFound(err):
			return nil, fmt.Errorf("failed to get image '%s': %w", nameOrID, err)
		}
	}

	found = lo.UniqBy(found, func(image images.Image) string { return image.ID })
	slices.SortStableFunc(found, compareImageAge)
	return lo.Map(found, func(image images.Image, _ int) string { return image.ID }), nil
}

// VolumeSnapshots lists available snapshots sorted by name, then from oldest to most recent.
func (o *Openstack) VolumeSnapshots() ([]snapshots.Snapshot, error) {
	all, err := o.api.ListSnapshots()
	if err != nil {
		return nil, fmt.Errorf("failed to list volume snapshots: %w", err)
	}

	available := lo.Filter(all, func(snapshot snapshots.Snapshot, _ int) bool {
		return strings.EqualFold(snapshot.Status, snapshotStatusAvailable)
	})
	slices.SortStableFunc(available, func(a, b snapshots.Snapshot) int {
		return cmp.Or(compareFold(snapshotLabel(a), snapshotLabel(b)), compareSnapshotAge(a, b))
	})
	return available, nil
}

func (o *Openstack) VolumeSnapshotNames() ([]string, error) {
	all, err := o.VolumeSnapshots()
	if err != nil {
		return nil, err
	}
	return distinctFold(lo.Map(all, func(snapshot snapshots.Snapshot, _ int) string { return snapshotLabel(snapshot) })), nil
}

// VolumeSnapshotIDsFor resolves a name or id to the ids of available snapshots, oldest first.
// Block storage cannot filter by name, so names are matched case-insensitively here.
func (o *Openstack) VolumeSnapshotIDsFor(nameOrID string) ([]string, error) {
	all, err := o.api.ListSnapshots()
	if err != nil {
		return nil, fmt.Errorf("failed to list volume snapshots: %w", err)
	}

	found := lo.Filter(all, func(snapshot snapshots.Snapshot, _ int) bool {
		return strings.EqualFold(snapshot.Status, snapshotStatusAvailable) && strings.EqualFold(snapshot.Name, nameOrID)
	})

	if idPattern.MatchString(nameOrID) {
		snapshot, err := o.api.GetSnapshot(nameOrID)
		switch {
		case err == nil:
			if strings.EqualFold(snapshot.Status, snapshotStatusAvailable) {
				found = append(found, *snapshot)
			}
		case !isNotFound(err):
			return nil, fmt.Errorf("failed to get volume snapshot '%s': %w", nameOrID, err)
		}
	}

	found = lo.UniqBy(found, func(snapshot snapshots.Snapshot) string { return snapshot.ID })
	slices.SortStableFunc(found, compareSnapshotAge)
	return lo.Map(found, func(snapshot snapshots.Snapshot, _ int) string { return snapshot.ID }), nil
}

func (o *Openstack) SortedFlavors() ([]flavors.Flavor, error) {
	all, err := o.api.ListFlavors()
	if err != nil {
		return nil, fmt.Errorf("failed to list flavors: %w", err)
	}
	slices.SortStableFunc(all, func(a, b flavors.Flavor) int {
		return cmp.Or(compareFold(a.Name, b.Name), strings.Compare(a.ID, b.ID))
	})
	return all, nil
}

func (o *Openstack) SortedNetworks() ([]networks.Network, error) {
	all, err := o.api.ListNetworks()
	if err != nil {
		return nil, fmt.Errorf("failed to list networks: %w", err)
	}
	slices.SortStableFunc(all, func(a, b networks.Network) int {
		return cmp.Or(compareFold(a.Name, b.Name), strings.Compare(a.ID, b.ID))
	})
	return all, nil
}

// SortedIPPools lists the names of the external networks usable as floating IP pools.
// Accounts not allowed to see them get an empty list.
func (o *Openstack) SortedIPPools() ([]string, error) {
	all, err := o.api.ListExternalNetworks()
	if err != nil {
		if isForbidden(err) {
			o.log.Debug("Not allowed to list floating IP pools", "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list floating IP pools: %w", err)
	}

	names := lo.Map(all, func(network networks.Network, _ int) string { return network.Name })
	slices.SortStableFunc(names, compareFold)
	return names, nil
}

func (o *Openstack) AvailabilityZones() ([]availabilityzones.AvailabilityZone, error) {
	all, err := o.api.ListAvailabilityZones()
	if err != nil {
		return nil, fmt.Errorf("failed to list availability zones: %w", err)
	}
	slices.SortStableFunc(all, func(a, b availabilityzones.AvailabilityZone) int {
		return compareFold(a.ZoneName, b.ZoneName)
	})
	return all, nil
}

func (o *Openstack) SortedKeyPairNames() ([]string, error) {
	all, err := o.api.ListKeyPairs()
	if err != nil {
		return nil, fmt.Errorf("failed to list key pairs: %w", err)
	}
	names := lo.Map(all, func(keyPair keypairs.KeyPair, _ int) string { return keyPair.Name })
	slices.SortStableFunc(names, compareFold)
	return names, nil
}

// FreeFloatingIPIDs lists the network floating IPs not bound to any port.
func (o *Openstack) FreeFloatingIPIDs() ([]string, error) {
	all, err := o.api.ListNetworkFloatingIPs()
	if err != nil {
		return nil, fmt.Errorf("failed to list floating IPs: %w", err)
	}
	free := lo.Filter(all, func(fip netfips.FloatingIP, _ int) bool { return fip.PortID == "" })
	return lo.Map(free, func(fip netfips.FloatingIP, _ int) string { return fip.ID }), nil
}

// RunningNodes lists the servers of this deployment that still hold resources.
func (o *Openstack) RunningNodes() ([]servers.Server, error) {
	all, err := o.api.ListServers(servers.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	return lo.Filter(all, func(server servers.Server, _ int) bool {
		return o.isOccupied(server) && o.isOurs(server)
	}), nil
}

// ServersByName lists the servers of this deployment with exactly that name.
func (o *Openstack) ServersByName(name string) ([]servers.Server, error) {
	all, err := o.api.ListServers(servers.ListOpts{Name: name})
	if err != nil {
		return nil, fmt.Errorf("failed to list servers named '%s': %w", name, err)
	}
	return lo.Filter(all, func(server servers.Server, _ int) bool {
		return server.Name == name && o.isOurs(server)
	}), nil
}

// ServerByID fetches any server of the account, wrapping ErrServerNotFound when it does not exist.
func (o *Openstack) ServerByID(id string) (*servers.Server, error) {
	server, err := o.api.GetServer(id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: '%s'", ErrServerNotFound, id)
		}
		return nil, fmt.Errorf("failed to get server '%s': %w", id, err)
	}
	return server, nil
}

// UpdateInfo fetches the current state of server.
func (o *Openstack) UpdateInfo(server *servers.Server) (*servers.Server, error) {
	return o.ServerByID(server.ID)
}

// SanityCheck makes sure the compute, image and network endpoints answer.
func (o *Openstack) SanityCheck() error {
	if _, err := o.api.ListServers(servers.ListOpts{}); err != nil {
		return fmt.Errorf("failed to reach compute service: %w", err)
	}
	if _, err := o.api.ListImages(images.ListOpts{Status: images.ImageStatusActive}); err != nil {
		return fmt.Errorf("failed to reach image service: %w", err)
	}
	if _, err := o.api.ListNetworks(); err != nil {
		return fmt.Errorf("failed to reach network service: %w", err)
	}
	return nil
}
