package openstack

import (
	"errors"
	"fmt"

	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/bootfromvolume"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
)

type BootSourceKind string

const (
	BootSourceImage          BootSourceKind = "image"
	BootSourceVolumeSnapshot BootSourceKind = "volume-snapshot"
)

// BootSource is what a server boots from: an image or a volume snapshot, by name or id.
type BootSource struct {
	Kind BootSourceKind
	Name string
}

func ParseBootSource(kind, name string) (BootSource, error) {
	source := BootSource{Kind: BootSourceKind(kind), Name: name}
	switch source.Kind {
	case BootSourceImage, BootSourceVolumeSnapshot:
	default:
		return BootSource{}, fmt.Errorf("unknown boot source kind '%s'", kind)
	}
	if name == "" {
		return BootSource{}, fmt.Errorf("no %s specified", kind)
	}
	return source, nil
}

func (b BootSource) String() string {
	return fmt.Sprintf("%s '%s'", b.Kind, b.Name)
}

// ResolveIDs returns the ids matching the boot source, oldest first.
func (b BootSource) ResolveIDs(o *Openstack) ([]string, error) {
	switch b.Kind {
	case BootSourceImage:
		return o.ImageIDsFor(b.Name)
	case BootSourceVolumeSnapshot:
		return o.VolumeSnapshotIDsFor(b.Name)
	default:
		return nil, fmt.Errorf("unknown boot source kind '%s'", b.Kind)
	}
}

// Decorate points req at the most recent match of the boot source.
func (b BootSource) Decorate(req *BootRequest, o *Openstack) error {
	id, err := b.selectID(o, req.Name)
	if err != nil {
		return err
	}

	switch b.Kind {
	case BootSourceImage:
		req.ImageRef = id
	case BootSourceVolumeSnapshot:
		req.ImageRef = ""
		req.BlockDevices = append(req.BlockDevices, bootfromvolume.BlockDevice{
			SourceType:          bootfromvolume.SourceSnapshot,
			DestinationType:     bootfromvolume.DestinationVolume,
			UUID:                id,
			BootIndex:           0,
			DeleteOnTermination: true,
		})
	}
	return nil
}

func (b BootSource) selectID(o *Openstack, server string) (string, error) {
	ids, err := b.ResolveIDs(o)
	if err != nil {
		return "", &ProvisioningFailedError{Server: server, Msg: fmt.Sprintf("failed to resolve %s", b), Err: err}
	}

	switch len(ids) {
	case 0:
		return "", &ProvisioningFailedError{Server: server, Msg: fmt.Sprintf("no %s found", b)}
	case 1:
		return ids[0], nil
	default:
		selected := ids[len(ids)-1]
		o.log.Warn("Ambiguous boot source, using the most recent match", "source", b.String(), "matches", ids, "selected", selected)
		return selected, nil
	}
}

// AfterProvisioning gives the volumes created from a snapshot a name tied to their server.
func (b BootSource) AfterProvisioning(server *servers.Server, o *Openstack) error {
	if b.Kind != BootSourceVolumeSnapshot {
		return nil
	}

	var errs []error
	for i, volume := range server.AttachedVolumes {
		name := fmt.Sprintf("%s[%d]", server.Name, i)
		description := fmt.Sprintf("For %s (%s), from VolumeSnapshot %s.", server.Name, server.ID, b.Name)
		if err := o.api.UpdateVolume(volume.ID, name, description); err != nil {
			errs = append(errs, &ActionFailedError{Msg: fmt.Sprintf("failed to rename volume '%s' of server '%s'", volume.ID, server.Name), Err: err})
			continue
		}
		o.log.Debug("Renamed volume", "server", server.Name, "volume", volume.ID, "name", name)
	}
	return errors.Join(errs...)
}
