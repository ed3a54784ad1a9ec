package main

import (
	"strconv"
	"time"

	"github.com/gammadia/nimbus/provisioner/openstack"
	"github.com/gophercloud/gophercloud/openstack/blockstorage/v3/snapshots"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/availabilityzones"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/imageservice/v2/images"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/networks"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Truncate(time.Second).Format(time.DateTime)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List images, oldest first within a name",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := connect(cmd)
		if err != nil {
			return err
		}
		all, err := o.Images()
		if err != nil {
			return err
		}

		return render(cmd, table{
			header: []string{"ID", "NAME", "STATUS", "UPDATED"},
			rows: lo.Map(all, func(image images.Image, _ int) []string {
				return []string{image.ID, image.Name, string(image.Status), timestamp(image.UpdatedAt)}
			}),
			value: all,
		})
	},
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List available volume snapshots, oldest first within a name",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := connect(cmd)
		if err != nil {
			return err
		}
		all, err := o.VolumeSnapshots()
		if err != nil {
			return err
		}

		return render(cmd, table{
			header: []string{"ID", "NAME", "SIZE", "CREATED"},
			rows: lo.Map(all, func(snapshot snapshots.Snapshot, _ int) []string {
				return []string{snapshot.ID, snapshot.Name, strconv.Itoa(snapshot.Size) + "G", timestamp(snapshot.CreatedAt)}
			}),
			value: all,
		})
	},
}

var flavorsCmd = &cobra.Command{
	Use:   "flavors",
	Short: "List flavors",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := connect(cmd)
		if err != nil {
			return err
		}
		all, err := o.SortedFlavors()
		if err != nil {
			return err
		}

		return render(cmd, table{
			header: []string{"ID", "NAME", "VCPUS", "RAM", "DISK"},
			rows: lo.Map(all, func(flavor flavors.Flavor, _ int) []string {
				return []string{flavor.ID, flavor.Name, strconv.Itoa(flavor.VCPUs), strconv.Itoa(flavor.RAM) + "M", strconv.Itoa(flavor.Disk) + "G"}
			}),
			value: all,
		})
	},
}

var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List networks",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := connect(cmd)
		if err != nil {
			return err
		}
		all, err := o.SortedNetworks()
		if err != nil {
			return err
		}

		return render(cmd, table{
			header: []string{"ID", "NAME", "STATUS"},
			rows: lo.Map(all, func(network networks.Network, _ int) []string {
				return []string{network.ID, network.Name, network.Status}
			}),
			value: all,
		})
	},
}

var poolsCmd = &cobra.Command{
	Use:   "pools",
	Short: "List floating IP pools",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := connect(cmd)
		if err != nil {
			return err
		}
		pools, err := o.SortedIPPools()
		if err != nil {
			return err
		}
		return render(cmd, names(pools))
	},
}

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "List availability zones",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := connect(cmd)
		if err != nil {
			return err
		}
		all, err := o.AvailabilityZones()
		if err != nil {
			return err
		}

		return render(cmd, table{
			header: []string{"NAME", "AVAILABLE"},
			rows: lo.Map(all, func(zone availabilityzones.AvailabilityZone, _ int) []string {
				return []string{zone.ZoneName, strconv.FormatBool(zone.ZoneState.Available)}
			}),
			value: all,
		})
	},
}

var keypairsCmd = &cobra.Command{
	Use:   "keypairs",
	Short: "List key pairs",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := connect(cmd)
		if err != nil {
			return err
		}
		keypairs, err := o.SortedKeyPairNames()
		if err != nil {
			return err
		}
		return render(cmd, names(keypairs))
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve (image|volume-snapshot) NAME-OR-ID",
	Short: "Show the ids a boot source resolves to, the one used for booting last",
	Args:  cobra.ExactArgs(2),

	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := openstack.ParseBootSource(args[0], args[1])
		if err != nil {
			return err
		}

		o, err := connect(cmd)
		if err != nil {
			return err
		}
		ids, err := source.ResolveIDs(o)
		if err != nil {
			return err
		}

		resolved := names(ids)
		resolved.header = []string{"ID"}
		return render(cmd, resolved)
	},
}
