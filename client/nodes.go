package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/gammadia/nimbus/client/ui"
	"github.com/gammadia/nimbus/provisioner/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the servers of the deployment that still hold resources",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := connect(cmd)
		if err != nil {
			return err
		}
		running, err := o.RunningNodes()
		if err != nil {
			return err
		}

		return render(cmd, table{
			header: []string{"NAME", "ID", "STATUS", "ADDRESS", "CREATED"},
			rows: lo.Map(running, func(server servers.Server, _ int) []string {
				return []string{server.Name, server.ID, server.Status, orDash(openstack.PublicAddress(&server)), timestamp(server.Created)}
			}),
			value: running,
		})
	},
}

var bootCmd = &cobra.Command{
	Use:   "boot NAME",
	Short: "Boot a server and wait for it to become active",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		image := lo.Must(flags.GetString("image"))
		snapshot := lo.Must(flags.GetString("volume-snapshot"))
		if (image == "") == (snapshot == "") {
			return errors.New("exactly one of --image and --volume-snapshot is required")
		}
		kind, name := lo.Ternary(image != "", openstack.BootSourceImage, openstack.BootSourceVolumeSnapshot), image+snapshot
		source, err := openstack.ParseBootSource(string(kind), name)
		if err != nil {
			return err
		}

		var userData []byte
		if path := lo.Must(flags.GetString("user-data")); path != "" {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read user data: %w", err)
			}
			userData, err = openstack.RenderUserData(string(content), openstack.UserDataVars{
				Node:        args[0],
				Fingerprint: lo.Must(flags.GetString("fingerprint")),
				Provisioner: "cli",
				Metadata:    lo.Must(flags.GetStringToString("metadata")),
			})
			if err != nil {
				return err
			}
		}

		o, err := connect(cmd)
		if err != nil {
			return err
		}

		req := openstack.BootRequest{
			Name:      args[0],
			FlavorRef: lo.Must(flags.GetString("flavor")),
			Networks: lo.Map(lo.Must(flags.GetStringSlice("network")), func(network string, _ int) servers.Network {
				return servers.Network{UUID: network}
			}),
			SecurityGroups:   lo.Must(flags.GetStringSlice("security-group")),
			AvailabilityZone: lo.Must(flags.GetString("availability-zone")),
			KeyName:          lo.Must(flags.GetString("key-name")),
			UserData:         userData,
			Metadata:         lo.Must(flags.GetStringToString("metadata")),
		}
		if err := source.Decorate(&req, o); err != nil {
			return err
		}

		spinner := ui.NewSpinner(fmt.Sprintf("Booting %s from %s", color.HiCyanString(req.Name), source))
		server, err := o.BootAndWaitActive(req, lo.Must(flags.GetDuration("timeout")))
		if err != nil {
			spinner.Fail()
			return err
		}
		if err := source.AfterProvisioning(server, o); err != nil {
			spinner.UpdateMessage(fmt.Sprintf("Failed to rename volumes: %s", err))
		}

		if pool := lo.Must(flags.GetString("floating-ip-pool")); pool == "" {
			spinner.Success(fmt.Sprintf("Server %s is active", color.HiCyanString(req.Name)))
		} else {
			spinner.UpdateMessage(fmt.Sprintf("Assigning floating IP to %s", color.HiCyanString(req.Name)))
			if _, err := o.AssignFloatingIP(server, pool); err != nil {
				spinner.Warn(fmt.Sprintf("Server %s is active but has no floating IP: %s", req.Name, err))
			} else if server, err = o.UpdateInfo(server); err != nil {
				spinner.Fail()
				return err
			} else {
				spinner.Success(fmt.Sprintf("Server %s is active", color.HiCyanString(req.Name)))
			}
		}

		return render(cmd, table{
			header: []string{"NAME", "ID", "STATUS", "ADDRESS"},
			rows:   [][]string{{server.Name, server.ID, server.Status, orDash(openstack.PublicAddress(server))}},
			value:  server,
		})
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy SERVER-ID...",
	Short: "Destroy servers and release their floating IPs",
	Args:  cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := connect(cmd)
		if err != nil {
			return err
		}

		var errs []error
		for _, id := range args {
			spinner := ui.NewSpinner(fmt.Sprintf("Destroying %s", color.HiCyanString(id)))

			server, err := o.ServerByID(id)
			if errors.Is(err, openstack.ErrServerNotFound) {
				spinner.Warn(fmt.Sprintf("Server %s is already gone", id))
				continue
			} else if err != nil {
				spinner.Fail()
				errs = append(errs, err)
				continue
			}

			if err := o.DestroyServer(server); err != nil {
				spinner.Fail()
				errs = append(errs, err)
				continue
			}
			spinner.Success(fmt.Sprintf("Destroyed %s (%s)", color.HiCyanString(server.Name), id))
		}
		return errors.Join(errs...)
	},
}

var fipCmd = &cobra.Command{
	Use:   "fip",
	Short: "Manage floating IPs",
}

var fipAssignCmd = &cobra.Command{
	Use:   "assign SERVER-ID",
	Short: "Allocate a floating IP and bind it to a server",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := connect(cmd)
		if err != nil {
			return err
		}
		server, err := o.ServerByID(args[0])
		if err != nil {
			return err
		}

		fip, err := o.AssignFloatingIP(server, lo.Must(cmd.Flags().GetString("pool")))
		if err != nil {
			return err
		}
		return render(cmd, table{
			header: []string{"ID", "IP", "POOL", "SERVER"},
			rows:   [][]string{{fip.ID, fip.IP, fip.Pool, server.Name}},
			value:  fip,
		})
	},
}

var fipFreeCmd = &cobra.Command{
	Use:   "free",
	Short: "List floating IPs bound to nothing",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := connect(cmd)
		if err != nil {
			return err
		}
		free, err := o.FreeFloatingIPIDs()
		if err != nil {
			return err
		}

		ids := names(free)
		ids.header = []string{"ID"}
		return render(cmd, ids)
	},
}

var fipReleaseCmd = &cobra.Command{
	Use:   "release FLOATING-IP-ID...",
	Short: "Release floating IPs",
	Args:  cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := connect(cmd)
		if err != nil {
			return err
		}

		var errs []error
		for _, id := range args {
			if err := o.DestroyFloatingIP(id); err != nil {
				errs = append(errs, err)
				continue
			}
			cmd.Printf("%s %s\n", color.HiGreenString("✓"), id)
		}
		return errors.Join(errs...)
	},
}

func init() {
	flags := bootCmd.Flags()
	flags.String("image", "", "image to boot from, by name or id")
	flags.String("volume-snapshot", "", "volume snapshot to boot from, by name or id")
	flags.String("flavor", "", "flavor of the server")
	flags.StringSlice("network", nil, "network to attach the server to")
	flags.StringSlice("security-group", nil, "security group of the server")
	flags.String("availability-zone", "", "availability zone of the server")
	flags.String("key-name", "", "key pair injected into the server")
	flags.String("user-data", "", "file holding the user data template")
	flags.StringToString("metadata", nil, "extra metadata set on the server")
	flags.String("floating-ip-pool", "", "assign a floating IP from that pool once active")
	flags.Duration("timeout", 5*time.Minute, "how long to wait for the server to become active")
	lo.Must0(bootCmd.MarkFlagRequired("flavor"))

	fipAssignCmd.Flags().String("pool", "", "pool to allocate from (provider default when empty)")

	fipCmd.AddCommand(fipAssignCmd)
	fipCmd.AddCommand(fipFreeCmd)
	fipCmd.AddCommand(fipReleaseCmd)

	completions := map[string]completionFunc{
		"image":             completeWith((*openstack.Openstack).ImageNames),
		"volume-snapshot":   completeWith((*openstack.Openstack).VolumeSnapshotNames),
		"flavor":            completeWith(flavorIDs),
		"network":           completeWith(networkIDs),
		"availability-zone": completeWith(zoneNames),
		"key-name":          completeWith((*openstack.Openstack).SortedKeyPairNames),
		"floating-ip-pool":  completeWith((*openstack.Openstack).SortedIPPools),
	}
	for flag, complete := range completions {
		lo.Must0(bootCmd.RegisterFlagCompletionFunc(flag, complete))
	}
	lo.Must0(fipAssignCmd.RegisterFlagCompletionFunc("pool", completions["floating-ip-pool"]))

	destroyCmd.ValidArgsFunction = completeWith(serverIDs)
	fipAssignCmd.ValidArgsFunction = completeWith(serverIDs)
	fipReleaseCmd.ValidArgsFunction = completeWith((*openstack.Openstack).FreeFloatingIPIDs)
}
