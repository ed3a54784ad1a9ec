package main

import (
	"github.com/gammadia/nimbus/provisioner/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/availabilityzones"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/networks"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish]",
	Short: "Generate shell completion scripts",
}

var completionBashCmd = &cobra.Command{
	Use:   "bash",
	Short: "Generate bash completion script",
	RunE: func(cmd *cobra.Command, args []string) error {
		return nimbusCmd.GenBashCompletionV2(cmd.OutOrStdout(), true)
	},
}

var completionZshCmd = &cobra.Command{
	Use:   "zsh",
	Short: "Generate zsh completion script",
	RunE: func(cmd *cobra.Command, args []string) error {
		return nimbusCmd.GenZshCompletion(cmd.OutOrStdout())
	},
}

var completionFishCmd = &cobra.Command{
	Use:   "fish",
	Short: "Generate fish completion script",
	RunE: func(cmd *cobra.Command, args []string) error {
		return nimbusCmd.GenFishCompletion(cmd.OutOrStdout(), true)
	},
}

type completionFunc = func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective)

// completeWith offers the labels listed by the provider. Completion never prompts for a secret.
func completeWith(list func(o *openstack.Openstack) ([]string, error)) completionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		o, err := connectNonInteractive(cmd)
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		labels, err := list(o)
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		return labels, cobra.ShellCompDirectiveNoFileComp
	}
}

func flavorIDs(o *openstack.Openstack) ([]string, error) {
	list, err := o.SortedFlavors()
	return lo.Map(list, func(flavor flavors.Flavor, _ int) string {
		return flavor.ID + "\t" + flavor.Name
	}), err
}

func networkIDs(o *openstack.Openstack) ([]string, error) {
	list, err := o.SortedNetworks()
	return lo.Map(list, func(network networks.Network, _ int) string {
		return network.ID + "\t" + network.Name
	}), err
}

func zoneNames(o *openstack.Openstack) ([]string, error) {
	list, err := o.AvailabilityZones()
	return lo.Map(list, func(zone availabilityzones.AvailabilityZone, _ int) string {
		return zone.ZoneName
	}), err
}

func serverIDs(o *openstack.Openstack) ([]string, error) {
	list, err := o.RunningNodes()
	return lo.Map(list, func(server servers.Server, _ int) string {
		return server.ID + "\t" + server.Name
	}), err
}

func init() {
	completionCmd.AddCommand(completionBashCmd, completionZshCmd, completionFishCmd)
}
