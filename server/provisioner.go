package main

import (
	"fmt"
	"os"

	"github.com/gammadia/nimbus/provisioner/openstack"
	"github.com/gammadia/nimbus/server/flags"
	"github.com/gammadia/nimbus/server/log"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

func createProvisioner(fingerprint string) (*openstack.Provisioner, error) {
	logger := log.Component("openstack")

	cache, err := openstack.NewSessionCache(openstack.NewSession, logger)
	if err != nil {
		return nil, err
	}

	creds := openstack.Credentials{
		Endpoint: viper.GetString(flags.OpenstackEndpoint),
		Identity: viper.GetString(flags.OpenstackIdentity),
		Secret:   viper.GetString(flags.OpenstackCredential),
		Region:   viper.GetString(flags.OpenstackRegion),
	}
	log.Info("Connecting to OpenStack", "credentials", creds)

	o, err := openstack.Connect(cache, creds, fingerprint,
		openstack.WithLogger(logger),
		openstack.WithPollInterval(viper.GetDuration(flags.OpenstackPollInterval)),
	)
	if err != nil {
		return nil, err
	}
	if err := o.SanityCheck(); err != nil {
		return nil, err
	}
	log.Debug("OpenStack session established", "expires-at", o.ExpiresAt())

	source, err := bootSource()
	if err != nil {
		return nil, err
	}

	var userData string
	if path := viper.GetString(flags.OpenstackUserData); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read user data: %w", err)
		}
		userData = string(content)
	}

	return openstack.NewProvisioner(o, openstack.Config{
		Logger: logger,

		BootSource: source,
		Flavor:     viper.GetString(flags.OpenstackFlavor),
		Networks: lo.Map(viper.GetStringSlice(flags.OpenstackNetworks), func(network string, _ int) servers.Network {
			return servers.Network{UUID: network}
		}),
		SecurityGroups:   viper.GetStringSlice(flags.OpenstackSecurityGroups),
		AvailabilityZone: viper.GetString(flags.OpenstackAvailabilityZone),
		Metadata:         viper.GetStringMapString(flags.OpenstackMetadata),
		UserData:         userData,
		BootTimeout:      viper.GetDuration(flags.OpenstackBootTimeout),

		FloatingIPPool:         viper.GetString(flags.OpenstackFloatingIPPool),
		ReleaseFreeFloatingIPs: viper.GetBool(flags.OpenstackReleaseFreeFloatingIPs),

		SshUsername: viper.GetString(flags.OpenstackSshUsername),
		SshTimeout:  viper.GetDuration(flags.OpenstackSshTimeout),
		Workspace:   viper.GetString(flags.OpenstackWorkspace),
	})
}

func bootSource() (openstack.BootSource, error) {
	image := viper.GetString(flags.OpenstackImage)
	snapshot := viper.GetString(flags.OpenstackVolumeSnapshot)

	switch {
	case image != "" && snapshot != "":
		return openstack.BootSource{}, fmt.Errorf("--%s and --%s are mutually exclusive", flags.OpenstackImage, flags.OpenstackVolumeSnapshot)
	case snapshot != "":
		return openstack.ParseBootSource(string(openstack.BootSourceVolumeSnapshot), snapshot)
	default:
		return openstack.ParseBootSource(string(openstack.BootSourceImage), image)
	}
}
