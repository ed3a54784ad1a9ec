package flags

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	Data        = "data"
	Fingerprint = "fingerprint"
	Listen      = "listen"
	LogFormat   = "log-format"
	LogLevel    = "log-level"
	LogSource   = "log-source"

	FleetNamePrefix                 = "fleet-name-prefix"
	FleetMinNodes                   = "fleet-min-nodes"
	FleetMaxNodes                   = "fleet-max-nodes"
	FleetRetention                  = "fleet-retention"
	FleetRetentionDisabled          = "fleet-retention-disabled"
	FleetCheckInterval              = "fleet-check-interval"
	FleetSweepInterval              = "fleet-sweep-interval"
	ProvisioningFailureCooldown     = "provisioning-failure-cooldown"
	NatsURL                         = "nats-url"
	NatsSubject                     = "nats-subject"
	OpenstackEndpoint               = "openstack-endpoint"
	OpenstackIdentity               = "openstack-identity"
	OpenstackCredential             = "openstack-credential"
	OpenstackRegion                 = "openstack-region"
	OpenstackImage                  = "openstack-image"
	OpenstackVolumeSnapshot         = "openstack-volume-snapshot"
	OpenstackFlavor                 = "openstack-flavor"
	OpenstackNetworks               = "openstack-networks"
	OpenstackSecurityGroups         = "openstack-security-groups"
	OpenstackAvailabilityZone       = "openstack-availability-zone"
	OpenstackMetadata               = "openstack-metadata"
	OpenstackFloatingIPPool         = "openstack-floating-ip-pool"
	OpenstackReleaseFreeFloatingIPs = "openstack-release-free-floating-ips"
	OpenstackUserData               = "openstack-user-data"
	OpenstackBootTimeout            = "openstack-boot-timeout"
	OpenstackPollInterval           = "openstack-poll-interval"
	OpenstackSshUsername            = "openstack-ssh-username"
	OpenstackSshTimeout             = "openstack-ssh-timeout"
	OpenstackWorkspace              = "openstack-workspace"
)

func init() {
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	// Nimbus
	flags.String(Data, "/var/lib/nimbus", "data directory, holds the audit store")
	flags.String(Fingerprint, "", "identifies the servers of this deployment (defaults to the listen address)")
	flags.String(Listen, ":25380", "HTTP listen address")
	flags.String(LogFormat, "json", "log format (json, text)")
	flags.String(LogLevel, "INFO", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")

	// Fleet
	flags.String(FleetNamePrefix, "nimbus", "prefix of node names")
	flags.Int(FleetMinNodes, 0, "number of nodes kept ready at all times")
	flags.Int(FleetMaxNodes, 4, "maximum number of nodes to provision")
	flags.Duration(FleetRetention, 10*time.Minute, "how long an idle node is kept (0: single use, negative: forever)")
	flags.Bool(FleetRetentionDisabled, false, "never tear down idle nodes")
	flags.Duration(FleetCheckInterval, time.Minute, "how often idle nodes are checked")
	flags.Duration(FleetSweepInterval, 10*time.Minute, "how often leaked servers are destroyed (0 to disable)")
	flags.Duration(ProvisioningFailureCooldown, 1*time.Minute, "how long to wait before retrying provisioning")

	// NATS
	flags.String(NatsURL, "", "NATS server to publish fleet events to (disabled when empty)")
	flags.String(NatsSubject, "nimbus.events", "subject prefix of fleet events")

	// Openstack
	flags.String(OpenstackEndpoint, "", "keystone endpoint")
	flags.String(OpenstackIdentity, "", "identity as tenant:user or tenant:user:domain")
	flags.String(OpenstackCredential, "", "password of the identity")
	flags.String(OpenstackRegion, "", "region of the nodes")
	flags.String(OpenstackImage, "", "image to boot nodes from")
	flags.String(OpenstackVolumeSnapshot, "", "volume snapshot to boot nodes from (instead of an image)")
	flags.String(OpenstackFlavor, "", "flavor to use for provisioning")
	flags.StringSlice(OpenstackNetworks, nil, "networks attached to the nodes")
	flags.StringSlice(OpenstackSecurityGroups, nil, "security groups defined for the nodes")
	flags.String(OpenstackAvailabilityZone, "", "availability zone of the nodes")
	flags.StringToString(OpenstackMetadata, nil, "extra metadata set on the nodes")
	flags.String(OpenstackFloatingIPPool, "", "pool to assign floating IPs from (disabled when empty)")
	flags.Bool(OpenstackReleaseFreeFloatingIPs, false, "release unbound floating IPs when sweeping")
	flags.String(OpenstackUserData, "", "file holding the user data template")
	flags.Duration(OpenstackBootTimeout, 5*time.Minute, "how long to wait for a server to become active")
	flags.Duration(OpenstackPollInterval, 5*time.Second, "how often a booting server is polled")
	flags.String(OpenstackSshUsername, "", "ssh username used to probe the nodes (disabled when empty)")
	flags.Duration(OpenstackSshTimeout, 2*time.Minute, "how long to wait for the nodes ssh daemon")
	flags.String(OpenstackWorkspace, "", "directory created on the nodes once reachable")

	// Init
	if err := flags.Parse(os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	viper.SetEnvPrefix("nimbus")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))
}
