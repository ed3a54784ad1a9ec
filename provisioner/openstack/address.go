package openstack

import (
	"slices"

	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
)

type serverAddress struct {
	Address string
	Version int
	Type    string
}

// addresses decodes the per network address lists of a server.
// Networks are visited in name order so that "last fixed" is stable.
func addresses(server *servers.Server) []serverAddress {
	networks := lo.Keys(server.Addresses)
	slices.Sort(networks)

	var result []serverAddress
	for _, network := range networks {
		entries, ok := server.Addresses[network].([]any)
		if !ok {
			continue
		}
		for _, entry := range entries {
			fields, ok := entry.(map[string]any)
			if !ok {
				continue
			}

			address := serverAddress{}
			address.Address, _ = fields["addr"].(string)
			address.Type, _ = fields["OS-EXT-IPS:type"].(string)
			if version, ok := fields["version"].(float64); ok {
				address.Version = int(version)
			}
			if address.Address != "" {
				result = append(result, address)
			}
		}
	}
	return result
}

// PublicAddress returns the floating address of server, or its last fixed one.
func PublicAddress(server *servers.Server) string {
	return publicAddress(server, 0)
}

// PublicIPv4 is like PublicAddress but only considers IPv4 fixed addresses.
func PublicIPv4(server *servers.Server) string {
	return publicAddress(server, 4)
}

func publicAddress(server *servers.Server, fixedVersion int) string {
	var fixed string
	for _, address := range addresses(server) {
		if address.Type == "floating" {
			return address.Address
		}
		if fixedVersion == 0 || address.Version == fixedVersion {
			fixed = address.Address
		}
	}
	return fixed
}
