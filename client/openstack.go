package main

import (
	"fmt"
	"os"

	"github.com/gammadia/nimbus/provisioner/openstack"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// connect authenticates with the credentials given on the command line.
// The secret is read from NIMBUS_OPENSTACK_CREDENTIAL, or prompted for on a terminal.
func connect(cmd *cobra.Command) (*openstack.Openstack, error) {
	return dial(cmd, true)
}

// connectNonInteractive fails instead of prompting when the secret is not in the environment.
func connectNonInteractive(cmd *cobra.Command) (*openstack.Openstack, error) {
	return dial(cmd, false)
}

func dial(cmd *cobra.Command, interactive bool) (*openstack.Openstack, error) {
	creds := openstack.Credentials{
		Endpoint: lo.Must(cmd.Flags().GetString("endpoint")),
		Identity: lo.Must(cmd.Flags().GetString("identity")),
		Secret:   os.Getenv("NIMBUS_OPENSTACK_CREDENTIAL"),
		Region:   lo.Must(cmd.Flags().GetString("region")),
	}

	if creds.Secret == "" && interactive {
		secret, err := promptSecret(cmd, creds.Identity)
		if err != nil {
			return nil, err
		}
		creds.Secret = secret
	}

	cache, err := openstack.NewSessionCache(openstack.NewSession, logger())
	if err != nil {
		return nil, err
	}

	return openstack.Connect(cache, creds, lo.Must(cmd.Flags().GetString("fingerprint")), openstack.WithLogger(logger()))
}

func promptSecret(cmd *cobra.Command, identity string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: NIMBUS_OPENSTACK_CREDENTIAL is not set", openstack.ErrInvalidCredentials)
	}

	cmd.PrintErrf("Password for '%s': ", identity)
	secret, err := term.ReadPassword(fd)
	cmd.PrintErrln()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(secret), nil
}
