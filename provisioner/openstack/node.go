package openstack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammadia/nimbus/fleet"
	"github.com/gammadia/nimbus/provisioner/internal"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"golang.org/x/crypto/ssh"
)

// destroyAttempts bounds the retries of a node teardown.
const destroyAttempts = 5

type Node struct {
	name        string
	provisioner *Provisioner
	ssh         *ssh.Client
	workspace   *workspace

	terminated atomic.Bool

	log   *slog.Logger
	mutex sync.Mutex
	// Guarded by mutex
	server *servers.Server
}

// Node implements fleet.Node
var _ fleet.Node = (*Node)(nil)

func (n *Node) Name() string {
	return n.name
}

func (n *Node) Server() *servers.Server {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.server
}

func (n *Node) Address() string {
	return PublicIPv4(n.Server())
}

// Describe returns the details recorded when the node is audited.
func (n *Node) Describe() map[string]string {
	server := n.Server()
	return map[string]string{
		"server-id":   server.ID,
		"status":      server.Status,
		"address":     PublicAddress(server),
		"flavor":      n.provisioner.config.Flavor,
		"boot-source": n.provisioner.config.BootSource.String(),
		"provisioner": n.provisioner.name.String(),
		"created":     server.Created.UTC().Format(time.RFC3339),
	}
}

func (n *Node) setup(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			if terminateErr := n.Terminate(); terminateErr != nil {
				err = &ProvisioningFailedError{Server: n.name, Msg: fmt.Sprintf("failed to set up node '%s'", n.name), Err: err, Suppressed: terminateErr}
			}
		}
	}()

	openstack := n.provisioner.openstack
	config := n.provisioner.config

	if err := config.BootSource.AfterProvisioning(n.Server(), openstack); err != nil {
		n.log.Warn("Failed to run boot source hook", "error", err)
	}

	if config.FloatingIPPool != "" {
		_, err := openstack.AssignFloatingIP(n.Server(), config.FloatingIPPool)
		switch {
		case errors.Is(err, ErrNoFloatingIPCapability):
			n.log.Warn("Floating IPs are not available, keeping fixed addresses", "error", err)
		case err != nil:
			return err
		}
	}

	server, err := openstack.UpdateInfo(n.Server())
	if err != nil {
		return fmt.Errorf("failed to refresh server '%s': %w", n.name, err)
	}
	n.mutex.Lock()
	n.server = server
	n.mutex.Unlock()

	if config.SshUsername == "" {
		return nil
	}
	return n.connect(ctx)
}

func (n *Node) connect(ctx context.Context) error {
	address := n.Address()
	if address == "" {
		return fmt.Errorf("failed to find IPv4 address for server '%s'", n.name)
	}

	timeout := n.provisioner.config.SshTimeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	n.log.Debug("Wait for SSH daemon to start", "address", address, "timeout", timeout)
	attempts := 0
	client, err := internal.RetryResultWithContext(ctx, int(timeout/time.Second)+1, func() (*ssh.Client, error) {
		attempts += 1
		client, err := ssh.Dial("tcp", net.JoinHostPort(address, "22"), &ssh.ClientConfig{
			User:            n.provisioner.config.SshUsername,
			Timeout:         5 * time.Second,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Auth: []ssh.AuthMethod{
				ssh.PublicKeys(n.provisioner.privateKey),
			},
		})
		if err != nil {
			n.log.Debug("Connection to node refused, retrying", "attempt", attempts, "error", err)
		}
		return client, err
	})
	if err != nil {
		return fmt.Errorf("failed to connect to server '%s' after %s and %d attempts: %w", n.name, timeout, attempts, err)
	}
	n.ssh = client

	if n.provisioner.config.Workspace == "" {
		return nil
	}
	n.workspace = newWorkspace(n.provisioner.config.Workspace, client)
	return n.workspace.Prepare()
}

// Terminate destroys the node server, retrying transient failures.
// Only the first call does anything.
func (n *Node) Terminate() error {
	if !n.terminated.CompareAndSwap(false, true) {
		return nil
	}
	defer n.provisioner.wg.Done()

	if n.ssh != nil {
		_ = n.ssh.Close()
	}

	n.log.Info("Terminating node")
	return internal.Retry(destroyAttempts, func() error {
		return n.provisioner.openstack.DestroyServer(n.Server())
	})
}
