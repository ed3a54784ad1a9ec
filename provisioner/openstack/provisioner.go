package openstack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gammadia/nimbus/fleet"
	"github.com/gammadia/nimbus/metrics"
	"github.com/gammadia/nimbus/namegen"
	"github.com/samber/lo"
	"golang.org/x/crypto/ssh"
)

// Provisioner brings up fleet nodes on OpenStack and tears them down.
type Provisioner struct {
	name      namegen.ID
	config    Config
	openstack *Openstack
	log       *slog.Logger

	keyName    string
	privateKey ssh.Signer

	wg sync.WaitGroup
}

// Provisioner implements fleet.Provisioner
var _ fleet.Provisioner = (*Provisioner)(nil)

// NewProvisioner creates the session keypair used by every node of this provisioner.
func NewProvisioner(openstack *Openstack, config Config) (*Provisioner, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provisioner configuration: %w", err)
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	name := namegen.Get()
	provisioner := &Provisioner{
		name:      name,
		config:    config,
		openstack: openstack,
		log:       config.Logger.With("provisioner", name.String()),

		keyName: fmt.Sprintf("nimbus-%s", name),
	}

	keypair, err := openstack.api.CreateKeyPair(provisioner.keyName)
	if err != nil {
		return nil, fmt.Errorf("failed to create keypair: %w", err)
	}
	if config.SshUsername != "" {
		provisioner.privateKey, err = ssh.ParsePrivateKey([]byte(keypair.PrivateKey))
		if err != nil {
			provisioner.deleteKeyPair()
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
	}
	provisioner.wg.Add(1) // One item for the keypair

	return provisioner, nil
}

func (p *Provisioner) Openstack() *Openstack {
	return p.openstack
}

// Provision boots a server named nodeName and returns it once it is usable.
// Any failure after the server was created tears it down.
func (p *Provisioner) Provision(ctx context.Context, nodeName string) (fleet.Node, error) {
	log := p.log.With("node", nodeName)
	start := time.Now()

	req := BootRequest{
		Name:             nodeName,
		FlavorRef:        p.config.Flavor,
		Networks:         p.config.Networks,
		SecurityGroups:   p.config.SecurityGroups,
		AvailabilityZone: p.config.AvailabilityZone,
		KeyName:          p.keyName,
		Metadata: lo.Assign(p.config.Metadata, map[string]string{
			"nimbus-provisioner":    p.name.String(),
			"nimbus-provisioned-at": start.UTC().Format(time.RFC3339),
		}),
	}

	userData, err := RenderUserData(p.config.UserData, UserDataVars{
		Node:        nodeName,
		Fingerprint: p.openstack.Fingerprint(),
		Provisioner: p.name.String(),
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, err
	}
	req.UserData = userData

	if err := p.config.BootSource.Decorate(&req, p.openstack); err != nil {
		return nil, err
	}

	log.Info("Provisioning node", "source", p.config.BootSource.String(), "flavor", p.config.Flavor)
	server, err := p.openstack.BootAndWaitActive(req, p.config.BootTimeout)
	if err != nil {
		return nil, err
	}

	node := &Node{
		name:        nodeName,
		provisioner: p,
		server:      server,
		log:         log,
	}
	p.wg.Add(1) // Released when the node is terminated

	if err := node.setup(ctx); err != nil {
		return nil, err
	}

	metrics.ProvisioningDuration.Observe(time.Since(start).Seconds())
	log.Info("Node is ready", "address", node.Address(), "duration", time.Since(start).Round(time.Second))
	return node, nil
}

// Sweep destroys the servers of this deployment for which keep returns false.
// Free floating IPs are released as well when configured to.
func (p *Provisioner) Sweep(ctx context.Context, keep func(nodeName string) bool) error {
	running, err := p.openstack.RunningNodes()
	if err != nil {
		return err
	}

	var errs []error
	for _, server := range running {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if keep(server.Name) {
			continue
		}

		p.log.Warn("Destroying leaked server", "server", server.Name, "id", server.ID, "status", server.Status)
		if err := p.openstack.DestroyServer(&server); err != nil {
			errs = append(errs, err)
			continue
		}
		metrics.LeakedNodesDestroyed.Inc()
	}

	if p.config.ReleaseFreeFloatingIPs {
		free, err := p.openstack.FreeFloatingIPIDs()
		if err != nil {
			errs = append(errs, err)
		}
		for _, id := range free {
			if err := p.openstack.DestroyFloatingIP(id); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

func (p *Provisioner) deleteKeyPair() {
	if err := p.openstack.api.DeleteKeyPair(p.keyName); err != nil && !isNotFound(err) {
		p.log.Warn("Failed to delete keypair", "keypair", p.keyName, "error", err)
	}
}

func (p *Provisioner) Shutdown() {
	p.deleteKeyPair()
	p.wg.Done()
}

func (p *Provisioner) Wait() {
	p.wg.Wait()
}
