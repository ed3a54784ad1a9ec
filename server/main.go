package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gammadia/nimbus/audit"
	"github.com/gammadia/nimbus/fleet"
	"github.com/gammadia/nimbus/server/api"
	"github.com/gammadia/nimbus/server/bridge"
	"github.com/gammadia/nimbus/server/flags"
	"github.com/gammadia/nimbus/server/log"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

// Cancelled by the signal handler to start the shutdown sequence.
var ctx, cancel = context.WithCancel(context.Background())

// wg tracks the fleet and the HTTP server, main exits once both are done.
var wg sync.WaitGroup

func main() {
	// Setup logger first as this will be used to report progress of the rest of the setup
	if err := log.Init(); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, err))
		os.Exit(1)
	}
	log.Info("Nimbus daemon starting up...", "version", version, "commit", commit)

	dataRoot := viper.GetString(flags.Data)
	if err := os.MkdirAll(dataRoot, 0755); err != nil {
		log.Error("Failed to create data directory", "error", err)
		os.Exit(1)
	}

	store, err := audit.Open(filepath.Join(dataRoot, "audit"), log.Component("audit"))
	if err != nil {
		log.Error("Failed to open audit store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	lis, err := net.Listen("tcp", viper.GetString(flags.Listen))
	if err != nil {
		log.Error("Failed to listen", "error", err)
		os.Exit(1)
	}

	fingerprint := deploymentFingerprint()
	provisioner, err := createProvisioner(fingerprint)
	if err != nil {
		log.Error("Failed to create provisioner", "error", err)
		os.Exit(1)
	}

	config := fleet.Config{
		Auditor:                     store,
		Logger:                      log.Component("fleet"),
		NamePrefix:                  viper.GetString(flags.FleetNamePrefix),
		MinNodes:                    viper.GetInt(flags.FleetMinNodes),
		MaxNodes:                    viper.GetInt(flags.FleetMaxNodes),
		Retention:                   viper.GetDuration(flags.FleetRetention),
		RetentionDisabled:           viper.GetBool(flags.FleetRetentionDisabled),
		CheckInterval:               viper.GetDuration(flags.FleetCheckInterval),
		SweepInterval:               viper.GetDuration(flags.FleetSweepInterval),
		ProvisioningFailureCooldown: viper.GetDuration(flags.ProvisioningFailureCooldown),
	}
	if err := fleet.Validate(config); err != nil {
		provisioner.Shutdown()
		log.Error("Invalid fleet configuration", "error", err)
		os.Exit(1)
	}
	nodes := fleet.New(provisioner, config)

	setupInterrupts()

	// The fleet terminates every node once Shutdown is called, Wait returns when they are all gone.
	wg.Add(1)
	go nodes.Run()
	go func() {
		<-ctx.Done()
		nodes.Shutdown()
		nodes.Wait()
		wg.Done()
	}()

	if url := viper.GetString(flags.NatsURL); url != "" {
		logger := log.Component("nats")
		nc, err := bridge.Connect(url, logger)
		if err != nil {
			log.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()

		events, unsubscribe := nodes.Subscribe()
		defer unsubscribe()
		go bridge.New(nc, viper.GetString(flags.NatsSubject), fingerprint, logger).Run(ctx, events)
	}

	server := &http.Server{
		Handler:           api.NewServer(nodes, store, log.Component("api")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Add(1)
	go func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShutdown()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn("Failed to stop HTTP server gracefully", "error", err)
			}
		}()

		log.Info("Daemon listening", "address", lis.Addr(), "fingerprint", fingerprint)
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Failed to serve", "error", err)
			os.Exit(1)
		}
		wg.Done()
	}()

	wg.Wait()
	log.Info("Shutdown completed. Bye!")
}

// setupInterrupts cancels the global context on the first signal and exits on the second one.
func setupInterrupts() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		log.Info("Shutdown signal received, attempting graceful shutdown")
		cancel()
		<-sig
		log.Warn("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()
}

// deploymentFingerprint defaults to the URL the daemon is reachable at.
func deploymentFingerprint() string {
	if fingerprint := viper.GetString(flags.Fingerprint); fingerprint != "" {
		return fingerprint
	}

	host, port, err := net.SplitHostPort(viper.GetString(flags.Listen))
	if err != nil || host == "" {
		host = lo.Must(os.Hostname())
	}
	return fmt.Sprintf("http://%s/", net.JoinHostPort(host, port))
}
