package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var verbose bool
var output string

var nimbusCmd = &cobra.Command{
	Use:   "nimbus",
	Short: "Nimbus manages elastic worker nodes on OpenStack.",

	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	nimbusCmd.AddCommand(bootCmd)
	nimbusCmd.AddCommand(completionCmd)
	nimbusCmd.AddCommand(destroyCmd)
	nimbusCmd.AddCommand(fipCmd)
	nimbusCmd.AddCommand(flavorsCmd)
	nimbusCmd.AddCommand(fleetCmd)
	nimbusCmd.AddCommand(imagesCmd)
	nimbusCmd.AddCommand(keypairsCmd)
	nimbusCmd.AddCommand(networksCmd)
	nimbusCmd.AddCommand(nodesCmd)
	nimbusCmd.AddCommand(poolsCmd)
	nimbusCmd.AddCommand(resolveCmd)
	nimbusCmd.AddCommand(snapshotsCmd)
	nimbusCmd.AddCommand(versionCmd)
	nimbusCmd.AddCommand(zonesCmd)

	hostname := lo.Must(os.Hostname())

	flags := nimbusCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.StringVarP(&output, "output", "o", "table", "output format (table, name, json, yaml)")
	flags.String("endpoint", os.Getenv("NIMBUS_OPENSTACK_ENDPOINT"), "keystone endpoint")
	flags.String("identity", os.Getenv("NIMBUS_OPENSTACK_IDENTITY"), "identity as tenant:user or tenant:user:domain")
	flags.String("region", os.Getenv("NIMBUS_OPENSTACK_REGION"), "region to operate in")
	flags.String("fingerprint", lo.Must(lo.Coalesce(os.Getenv("NIMBUS_FINGERPRINT"), "nimbus-cli@"+hostname)), "fingerprint of the deployment whose servers are managed")
	flags.String("remote", lo.Must(lo.Coalesce(os.Getenv("NIMBUS_REMOTE"), "http://localhost:25380")), "the daemon address")
}

// logger reports the library logs on stderr, debug ones only in verbose mode.
func logger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nimbusCmd.SetOut(os.Stdout)
	if err := nimbusCmd.ExecuteContext(ctx); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
}
