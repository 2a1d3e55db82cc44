// Command harvester loads newly issued certificates for monitored domains
// from a CT aggregator into PostgreSQL and serves them over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andres10976/certharvest/internal/service/ctlog"
)

// Global flags (persistent across commands)
var (
	configPath string
	verbose    bool
)

// Flags specific to load-certs
var (
	skipTo string
	dryRun bool
)

var rootCmd = &cobra.Command{
	Use:           "harvester",
	Short:         "harvester - load certificates for monitored domains from Certificate Transparency",
	Version:       ctlog.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var loadCertsCmd = &cobra.Command{
	Use:   "load-certs [domain...]",
	Short: "Load new certificates for the given domains, or for every stored domain",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoadCerts(cmd.Context(), args)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (default: config.yaml in /config, ./config or .)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging and per-domain output")

	loadCertsCmd.Flags().StringVar(&skipTo, "skipto", "", "Skip every domain before this one")
	loadCertsCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "Do not modify the database")

	rootCmd.AddCommand(loadCertsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
