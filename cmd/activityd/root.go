package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "activityd",
	Short: "activityd - session reconstruction for desktop activity events",
	Long: `activityd consumes window-focus events from a Redis stream and
reconstructs a timeline of activity sessions with nested per-application
intervals, plus daily totals per classification and per application.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to the run command when no subcommand is provided
		return runConsumer(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/activityd/config.yaml", "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
