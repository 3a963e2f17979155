package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/lumenlog/activityd/internal/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Load the configuration file, apply defaults and environment overrides, and print the effective settings.`,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		color.New(color.FgRed, color.Bold).Printf("Configuration invalid: %v\n", err)
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	green.Printf("Configuration OK: %s\n", configPath)
	fmt.Println()

	addr := cfg.Redis.Host
	if cfg.Redis.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	}

	fmt.Printf("Redis:          %s (db %d)\n", addr, cfg.Redis.DB)
	fmt.Printf("Stream:         %s\n", cfg.Redis.Stream)
	fmt.Printf("Poll interval:  %s\n", cfg.Consumer.PollInterval)
	fmt.Printf("Idle interval:  %s\n", cfg.Consumer.IdleInterval)
	fmt.Printf("Retry interval: %s\n", cfg.Consumer.RetryInterval)
	fmt.Printf("Batch count:    %d\n", cfg.Consumer.BatchCount)
	if cfg.Metrics.Enabled {
		fmt.Printf("Metrics:        %s:%d\n", cfg.Metrics.BindAddress, cfg.Metrics.Port)
	} else {
		fmt.Printf("Metrics:        disabled\n")
	}
	fmt.Printf("Log level:      %s (%s)\n", cfg.Logging.Level, cfg.Logging.Format)

	return nil
}
