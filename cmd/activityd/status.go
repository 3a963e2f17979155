package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/lumenlog/activityd/internal/config"
	"github.com/lumenlog/activityd/internal/storage/redis"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoint position and today's totals",
	Long:  `Connect to Redis and print the consumer checkpoint, the number of known sessions, and the current daily totals per classification and per application.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := redis.Open(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	checkpoint, err := store.Checkpoints().Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}

	known, err := store.Sessions().Known(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	totals, err := store.Totals().Today(ctx)
	if err != nil {
		return fmt.Errorf("failed to read totals: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("ACTIVITYD STATUS")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Stream:         %s\n", cfg.Redis.Stream)
	fmt.Printf("Cursor:         %s\n", checkpoint.Cursor)
	if checkpoint.LastLineage != "" {
		fmt.Printf("Last lineage:   %s\n", checkpoint.LastLineage)
	} else {
		fmt.Printf("Last lineage:   (none)\n")
	}
	fmt.Printf("Known sessions: %d\n", len(known))
	fmt.Println()

	cyan.Println("Today by classification")
	printTotals(totals.ByClassification)
	fmt.Println()

	cyan.Println("Today by application")
	printTotals(totals.ByApp)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	return nil
}

func printTotals(totals map[string]int64) {
	if len(totals) == 0 {
		fmt.Println("  (no totals yet)")
		return
	}

	keys := make([]string, 0, len(totals))
	for key := range totals {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return totals[keys[i]] > totals[keys[j]] })

	for _, key := range keys {
		fmt.Printf("  %-30s %s\n", key, formatSeconds(totals[key]))
	}
}

func formatSeconds(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	if d >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%ds", seconds)
}
