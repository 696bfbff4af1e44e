package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tendant/vehicle-images/pkg/vehicleimage/config"
)

var (
	cfg    *config.ServerConfig
	logger *slog.Logger

	jsonOutput bool
)

// rootCmd is the vehicle image admin tool; it only needs database access
var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Vehicle image maintenance",
	Long: `Maintenance commands for the vehicle image store.

Configuration is read from the environment and from a .env file in the
current directory. DATABASE_URL selects the metadata database.`,
	SilenceUsage:      true,
	PersistentPreRunE: initialize,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(repairCmd)
}

func initialize(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(config.WithEnv())
	if err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return nil
}

func getContext() context.Context {
	return context.Background()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
