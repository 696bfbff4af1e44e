package main

import (
	"errors"

	"github.com/spf13/cobra"
	repopg "github.com/tendant/vehicle-images/pkg/vehicleimage/repo/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <up|down|version|force N>",
	Short: "Apply or roll back the vehicle_images schema",
	Long: `Run the embedded schema migrations against DATABASE_URL.

  up        apply all pending migrations
  down      roll back every migration
  version   print the current schema version
  force N   set the version without running migrations (repairs a dirty state)`,
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"up", "down", "version", "force"},
	RunE:      runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if cfg.DatabaseType != "postgres" {
		return errors.New("migrate requires a postgres DATABASE_URL")
	}
	return repopg.Migrate(logger, cfg.DatabaseURL, args[0], args[1:])
}
