package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chiquitav2/subfleet/internal/fleet"
	"github.com/chiquitav2/subfleet/internal/fleet/db"
	"github.com/chiquitav2/subfleet/internal/fleet/lifecycle"
	"github.com/chiquitav2/subfleet/internal/fleet/migration"
	"github.com/chiquitav2/subfleet/internal/fleet/oplock"
)

var (
	migrateFrom string
	migrateTo   string
	migrateKeys []string

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Move access keys between fleet servers",
		Long: `Move keys to a target server: create a replacement credential on the
target, fold accumulated usage into the record, then delete the source
credential. Use --from to drain a whole server or --keys for a chosen set.

Examples:
  # Drain one server onto another
  subfleet migrate --from SRC_ID --to DST_ID

  # Move two specific keys
  subfleet migrate --keys KEY1,KEY2 --to DST_ID`,
		Run: func(cmd *cobra.Command, args []string) {
			if migrateTo == "" {
				cmd.PrintErrln("--to is required")
				os.Exit(1)
			}
			if (migrateFrom == "") == (len(migrateKeys) == 0) {
				cmd.PrintErrln("exactly one of --from or --keys is required")
				os.Exit(1)
			}

			cfg, err := loadConfig()
			if err != nil {
				cmd.PrintErrf("failed to load configuration: %v\n", err)
				os.Exit(1)
			}
			log := buildLogger(cfg, fleet.Version)

			store, err := db.NewStore(&db.Config{
				Path:            cfg.DB.Path,
				MaxOpenConns:    cfg.DB.MaxOpenConns,
				MaxIdleConns:    cfg.DB.MaxIdleConns,
				ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
			})
			if err != nil {
				cmd.PrintErrf("failed to open database: %v\n", err)
				os.Exit(1)
			}
			defer store.Close()

			ctx := context.Background()
			mover := lifecycle.NewMover(store, lifecycle.OutlineClients(cfg.Remote.Timeout), log)
			migrator := migration.New(store, mover, oplock.NewMemory(), cfg.Locks.TTL, nil, log)

			operationID := "cli-" + uuid.New().String()

			var report *migration.Report
			if migrateFrom != "" {
				report, err = migrator.MigrateServerKeys(ctx, operationID, migrateFrom, migrateTo)
			} else {
				report, err = migrator.MigrateKeys(ctx, operationID, migrateKeys, migrateTo)
			}
			if err != nil {
				cmd.PrintErrf("migration failed: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("Migrated %d/%d keys (%d failed)\n", report.Migrated, report.Total, report.Failed)
			for _, item := range report.Items {
				status := "ok"
				if !item.Success {
					status = "FAILED: " + item.Error
				}
				fmt.Printf("  %-36s %-24s %s\n", item.ID, item.Name, status)
			}
			if report.Failed > 0 {
				os.Exit(1)
			}
		},
	}
)

func init() {
	migrateCmd.Flags().StringVar(&migrateFrom, "from", "", "source server id (moves every key on it)")
	migrateCmd.Flags().StringVar(&migrateTo, "to", "", "target server id")
	migrateCmd.Flags().StringSliceVar(&migrateKeys, "keys", nil, "comma-separated key ids to move")
	rootCmd.AddCommand(migrateCmd)
}
