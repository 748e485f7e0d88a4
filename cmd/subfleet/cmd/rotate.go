package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chiquitav2/subfleet/internal/fleet"
	"github.com/chiquitav2/subfleet/internal/fleet/db"
	"github.com/chiquitav2/subfleet/internal/fleet/lifecycle"
	"github.com/chiquitav2/subfleet/internal/fleet/oplock"
	"github.com/chiquitav2/subfleet/internal/fleet/rotation"
)

var (
	rotateKeyID string

	rotateCmd = &cobra.Command{
		Use:   "rotate",
		Short: "Rotate dynamic key pools",
		Long: `Move every pool member of a dynamic key to a different eligible
server. Without --key, all dynamic keys whose rotation is due are swept.

Examples:
  # Sweep everything that is due
  subfleet rotate

  # Force-rotate one dynamic key
  subfleet rotate --key DAK_ID`,
		Run: func(cmd *cobra.Command, args []string) {
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
			rotator := rotation.NewRotator(store, mover, oplock.NewMemory(), cfg.Locks.TTL, nil, log)

			if rotateKeyID == "" {
				if err := rotator.RotateDue(ctx); err != nil {
					cmd.PrintErrf("rotation sweep failed: %v\n", err)
					os.Exit(1)
				}
				fmt.Println("rotation sweep finished")
				return
			}

			dak, err := store.GetDynamicKey(ctx, rotateKeyID)
			if err != nil {
				cmd.PrintErrf("failed to load dynamic key: %v\n", err)
				os.Exit(1)
			}

			results, err := rotator.Rotate(ctx, dak)
			if err != nil {
				cmd.PrintErrf("rotation failed: %v\n", err)
				os.Exit(1)
			}

			rotated, failed := 0, 0
			for _, item := range results {
				status := "ok"
				if item.Success {
					rotated++
				} else {
					failed++
					status = "FAILED: " + item.Error
				}
				fmt.Printf("  %-36s %-24s %s\n", item.ID, item.Name, status)
			}
			fmt.Printf("Rotated %d keys (%d failed)\n", rotated, failed)
			if failed > 0 {
				os.Exit(1)
			}
		},
	}
)

func init() {
	rotateCmd.Flags().StringVar(&rotateKeyID, "key", "", "dynamic key id to rotate (default: sweep all due)")
	rootCmd.AddCommand(rotateCmd)
}
