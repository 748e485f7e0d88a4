package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chiquitav2/subfleet/internal/fleet"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the subfleet service",
	Long: `Start the subscription resolution API together with the background
rotation scheduler and usage syncer, and block until SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cfg, err := loadConfig()
		if err != nil {
			cmd.PrintErrf("failed to load configuration: %v\n", err)
			os.Exit(1)
		}

		log := buildLogger(cfg, fleet.Version)
		log.InfoContext(ctx, "starting subfleet", "version", fleet.Version)

		service, err := fleet.NewService(cfg, log)
		if err != nil {
			log.ErrorCtx(ctx, "failed to create service", err)
			os.Exit(1)
		}

		if err := service.Start(); err != nil {
			log.ErrorCtx(ctx, "failed to start service", err)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if stopErr := service.Stop(shutdownCtx); stopErr != nil {
				log.ErrorCtx(ctx, "failed to cleanup service after startup failure", stopErr)
			}
			os.Exit(1)
		}

		service.WaitForShutdown()
		log.InfoContext(ctx, "main process exiting")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
