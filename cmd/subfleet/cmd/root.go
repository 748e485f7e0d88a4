package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chiquitav2/subfleet/internal/fleet/config"
	"github.com/chiquitav2/subfleet/internal/shared/logger"
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "subfleet",
		Short: "Subscription fleet manager for Outline servers",
		Long: `Subfleet manages a fleet of Outline VPN servers behind subscription
tokens. It resolves tokens into connection credentials, balances dynamic key
pools across servers, migrates keys between servers and rotates pool members
on a schedule.`,
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches /etc/subfleet, $HOME/.subfleet, .)")
}

// loadConfig loads the service configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadWithPath(cfgFile)
	}
	return config.NewLoader().Load()
}

// buildLogger creates a logger from the loaded configuration.
func buildLogger(cfg *config.Config, version string) *logger.Logger {
	return logger.New(logger.LoggerConfig{
		Level:     logger.LogLevel(cfg.Log.Level),
		Format:    logger.OutputFormat(cfg.Log.Format),
		Component: "subfleet",
		Version:   version,
	})
}
