package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chiquitav2/subfleet/internal/fleet"
	"github.com/chiquitav2/subfleet/internal/fleet/cloud"
	"github.com/chiquitav2/subfleet/internal/fleet/db"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage fleet servers",
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered fleet servers",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			cmd.PrintErrf("failed to load configuration: %v\n", err)
			os.Exit(1)
		}

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

		servers, err := store.ListServers(context.Background())
		if err != nil {
			cmd.PrintErrf("failed to list servers: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%-36s %-20s %-8s %s\n", "ID", "NAME", "ACTIVE", "TAGS")
		for _, s := range servers {
			fmt.Printf("%-36s %-20s %-8t %s\n", s.ID, s.Name, s.IsActive, strings.Join(s.Tags, ","))
		}
	},
}

var (
	provisionName string
	provisionTags []string

	serverProvisionCmd = &cobra.Command{
		Use:   "provision",
		Short: "Provision a new fleet host on Hetzner Cloud",
		Long: `Create a cloud host, wait for its management API to come up, pin its
certificate fingerprint and register it with the fleet. Requires
hetzner.api_token in the configuration.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				cmd.PrintErrf("failed to load configuration: %v\n", err)
				os.Exit(1)
			}
			if !cfg.CloudEnabled() {
				cmd.PrintErrln("hetzner.api_token is not configured")
				os.Exit(1)
			}
			log := buildLogger(cfg, fleet.Version)

			hetzner, err := cloud.NewHetzner(cfg.Hetzner.APIToken, &cloud.HetznerConfig{
				ServerType: cfg.Hetzner.ServerType,
				Image:      cfg.Hetzner.Image,
				Location:   cfg.Hetzner.Location,
			}, log)
			if err != nil {
				cmd.PrintErrf("failed to initialize provisioner: %v\n", err)
				os.Exit(1)
			}

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
			apiSecret := strings.ReplaceAll(uuid.New().String(), "-", "")

			host, err := hetzner.ProvisionHost(ctx, provisionName, apiSecret)
			if err != nil {
				cmd.PrintErrf("provisioning failed: %v\n", err)
				os.Exit(1)
			}

			server, err := store.CreateServer(ctx, db.CreateServerParams{
				ID:              uuid.New().String(),
				Name:            host.Name,
				APIURL:          host.APIURL,
				CertSHA256:      host.CertSHA256,
				HostnameForKeys: host.IPAddress,
				IsActive:        true,
				Tags:            provisionTags,
			})
			if err != nil {
				cmd.PrintErrf("host %s created but registration failed: %v\n", host.IPAddress, err)
				os.Exit(1)
			}

			fmt.Printf("Server registered\n")
			fmt.Printf("  ID:          %s\n", server.ID)
			fmt.Printf("  Name:        %s\n", server.Name)
			fmt.Printf("  IP:          %s\n", host.IPAddress)
			fmt.Printf("  Provider ID: %d\n", host.ProviderID)
		},
	}
)

func init() {
	serverProvisionCmd.Flags().StringVar(&provisionName, "name", "", "host name (default: generated)")
	serverProvisionCmd.Flags().StringSliceVar(&provisionTags, "tags", nil, "tags to assign to the new server")
	serverCmd.AddCommand(serverListCmd)
	serverCmd.AddCommand(serverProvisionCmd)
	rootCmd.AddCommand(serverCmd)
}
