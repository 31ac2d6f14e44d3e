package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mtelegin/herald/internal/app"
	"github.com/mtelegin/herald/internal/config"
	"github.com/mtelegin/herald/internal/contacts"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	// Local overrides for development, missing file is fine
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "herald",
	Short: "Herald - Campaign Dispatch Engine",
	Long:  `Herald orchestrates messaging campaigns across WhatsApp and Telegram profiles.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatch engine",
	Long:  `Start the Herald engine with its HTTP API, scheduler and metrics.`,
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply contact database migrations",
	RunE:  runMigrate,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("herald version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cs, err := contacts.OpenSQLite(cfg.Contacts.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open contact database: %w", err)
	}
	defer cs.Close()

	if err := cs.Migrate(); err != nil {
		return err
	}

	fmt.Printf("Migrations applied to %s\n", cfg.Contacts.SQLitePath)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  API: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Storage: %s\n", cfg.Storage.Path)
	fmt.Printf("  Contacts: %s\n", cfg.Contacts.SQLitePath)
	if cfg.Engine.SandboxMode {
		fmt.Printf("  Transport: sandbox\n")
	} else if cfg.Engine.GatewayURL != "" {
		fmt.Printf("  Transport: %s\n", cfg.Engine.GatewayURL)
	} else {
		fmt.Printf("  Transport: sandbox (no gateway_url)\n")
	}

	return nil
}
