package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kanban/internal/app"
	"github.com/kiwari-pos/kanban/internal/config"
	"github.com/kiwari-pos/kanban/internal/logger"
	"github.com/kiwari-pos/kanban/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

// globals bound to persistent flags
var (
	configPath string
	logLevel   string
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "kanbanctl",
		Short:         "Operate the kanban order board from the command line",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_FILE"), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(groupsCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(cardCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	// Keep stdout for command output.
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: "console"})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// openApp builds the engine and returns a context scoped to the configured
// tenant.
func openApp(cmd *cobra.Command, opts app.Options) (context.Context, *app.App, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	ctx := cmd.Context()
	if cfg.TenantID != uuid.Nil {
		ctx = service.WithScope(ctx, service.Scope{TenantID: cfg.TenantID, CompanyID: cfg.CompanyID})
	}
	a, err := app.New(ctx, cfg, log, opts)
	if err != nil {
		return nil, nil, err
	}
	return ctx, a, nil
}
