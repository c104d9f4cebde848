// Command reportctl runs maintenance tasks against the reporting database and the Zoom
// Contact Center account without going through the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"zcc-reporting/api/internal/app"
	"zcc-reporting/shared/config"
	"zcc-reporting/shared/dbx"
	"zcc-reporting/shared/logx"
)

var rootCmd = &cobra.Command{
	Use:           "reportctl",
	Short:         "Operate the contact center reporting backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "override LOG_LEVEL")
}

func loadConfig(cmd *cobra.Command) (config.Config, logx.Logger, error) {
	cfg, problems := config.Load("reportctl", 8090)
	if level, _ := cmd.Flags().GetString("log-level"); strings.TrimSpace(level) != "" {
		cfg.LogLevel = level
	}
	logger := logx.NewWithWriter(os.Stderr, cfg.ServiceName, cfg.Env, "", cfg.LogLevel)
	if cfg.DatabaseURL == "" {
		return cfg, logger, errors.New("DATABASE_URL is required")
	}
	for _, p := range problems {
		logger.Warn(cmd.Context(), "config_problem", p.Message)
	}
	return cfg, logger, nil
}

// openRuntime connects to the database and wires the same components the API uses.
func openRuntime(cmd *cobra.Command) (*app.Runtime, config.Config, func(), error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, cfg, nil, err
	}
	pool, err := dbx.NewPool(cfg)
	if err != nil {
		return nil, cfg, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := dbx.Ping(cmd.Context(), pool); err != nil {
		pool.Close()
		return nil, cfg, nil, fmt.Errorf("ping database: %w", err)
	}
	rt, problems := app.Build(cmd.Context(), cfg, pool, logger)
	for _, p := range problems {
		logger.Warn(cmd.Context(), "component_degraded", p.Message)
	}
	cleanup := func() {
		rt.Close()
		pool.Close()
	}
	return rt, cfg, cleanup, nil
}
