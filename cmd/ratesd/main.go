// Command ratesd runs the daily-rate recomputation service: the rules API,
// the recomputation workers and a few operator commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-rate-engine/internal/config"
	"github.com/tbourn/go-rate-engine/internal/observability"
	"github.com/tbourn/go-rate-engine/internal/repo"
	"github.com/tbourn/go-rate-engine/internal/sysutil"
)

var Version = "dev"

var envFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ratesd",
		Short:         "Hotel daily-rate recomputation service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(requeueCmd())
	return rootCmd
}

// runtime is what every command needs once configuration is loaded.
type runtime struct {
	cfg          config.Config
	db           *gorm.DB
	shutdownOTel func(context.Context) error
}

// bootstrap loads configuration, installs the logger and tracer for role and
// opens the store. Schema migration runs first when DB_AUTO_MIGRATE is set.
func bootstrap(ctx context.Context, role string) (*runtime, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, role)

	shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, Version, role)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}

	db, err := repo.Open(cfg.DB)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("open %s store: %w", cfg.DB.Driver, err)
	}
	if sysutil.IsTruthy(os.Getenv("DB_AUTO_MIGRATE")) {
		if err := repo.AutoMigrate(db); err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info().Str("driver", cfg.DB.Driver).Str("version", Version).Msg("store opened")
	return &runtime{cfg: cfg, db: db, shutdownOTel: shutdown}, nil
}

func (rt *runtime) close(ctx context.Context) {
	if sqlDB, err := rt.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := rt.shutdownOTel(ctx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
}
