package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-rate-engine/internal/services"
	"github.com/tbourn/go-rate-engine/internal/worker"
)

func workerCmd() *cobra.Command {
	var (
		once        bool
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run recomputation workers against the shared job queue",
		Long: `Run recomputation workers against the shared job queue.

Examples:
  ratesd worker --concurrency 8
  ratesd worker --once`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(ctx, "worker")
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			wcfg := rt.cfg.Worker
			if concurrency > 0 {
				wcfg.Concurrency = concurrency
			}
			pool := worker.NewPool(rt.db, services.NewDispatcher(rt.db, nil, wcfg), wcfg)

			if once {
				n, err := pool.RunOnce(ctx)
				if err != nil {
					return fmt.Errorf("drain queue: %w", err)
				}
				log.Info().Int("jobs", n).Msg("queue drained")
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d job(s)\n", n)
				return nil
			}
			return pool.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "drain ready jobs once and exit")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "override WORKER_CONCURRENCY")
	return cmd
}
