package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/tbourn/go-rate-engine/internal/http"
	"github.com/tbourn/go-rate-engine/internal/services"
	"github.com/tbourn/go-rate-engine/internal/worker"
)

func serveCmd() *cobra.Command {
	var noWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the rules and rates API",
		Long: `Serve the rules and rates API on PORT.

Unless WORKER_EMBEDDED is false or --no-workers is given, a recomputation
worker pool runs in the same process and is woken by accepted mutations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(ctx, "api")
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			gin.SetMode(rt.cfg.GinMode)
			r := gin.New()
			disp := services.NewDispatcher(rt.db, nil, rt.cfg.Worker)
			httpapi.RegisterRoutes(r, rt.db, disp, rt.cfg)

			srv := &http.Server{
				Addr:              ":" + rt.cfg.Port,
				Handler:           r,
				ReadTimeout:       rt.cfg.ReadTimeout,
				ReadHeaderTimeout: rt.cfg.ReadHeaderTimeout,
				WriteTimeout:      rt.cfg.WriteTimeout,
				IdleTimeout:       rt.cfg.IdleTimeout,
				MaxHeaderBytes:    rt.cfg.MaxHeaderBytes,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info().Str("addr", srv.Addr).Str("base_path", rt.cfg.APIBasePath).Msg("http server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				log.Info().Msg("http server shutting down")
				return srv.Shutdown(shutdownCtx)
			})
			if rt.cfg.Worker.EmbeddedInServer && !noWorkers {
				pool := worker.NewPool(rt.db, disp, rt.cfg.Worker)
				g.Go(func() error { return pool.Run(gctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "do not run the embedded worker pool")
	return cmd
}
