package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-rate-engine/internal/services"
)

func requeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue [job-id]",
		Short: "Move a dead-lettered or failed job back to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context(), "requeue")
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			jobs := &services.JobService{DB: rt.db, Dispatcher: services.NewDispatcher(rt.db, nil, rt.cfg.Worker)}
			j, err := jobs.Requeue(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("requeue %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s is %s\n", j.ID, j.Status)
			return nil
		},
	}
}
