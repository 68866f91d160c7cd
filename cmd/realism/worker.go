package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func workerCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume step requests from the job stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, *cfgPath, "realism-worker")
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			proc, err := a.processor(ctx)
			if err != nil {
				return err
			}
			a.log.Info("worker started",
				zap.String("stream", a.cfg.Worker.Stream),
				zap.String("group", a.cfg.Worker.Group))
			return proc.Start(ctx)
		},
	}
}
