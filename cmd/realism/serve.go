package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammad-safakhou/realism/internal/runtime"
	"github.com/mohammad-safakhou/realism/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	var embedWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, *cfgPath, "realism-api")
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			cfg := a.cfg.Server
			if addr != "" {
				cfg.Address = addr
			}
			if cmd.Flags().Changed("worker") {
				cfg.EmbeddedWorker = embedWorker
			}

			sessions := runtime.NewSessions([]byte(cfg.JWTSecret), cfg.SessionTTL, a.store,
				runtime.WithSecureCookie(cfg.CookieSecure))
			srv := server.New(cfg, server.Deps{
				Jobs:       a.jobs,
				Records:    a.store,
				Schedules:  a.store,
				Sessions:   sessions,
				Classifier: a.classifier(),
				Verifier:   a.sapiom,
				SpendRules: a.sapiom,
				Queue:      a.queue,
				Runner:     a.runner,
				Metrics:    a.telemetry.Handler(),
				Logger:     a.log.Named("http"),
			})

			g, gctx := errgroup.WithContext(ctx)
			if cfg.EmbeddedWorker {
				proc, err := a.processor(ctx)
				if err != nil {
					return err
				}
				g.Go(func() error { return proc.Start(gctx) })
			}
			g.Go(func() error { return srv.Run(gctx) })
			if a.cfg.Scheduler.Enabled {
				sched := &server.Scheduler{
					Store:    a.store,
					Jobs:     a.jobs,
					Queue:    a.queue,
					Interval: a.cfg.Scheduler.Interval,
					LockTTL:  a.cfg.Scheduler.LockTTL,
					Logger:   a.log.Named("scheduler"),
				}
				g.Go(func() error { return sched.Run(gctx) })
			}
			a.log.Info("realism started",
				zap.String("addr", cfg.Address),
				zap.Bool("scheduler", a.cfg.Scheduler.Enabled),
				zap.Bool("embedded_worker", cfg.EmbeddedWorker))
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	cmd.Flags().BoolVar(&embedWorker, "worker", false, "also consume step requests in this process")
	return cmd
}
