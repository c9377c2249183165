package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"kycflow/internal/platform/httpserver"
	"kycflow/internal/platform/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the outbox relay, telemetry worker and ops endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	a, err := newApp(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer a.close()

	var checks []httpserver.Check
	if a.db != nil {
		checks = append(checks, httpserver.Check{Name: "postgres", Fn: a.db.PingContext})
	}
	if a.redis != nil {
		checks = append(checks, httpserver.Check{Name: "redis", Fn: a.redis.Health})
	}
	if a.producer != nil {
		checks = append(checks, httpserver.Check{Name: "kafka", Fn: a.producer.Ping})
	}
	srv := httpserver.New(opts.cfg.Addr, httpserver.NewOpsRouter(metrics.Handler(a.registry), 2*time.Second, checks...))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.InfoContext(gctx, "ops server listening", "addr", opts.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return ignoreCanceled(a.emitter.Run(gctx))
	})
	if relay := a.relay(); relay != nil {
		g.Go(func() error {
			return ignoreCanceled(relay.Run(gctx))
		})
	} else {
		a.logger.WarnContext(ctx, "KAFKA_BROKERS not set, outbox events are not relayed")
	}

	err = g.Wait()
	a.logger.Info("kycflow stopped", "error", err)
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
