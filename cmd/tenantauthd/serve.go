package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/StricklySoft/tenantauth/internal/server"
	"github.com/StricklySoft/tenantauth/pkg/service"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP authentication service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := opts.newLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := service.New(ctx, cfg, service.WithLogger(logger))
			if err != nil {
				return err
			}
			if err := startService(ctx, svc, cfg.ShutdownTimeout); err != nil {
				return err
			}

			srv := server.New(cfg.HTTPAddr, svc,
				server.WithLogger(logger),
				server.WithGatherer(svc.Registry()),
			)
			serveErr := make(chan error, 1)
			go func() { serveErr <- srv.ListenAndServe() }()

			select {
			case <-ctx.Done():
				logger.Info("tenantauthd: shutting down")
			case err = <-serveErr:
				if err != nil {
					logger.Error("tenantauthd: server failed", "error", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			err = multierr.Append(err, srv.Shutdown(shutdownCtx))
			err = multierr.Append(err, svc.Stop(shutdownCtx))
			if err == nil {
				logger.Info("tenantauthd: stopped")
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http_addr)")
	return cmd
}

type startStopper interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// startService starts svc. On failure svc is stopped, which closes any
// backend clients already opened.
func startService(ctx context.Context, svc startStopper, stopTimeout time.Duration) error {
	err := svc.Start(ctx)
	if err == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return multierr.Append(err, svc.Stop(stopCtx))
}
