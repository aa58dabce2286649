// Command relay runs the rendezvous and chat relay peers use to find each
// other.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/webuno/internal/config"
	"github.com/jason-s-yu/webuno/internal/logging"
	"github.com/jason-s-yu/webuno/internal/relay"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("relay exited")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "WebSocket pub/sub relay for room signaling and chat",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			cfg, err := config.LoadRelay(cmd)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, log)
		},
	}
	config.AddRelayFlags(cmd)
	return cmd
}

func run(ctx context.Context, cfg config.Relay, log *logrus.Logger) error {
	srv := relay.NewServer(relay.ServerOptions{
		PingInterval:   cfg.PingInterval,
		OriginPatterns: cfg.AllowedOrigins,
		Log:            log,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.Listen).Info("Relay listening")
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down relay")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by Shutdown.
		srv.CloseConnections()
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}
