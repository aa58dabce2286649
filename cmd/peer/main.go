// Command peer is a headless room member. It joins (or creates) a room
// through the relay, replicates the game over WebRTC, hosts when elected,
// and can play on its own.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/webuno/internal/config"
	"github.com/jason-s-yu/webuno/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("peer exited")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "peer",
		Short:         "Headless peer for a webuno room",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			cfg, err := config.LoadPeer(cmd)
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
	config.AddPeerFlags(cmd)
	return cmd
}
