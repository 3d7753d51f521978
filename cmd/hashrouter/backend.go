package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go-hashrouter/httpapi"
)

func newBackendCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "backend",
		Short: "Run a backend server stub answering /home and /heartbeat",
		RunE:  runBackend,
	}

	cmd.Flags().String("id", "unknown", "Server id reported in /home responses")
	cmd.Flags().String("addr", ":5000", "Listen address")

	return cmd
}

func runBackend(cmd *cobra.Command, args []string) error {
	var v, err = newViper(cmd)
	if err != nil {
		return err
	}

	var (
		conf   = loadBackendConfig(v)
		logger = newLogger(v).With("server_id", conf.ServerID)
	)

	var ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return httpapi.Serve(ctx, conf.Addr, httpapi.NewBackendHandler(conf.ServerID, logger), logger)
}
