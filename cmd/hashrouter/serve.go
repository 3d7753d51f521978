package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	hashrouter "go-hashrouter"
	"go-hashrouter/httpapi"
	"go-hashrouter/metrics"
)

func newServeCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the load balancer",
		RunE:  runServe,
	}

	cmd.Flags().String("addr", ":5000", "Listen address")
	cmd.Flags().StringSlice("servers", []string{"Server_1:5000", "Server_2:5000", "Server_3:5000"}, "Initial backend servers (host:port)")
	cmd.Flags().StringSlice("routed-paths", []string{"/home"}, "GET paths forwarded to backends")
	cmd.Flags().Int("slots", 512, "Number of slots on the ring")
	cmd.Flags().Int("vnodes", 9, "Virtual copies per server")
	cmd.Flags().Int("default-port", 5000, "Port used for hostnames given without one")
	cmd.Flags().Duration("backend-timeout", hashrouter.DefaultBackendTimeout, "Timeout of heartbeat and forwarded calls")
	cmd.Flags().Duration("sweep-interval", 0, "Interval of background health sweeps, 0 disables them")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	var v, err = newViper(cmd)
	if err != nil {
		return err
	}

	conf, err := loadServeConfig(v)
	if err != nil {
		return err
	}

	var (
		logger   = newLogger(v)
		registry = prometheus.NewRegistry()
		instr    = metrics.New(registry)
		backend  = hashrouter.NewHTTPBackend(conf.BackendTimeout)
		opts     = []hashrouter.Option{
			hashrouter.WithTotalSlots(conf.TotalSlots),
			hashrouter.WithVirtualCopies(conf.VirtualCopies),
			hashrouter.WithDefaultPort(conf.DefaultPort),
			hashrouter.WithLogger(logger),
			hashrouter.WithMetrics(instr),
		}
		membership = hashrouter.NewMembership(opts...)
		router     = hashrouter.NewRouter(membership, backend, backend, opts...)
		sweeper    = hashrouter.NewSweeper(membership, backend, conf.SweepInterval, opts...)
	)

	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if len(conf.Servers) > 0 {
		result, err := membership.AddServers(len(conf.Servers), conf.Servers)
		if err != nil {
			return fmt.Errorf("failed to add initial servers: %w", err)
		}
		if err := result.Err(); err != nil {
			logger.Warn("some initial servers could not be placed", "error", err)
		}
	}

	logger.Info("ring ready",
		"servers", membership.Count(),
		"slots", conf.TotalSlots,
		"vnodes", conf.VirtualCopies)

	var ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper.Start(ctx)
	defer sweeper.Stop()

	var handler = httpapi.NewHandler(membership, router, httpapi.HandlerConfig{
		RoutedPaths: conf.RoutedPaths,
		Metrics:     metrics.Handler(registry),
		Logger:      logger,
	})

	return httpapi.Serve(ctx, conf.Addr, handler, logger)
}
