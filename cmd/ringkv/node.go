package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	apihttp "ringkv/internal/http"
	"ringkv/internal/node"
	"ringkv/pkg/coord"
)

func newNodeCmd(opts *rootOptions) *cobra.Command {
	var (
		name        string
		host        string
		port        int
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a storage node",
		Long: `Run one storage node. The node registers itself under the coordination
root and waits for the controller to send it ring metadata.

Examples:
  ringkv node --name server1 --host 10.0.0.5 --port 50000 --zk 10.0.0.1:2181`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg.Node
			if cmd.Flags().Changed("name") {
				cfg.Name = name
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if cfg.Name == "" {
				return fmt.Errorf("node name is required")
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			zk, err := coord.NewZooKeeper(opts.cfg.Coordinator.Servers, opts.cfg.Coordinator.SessionTimeout)
			if err != nil {
				return fmt.Errorf("connect to ZooKeeper: %w", err)
			}

			reg := prometheus.NewRegistry()
			s := node.New(node.Config{
				Name:             cfg.Name,
				Host:             cfg.Host,
				Port:             cfg.Port,
				Paths:            coord.Paths{Root: opts.cfg.Coordinator.Root},
				ReplicationQueue: cfg.ReplicationQueue,
			}, zk, node.WithRegistry(reg))
			if err := s.Start(ctx); err != nil {
				_ = zk.Close()
				return err
			}

			if cfg.MetricsAddr != "" {
				ops := apihttp.NewNodeServer(s, reg, cfg.MetricsAddr)
				if err := ops.Start(); err != nil {
					s.Stop()
					return err
				}
				defer func() {
					if err := ops.Stop(); err != nil {
						slog.Warn("stop ops server", "error", err)
					}
				}()
			}

			// SHUTDOWN от контроллера завершает процесс так же, как сигнал
			select {
			case <-ctx.Done():
				s.Stop()
			case <-s.Done():
			}
			slog.Info("node exited", "node", cfg.Name, "state", s.State())
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Pool slot name")
	cmd.Flags().StringVar(&host, "host", "", "Advertised host")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Client protocol port")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address for /health and /metrics")
	return cmd
}
