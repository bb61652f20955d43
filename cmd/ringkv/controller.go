package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"ringkv/internal/controller"
	apihttp "ringkv/internal/http"
	"ringkv/pkg/config"
	"ringkv/pkg/coord"
)

func newControllerCmd(opts *rootOptions) *cobra.Command {
	var (
		poolFile  string
		httpAddr  string
		inProcess bool
		initial   int
	)
	cmd := &cobra.Command{
		Use:   "controller",
		Short: "Run the cluster controller and its HTTP admin API",
		Long: `Run the controller. It reads the node pool, launches nodes on demand and
pushes ring metadata to them. The admin API is served over HTTP.

Examples:
  ringkv controller --pool ringkv.pool --http :8080
  ringkv controller --pool ringkv.pool --in-process --nodes 3`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg.Controller
			if cmd.Flags().Changed("pool") {
				cfg.PoolFile = poolFile
			}
			if cmd.Flags().Changed("http") {
				cfg.HTTPAddr = httpAddr
			}

			pool, err := config.LoadPool(cfg.PoolFile)
			if err != nil {
				return err
			}
			if len(pool) == 0 {
				return fmt.Errorf("pool file %s lists no nodes", cfg.PoolFile)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			zkCfg := opts.cfg.Coordinator
			paths := coord.Paths{Root: zkCfg.Root}
			zk, err := coord.NewZooKeeper(zkCfg.Servers, zkCfg.SessionTimeout)
			if err != nil {
				return fmt.Errorf("connect to ZooKeeper: %w", err)
			}

			var launcher controller.Launcher
			if inProcess {
				local := controller.NewLocalLauncher(paths, func() (coord.Coordinator, error) {
					return coord.NewZooKeeper(zkCfg.Servers, zkCfg.SessionTimeout)
				})
				defer local.Close()
				launcher = local
			} else {
				launcher = controller.NewExecLauncher(cfg.Launcher.Command, cfg.Launcher.Args, zkCfg.Servers)
			}

			reg := prometheus.NewRegistry()
			ctrl := controller.New(controller.Config{
				Paths:        paths,
				StartTimeout: cfg.StartTimeout,
				PollInterval: cfg.PollInterval,
				RemoveGrace:  cfg.RemoveGrace,
				AckTimeout:   cfg.AckTimeout,
			}, zk, launcher, pool, controller.WithRegistry(reg))
			if err := ctrl.Init(); err != nil {
				_ = zk.Close()
				return err
			}
			defer func() {
				ctrl.Close()
				_ = zk.Close()
			}()

			for i := 0; i < initial; i++ {
				info, err := ctrl.AddNode(ctx)
				if err != nil {
					return fmt.Errorf("add initial node: %w", err)
				}
				slog.Info("initial node added", "node", info.Name, "addr", fmt.Sprintf("%s:%d", info.Host, info.Port))
			}

			api := apihttp.NewControllerServer(ctrl, reg, cfg.HTTPAddr)
			if err := api.Start(); err != nil {
				return err
			}

			<-ctx.Done()
			if err := api.Stop(); err != nil {
				slog.Warn("stop admin API", "error", err)
			}
			slog.Info("controller stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&poolFile, "pool", "", "Node pool file (<name> <host> <port> per line)")
	cmd.Flags().StringVar(&httpAddr, "http", "", "Admin API listen address")
	cmd.Flags().BoolVar(&inProcess, "in-process", false, "Run nodes inside the controller process")
	cmd.Flags().IntVarP(&initial, "nodes", "n", 0, "Nodes to add on startup")
	return cmd
}
