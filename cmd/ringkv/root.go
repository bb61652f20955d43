package main

import (
	"github.com/spf13/cobra"

	"ringkv/pkg/config"
)

type rootOptions struct {
	configPath string
	zk         []string
	root       string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "ringkv",
		Short: "Distributed key-value store on a consistent hash ring",
		Long: `ringkv keeps string keys on a ring of storage nodes coordinated through
ZooKeeper. A controller provisions nodes from a static pool and rebalances
keys when nodes join or leave.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := initConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("zk") {
				cfg.Coordinator.Servers = opts.zk
			}
			if cmd.Flags().Changed("root") {
				cfg.Coordinator.Root = opts.root
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			initLogger(&cfg)
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "ringkv.yaml", "Path to YAML config")
	cmd.PersistentFlags().StringSliceVar(&opts.zk, "zk", nil, "ZooKeeper servers (comma-separated)")
	cmd.PersistentFlags().StringVar(&opts.root, "root", "", "Coordination root path")

	cmd.AddCommand(
		newNodeCmd(opts),
		newControllerCmd(opts),
		newClientCmd(opts),
		newAdminCmd(opts),
	)
	return cmd
}
