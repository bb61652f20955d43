package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ringkv/pkg/rpc"
)

func newAdminCmd(_ *rootOptions) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage the cluster through the controller API",
	}
	cmd.PersistentFlags().StringVarP(&url, "url", "u", "http://127.0.0.1:8080", "Controller admin API URL")

	api := func() *rpc.AdminClient { return rpc.NewAdminClient(url) }

	nodes := &cobra.Command{
		Use:   "nodes",
		Short: "List pool slots and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := api().Nodes(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tADDR\tSTATUS\tRANGE")
			for _, n := range list {
				rng := "-"
				if n.RangeStop != "" {
					rng = n.RangeStart + ".." + n.RangeStop
				}
				fmt.Fprintf(w, "%s\t%s:%d\t%s\t%s\n", n.Name, n.Host, n.Port, n.Status, rng)
			}
			return w.Flush()
		},
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Provision the next offline pool slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := api().AddNode(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s:%d)\n", info.Name, info.Host, info.Port)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Drain and shut down a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return api().RemoveNode(cmd.Context(), args[0])
		},
	}

	action := func(use, short string, op func(*rpc.AdminClient, *cobra.Command) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return op(api(), cmd) },
		}
	}

	cmd.AddCommand(nodes, add, remove,
		action("start", "Let nodes accept client requests", func(a *rpc.AdminClient, cmd *cobra.Command) error { return a.Start(cmd.Context()) }),
		action("stop", "Make nodes refuse client requests", func(a *rpc.AdminClient, cmd *cobra.Command) error { return a.Stop(cmd.Context()) }),
		action("shutdown", "Stop every node and empty the ring", func(a *rpc.AdminClient, cmd *cobra.Command) error { return a.Shutdown(cmd.Context()) }),
	)
	return cmd
}
