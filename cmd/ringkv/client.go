package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ringkv/pkg/client"
	"ringkv/pkg/dberrors"
)

func newClientCmd(opts *rootOptions) *cobra.Command {
	var servers []string
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Read and write keys",
	}
	cmd.PersistentFlags().StringSliceVarP(&servers, "servers", "s", nil, "Node addresses to bootstrap from")

	router := func(cmd *cobra.Command) *client.Router {
		cfg := opts.cfg.Client
		if cmd.Flags().Changed("servers") {
			cfg.Servers = servers
		}
		return client.New(client.Config{
			Servers:        cfg.Servers,
			DialTimeout:    cfg.DialTimeout,
			RequestTimeout: cfg.RequestTimeout,
		})
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print the value of a key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				r := router(cmd)
				defer r.Close()
				v, err := r.Get(cmd.Context(), args[0])
				if errors.Is(err, dberrors.ErrNotFound) {
					return fmt.Errorf("key %q not found", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "put <key> <value>",
			Short: "Store a value",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				r := router(cmd)
				defer r.Close()
				replaced, err := r.Put(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if replaced {
					fmt.Fprintln(cmd.OutOrStdout(), "updated")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "created")
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <key>",
			Short: "Delete a key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				r := router(cmd)
				defer r.Close()
				return r.Delete(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "metadata",
			Short: "Print the ring as seen by the contacted node",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				r := router(cmd)
				defer r.Close()
				if err := r.Connect(cmd.Context()); err != nil {
					return err
				}
				md, ok := r.Metadata()
				if !ok {
					return fmt.Errorf("no metadata received from %s", r.Addr())
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(md)
			},
		},
		&cobra.Command{
			Use:   "watch [key...]",
			Short: "Stream updates for keys, or for every key when none are given",
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer cancel()

				r := router(cmd)
				defer r.Close()
				if err := r.Subscribe(ctx, args...); err != nil {
					return err
				}
				for {
					select {
					case <-ctx.Done():
						return nil
					case u, ok := <-r.Updates():
						if !ok {
							return nil
						}
						if u.Deleted() {
							fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", u.Key)
						} else {
							fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", u.Key, u.Value)
						}
					}
				}
			},
		},
	)
	return cmd
}
