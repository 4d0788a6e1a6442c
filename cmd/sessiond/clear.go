package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sessionstore/internal/server"
)

func newClearCommand() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every session on a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := server.Dial(addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := server.NewClient(conn, "").Clear(ctx); err != nil {
				return fmt.Errorf("clear sessions on %s: %w", addr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared sessions on %s\n", addr)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:50061", "server address")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")

	return cmd
}
