package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sessiond",
		Short:         "Session data store with optimistic conflict resolution",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand(&serveOptions{}))
	cmd.AddCommand(newClearCommand())
	return cmd
}
