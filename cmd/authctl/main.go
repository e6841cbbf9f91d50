package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Operator tool for the UTS auth service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newKeygenCmd())
	root.AddCommand(newHashPasswordCmd())
	root.AddCommand(newUserCmd())
	root.AddCommand(newMigrateCmd())

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
