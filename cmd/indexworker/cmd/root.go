// Package cmd provides the indexworker CLI.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codeindexmcp/pkg/version"
)

// NewRootCmd creates the root command for the indexworker binary.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "indexworker",
		Short:   "Distributed indexing worker: dequeues jobs from the coordinator's Redis queue and indexes files",
		Version: version.Version,
	}
	cmd.SetVersionTemplate("indexworker version {{.Version}}\n")

	cmd.AddCommand(newRunCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
