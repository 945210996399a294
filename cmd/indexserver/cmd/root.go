// Package cmd provides the indexserver CLI.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codeindexmcp/pkg/version"
)

// NewRootCmd creates the root command for the indexserver binary.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "indexserver",
		Short:   "MCP server exposing symbol_lookup/search_code/get_status/list_plugins/reindex over a local code index",
		Version: version.Version,
	}
	cmd.SetVersionTemplate("indexserver version {{.Version}}\n")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newLogsCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
