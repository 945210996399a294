// Command indexserver runs the code indexing MCP server described in
// spec section 6.2: symbol_lookup, search_code, get_status,
// list_plugins, and reindex over stdio.
package main

import (
	"os"

	"github.com/Aman-CERP/codeindexmcp/cmd/indexserver/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
