// Command indexworker dequeues indexing jobs from the Coordinator's
// Redis queue (spec 4.4, 6.3) and indexes the files each job names.
package main

import (
	"os"

	"github.com/Aman-CERP/codeindexmcp/cmd/indexworker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
