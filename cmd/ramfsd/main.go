// Command ramfsd starts the in-memory file-storage server. Flags and wiring
// follow a cobra-root-plus-subcommand layout, trimmed to the one subcommand
// this server needs.
package main

import (
	"fmt"
	"os"

	"github.com/etrian-dev/ramfsd/cmd/ramfsd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ramfsd:", err)
		os.Exit(1)
	}
}
