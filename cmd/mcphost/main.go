// Command mcphost runs the MCP connection manager as a service: an HTTP
// management API, an aggregating MCP gateway, and a watched servers file.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
