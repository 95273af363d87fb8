// Package cmd provides the mcpcored CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mcpcored",
	Short: "mcpcored runs an MCP JSON-RPC server",
	Long: `mcpcored hosts tools, resources, and prompts behind the Model Context
Protocol, over stdio or HTTP (Streamable-HTTP and legacy SSE).

Configuration is loaded from mcpcore.yaml in the current directory or
/etc/mcpcore, with MCPCORE_-prefixed environment variables overriding any
value (e.g. MCPCORE_SERVER_HTTP_ADDR=:9090).`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcpcore.yaml)")
}
