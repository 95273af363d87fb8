// Command mcpcored runs a standalone MCP server, exposing registered tools,
// resources, and prompts over stdio or HTTP.
package main

import "github.com/openmcp-run/mcpcore/cmd/mcpcored/cmd"

func main() {
	cmd.Execute()
}
