package cli

import (
	"github.com/spf13/cobra"

	txmcp "github.com/ppiankov/txwatch/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for assistant integration",
	Long:  "Runs a Model Context Protocol server over stdio backed by the running coordinator.\nExposes tools: txwatch_pending, txwatch_history, txwatch_decide, txwatch_analyze.",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	surface, c, err := remoteSurface(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	return txmcp.New(surface, version).Run(ctx)
}
