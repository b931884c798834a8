package cmd

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/agentic-research/cominavi/internal/mcptools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve catalog queries as MCP tools over stdio",
	Long: "Starts a sync in the background and serves MCP tools on stdin/stdout.\n" +
		"Tools answer with a not-ready error until the sync completes.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			o, err := a.start(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()
			return server.ServeStdio(mcptools.NewServer(o, version))
		})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
