package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/mcpbridge/pkg/mcpserver"
)

var mcpServerAddr string

var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Run the bundled example MCP server",
	Long: `Run the bundled example MCP server with demo tools and resources.
By default it speaks newline-framed JSON-RPC over stdin/stdout, which is
what the bridge's stdio transport expects. With --http it serves the SSE
and websocket endpoints instead.`,
	RunE: runMCPServer,
}

func init() {
	mcpServerCmd.Flags().StringVar(&mcpServerAddr, "http", "", "serve SSE/websocket on this address instead of stdio (e.g. :9000)")
	rootCmd.AddCommand(mcpServerCmd)
}

func runMCPServer(cmd *cobra.Command, args []string) error {
	registry, err := mcpserver.NewDemoRegistry()
	if err != nil {
		return fmt.Errorf("failed to build registry: %w", err)
	}

	// Logs go to stderr; stdout carries the protocol in stdio mode.
	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(logLevel); err == nil {
		zl = zl.Level(lvl)
	}

	server, err := mcpserver.NewServer(mcpserver.Config{
		Name:     "mcpbridge-demo",
		Version:  version,
		Registry: registry,
		Logger:   zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if mcpServerAddr != "" {
		return server.ListenAndServe(ctx, mcpServerAddr)
	}
	return server.ServeStdio(ctx, os.Stdin, os.Stdout)
}
