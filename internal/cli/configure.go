package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/mcpbridge/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a default configuration file",
	Long: `Write a default configuration file and print its location.
Edit the file afterwards to point the bridge at your MCP server and,
optionally, an LLM provider. An existing file is left untouched.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	configPath := loader.GetConfigPath()

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("Configuration saved to: %s\n", configPath)
	fmt.Println("\nEdit mcp.transport, mcp.command or mcp.url to point at your MCP server,")
	fmt.Println("then start the bridge with: mcpbridge serve")

	return nil
}
