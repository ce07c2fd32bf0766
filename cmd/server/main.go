package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/redmine-mcp/redmine-mcp-server/internal/api"
	"github.com/redmine-mcp/redmine-mcp-server/internal/config"
	"github.com/redmine-mcp/redmine-mcp-server/internal/mcp"
)

var (
	version = "1.0.0"

	// Global flags
	port     int
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "redmine-mcp-server",
		Short:   "Redmine MCP Server - AI assistant integration for Redmine",
		Version: version,
	}

	// Global flags
	rootCmd.PersistentFlags().IntVar(&port, "port", 8080, "Server port (for SSE and API modes)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")

	// MCP command
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server",
		Long:  "Start the MCP server in stdio or SSE mode",
		RunE:  runMCP,
	}

	var sseMode bool
	mcpCmd.Flags().BoolVar(&sseMode, "sse", false, "Run in SSE mode instead of stdio")

	// API command
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Start REST API server",
		Long:  "Start the REST API server fronting the same Redmine client",
		RunE:  runAPI,
	}

	rootCmd.AddCommand(mcpCmd, apiCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(cfg config.Config) {
	effective := cfg.LogLevel
	if logLevel != "" {
		effective = logLevel
	}

	var level slog.Level
	switch effective {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func runMCP(cmd *cobra.Command, args []string) error {
	sseMode, _ := cmd.Flags().GetBool("sse")

	// SSE mode authenticates per request; only stdio needs the
	// process-wide API key.
	var cfg config.Config
	var err error
	if sseMode {
		cfg, err = config.FromEnvPerRequest()
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return err
	}
	setupLogging(cfg)

	server := mcp.NewServer(cfg, port, sseMode)
	return server.Run()
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromEnvPerRequest()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	server := api.NewServer(cfg, port)
	return server.Run()
}
