// Package cmd is the command-line surface: schema inspection, address
// derivation, account fetches, and event streaming against a deployed
// program.
package cmd

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"anchorlink/config"
	"anchorlink/idl"
	"anchorlink/rpcx"
)

var (
	flagConfigDir string
	flagEndpoint  string
	flagWS        string
)

var rootCmd = &cobra.Command{
	Use:   "anchorlink",
	Short: "anchorlink talks to schema-described on-chain programs.",
	Long: `A command-line client for programs described by an IDL document:
inspect schemas, derive program addresses, fetch and decode accounts,
and stream or replay program events.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", ".", "directory holding anchorlink.yaml")
	rootCmd.PersistentFlags().StringVar(&flagEndpoint, "endpoint", "", "RPC endpoint (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagWS, "ws", "", "websocket endpoint (overrides config)")
}

// loadConfig resolves the effective configuration: file, then environment,
// then flags, most specific wins.
func loadConfig() (*config.Config, error) {
	// A .env file in the working directory is optional.
	if err := godotenv.Load(); err == nil {
		log.Println("Info: loaded .env")
	}

	cfg, err := config.LoadOrInit(flagConfigDir)
	if err != nil {
		return nil, err
	}
	if env := os.Getenv("ANCHORLINK_RPC"); env != "" {
		cfg.Endpoint = env
	}
	if env := os.Getenv("ANCHORLINK_WS"); env != "" {
		cfg.WSEndpoint = env
	}
	if flagEndpoint != "" {
		cfg.Endpoint = flagEndpoint
	}
	if flagWS != "" {
		cfg.WSEndpoint = flagWS
	}
	return cfg, cfg.Validate()
}

func buildClient() (*rpcx.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	client, err := rpcx.New(cfg.ClientConfig(), rpcx.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

func loadSchema(path string) (*idl.Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read IDL file: %w", err)
	}
	return idl.Load(raw)
}

// Execute runs the root command; called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}
