package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "askuni: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "askuni",
		Short: "University course assistant server",
		Long: `askuni serves a chat assistant grounded in official course documents.

Answers stream to the browser or terminal client as server-sent events, with a
blocking endpoint for clients that cannot stream.

CONFIGURATION:
    Config file: ./config.yaml (or --config, or ASKUNI_CONFIG)
    Environment: ASKUNI_* variables override config`,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running without a subcommand starts the server.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath(cfgPath))
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ./config.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), configPath(cfgPath))
			},
		},
		&cobra.Command{
			Use:   "doctor",
			Short: "Run health checks on your setup",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runDoctor(cmd.OutOrStdout(), configPath(cfgPath))
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "askuni %s\n", version)
			},
		},
	)
	return root
}

// configPath resolves the config file: flag, then ASKUNI_CONFIG, then ./config.yaml.
func configPath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv("ASKUNI_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
