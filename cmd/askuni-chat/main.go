package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"askuni/internal/adapter/tui/chat"
	"askuni/internal/infra/config"
	"askuni/internal/infra/logger"
	"askuni/pkg/chatsdk"
)

var version = "dev"

const defaultServer = "http://localhost:3000"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	server  string
	token   string
	debug   bool
	logFile string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "askuni-chat: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	var (
		session string
		attach  []string
	)

	root := &cobra.Command{
		Use:   "askuni-chat",
		Short: "Terminal client for an AskUni server",
		Long: `askuni-chat talks to an AskUni server from the terminal.

Without a subcommand it opens the interactive chat. Answers stream in as they
are generated; Esc cancels the answer in progress.

ENVIRONMENT:
    ASKUNI_SERVER   server URL (default ` + defaultServer + `)
    ASKUNI_TOKEN    bearer token (default: saved by 'askuni-chat login')`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, closeLog, err := g.logger(true)
			if err != nil {
				return err
			}
			defer closeLog()
			client, err := g.client(log)
			if err != nil {
				return err
			}
			return chat.Run(cmd.Context(), client, chat.Options{
				SessionID:   session,
				Attach:      attach,
				ServerLabel: serverLabel(g.server),
				Logger:      log,
			})
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.server, "server", envOr("ASKUNI_SERVER", defaultServer), "AskUni server URL")
	pf.StringVar(&g.token, "token", os.Getenv("ASKUNI_TOKEN"), "bearer token (overrides the saved login)")
	pf.BoolVar(&g.debug, "debug", false, "enable debug logging")
	pf.StringVar(&g.logFile, "log-file", "", "write logs to this file (interactive mode logs nowhere by default)")

	root.Flags().StringVar(&session, "session", "", "resume a saved conversation by id")
	root.Flags().StringSliceVar(&attach, "attach", nil, "attach documents to the first message")

	root.AddCommand(newLoginCmd(g), newLogoutCmd(), newAskCmd(g))
	return root
}

// client builds an SDK client with the explicit token or the saved login.
func (g *globalFlags) client(log *slog.Logger) (*chatsdk.Client, error) {
	if _, err := url.ParseRequestURI(g.server); err != nil {
		return nil, fmt.Errorf("invalid --server %q: %w", g.server, err)
	}
	token := g.token
	if token == "" {
		saved, err := loadToken()
		if err != nil {
			return nil, err
		}
		token = saved
	}
	opts := []chatsdk.Option{
		chatsdk.WithLogger(log),
		chatsdk.WithUserAgent("askuni-chat/" + version),
	}
	if token != "" {
		opts = append(opts, chatsdk.WithToken(token))
	}
	return chatsdk.New(g.server, opts...), nil
}

// logger returns a text logger on stderr, or on --log-file. The full-screen
// UI passes quiet so stray lines do not corrupt the screen.
func (g *globalFlags) logger(quiet bool) (*slog.Logger, func() error, error) {
	level := "warn"
	if g.debug {
		level = "debug"
	}
	switch {
	case g.logFile != "":
		return logger.New(config.LoggerConfig{Level: level, Format: "text", Output: g.logFile})
	case quiet:
		return logger.Discard(), func() error { return nil }, nil
	}
	return logger.NewWithWriter(config.LoggerConfig{Level: level, Format: "text"}, os.Stderr), func() error { return nil }, nil
}

func serverLabel(server string) string {
	u, err := url.Parse(server)
	if err != nil || u.Host == "" {
		return server
	}
	return u.Host
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
