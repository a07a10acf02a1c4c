package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"askuni/pkg/chatsdk"
)

func newAskCmd(g *globalFlags) *cobra.Command {
	var (
		session  string
		attach   []string
		markdown bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the answer",
		Long: `Ask one question. The answer streams to stdout as it is generated; with
--markdown it is rendered once complete instead. The conversation id is
printed to stderr so the next question can continue it with --session.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closeLog, err := g.logger(false)
			if err != nil {
				return err
			}
			defer closeLog()
			client, err := g.client(log)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var display chatsdk.Display = chatsdk.DisplayFunc(func(chatsdk.Snapshot) {})
			printer := &streamPrinter{w: out}
			if !markdown {
				display = printer
			}

			var opts []chatsdk.CoordinatorOption
			if session != "" {
				opts = append(opts, chatsdk.WithSession(session))
			}
			co := chatsdk.NewCoordinator(client, display, opts...)

			for _, path := range attach {
				att, err := uploadFile(cmd, client, path)
				if err != nil {
					return fmt.Errorf("attach %s: %w", path, err)
				}
				co.Attach(att)
			}

			res, err := co.Send(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				var abort *chatsdk.AbortError
				if errors.As(err, &abort) {
					if markdown && abort.Partial != "" {
						fmt.Fprintln(out, abort.Partial)
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "\n[answer interrupted: %s]\n", abort.Reason)
				}
				return err
			}

			if markdown {
				rendered, rerr := renderMarkdown(res.Text)
				if rerr != nil {
					rendered = res.Text
				}
				fmt.Fprint(out, rendered)
			} else {
				fmt.Fprintln(out)
			}
			if res.SessionID != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", res.SessionID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "continue a saved conversation")
	cmd.Flags().StringSliceVar(&attach, "attach", nil, "attach documents to the question")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render the complete answer as markdown instead of streaming")
	return cmd
}

func uploadFile(cmd *cobra.Command, client *chatsdk.Client, path string) (chatsdk.Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return chatsdk.Attachment{}, err
	}
	defer f.Close()
	return client.Upload(cmd.Context(), filepath.Base(path), f)
}

func renderMarkdown(text string) (string, error) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return "", err
	}
	return r.Render(text)
}

// streamPrinter writes the growing answer to w as it arrives. When the
// authoritative final text does not extend what was printed, it is printed
// again in full after a separator.
type streamPrinter struct {
	w       io.Writer
	mu      sync.Mutex
	printed string
}

func (p *streamPrinter) Render(s chatsdk.Snapshot) {
	if s.State != chatsdk.StateStreaming && s.State != chatsdk.StateFinalized {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if strings.HasPrefix(s.Text, p.printed) {
		fmt.Fprint(p.w, s.Text[len(p.printed):])
		p.printed = s.Text
		return
	}
	if s.State == chatsdk.StateFinalized {
		fmt.Fprint(p.w, "\n\n---\n"+s.Text)
		p.printed = s.Text
	}
}
