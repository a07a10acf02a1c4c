package chat

import (
	"context"
	"log/slog"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"askuni/pkg/chatsdk"
)

// Options configures Run.
type Options struct {
	// SessionID resumes an existing conversation.
	SessionID string
	// Attach lists documents uploaded before the first message.
	Attach []string
	// ServerLabel is shown in the status bar.
	ServerLabel string
	Logger      *slog.Logger
}

// bridge forwards consumer snapshots from the send goroutine into the
// Bubble Tea update loop, tagged with the current request generation.
type bridge struct {
	program atomic.Pointer[tea.Program]
	gen     atomic.Uint64
}

func (b *bridge) render(s chatsdk.Snapshot) {
	if p := b.program.Load(); p != nil {
		p.Send(SnapshotMsg{Snapshot: s, Gen: b.gen.Load()})
	}
}

func (b *bridge) setGen(gen uint64) { b.gen.Store(gen) }

// Run starts the chat UI against client and blocks until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, client *chatsdk.Client, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &bridge{}
	var coOpts []chatsdk.CoordinatorOption
	if opts.SessionID != "" {
		coOpts = append(coOpts, chatsdk.WithSession(opts.SessionID))
	}
	co := chatsdk.NewCoordinator(client, chatsdk.DisplayFunc(b.render), coOpts...)

	model := NewChatModel(ChatModelDeps{
		Client:      client,
		Coordinator: co,
		OnGenBump:   b.setGen,
		Logger:      logger,
		ServerLabel: opts.ServerLabel,
		Attach:      opts.Attach,
	})

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	b.program.Store(p)

	// Monitor context cancellation to quit the program.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Send(QuitMsg{})
		case <-done:
		}
	}()

	_, err := p.Run()
	return err
}
