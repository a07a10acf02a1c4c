package chat

import (
	"context"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"askuni/pkg/chatsdk"
)

const requestTimeout = 30 * time.Second

// sendCmd runs the send in a background goroutine with a cancellable
// context. gen identifies the request so stale responses from cancelled
// requests can be discarded.
func sendCmd(ctx context.Context, co *chatsdk.Coordinator, text string, gen uint64) tea.Cmd {
	return func() tea.Msg {
		res, err := co.Send(ctx, text)
		return SendDoneMsg{Result: res, Err: err, Gen: gen}
	}
}

// bounded runs fn off the UI goroutine with a requestTimeout deadline.
func bounded(fn func(ctx context.Context) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return fn(ctx)
	}
}

func loadChatsCmd(client *chatsdk.Client) tea.Cmd {
	return bounded(func(ctx context.Context) tea.Msg {
		chats, err := client.Chats(ctx)
		return ChatsLoadedMsg{Chats: chats, Err: err}
	})
}

func loadHistoryCmd(client *chatsdk.Client, sessionID string) tea.Cmd {
	return bounded(func(ctx context.Context) tea.Msg {
		msgs, err := client.Messages(ctx, sessionID)
		return HistoryLoadedMsg{SessionID: sessionID, Messages: msgs, Err: err}
	})
}

func deleteChatCmd(client *chatsdk.Client, sessionID string) tea.Cmd {
	return bounded(func(ctx context.Context) tea.Msg {
		return ChatDeletedMsg{SessionID: sessionID, Err: client.DeleteChat(ctx, sessionID)}
	})
}

// attachCmd uploads the file at path for text extraction.
func attachCmd(client *chatsdk.Client, path string) tea.Cmd {
	return bounded(func(ctx context.Context) tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return AttachedMsg{Path: path, Err: err}
		}
		defer f.Close()
		att, err := client.Upload(ctx, filepath.Base(path), f)
		return AttachedMsg{Path: path, Attachment: att, Err: err}
	})
}
