// Package chat implements the Bubble Tea chat client for an AskUni server.
package chat

import "askuni/pkg/chatsdk"

// SnapshotMsg carries one display update from the stream consumer.
// Gen identifies the request generation so stale updates can be discarded.
type SnapshotMsg struct {
	Snapshot chatsdk.Snapshot
	Gen      uint64
}

// SendDoneMsg signals that a send finished.
// Gen identifies the request generation so stale completions can be discarded.
type SendDoneMsg struct {
	Result chatsdk.Result
	Err    error
	Gen    uint64
}

// ChatsLoadedMsg carries the conversation list for /chats.
type ChatsLoadedMsg struct {
	Chats []chatsdk.ChatSummary
	Err   error
}

// HistoryLoadedMsg carries the stored messages of a resumed conversation.
type HistoryLoadedMsg struct {
	SessionID string
	Messages  []chatsdk.ChatMessage
	Err       error
}

// ChatDeletedMsg reports the outcome of /delete.
type ChatDeletedMsg struct {
	SessionID string
	Err       error
}

// AttachedMsg reports an uploaded document queued for the next send.
type AttachedMsg struct {
	Path       string
	Attachment chatsdk.Attachment
	Err        error
}

// QuitMsg signals the program to exit.
type QuitMsg struct{}
