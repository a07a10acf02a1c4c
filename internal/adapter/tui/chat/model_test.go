package chat

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"askuni/internal/adapter/tui/components"
	"askuni/pkg/chatsdk"
	"askuni/pkg/eventstream"
)

func testServer(t *testing.T, stream http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message/stream", stream)
	mux.HandleFunc("GET /chats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"sessions": []map[string]any{
				{"id": "S1111111111", "title": "Room of CS101", "createdAt": time.Now(), "updatedAt": time.Now()},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func frames(parts ...[2]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range parts {
			_ = eventstream.Write(w, p[0].(string), p[1])
			w.(http.Flusher).Flush()
		}
	}
}

func newTestModel(t *testing.T, srv *httptest.Server) ChatModel {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := chatsdk.New(srv.URL, chatsdk.WithLogger(logger))
	co := chatsdk.NewCoordinator(client, chatsdk.DisplayFunc(func(chatsdk.Snapshot) {}))
	m := NewChatModel(ChatModelDeps{Client: client, Coordinator: co, Logger: logger})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(ChatModel)
}

// step applies msg and runs the returned command once, feeding its result
// back into the model.
func step(t *testing.T, m ChatModel, msg tea.Msg) ChatModel {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(ChatModel)
	if cmd == nil {
		return m
	}
	if out := cmd(); out != nil {
		next, _ = m.Update(out)
		m = next.(ChatModel)
	}
	return m
}

func lastMessage(t *testing.T, m ChatModel) components.ChatMessage {
	t.Helper()
	msgs := m.transcript.Messages()
	if len(msgs) == 0 {
		t.Fatal("no messages")
	}
	return msgs[len(msgs)-1]
}

func TestSubmitStreamsAnswer(t *testing.T) {
	srv := testServer(t, frames(
		[2]any{"delta", map[string]string{"t": "The room "}},
		[2]any{"delta", map[string]string{"t": "is B101."}},
		[2]any{"final", map[string]string{"text": "The room is B101.", "sessionId": "S1234567890"}},
	))
	m := newTestModel(t, srv)

	m = step(t, m, components.InputSubmitMsg{Value: "Where is CS101?"})

	if m.waiting {
		t.Error("still waiting after send finished")
	}
	last := lastMessage(t, m)
	if last.Role != components.RoleAssistant || last.Content != "The room is B101." {
		t.Errorf("last = %+v", last)
	}
	if last.Aborted {
		t.Error("finalized answer marked aborted")
	}
	if got := m.deps.Coordinator.SessionID(); got != "S1234567890" {
		t.Errorf("SessionID = %q", got)
	}
	if m.statusBar.Session != "chat S1234567" {
		t.Errorf("status = %q", m.statusBar.Session)
	}
}

func TestAbortKeepsPartialAnswer(t *testing.T) {
	srv := testServer(t, frames(
		[2]any{"delta", map[string]string{"t": "The lib"}},
	))
	m := newTestModel(t, srv)

	m = step(t, m, components.InputSubmitMsg{Value: "Library hours?"})

	last := lastMessage(t, m)
	if !last.Aborted {
		t.Fatalf("last = %+v, want aborted", last)
	}
	if last.Content != "The lib" {
		t.Errorf("Content = %q, want partial text", last.Content)
	}
	if last.Note == "" {
		t.Error("missing abort reason")
	}
}

func TestStaleCompletionIgnoredAfterCancel(t *testing.T) {
	srv := testServer(t, frames([2]any{"final", map[string]string{"text": "late"}}))
	m := newTestModel(t, srv)

	next, cmd := m.Update(components.InputSubmitMsg{Value: "hi"})
	m = next.(ChatModel)
	if !m.waiting {
		t.Fatal("expected waiting after submit")
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(ChatModel)
	if m.waiting {
		t.Fatal("still waiting after cancel")
	}

	next, _ = m.Update(cmd())
	m = next.(ChatModel)
	last := lastMessage(t, m)
	if last.Role != components.RoleSystem || last.Content != "Answer cancelled." {
		t.Errorf("last = %+v", last)
	}
}

func TestSnapshotWithOldGenIgnored(t *testing.T) {
	m := newTestModel(t, testServer(t, frames()))
	m.waiting = true
	m.gen = 2

	next, _ := m.Update(SnapshotMsg{Snapshot: chatsdk.Snapshot{State: chatsdk.StateStreaming, Text: "old"}, Gen: 1})
	m = next.(ChatModel)
	if len(m.transcript.Messages()) != 0 {
		t.Errorf("stale snapshot rendered: %+v", m.transcript.Messages())
	}

	next, _ = m.Update(SnapshotMsg{Snapshot: chatsdk.Snapshot{State: chatsdk.StateStreaming, Text: "new"}, Gen: 2})
	m = next.(ChatModel)
	if last := lastMessage(t, m); last.Content != "new" {
		t.Errorf("Content = %q", last.Content)
	}
}

func TestChatsCommandOpensPicker(t *testing.T) {
	m := newTestModel(t, testServer(t, frames()))

	m = step(t, m, components.InputSubmitMsg{Value: "/chats"})

	if !m.picker.Visible {
		t.Fatal("picker not visible")
	}
	if !strings.Contains(m.picker.Title, "(1)") {
		t.Errorf("Title = %q", m.picker.Title)
	}
}

func TestNewChatResetsSession(t *testing.T) {
	m := newTestModel(t, testServer(t, frames()))
	m.deps.Coordinator.Resume("S999")

	m = step(t, m, components.InputSubmitMsg{Value: "/new"})

	if id := m.deps.Coordinator.SessionID(); id != "" {
		t.Errorf("SessionID = %q", id)
	}
	if m.statusBar.Session != "new chat" {
		t.Errorf("status = %q", m.statusBar.Session)
	}
}

func TestUnknownCommand(t *testing.T) {
	m := newTestModel(t, testServer(t, frames()))
	m = step(t, m, components.InputSubmitMsg{Value: "/bogus"})
	if last := lastMessage(t, m); !strings.Contains(last.Content, "Unknown command: /bogus") {
		t.Errorf("last = %q", last.Content)
	}
}

func TestAttachMissingFile(t *testing.T) {
	m := newTestModel(t, testServer(t, frames()))
	m = step(t, m, components.InputSubmitMsg{Value: "/attach /no/such/file.pdf"})
	last := lastMessage(t, m)
	if last.Role != components.RoleError || !strings.Contains(last.Content, "File Not Found") {
		t.Errorf("last = %+v", last)
	}
	if len(m.pendingFiles) != 0 {
		t.Errorf("pendingFiles = %v", m.pendingFiles)
	}
}

func TestIsMouseEscapeLeak(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"<65;38;21M", true},
		{"<0;1;1m", true},
		{"[M", true},
		{"[32;10;5M", true},
		{"hello", false},
		{"<abc>", false},
		{"j", false},
	}
	for _, tt := range tests {
		if got := isMouseEscapeLeak(tt.in); got != tt.want {
			t.Errorf("isMouseEscapeLeak(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFindScrollsToMatch(t *testing.T) {
	m := newTestModel(t, testServer(t, frames()))
	for i := range 30 {
		m.addSystem(strings.Repeat("filler line\n", 2) + "entry " + string(rune('a'+i%26)))
	}
	m.addSystem("The exam office is in building C.")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(ChatModel)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("/")})
	m = next.(ChatModel)
	if m.finder.State != components.FinderTyping {
		t.Fatalf("finder state = %v", m.finder.State)
	}

	m.transcript.Top()
	next, _ = m.Update(components.FindMsg{Query: "exam office"})
	m = next.(ChatModel)
	if got := m.finder.Current(); got != 30 {
		t.Fatalf("Current = %d, want 30", got)
	}
	if m.transcript.Viewport.YOffset == 0 {
		t.Error("viewport did not move to the match")
	}
}

func TestPickerDeleteRemovesRow(t *testing.T) {
	srv := testServer(t, frames())
	m := newTestModel(t, srv)
	m = step(t, m, components.InputSubmitMsg{Value: "/chats"})

	next, _ := m.Update(ChatDeletedMsg{SessionID: "S1111111111"})
	m = next.(ChatModel)
	if len(m.picker.Items) != 0 {
		t.Errorf("Items = %+v", m.picker.Items)
	}
	if last := lastMessage(t, m); !strings.Contains(last.Content, "deleted") {
		t.Errorf("last = %q", last.Content)
	}
}

func TestAttachmentChipsFollowPending(t *testing.T) {
	m := newTestModel(t, testServer(t, frames()))
	before := m.input.Height()

	m.setPending([]string{"notes.pdf"})
	if m.input.Height() != before+1 {
		t.Errorf("Height = %d, want chip row", m.input.Height())
	}
	m = step(t, m, components.InputSubmitMsg{Value: "/new"})
	if len(m.pendingFiles) != 0 || m.input.Height() != before {
		t.Errorf("pending = %v after /new", m.pendingFiles)
	}
}

func pendingNames(co *chatsdk.Coordinator) []string {
	var names []string
	for _, a := range co.Pending() {
		names = append(names, a.Filename)
	}
	return names
}

func TestAbortedAnswerKeepsAttachmentChips(t *testing.T) {
	m := newTestModel(t, testServer(t, frames(
		[2]any{"delta", map[string]string{"t": "Per the sylla"}},
	)))
	m = step(t, m, AttachedMsg{Path: "/tmp/notes.txt", Attachment: chatsdk.Attachment{Text: "CS101 syllabus"}})
	if len(m.pendingFiles) != 1 || m.pendingFiles[0] != "notes.txt" {
		t.Fatalf("chips = %v after attach", m.pendingFiles)
	}

	m = step(t, m, components.InputSubmitMsg{Value: "Summarise this"})

	if !lastMessage(t, m).Aborted {
		t.Fatal("stream should have aborted")
	}
	want := pendingNames(m.deps.Coordinator)
	if len(want) != 1 {
		t.Fatalf("coordinator pending = %v, want the attachment kept", want)
	}
	if strings.Join(m.pendingFiles, ",") != strings.Join(want, ",") {
		t.Errorf("chips = %v, coordinator pending = %v", m.pendingFiles, want)
	}
}

func TestFinishedAnswerConsumesAttachmentChips(t *testing.T) {
	m := newTestModel(t, testServer(t, frames(
		[2]any{"final", map[string]string{"text": "It covers loops.", "sessionId": "S1234567890"}},
	)))
	m = step(t, m, AttachedMsg{Path: "notes.txt", Attachment: chatsdk.Attachment{Filename: "notes.txt", Text: "loops"}})
	m = step(t, m, components.InputSubmitMsg{Value: "Summarise this"})

	if len(m.pendingFiles) != 0 || len(m.deps.Coordinator.Pending()) != 0 {
		t.Errorf("chips = %v, pending = %v", m.pendingFiles, m.deps.Coordinator.Pending())
	}
}
