package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"askuni/internal/domain"
)

func openTestJournal(t *testing.T, keep Retention) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "audit.jsonl"), keep)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func entries(t *testing.T, path string) []domain.AuditEvent {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var out []domain.AuditEvent
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var e domain.AuditEvent
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("bad line %q: %v", line, err)
		}
		out = append(out, e)
	}
	return out
}

func TestJournalRecord(t *testing.T) {
	j := openTestJournal(t, Retention{})
	err := j.Record(context.Background(), domain.AuditEvent{
		Action:  domain.AuditLogin,
		Outcome: domain.OutcomeSuccess,
		Actor:   "U01",
		Detail:  map[string]string{"email": "202012345@stu.uob.edu.bh"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	got := entries(t, j.Path())
	if len(got) != 1 {
		t.Fatalf("got %d entries", len(got))
	}
	e := got[0]
	if e.Action != domain.AuditLogin || e.Actor != "U01" || e.Outcome != domain.OutcomeSuccess {
		t.Errorf("entry = %+v", e)
	}
	if e.Time.IsZero() {
		t.Error("time not stamped")
	}
	if e.Detail["email"] != "202012345@stu.uob.edu.bh" {
		t.Errorf("detail = %v", e.Detail)
	}
}

func TestOpenJournalPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit", "audit.jsonl")
	j, err := OpenJournal(path, Retention{})
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	defer j.Close()

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Errorf("file perm = %o", perm)
	}
	di, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if perm := di.Mode().Perm(); perm != 0o700 {
		t.Errorf("dir perm = %o", perm)
	}
}

func TestJournalConcurrentRecords(t *testing.T) {
	j := openTestJournal(t, Retention{})
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = j.Record(context.Background(), domain.AuditEvent{Action: domain.AuditRegister, Actor: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()
	if n := len(entries(t, j.Path())); n != 25 {
		t.Errorf("got %d entries, want 25", n)
	}
}

func TestJournalRecordAfterClose(t *testing.T) {
	j := openTestJournal(t, Retention{})
	j.Close()
	err := j.Record(context.Background(), domain.AuditEvent{Action: domain.AuditLogin})
	if !errors.Is(err, domain.ErrAuditWrite) {
		t.Errorf("err = %v, want ErrAuditWrite", err)
	}
}

func TestJournalSpanEvent(t *testing.T) {
	j := openTestJournal(t, Retention{})

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "chat.delete")
	if err := j.Record(ctx, domain.AuditEvent{Action: domain.AuditChatDelete, Outcome: domain.OutcomeSuccess, Target: "S1"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("got %d spans", len(ended))
	}
	events := ended[0].Events()
	if len(events) != 1 || events[0].Name != "audit.chat_delete" {
		t.Fatalf("events = %+v", events)
	}
	found := false
	for _, kv := range events[0].Attributes {
		if string(kv.Key) == "audit.target" && kv.Value.AsString() == "S1" {
			found = true
		}
	}
	if !found {
		t.Errorf("attributes = %v", events[0].Attributes)
	}
}

func TestJournalSkipsSpanWhenNotRecording(t *testing.T) {
	j := openTestJournal(t, Retention{})
	ctx, span := otel.Tracer("noop").Start(context.Background(), "x")
	defer span.End()
	if err := j.Record(ctx, domain.AuditEvent{Action: domain.AuditLogin}); err != nil {
		t.Fatalf("Record: %v", err)
	}
}

func TestJournalTrimByAge(t *testing.T) {
	j := openTestJournal(t, Retention{MaxAge: time.Hour})
	ctx := context.Background()
	j.Record(ctx, domain.AuditEvent{Time: time.Now().Add(-3 * time.Hour), Action: domain.AuditRegister, Actor: "old"})
	j.Record(ctx, domain.AuditEvent{Time: time.Now(), Action: domain.AuditLogin, Actor: "new"})

	dropped, err := j.Trim(ctx)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}

	if err := j.Record(ctx, domain.AuditEvent{Action: domain.AuditChatDelete, Actor: "after"}); err != nil {
		t.Fatalf("Record after trim: %v", err)
	}
	got := entries(t, j.Path())
	if len(got) != 2 || got[0].Actor != "new" || got[1].Actor != "after" {
		t.Errorf("entries = %+v", got)
	}
}

func TestJournalTrimBySize(t *testing.T) {
	j := openTestJournal(t, Retention{MaxSize: 300})
	for i := 0; i < 10; i++ {
		j.Record(context.Background(), domain.AuditEvent{Action: domain.AuditLogin, Actor: fmt.Sprintf("U%010d", i)})
	}

	dropped, err := j.Trim(context.Background())
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if dropped == 0 {
		t.Fatal("nothing dropped")
	}
	fi, err := os.Stat(j.Path())
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() > 300 {
		t.Errorf("size = %d", fi.Size())
	}
	got := entries(t, j.Path())
	if len(got) != 10-dropped {
		t.Fatalf("entries = %d, want %d", len(got), 10-dropped)
	}
	if last := got[len(got)-1].Actor; last != "U0000000009" {
		t.Errorf("newest entry lost, last = %q", last)
	}
}

func TestJournalTrimWithoutPolicy(t *testing.T) {
	j := openTestJournal(t, Retention{})
	j.Record(context.Background(), domain.AuditEvent{Time: time.Now().AddDate(-1, 0, 0), Action: domain.AuditLogin})
	if n, err := j.Trim(context.Background()); n != 0 || err != nil {
		t.Errorf("Trim = %d, %v", n, err)
	}
}

func TestRetainKeepsUnparsedLines(t *testing.T) {
	lines := [][]byte{
		[]byte(`{"time":"2020-01-01T00:00:00Z","action":"login"}`),
		[]byte(`not json`),
		[]byte(`{"time":"2030-01-01T00:00:00Z","action":"login"}`),
	}
	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got := retain(lines, cutoff, 0)
	if len(got) != 2 || string(got[0]) != "not json" {
		t.Errorf("retain = %q", got)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		err  bool
	}{
		{"", 0, false},
		{"50MB", 50 << 20, false},
		{"1gb", 1 << 30, false},
		{"512KB", 512 << 10, false},
		{"1024B", 1024, false},
		{" 100 ", 100, false},
		{"10 MB", 10 << 20, false},
		{"abc", 0, true},
		{"5TB", 0, true},
		{"-5MB", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseSize(%q) = %d, %v", tt.in, got, err)
		}
	}
}
