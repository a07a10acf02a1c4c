package upload

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"askuni/internal/domain"
)

func newTestStore(t *testing.T, maxChars int) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	s, err := NewStore(dir, maxChars, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, dir
}

func TestSaveText(t *testing.T) {
	s, dir := newTestStore(t, 0)

	res, err := s.Save(context.Background(), "my notes (week 1).txt", "text/plain; charset=utf-8", []byte("  ITCS285 meets in B101.\n"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if res.Text != "ITCS285 meets in B101." {
		t.Errorf("Text = %q", res.Text)
	}
	if res.FileType != "text/plain" || res.Filename != "my notes (week 1).txt" {
		t.Errorf("result = %+v", res)
	}
	if !strings.HasSuffix(res.StoredAs, "_my_notes_week_1_.txt") {
		t.Errorf("StoredAs = %q", res.StoredAs)
	}
	if _, err := os.Stat(filepath.Join(dir, res.StoredAs)); err != nil {
		t.Errorf("stored file missing: %v", err)
	}
	if att := res.Attachment(); att.Filename != res.Filename || att.Text != res.Text {
		t.Errorf("Attachment = %+v", att)
	}
}

func TestSaveTruncatesByCharacters(t *testing.T) {
	s, _ := newTestStore(t, 5)
	res, err := s.Save(context.Background(), "a.md", "", []byte("ééééééé"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if res.Text != "ééééé" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestSaveRejects(t *testing.T) {
	s, _ := newTestStore(t, 0)

	_, err := s.Save(context.Background(), "photo.png", "image/png", []byte("\x89PNG\r\n\x1a\n"))
	if !errors.Is(err, domain.ErrUnsupportedMedia) {
		t.Errorf("png: err = %v, want ErrUnsupportedMedia", err)
	}
	_, err = s.Save(context.Background(), "empty.txt", "text/plain", nil)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty: err = %v, want ErrInvalidInput", err)
	}
}

func TestSaveCorruptPDFKeepsFile(t *testing.T) {
	s, dir := newTestStore(t, 0)
	res, err := s.Save(context.Background(), "broken.pdf", "application/pdf", []byte("%PDF-1.4 not really"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty", res.Text)
	}
	if _, err := os.Stat(filepath.Join(dir, res.StoredAs)); err != nil {
		t.Errorf("stored file missing: %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name, ctype string
		data        string
		want        kind
	}{
		{"a.pdf", "application/octet-stream", "x", kindPDF},
		{"a", "application/pdf", "x", kindPDF},
		{"a.csv", "application/vnd.ms-excel", "x", kindText},
		{"a", "", "plain words", kindText},
		{"a.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "PK", kindUnsupported},
	}
	for _, tt := range tests {
		if got, _ := classify(tt.name, tt.ctype, []byte(tt.data)); got != tt.want {
			t.Errorf("classify(%q, %q) = %v, want %v", tt.name, tt.ctype, got, tt.want)
		}
	}
}

func TestPrune(t *testing.T) {
	s, dir := newTestStore(t, 0)
	old, _ := s.Save(context.Background(), "old.txt", "text/plain", []byte("old"))
	fresh, _ := s.Save(context.Background(), "new.txt", "text/plain", []byte("new"))

	past := time.Now().Add(-48 * time.Hour)
	os.Chtimes(filepath.Join(dir, old.StoredAs), past, past)

	n, err := s.Prune(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(dir, fresh.StoredAs)); err != nil {
		t.Errorf("fresh upload removed: %v", err)
	}
}

func TestStoredNameLength(t *testing.T) {
	name := storedName(strings.Repeat("x", 200) + ".txt")
	if len(name) != 26+1+maxNameLen {
		t.Errorf("len = %d", len(name))
	}
}
