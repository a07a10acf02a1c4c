// Package upload extracts text from uploaded documents and keeps a copy of
// each file on disk.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/oklog/ulid/v2"

	"askuni/internal/domain"
)

const (
	defaultMaxChars = 12000
	maxNameLen      = 80
)

var unsafeName = regexp.MustCompile(`[^\w.\-]+`)

// Result describes one stored upload.
type Result struct {
	Filename string `json:"filename"`
	FileType string `json:"fileType"`
	StoredAs string `json:"storedAs"`
	Text     string `json:"text"`
	Size     int64  `json:"size"`
}

// Attachment returns the extracted text in the shape chat requests carry.
func (r Result) Attachment() domain.Attachment {
	return domain.Attachment{Filename: r.Filename, Text: r.Text}
}

// Store saves uploads under a directory.
type Store struct {
	dir      string
	maxChars int
	logger   *slog.Logger
}

// NewStore creates the upload directory if needed.
func NewStore(dir string, maxChars int, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	return &Store{dir: dir, maxChars: maxChars, logger: logger}, nil
}

// Save extracts the text of data and writes the original bytes to disk.
// Types other than PDF and plain text are rejected with
// domain.ErrUnsupportedMedia. A document whose text cannot be extracted is
// still stored, with empty text.
func (s *Store) Save(ctx context.Context, filename, contentType string, data []byte) (*Result, error) {
	const op = "Upload.Save"
	if len(data) == 0 {
		return nil, domain.NewDomainError(op, domain.ErrInvalidInput, "No file")
	}
	if filename == "" {
		filename = "file"
	}
	k, mime := classify(filename, contentType, data)
	if k == kindUnsupported {
		return nil, domain.NewDomainError(op, domain.ErrUnsupportedMedia, fmt.Sprintf("Unsupported file type %s", mime))
	}

	text, err := extract(k, data)
	if err != nil {
		s.logger.Warn("text extraction failed", "file", filename, "type", mime, "error", err)
		text = ""
	}
	text = truncateChars(strings.TrimSpace(text), s.maxChars)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored := storedName(filename)
	if err := os.WriteFile(filepath.Join(s.dir, stored), data, 0o640); err != nil {
		return nil, domain.WrapOp(op, err)
	}
	s.logger.Info("upload stored", "file", stored, "type", mime, "bytes", len(data), "chars", utf8.RuneCountInString(text))

	return &Result{
		Filename: filename,
		FileType: mime,
		StoredAs: stored,
		Text:     text,
		Size:     int64(len(data)),
	}, nil
}

// Prune removes stored uploads last modified before the cutoff.
func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(before) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.logger.Warn("prune upload failed", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

type kind int

const (
	kindUnsupported kind = iota
	kindPDF
	kindText
)

var textExts = map[string]bool{".txt": true, ".md": true, ".csv": true, ".json": true}

func classify(filename, contentType string, data []byte) (kind, string) {
	mime := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	if mime == "" || mime == "application/octet-stream" {
		mime = strings.SplitN(http.DetectContentType(data), ";", 2)[0]
	}
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case mime == "application/pdf" || ext == ".pdf":
		return kindPDF, mime
	case strings.HasPrefix(mime, "text/") || textExts[ext]:
		return kindText, mime
	}
	return kindUnsupported, mime
}

func extract(k kind, data []byte) (string, error) {
	switch k {
	case kindPDF:
		return extractPDF(data)
	case kindText:
		if !utf8.Valid(data) {
			return strings.ToValidUTF8(string(data), "�"), nil
		}
		return string(data), nil
	}
	return "", nil
}

// extractPDF returns the plain text of every page. The parser panics on
// some malformed files, so panics become errors.
func extractPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func storedName(filename string) string {
	safe := unsafeName.ReplaceAllString(filepath.Base(filename), "_")
	if len(safe) > maxNameLen {
		safe = safe[:maxNameLen]
	}
	return ulid.Make().String() + "_" + safe
}

func truncateChars(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
