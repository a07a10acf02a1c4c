// Package security keeps the account audit trail.
package security

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"askuni/internal/domain"
	"askuni/internal/infra/tracer"
)

// Retention bounds the journal. Zero fields mean no limit.
type Retention struct {
	MaxAge  time.Duration
	MaxSize int64 // bytes
}

func (r Retention) none() bool { return r.MaxAge <= 0 && r.MaxSize <= 0 }

// Journal is an append-only JSON-lines audit file. It implements
// domain.AuditSink.
type Journal struct {
	mu    sync.Mutex
	path  string
	f     *os.File
	keep  Retention
	clock func() time.Time
}

// OpenJournal opens or creates the journal at path with mode 0600, creating
// its directory with mode 0700.
func OpenJournal(path string, keep Retention) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit dir: %w", err)
	}
	f, err := appendOnly(path)
	if err != nil {
		return nil, fmt.Errorf("audit journal: %w", err)
	}
	return &Journal{path: path, f: f, keep: keep, clock: time.Now}, nil
}

func appendOnly(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
}

// Path returns the journal file.
func (j *Journal) Path() string { return j.path }

// Record appends e and adds it as an event on the span in ctx.
func (j *Journal) Record(ctx context.Context, e domain.AuditEvent) error {
	if e.Time.IsZero() {
		e.Time = j.clock().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return domain.NewDomainError("Journal.Record", domain.ErrAuditWrite, err.Error())
	}
	line = append(line, '\n')

	j.mu.Lock()
	_, err = j.f.Write(line)
	j.mu.Unlock()
	if err != nil {
		return domain.NewDomainError("Journal.Record", domain.ErrAuditWrite, err.Error())
	}

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil
	}
	attrs := []attribute.KeyValue{tracer.Attr("audit.outcome", string(e.Outcome))}
	if e.Target != "" {
		attrs = append(attrs, tracer.Attr("audit.target", e.Target))
	}
	for k, v := range e.Detail {
		attrs = append(attrs, tracer.Attr("audit."+k, v))
	}
	span.AddEvent("audit."+string(e.Action), trace.WithAttributes(attrs...))
	return nil
}

// Close closes the file. Later writes fail with domain.ErrAuditWrite.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// Trim applies the retention policy and returns how many entries it
// dropped. Appends wait while the file is rewritten.
func (j *Journal) Trim(ctx context.Context) (int, error) {
	if j.keep.none() {
		return 0, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	raw, err := os.ReadFile(j.path)
	if err != nil {
		return 0, fmt.Errorf("read audit journal: %w", err)
	}
	if j.keep.MaxAge <= 0 && int64(len(raw)) <= j.keep.MaxSize {
		return 0, nil
	}

	var cutoff time.Time
	if j.keep.MaxAge > 0 {
		cutoff = j.clock().Add(-j.keep.MaxAge)
	}
	lines := splitLines(raw)
	kept := retain(lines, cutoff, j.keep.MaxSize)
	dropped := len(lines) - len(kept)
	if dropped == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := replaceFile(j.path, kept); err != nil {
		return 0, err
	}
	// The old descriptor points at the unlinked file.
	j.f.Close()
	if j.f, err = appendOnly(j.path); err != nil {
		return dropped, fmt.Errorf("reopen audit journal: %w", err)
	}
	return dropped, nil
}

func splitLines(raw []byte) [][]byte {
	var out [][]byte
	for _, l := range bytes.Split(raw, []byte{'\n'}) {
		if len(bytes.TrimSpace(l)) > 0 {
			out = append(out, l)
		}
	}
	return out
}

// retain drops entries stamped before cutoff, then the oldest survivors
// until the rest fit in maxSize bytes. Lines that do not parse are kept
// unless the size limit removes them.
func retain(lines [][]byte, cutoff time.Time, maxSize int64) [][]byte {
	kept := make([][]byte, 0, len(lines))
	var size int64
	for _, l := range lines {
		if !cutoff.IsZero() {
			var stamp struct {
				Time time.Time `json:"time"`
			}
			if json.Unmarshal(l, &stamp) == nil && !stamp.Time.IsZero() && stamp.Time.Before(cutoff) {
				continue
			}
		}
		kept = append(kept, l)
		size += int64(len(l)) + 1
	}
	if maxSize <= 0 {
		return kept
	}
	first := 0
	for first < len(kept) && size > maxSize {
		size -= int64(len(kept[first])) + 1
		first++
	}
	return kept[first:]
}

func replaceFile(path string, lines [][]byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".audit-*")
	if err != nil {
		return fmt.Errorf("audit temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write audit temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var sizeUnits = map[string]int64{"": 1, "B": 1, "KB": 1 << 10, "MB": 1 << 20, "GB": 1 << 30}

// ParseSize reads sizes such as "50MB", "512kb" or "1024". Empty means no
// limit and returns 0.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	num := strings.TrimRightFunc(s, unicode.IsLetter)
	unit := strings.ToUpper(s[len(num):])
	mult, ok := sizeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("size %q: unknown unit %q", s, unit)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("size %q: not a positive number", s)
	}
	return n * mult, nil
}
