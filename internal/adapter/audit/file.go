// Package audit writes the session lifecycle audit trail as JSON lines.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pintrainer/internal/domain"
	"pintrainer/internal/infra/tracer"
)

const maxLine = 1024 * 1024

// FileLogger implements domain.AuditLogger by appending JSONL to a file.
type FileLogger struct {
	mu     sync.Mutex
	file   *os.File // nil after a failed reopen; Log retries
	path   string
	closed bool
}

var _ domain.AuditLogger = (*FileLogger)(nil)

// NewFileLogger opens path for appending. The file is created 0600 and its
// directory 0700.
func NewFileLogger(path string) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileLogger{file: f, path: path}, nil
}

var openAppend = func(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
}

// Path returns the log file location.
func (a *FileLogger) Path() string { return a.path }

// Log writes event as one JSON line. When ctx carries a recording span the
// event is mirrored onto it.
func (a *FileLogger) Log(ctx context.Context, event domain.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return domain.NewDomainError("audit.Log", domain.ErrAuditWrite, err.Error())
	}

	a.mu.Lock()
	err = a.write(append(data, '\n'))
	a.mu.Unlock()
	if err != nil {
		return domain.NewDomainError("audit.Log", domain.ErrAuditWrite, err.Error())
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		attrs := make([]attribute.KeyValue, 0, len(event.Detail)+2)
		attrs = append(attrs, tracer.StringAttr("audit.resource", event.Resource), tracer.StringAttr("audit.outcome", event.Outcome))
		for k, v := range event.Detail {
			attrs = append(attrs, tracer.StringAttr("audit."+k, v))
		}
		span.AddEvent("audit."+string(event.Type), trace.WithAttributes(attrs...))
	}
	return nil
}

// write appends line, reopening the file if an earlier Prune lost the
// handle. Callers hold a.mu.
func (a *FileLogger) write(line []byte) error {
	if a.closed {
		return os.ErrClosed
	}
	if a.file == nil {
		f, err := openAppend(a.path)
		if err != nil {
			return fmt.Errorf("reopen audit log: %w", err)
		}
		a.file = f
	}
	_, err := a.file.Write(line)
	return err
}

// Close closes the log file.
func (a *FileLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.file == nil {
		return nil
	}
	return a.file.Close()
}

// Prune rewrites the log without entries older than before and reports how
// many were dropped. Lines that do not parse are kept.
func (a *FileLogger) Prune(_ context.Context, before time.Time) (n int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, os.ErrClosed
	}
	if a.file != nil {
		if err := a.file.Close(); err != nil {
			return 0, fmt.Errorf("close for prune: %w", err)
		}
		a.file = nil
	}
	// The append handle must be back whatever happens below. If it cannot
	// be, a.file stays nil and the next Log tries again.
	defer func() {
		f, rerr := openAppend(a.path)
		if rerr != nil {
			if err == nil {
				n, err = 0, fmt.Errorf("reopen audit log: %w", rerr)
			}
			return
		}
		a.file = f
	}()

	in, err := os.Open(a.path)
	if err != nil {
		return 0, fmt.Errorf("open for prune: %w", err)
	}
	var kept [][]byte
	removed := 0
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry struct {
			Timestamp time.Time `json:"timestamp"`
		}
		if json.Unmarshal(line, &entry) == nil && !entry.Timestamp.IsZero() && entry.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, append([]byte(nil), line...))
	}
	in.Close()
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("scan audit log: %w", err)
	}
	if removed == 0 {
		return 0, nil
	}

	tmpPath := a.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, line := range kept {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()
	if err := os.Rename(tmpPath, a.path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename temp file: %w", err)
	}
	return removed, nil
}

// ReadEvents returns the events in the log at path, oldest first. A
// non-positive limit returns all of them; otherwise only the last limit.
func ReadEvents(path string, limit int) ([]domain.AuditEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var events []domain.AuditEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for lineNo := 1; sc.Scan(); lineNo++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var ev domain.AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("audit log line %d: %w", lineNo, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}
