package audit

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"pintrainer/internal/domain"
)

func newLogger(t *testing.T) *FileLogger {
	t.Helper()
	l, err := NewFileLogger(filepath.Join(t.TempDir(), "audit", "audit.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestFileLogger_LogAndRead(t *testing.T) {
	l := newLogger(t)
	ctx := context.Background()

	require.NoError(t, l.Log(ctx, domain.AuditEvent{
		Type: domain.AuditSessionCreate, Resource: "S1", Action: "create", Outcome: "success",
		Detail: map[string]string{"sensor": "TMP36"},
	}))
	require.NoError(t, l.Log(ctx, domain.AuditEvent{
		Type: domain.AuditWiringVerify, Resource: "S1", Action: "verify", Outcome: "incorrect",
	}))

	events, err := ReadEvents(l.Path(), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.AuditSessionCreate, events[0].Type)
	assert.Equal(t, "TMP36", events[0].Detail["sensor"])
	assert.False(t, events[0].Timestamp.IsZero(), "timestamp is filled in")
	assert.Equal(t, "incorrect", events[1].Outcome)

	last, err := ReadEvents(l.Path(), 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, domain.AuditWiringVerify, last[0].Type)
}

func TestFileLogger_Permissions(t *testing.T) {
	l := newLogger(t)
	info, err := os.Stat(l.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileLogger_ConcurrentWrites(t *testing.T) {
	l := newLogger(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Log(context.Background(), domain.AuditEvent{Type: domain.AuditSessionReap, Resource: "S"}))
		}()
	}
	wg.Wait()

	events, err := ReadEvents(l.Path(), 0)
	require.NoError(t, err)
	assert.Len(t, events, 20)
}

func TestFileLogger_WriteAfterClose(t *testing.T) {
	l, err := NewFileLogger(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	err = l.Log(context.Background(), domain.AuditEvent{Type: domain.AuditSessionDelete})
	assert.ErrorIs(t, err, domain.ErrAuditWrite)
}

func TestFileLogger_SpanEvent(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	ctx, span := tp.Tracer("test").Start(context.Background(), "trainer.verify")

	l := newLogger(t)
	require.NoError(t, l.Log(ctx, domain.AuditEvent{
		Type: domain.AuditWiringVerify, Resource: "S1", Outcome: "correct",
		Detail: map[string]string{"attempt": "A1"},
	}))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "audit.wiring_verify", ended[0].Events()[0].Name)
}

func TestFileLogger_Prune(t *testing.T) {
	l := newLogger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, l.Log(ctx, domain.AuditEvent{Type: domain.AuditSessionCreate, Resource: "old", Timestamp: now.Add(-72 * time.Hour)}))
	require.NoError(t, l.Log(ctx, domain.AuditEvent{Type: domain.AuditSessionCreate, Resource: "new", Timestamp: now}))

	n, err := l.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The logger keeps appending to the rewritten file.
	require.NoError(t, l.Log(ctx, domain.AuditEvent{Type: domain.AuditSessionDelete, Resource: "new"}))

	events, err := ReadEvents(l.Path(), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "new", events[0].Resource)
	assert.Equal(t, domain.AuditSessionDelete, events[1].Type)

	n, err = l.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFileLogger_PruneReopenFails(t *testing.T) {
	l := newLogger(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, l.Log(ctx, domain.AuditEvent{Type: domain.AuditSessionCreate, Resource: "old", Timestamp: now.Add(-72 * time.Hour)}))

	orig := openAppend
	t.Cleanup(func() { openAppend = orig })
	openAppend = func(string) (*os.File, error) { return nil, os.ErrPermission }

	_, err := l.Prune(ctx, now.Add(-24*time.Hour))
	require.ErrorIs(t, err, os.ErrPermission)
	assert.Nil(t, l.file)

	// Still unavailable: the write is reported, not dropped.
	err = l.Log(ctx, domain.AuditEvent{Type: domain.AuditSessionDelete, Resource: "lost"})
	assert.ErrorIs(t, err, domain.ErrAuditWrite)

	openAppend = orig
	require.NoError(t, l.Log(ctx, domain.AuditEvent{Type: domain.AuditSessionDelete, Resource: "kept"}))

	events, err := ReadEvents(l.Path(), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "kept", events[0].Resource)
}

func TestReadEventsErrors(t *testing.T) {
	_, err := ReadEvents(filepath.Join(t.TempDir(), "missing.jsonl"), 0)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"type\":\"x\"}\nnot json\n"), 0o600))
	_, err = ReadEvents(path, 0)
	assert.ErrorContains(t, err, "line 2")
}
