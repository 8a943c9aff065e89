package history

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintrainer/internal/domain"
)

type flakyStore struct {
	fail    bool
	records int
}

func (f *flakyStore) Record(_ context.Context, _ domain.Attempt) error {
	f.records++
	if f.fail {
		return errors.New("disk I/O error")
	}
	return nil
}

func (f *flakyStore) List(context.Context, domain.HistoryFilter) ([]domain.Attempt, error) {
	return []domain.Attempt{{ID: "A1"}}, nil
}

func (f *flakyStore) Get(_ context.Context, id string) (*domain.Attempt, error) {
	return &domain.Attempt{ID: id}, nil
}

func (f *flakyStore) Close() error { return nil }

func TestBreakerStore_PassesThrough(t *testing.T) {
	inner := &flakyStore{}
	b := NewBreakerStore(inner, BreakerConfig{}, slog.Default())
	ctx := context.Background()

	require.NoError(t, b.Record(ctx, domain.Attempt{ID: "A1"}))
	list, err := b.List(ctx, domain.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	got, err := b.Get(ctx, "A2")
	require.NoError(t, err)
	assert.Equal(t, "A2", got.ID)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerStore_OpensAfterFailures(t *testing.T) {
	inner := &flakyStore{fail: true}
	b := NewBreakerStore(inner, BreakerConfig{MaxFailures: 2, Timeout: time.Minute}, slog.Default())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := b.Record(ctx, domain.Attempt{ID: "A"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk I/O error")
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Record(ctx, domain.Attempt{ID: "A"})
	assert.ErrorIs(t, err, domain.ErrHistoryStore)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 2, inner.records, "open circuit must not reach the store")
}

func TestBreakerStore_RecoversAfterTimeout(t *testing.T) {
	inner := &flakyStore{fail: true}
	b := NewBreakerStore(inner, BreakerConfig{MaxFailures: 1, Timeout: 50 * time.Millisecond}, slog.Default())
	ctx := context.Background()

	require.Error(t, b.Record(ctx, domain.Attempt{ID: "A"}))
	assert.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(100 * time.Millisecond)
	inner.fail = false
	require.NoError(t, b.Record(ctx, domain.Attempt{ID: "B"}))
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerStore_DuplicateDoesNotTrip(t *testing.T) {
	store := newTestStore(t)
	b := NewBreakerStore(store, BreakerConfig{MaxFailures: 1}, slog.Default())
	ctx := context.Background()

	a := attempt("A1", "TMP36", true, time.Now())
	require.NoError(t, b.Record(ctx, a))
	assert.ErrorIs(t, b.Record(ctx, a), domain.ErrDuplicate)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
