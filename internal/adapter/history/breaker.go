package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"pintrainer/internal/domain"
)

const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
)

// BreakerConfig tunes the breaker around history writes.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failed writes that opens the circuit.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a probe write.
	Timeout time.Duration
}

// BreakerStore wraps a HistoryStore so a failing database makes Record fail
// fast instead of stalling every verify. Reads pass straight through.
type BreakerStore struct {
	inner   domain.HistoryStore
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerStore wraps inner. Zero config fields take defaults.
func NewBreakerStore(inner domain.HistoryStore, cfg BreakerConfig, logger *slog.Logger) *BreakerStore {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "history",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Bad input is the caller's mistake, not an unhealthy store.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrDuplicate) || errors.Is(err, domain.ErrInvalidInput)
		},
	})
	return &BreakerStore{inner: inner, breaker: cb}
}

// Record implements domain.HistoryStore.
func (b *BreakerStore) Record(ctx context.Context, a domain.Attempt) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.inner.Record(ctx, a)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewSubSystemError("history", "history.record", domain.ErrHistoryStore,
			fmt.Sprintf("circuit open: %v", err))
	}
	return err
}

// List implements domain.HistoryStore.
func (b *BreakerStore) List(ctx context.Context, f domain.HistoryFilter) ([]domain.Attempt, error) {
	return b.inner.List(ctx, f)
}

// Get implements domain.HistoryStore.
func (b *BreakerStore) Get(ctx context.Context, id string) (*domain.Attempt, error) {
	return b.inner.Get(ctx, id)
}

// Close implements domain.HistoryStore.
func (b *BreakerStore) Close() error { return b.inner.Close() }

// State returns the breaker state for status reporting.
func (b *BreakerStore) State() gobreaker.State { return b.breaker.State() }

var _ domain.HistoryStore = (*BreakerStore)(nil)
