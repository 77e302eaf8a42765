package warmer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/tripquery/internal/trip/domain"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeStore struct {
	mu       sync.Mutex
	calls    []domain.PartitionKey
	failures map[domain.PartitionKey][]error
}

func (f *fakeStore) EnsureLocal(_ context.Context, key domain.PartitionKey) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if errs := f.failures[key]; len(errs) > 0 {
		f.failures[key] = errs[1:]
		return "", errs[0]
	}
	return "/cache/" + key.String(), nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var now = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func TestTargetsSkipCurrentMonth(t *testing.T) {
	w := NewWorker(&fakeStore{}, fixedClock{now}, nil, WorkerConfig{Months: 3})
	require.Equal(t, []domain.PartitionKey{
		{Year: 2024, Month: 2},
		{Year: 2024, Month: 1},
		{Year: 2023, Month: 12},
	}, w.Targets(now))
}

func TestWarmOnceEnsuresEveryTarget(t *testing.T) {
	store := &fakeStore{}
	w := NewWorker(store, fixedClock{now}, zap.NewNop(), WorkerConfig{Months: 2})

	require.NoError(t, w.WarmOnce(context.Background()))
	require.Equal(t, []domain.PartitionKey{{Year: 2024, Month: 2}, {Year: 2024, Month: 1}}, store.calls)
}

func TestWarmRetriesTransientFailures(t *testing.T) {
	feb := domain.PartitionKey{Year: 2024, Month: 2}
	store := &fakeStore{failures: map[domain.PartitionKey][]error{
		feb: {&domain.FetchError{URL: "u", Err: errors.New("connection reset")}},
	}}
	w := NewWorker(store, fixedClock{now}, nil, WorkerConfig{Months: 1, RetryMax: 3, Backoff: time.Millisecond})

	require.NoError(t, w.WarmOnce(context.Background()))
	require.Equal(t, 2, store.callCount())
}

func TestWarmDoesNotRetryUnpublishedMonth(t *testing.T) {
	feb := domain.PartitionKey{Year: 2024, Month: 2}
	jan := domain.PartitionKey{Year: 2024, Month: 1}
	store := &fakeStore{failures: map[domain.PartitionKey][]error{
		feb: {&domain.FetchError{URL: "u", StatusCode: 404}},
	}}
	w := NewWorker(store, fixedClock{now}, nil, WorkerConfig{Months: 2, RetryMax: 5, Backoff: time.Millisecond})

	err := w.WarmOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrFetch)
	require.Equal(t, []domain.PartitionKey{feb, jan}, store.calls, "one failure does not stop the other months")
}

func TestWarmGivesUpAfterRetryMax(t *testing.T) {
	feb := domain.PartitionKey{Year: 2024, Month: 2}
	boom := errors.New("disk full")
	store := &fakeStore{failures: map[domain.PartitionKey][]error{feb: {boom, boom, boom, boom}}}
	w := NewWorker(store, fixedClock{now}, nil, WorkerConfig{Months: 1, RetryMax: 3, Backoff: time.Millisecond})

	require.ErrorIs(t, w.WarmOnce(context.Background()), boom)
	require.Equal(t, 3, store.callCount())
}

func TestRunStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	w := NewWorker(store, fixedClock{now}, nil, WorkerConfig{Months: 1, PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return store.callCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRunRequiresStore(t *testing.T) {
	require.Error(t, NewWorker(nil, nil, nil, WorkerConfig{}).Run(context.Background()))
}
