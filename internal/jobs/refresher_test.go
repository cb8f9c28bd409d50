package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/br-price-tracker/internal/models"
	"github.com/maltedev/br-price-tracker/internal/ratelimit"
	"github.com/maltedev/br-price-tracker/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	products []models.TrackedProduct
	err      error
	checked  []string
	cutoff   time.Time
	limit    int
}

func (f *fakeSource) ListStaleProducts(_ context.Context, olderThan time.Time, limit int) ([]models.TrackedProduct, error) {
	f.cutoff = olderThan
	f.limit = limit
	return f.products, f.err
}

func (f *fakeSource) MarkChecked(_ context.Context, _ models.Site, productID string, _ time.Time) error {
	f.checked = append(f.checked, productID)
	return nil
}

type fakeLooker struct {
	mu      sync.Mutex
	results map[string]error
	stored  map[string]bool
	calls   []string
}

func (f *fakeLooker) Lookup(_ context.Context, _ models.Site, input string, force bool) (*tracker.LookupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, input)
	if !force {
		return nil, errors.New("refresh must force a scrape")
	}
	if err := f.results[input]; err != nil {
		return nil, err
	}
	return &tracker.LookupResult{
		Snapshot: &models.Snapshot{ProductID: input},
		Stored:   f.stored[input],
	}, nil
}

type fakeLock struct {
	acquireErr error
	renewErr   error
	acquired   int
	renewed    int
	released   int
}

func (f *fakeLock) Acquire(context.Context) error {
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired++
	return nil
}

func (f *fakeLock) Renew(context.Context) error {
	f.renewed++
	return f.renewErr
}

func (f *fakeLock) Release(context.Context) error {
	f.released++
	return nil
}

func products(ids ...string) []models.TrackedProduct {
	out := make([]models.TrackedProduct, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.TrackedProduct{Site: models.SiteKabum, ProductID: id})
	}
	return out
}

func TestRunOnce(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{products: products("1", "2", "3")}
	looker := &fakeLooker{
		results: map[string]error{"2": errors.New("blocked")},
		stored:  map[string]bool{"1": true},
	}
	lock := &fakeLock{}

	r := NewRefresher(source, looker, lock, ratelimit.NewFixedRateLimiter(time.Millisecond),
		RefresherConfig{StaleAge: 2 * time.Hour, BatchSize: 10}, nil)
	r.now = func() time.Time { return now }

	stats, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Checked: 3, Updated: 1, Failed: 1}, stats)
	assert.Equal(t, []string{"1", "2", "3"}, looker.calls)
	assert.Equal(t, []string{"2"}, source.checked, "failed products are pushed back")
	assert.True(t, source.cutoff.Equal(now.Add(-2*time.Hour)))
	assert.Equal(t, 10, source.limit)
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 3, lock.renewed)
	assert.Equal(t, 1, lock.released)
}

func TestRunOnceSkipsWhenLeaseHeld(t *testing.T) {
	source := &fakeSource{products: products("1")}
	looker := &fakeLooker{}
	lock := &fakeLock{acquireErr: ErrLeaseHeld}

	stats, err := NewRefresher(source, looker, lock, nil, RefresherConfig{}, nil).RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrLeaseHeld)
	assert.Zero(t, stats)
	assert.Empty(t, looker.calls)
	assert.Zero(t, lock.released)
}

func TestRunOnceStopsWhenLeaseIsLost(t *testing.T) {
	source := &fakeSource{products: products("1", "2")}
	looker := &fakeLooker{}
	lock := &fakeLock{renewErr: ErrLeaseHeld}

	stats, err := NewRefresher(source, looker, lock, nil, RefresherConfig{}, nil).RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrLeaseHeld)
	assert.Equal(t, 1, stats.Checked)
	assert.Equal(t, 1, lock.released)
}

func TestRunOnceSourceError(t *testing.T) {
	source := &fakeSource{err: errors.New("db down")}
	_, err := NewRefresher(source, &fakeLooker{}, nil, nil, RefresherConfig{}, nil).RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRunOnceHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &fakeSource{products: products("1", "2")}
	looker := &fakeLooker{}
	r := NewRefresher(source, looker, nil, ratelimit.NewFixedRateLimiter(time.Hour), RefresherConfig{}, nil)

	_, err := r.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, looker.calls)
}

func TestNewRefresherDefaults(t *testing.T) {
	r := NewRefresher(&fakeSource{}, &fakeLooker{}, nil, nil, RefresherConfig{}, nil)
	assert.Equal(t, 15*time.Minute, r.cfg.Interval)
	assert.Equal(t, 6*time.Hour, r.cfg.StaleAge)
	assert.Equal(t, 50, r.cfg.BatchSize)
}

func TestStartStopsOnCancel(t *testing.T) {
	r := NewRefresher(&fakeSource{}, &fakeLooker{}, nil, nil, RefresherConfig{Interval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop on context cancellation")
	}
}
