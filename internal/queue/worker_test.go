package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karibu-capital/greenscore-cli/internal/config"
	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// fakeClaimer hands out a fixed backlog, one item per call. Items in stale
// move into the backlog on the first RequeueStale call, like abandoned
// claims returning to the queue.
type fakeClaimer struct {
	mu      sync.Mutex
	backlog []model.Evidence
	stale   []model.Evidence
}

func (f *fakeClaimer) ClaimQueued(_ context.Context) (*model.Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.backlog) == 0 {
		return nil, nil
	}
	ev := f.backlog[0]
	f.backlog = f.backlog[1:]
	return &ev, nil
}

func (f *fakeClaimer) RequeueStale(_ context.Context, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.stale)
	f.backlog = append(f.backlog, f.stale...)
	f.stale = nil
	return n, nil
}

func TestWorker_DrainsBacklog(t *testing.T) {
	claimer := &fakeClaimer{}
	for i := 0; i < 10; i++ {
		claimer.backlog = append(claimer.backlog, model.Evidence{ID: string(rune('a' + i))})
	}

	var mu sync.Mutex
	seen := map[string]int{}
	handler := func(_ context.Context, ev model.Evidence) error {
		mu.Lock()
		seen[ev.ID]++
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(claimer, handler, config.WorkerConfig{Concurrency: 3, PollMillis: 10})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 10
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	// Each item processed exactly once.
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s", id)
	}
}

func TestWorker_HandlerErrorDoesNotStopPool(t *testing.T) {
	claimer := &fakeClaimer{backlog: []model.Evidence{{ID: "bad"}, {ID: "good"}}}

	var mu sync.Mutex
	var processed []string
	handler := func(_ context.Context, ev model.Evidence) error {
		mu.Lock()
		processed = append(processed, ev.ID)
		mu.Unlock()
		if ev.ID == "bad" {
			return assert.AnError
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWorker(claimer, handler, config.WorkerConfig{Concurrency: 1, PollMillis: 10})

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_RequeuesStaleWhenIdle(t *testing.T) {
	claimer := &fakeClaimer{stale: []model.Evidence{{ID: "abandoned"}}}

	var mu sync.Mutex
	seen := map[string]int{}
	handler := func(_ context.Context, ev model.Evidence) error {
		mu.Lock()
		seen[ev.ID]++
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWorker(claimer, handler, config.WorkerConfig{Concurrency: 1, PollMillis: 10})

	go w.Run(ctx)

	// The idle sweep must recover and process the abandoned item.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["abandoned"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_Defaults(t *testing.T) {
	w := NewWorker(&fakeClaimer{}, func(context.Context, model.Evidence) error { return nil }, config.WorkerConfig{})
	assert.Equal(t, 1, w.cfg.Concurrency)
	assert.Equal(t, 500, w.cfg.PollMillis)
	assert.Equal(t, 300, w.cfg.StaleClaimSecs)
}
