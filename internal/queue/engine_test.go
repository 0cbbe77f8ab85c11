package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/open-mem/cmem-worker/internal/config"
	"github.com/open-mem/cmem-worker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory double for sessionStore, sufficient to
// exercise the engine's scheduling logic without a real database.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	items    map[int64]*store.QueueItem
	sessions map[int64]*store.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[int64]*store.QueueItem), sessions: make(map[int64]*store.Session)}
}

func (f *fakeStore) GetSessionByID(id int64) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) BackfillProject(sessionID int64, project string) error { return nil }

func (f *fakeStore) Enqueue(sessionID int64, itemType store.QueueItemType, payload string) (*store.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	item := &store.QueueItem{ID: f.nextID, SessionID: sessionID, Type: itemType, Payload: payload, Status: store.QueuePending}
	f.items[item.ID] = item
	return item, nil
}

func (f *fakeStore) ListPending(limit int) ([]store.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.QueueItem
	for _, it := range f.items {
		if it.Status == store.QueuePending {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkProcessing(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id].Status = store.QueueProcessing
	return nil
}

func (f *fakeStore) MarkProcessed(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id].Status = store.QueueProcessed
	return nil
}

func (f *fakeStore) MarkFailed(id int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id].Status = store.QueueFailed
	f.items[id].Error = &reason
	return nil
}

func (f *fakeStore) RequeuePending(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id].Status = store.QueuePending
	f.items[id].RetryCount++
	return nil
}

func (f *fakeStore) GetRetryCount(id int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id].RetryCount, nil
}

func (f *fakeStore) ListStuck(thresholdSeconds int64) ([]store.QueueItem, error) { return nil, nil }

func (f *fakeStore) ResetProcessingToPending() (int64, error) { return 0, nil }

// fakeNotifier records emitted events for assertions.
type fakeNotifier struct {
	mu        sync.Mutex
	created   []int64
	processed []int64
	summarized []int64
	failed    []int64
	stuck     []int64
}

func (n *fakeNotifier) ObservationCreated(queueID, sessionID int64, project, toolName string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, queueID)
}
func (n *fakeNotifier) ObservationProcessed(observationID, queueID, sessionID int64, project, title, kind string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.processed = append(n.processed, queueID)
}
func (n *fakeNotifier) SummaryProcessed(summaryID, sessionID int64, project, request string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summarized = append(n.summarized, summaryID)
}
func (n *fakeNotifier) ItemFailed(queueID, sessionID int64, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, queueID)
}
func (n *fakeNotifier) ItemStuck(queueID, sessionID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stuck = append(n.stuck, queueID)
}

func testConfig() config.QueueConfig {
	return config.QueueConfig{
		PollInterval:    10 * time.Millisecond,
		StuckScanPeriod: time.Hour,
		StuckThreshold:  5 * time.Minute,
		MaxRetries:      3,
		BaseBackoff:     2 * time.Second,
		PendingRefill:   200,
	}
}

func TestEngine_PerSessionSerialization(t *testing.T) {
	fs := newFakeStore()
	fs.sessions[1] = &store.Session{ID: 1, Project: "p"}
	fn := &fakeNotifier{}
	e := New(fs, testConfig(), fn)
	require.NoError(t, e.Start(func(ctx context.Context, item store.QueueItem) (*ProcessResult, error) {
		time.Sleep(30 * time.Millisecond)
		return &ProcessResult{}, nil
	}))
	defer e.Stop()

	_, err := e.Enqueue(1, "Read", "{}", "output1", "p")
	require.NoError(t, err)
	_, err = e.Enqueue(1, "Read", "{}", "output2", "p")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		fn.mu.Lock()
		defer fn.mu.Unlock()
		return len(fn.processed) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_RetryThenFail(t *testing.T) {
	fs := newFakeStore()
	fs.sessions[1] = &store.Session{ID: 1, Project: "p"}
	fn := &fakeNotifier{}
	cfg := testConfig()
	cfg.MaxRetries = 2
	e := New(fs, cfg, fn)

	callCount := 0
	var mu sync.Mutex
	require.NoError(t, e.Start(func(ctx context.Context, item store.QueueItem) (*ProcessResult, error) {
		mu.Lock()
		callCount++
		mu.Unlock()
		return nil, fmt.Errorf("boom")
	}))
	defer e.Stop()

	_, err := e.Enqueue(1, "Bash", "{}", "output", "p")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		fn.mu.Lock()
		defer fn.mu.Unlock()
		return len(fn.failed) == 1
	}, 10*time.Second, 50*time.Millisecond)
}

func TestBackoffDelay_Sequence(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoffDelay(1))
	assert.Equal(t, 4*time.Second, backoffDelay(2))
	assert.Equal(t, 8*time.Second, backoffDelay(3))
}
