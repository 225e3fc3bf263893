package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedFetcher struct {
	mu    sync.Mutex
	order []string
	calls map[string]int
	fn    func(fam Family, call int) ([]Item, error)
}

func newScriptedFetcher(fn func(fam Family, call int) ([]Item, error)) *scriptedFetcher {
	return &scriptedFetcher{calls: make(map[string]int), fn: fn}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, fam Family) ([]Item, error) {
	f.mu.Lock()
	f.order = append(f.order, fam.EntityType)
	f.calls[fam.EntityType]++
	call := f.calls[fam.EntityType]
	f.mu.Unlock()
	return f.fn(fam, call)
}

func (f *scriptedFetcher) fetchOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func items(ids ...string) []Item {
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, Item{ID: id, EntityType: "notes", Data: json.RawMessage(`{}`)})
	}
	return out
}

func fastOptions() Options {
	return Options{
		SettleDelay:     time.Millisecond,
		RetryDelay:      5 * time.Millisecond,
		MaxAttempts:     2,
		ResultTTL:       5 * time.Minute,
		CleanupInterval: time.Hour,
	}
}

func startQueue(t *testing.T, f Fetcher, c Cache, opts Options) *Queue {
	t.Helper()
	q := New(f, c, opts)
	q.Start(context.Background())
	t.Cleanup(q.Close)
	return q
}

func waitForTotal(t *testing.T, q *Queue, n int64) {
	t.Helper()
	require.Eventually(t, func() bool { return q.Stats().Total >= n }, 2*time.Second, 2*time.Millisecond)
}

func TestQueue_DeleteBeforeCreateWhenBothPending(t *testing.T) {
	f := newScriptedFetcher(func(fam Family, call int) ([]Item, error) { return items("x"), nil })
	q := New(f, NewMemoryCache(), fastOptions())

	_, err := q.Enqueue(Entry{EntityType: "notes", Operation: OpCreate, OwnerID: 1})
	require.NoError(t, err)
	_, err = q.Enqueue(Entry{EntityType: "folders", Operation: OpDelete, OwnerID: 1})
	require.NoError(t, err)
	require.Equal(t, 2, q.Status().Pending)

	q.Start(context.Background())
	t.Cleanup(q.Close)
	waitForTotal(t, q, 2)

	require.Equal(t, []string{"folders", "notes"}, f.fetchOrder())
}

func TestQueue_PriorityOrderWhileWorkerBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	f := newScriptedFetcher(func(fam Family, call int) ([]Item, error) {
		if fam.EntityType == "folders" {
			once.Do(func() { close(started) })
			<-release
		}
		return items("x"), nil
	})
	q := startQueue(t, f, NewMemoryCache(), fastOptions())

	_, err := q.Enqueue(Entry{EntityType: "folders", Operation: OpUpdate, OwnerID: 1})
	require.NoError(t, err)
	<-started
	require.True(t, q.Status().Busy)

	for _, e := range []Entry{
		{EntityType: "notes", Operation: OpCreate, OwnerID: 1},
		{EntityType: "files", Operation: OpMove, OwnerID: 1},
		{EntityType: "classeurs", Operation: OpDelete, OwnerID: 1},
		{EntityType: "chat_sessions", Operation: OpUpdate, OwnerID: 1},
		{EntityType: "notes", Operation: OpRename, OwnerID: 2},
		{EntityType: "files", Operation: OpCreate, OwnerID: 2},
	} {
		_, err := q.Enqueue(e)
		require.NoError(t, err)
	}
	close(release)
	waitForTotal(t, q, 7)

	require.Equal(t,
		[]string{"folders", "classeurs", "chat_sessions", "notes", "files", "files", "notes"},
		f.fetchOrder())
}

func TestQueue_EmptySnapshotKeepsCache(t *testing.T) {
	cache := NewMemoryCache()
	fam := Family{OwnerID: 1, EntityType: "notes"}
	require.NoError(t, cache.ReplaceOrMergeFamily(context.Background(), fam, items("a", "b")))

	f := newScriptedFetcher(func(Family, int) ([]Item, error) { return nil, nil })
	q := startQueue(t, f, cache, fastOptions())

	_, err := q.Enqueue(Entry{EntityType: "notes", Operation: OpUpdate, OwnerID: 1})
	require.NoError(t, err)
	waitForTotal(t, q, 1)

	got, err := cache.Current(context.Background(), fam)
	require.NoError(t, err)
	require.Len(t, got, 2)

	res, ok := q.Result(fam)
	require.True(t, ok)
	require.True(t, res.Success)
	require.False(t, res.CacheUpdated)
	require.Equal(t, 0, res.Count)
}

func TestQueue_NonEmptySnapshotReplacesFamily(t *testing.T) {
	cache := NewMemoryCache()
	fam := Family{OwnerID: 1, EntityType: "notes"}
	other := Family{OwnerID: 1, EntityType: "folders"}
	require.NoError(t, cache.ReplaceOrMergeFamily(context.Background(), fam, items("old")))
	require.NoError(t, cache.ReplaceOrMergeFamily(context.Background(), other, items("f1")))

	f := newScriptedFetcher(func(Family, int) ([]Item, error) { return items("n1", "n2", "n3"), nil })
	q := startQueue(t, f, cache, fastOptions())

	_, err := q.Enqueue(Entry{EntityType: "Notes", Operation: OpCreate, OwnerID: 1})
	require.NoError(t, err)
	waitForTotal(t, q, 1)

	got, _ := cache.Current(context.Background(), fam)
	require.Len(t, got, 3)
	require.Equal(t, "n1", got[0].ID)

	untouched, _ := cache.Current(context.Background(), other)
	require.Len(t, untouched, 1)

	res, ok := q.Result(fam)
	require.True(t, ok)
	require.True(t, res.CacheUpdated)
	require.Equal(t, 3, res.Count)
}

func TestQueue_RetriesWithFixedDelay(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	f := newScriptedFetcher(func(fam Family, call int) ([]Item, error) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		if call == 1 {
			return nil, errors.New("connection reset")
		}
		return items("a"), nil
	})
	opts := fastOptions()
	opts.RetryDelay = 30 * time.Millisecond
	q := startQueue(t, f, NewMemoryCache(), opts)

	_, err := q.Enqueue(Entry{EntityType: "notes", Operation: OpUpdate, OwnerID: 1})
	require.NoError(t, err)
	waitForTotal(t, q, 1)

	res, _ := q.Result(Family{OwnerID: 1, EntityType: "notes"})
	require.True(t, res.Success)
	require.Equal(t, 2, res.Attempts)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 2)
	require.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 30*time.Millisecond)
}

func TestQueue_FailureDoesNotStallQueue(t *testing.T) {
	f := newScriptedFetcher(func(fam Family, call int) ([]Item, error) {
		if fam.EntityType == "notes" {
			return nil, errors.New("store unavailable")
		}
		return items("f"), nil
	})
	q := startQueue(t, f, NewMemoryCache(), fastOptions())

	_, err := q.Enqueue(Entry{EntityType: "notes", Operation: OpUpdate, OwnerID: 1})
	require.NoError(t, err)
	_, err = q.Enqueue(Entry{EntityType: "folders", Operation: OpCreate, OwnerID: 1})
	require.NoError(t, err)
	waitForTotal(t, q, 2)

	st := q.Stats()
	require.Equal(t, int64(1), st.Failed)
	require.Equal(t, int64(1), st.Successful)

	res, _ := q.Result(Family{OwnerID: 1, EntityType: "notes"})
	require.False(t, res.Success)
	require.Equal(t, 2, res.Attempts)
	require.Contains(t, res.Error, "store unavailable")
}

func TestQueue_PermanentErrorIsNotRetried(t *testing.T) {
	reg := NewRegistry()
	q := startQueue(t, reg, NewMemoryCache(), fastOptions())

	_, err := q.Enqueue(Entry{EntityType: "widgets", Operation: OpDelete, OwnerID: 1})
	require.NoError(t, err)
	waitForTotal(t, q, 1)

	res, _ := q.Result(Family{OwnerID: 1, EntityType: "widgets"})
	require.False(t, res.Success)
	require.Equal(t, 1, res.Attempts)
}

func TestQueue_DeleteSkipsSettleDelay(t *testing.T) {
	f := newScriptedFetcher(func(Family, int) ([]Item, error) { return items("a"), nil })
	opts := fastOptions()
	opts.SettleDelay = time.Hour
	q := startQueue(t, f, NewMemoryCache(), opts)

	_, err := q.Enqueue(Entry{EntityType: "notes", Operation: OpDelete, OwnerID: 1})
	require.NoError(t, err)
	waitForTotal(t, q, 1)

	// an entry-level delay overrides the queue default
	_, err = q.Enqueue(Entry{EntityType: "notes", Operation: OpUpdate, OwnerID: 1, Delay: time.Millisecond})
	require.NoError(t, err)
	waitForTotal(t, q, 2)
}

func TestQueue_PurgeStale(t *testing.T) {
	f := newScriptedFetcher(func(Family, int) ([]Item, error) { return items("a"), nil })
	q := startQueue(t, f, NewMemoryCache(), fastOptions())

	_, err := q.Enqueue(Entry{EntityType: "notes", Operation: OpDelete, OwnerID: 1})
	require.NoError(t, err)
	waitForTotal(t, q, 1)
	require.Len(t, q.Results(), 1)

	require.Equal(t, 0, q.PurgeStale(time.Now()))
	require.Equal(t, 1, q.PurgeStale(time.Now().Add(6*time.Minute)))
	require.Empty(t, q.Results())
}

func TestQueue_ClearAndClose(t *testing.T) {
	f := newScriptedFetcher(func(Family, int) ([]Item, error) { return items("a"), nil })
	q := New(f, NewMemoryCache(), fastOptions())

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(Entry{EntityType: "notes", Operation: OpCreate, OwnerID: 1})
		require.NoError(t, err)
	}
	require.Equal(t, 3, q.Clear())
	require.Equal(t, 0, q.Status().Pending)

	q.Start(context.Background())
	q.Close()
	require.ErrorIs(t, q.Notify(context.Background(), Entry{EntityType: "notes", Operation: OpCreate}), ErrQueueClosed)
	require.True(t, q.Status().Closed)
}

func TestQueue_RejectsBadEntries(t *testing.T) {
	q := New(NewRegistry(), NewMemoryCache(), fastOptions())

	_, err := q.Enqueue(Entry{Operation: OpCreate})
	require.Error(t, err)
	_, err = q.Enqueue(Entry{EntityType: "notes", Operation: "PATCH"})
	require.Error(t, err)
}

func TestOperationPriority(t *testing.T) {
	require.Less(t, OpDelete.Priority(), OpUpdate.Priority())
	require.Less(t, OpUpdate.Priority(), OpCreate.Priority())
	require.Less(t, OpCreate.Priority(), OpMove.Priority())
	require.Less(t, OpMove.Priority(), OpRename.Priority())

	op, err := ParseOperation(" delete ")
	require.NoError(t, err)
	require.Equal(t, OpDelete, op)
}
