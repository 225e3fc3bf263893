// Package syncqueue reconciles a local read cache with the authoritative store.
// Mutations enqueue entries; a single background worker drains them in priority
// order, fetches the full family snapshot and replaces the cached copy.
package syncqueue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/notes-ai-platform/internal/logger"
)

var ErrQueueClosed = errors.New("syncqueue: queue closed")

type Options struct {
	// SettleDelay is waited before every non-DELETE fetch unless the entry
	// carries its own Delay.
	SettleDelay time.Duration
	// RetryDelay is the fixed pause between failed attempts.
	RetryDelay  time.Duration
	MaxAttempts int
	// ResultTTL bounds how long per-family results are kept.
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	Logger          *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		SettleDelay:     500 * time.Millisecond,
		RetryDelay:      time.Second,
		MaxAttempts:     2,
		ResultTTL:       5 * time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

type Result struct {
	Family       Family    `json:"family"`
	Operation    Operation `json:"operation"`
	EntityID     string    `json:"entity_id,omitempty"`
	Success      bool      `json:"success"`
	Count        int       `json:"count"`
	Attempts     int       `json:"attempts"`
	CacheUpdated bool      `json:"cache_updated"`
	Error        string    `json:"error,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

type Stats struct {
	Total      int64 `json:"total"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
}

type Status struct {
	Pending int     `json:"pending"`
	Busy    bool    `json:"busy"`
	Current *Family `json:"current,omitempty"`
	Results int     `json:"results"`
	Closed  bool    `json:"closed"`
	Stats   Stats   `json:"stats"`
}

type pending struct {
	id       string
	entry    Entry
	priority int
	seq      uint64
}

// entryHeap orders by priority, then by arrival so equal priorities stay FIFO.
type entryHeap []*pending

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(*pending)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return p
}

type Queue struct {
	fetcher Fetcher
	cache   Cache
	opts    Options

	mu      sync.Mutex
	pending entryHeap
	seq     uint64
	current *pending
	closed  bool
	results map[Family]Result
	stats   Stats

	wake      chan struct{}
	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(fetcher Fetcher, cache Cache, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultOptions().ResultTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = opts.ResultTTL
	}
	if opts.Logger == nil {
		opts.Logger = logger.L
	}
	opts.Logger = opts.Logger.With("component", "syncqueue")

	return &Queue{
		fetcher: fetcher,
		cache:   cache,
		opts:    opts,
		results: make(map[Family]Result),
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the worker and the result cleanup loop. Calling it more than
// once has no effect.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		q.cancel = cancel
		q.done = make(chan struct{})
		go q.cleanupLoop(ctx)
		go func() {
			defer close(q.done)
			q.run(ctx)
		}()
	})
}

// Close stops accepting entries and waits for the worker to exit. An entry
// that is mid-fetch is abandoned at its next wait.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
}

// Enqueue adds an entry and returns its ticket id.
func (q *Queue) Enqueue(e Entry) (string, error) {
	if e.EntityType == "" {
		return "", errors.New("syncqueue: entity type required")
	}
	if _, err := ParseOperation(string(e.Operation)); err != nil {
		return "", err
	}
	e.EntityType = normalizeType(e.EntityType)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	q.seq++
	p := &pending{
		id:       uuid.NewString(),
		entry:    e,
		priority: e.Operation.Priority(),
		seq:      q.seq,
	}
	heap.Push(&q.pending, p)
	n := q.pending.Len()
	q.mu.Unlock()

	q.signal()
	q.opts.Logger.Debug("sync entry queued",
		"id", p.id, "family", e.Family().String(), "operation", e.Operation, "entity_id", e.EntityID, "pending", n)
	return p.id, nil
}

func (q *Queue) Notify(_ context.Context, e Entry) error {
	_, err := q.Enqueue(e)
	return err
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run(ctx context.Context) {
	for {
		p, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		q.process(ctx, p)
		if ctx.Err() != nil {
			q.finish()
			return
		}
	}
}

func (q *Queue) next() (*pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending.Len() == 0 {
		q.current = nil
		return nil, false
	}
	p := heap.Pop(&q.pending).(*pending)
	q.current = p
	return p, true
}

func (q *Queue) finish() {
	q.mu.Lock()
	q.current = nil
	q.mu.Unlock()
}

func (q *Queue) settleDelay(e Entry) time.Duration {
	if e.Operation == OpDelete {
		return 0
	}
	if e.Delay > 0 {
		return e.Delay
	}
	return q.opts.SettleDelay
}

func (q *Queue) process(ctx context.Context, p *pending) {
	start := time.Now()
	if d := q.settleDelay(p.entry); d > 0 {
		if !sleep(ctx, d) {
			return
		}
	}

	res := q.reconcile(ctx, p.entry)
	if ctx.Err() != nil && !res.Success {
		// shutting down; not a real failure
		return
	}
	q.record(res)

	attrs := []any{
		"id", p.id, "family", res.Family.String(), "operation", res.Operation,
		"attempts", res.Attempts, "count", res.Count, "cache_updated", res.CacheUpdated,
		"cost", time.Since(start),
	}
	if res.Success {
		q.opts.Logger.Info("sync reconcile done", attrs...)
	} else {
		q.opts.Logger.Error("sync reconcile failed", append(attrs, "err", res.Error)...)
	}
}

func (q *Queue) reconcile(ctx context.Context, e Entry) Result {
	fam := e.Family()
	res := Result{Family: fam, Operation: e.Operation, EntityID: e.EntityID}

	var (
		items []Item
		err   error
	)
	for attempt := 1; attempt <= q.opts.MaxAttempts; attempt++ {
		res.Attempts = attempt
		items, err = q.fetcher.Fetch(ctx, fam)
		if err == nil || IsPermanent(err) || attempt == q.opts.MaxAttempts {
			break
		}
		q.opts.Logger.Warn("sync fetch failed, retrying",
			"family", fam.String(), "attempt", attempt, "retry_in", q.opts.RetryDelay, "err", err)
		if !sleep(ctx, q.opts.RetryDelay) {
			break
		}
	}
	if err != nil {
		res.Error = err.Error()
		res.CompletedAt = time.Now()
		return res
	}

	res.Count = len(items)
	if len(items) == 0 {
		// an empty snapshot carries no information; keep what the cache has
		res.Success = true
		res.CompletedAt = time.Now()
		return res
	}
	if err := q.cache.ReplaceOrMergeFamily(ctx, fam, items); err != nil {
		res.Error = fmt.Sprintf("cache write: %v", err)
		res.CompletedAt = time.Now()
		return res
	}
	res.Success = true
	res.CacheUpdated = true
	res.CompletedAt = time.Now()
	return res
}

func (q *Queue) record(res Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results[res.Family] = res
	q.stats.Total++
	if res.Success {
		q.stats.Successful++
	} else {
		q.stats.Failed++
	}
}

func (q *Queue) cleanupLoop(ctx context.Context) {
	t := time.NewTicker(q.opts.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := q.PurgeStale(now); n > 0 {
				q.opts.Logger.Debug("sync results purged", "count", n)
			}
		}
	}
}

// PurgeStale drops results that completed more than ResultTTL before now.
func (q *Queue) PurgeStale(now time.Time) int {
	cutoff := now.Add(-q.opts.ResultTTL)
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for fam, r := range q.results {
		if r.CompletedAt.Before(cutoff) {
			delete(q.results, fam)
			n++
		}
	}
	return n
}

// Result returns the most recent outcome for a family.
func (q *Queue) Result(fam Family) (Result, bool) {
	fam.EntityType = normalizeType(fam.EntityType)
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.results[fam]
	return r, ok
}

func (q *Queue) Results() map[Family]Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	return maps.Clone(q.results)
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Status{
		Pending: q.pending.Len(),
		Busy:    q.current != nil,
		Results: len(q.results),
		Closed:  q.closed,
		Stats:   q.stats,
	}
	if q.current != nil {
		fam := q.current.entry.Family()
		st.Current = &fam
	}
	return st
}

// Clear drops every pending entry and returns how many were dropped. The
// entry currently being processed is not affected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.pending.Len()
	q.pending = nil
	return n
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
