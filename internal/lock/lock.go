// Package lock provides per-key exclusive execution. Calls sharing a key run one
// at a time in arrival order; calls with different keys run concurrently.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/suPer8Hu/notes-ai-platform/internal/logger"
)

var ErrOperationTimeout = errors.New("lock: operation timeout")

// ticket is one link of a key's chain. done is closed when the guarded
// function has returned (or was skipped).
type ticket struct {
	done chan struct{}
	once sync.Once
}

func (t *ticket) release() { t.once.Do(func() { close(t.done) }) }

type Lock struct {
	mu             sync.Mutex
	tails          map[string]*ticket
	defaultTimeout time.Duration
	log            *slog.Logger
}

type Option func(*Lock)

// WithDefaultTimeout bounds every call that does not pass WithTimeout.
// Zero means wait forever.
func WithDefaultTimeout(d time.Duration) Option {
	return func(l *Lock) { l.defaultTimeout = d }
}

func WithLogger(lg *slog.Logger) Option {
	return func(l *Lock) { l.log = lg }
}

func New(opts ...Option) *Lock {
	l := &Lock{tails: make(map[string]*ticket)}
	for _, o := range opts {
		o(l)
	}
	return l
}

type callOptions struct {
	timeout    time.Duration
	hasTimeout bool
	name       string
}

type CallOption func(*callOptions)

func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout, o.hasTimeout = d, true }
}

// WithName labels the operation in errors and logs.
func WithName(name string) CallOption {
	return func(o *callOptions) { o.name = name }
}

// RunExclusive runs fn once every earlier call for key has finished.
//
// If the timeout (or ctx) expires first, the caller gets ErrOperationTimeout
// (or ctx.Err()) and the context handed to fn is cancelled. fn is expected to
// stop at its next checkpoint; if it does not, it still runs to completion,
// keeps the key held until then, and its outcome is only logged.
func (l *Lock) RunExclusive(ctx context.Context, key string, fn func(context.Context) error, opts ...CallOption) error {
	o := callOptions{name: "operation"}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasTimeout {
		o.timeout = l.defaultTimeout
	}

	t := &ticket{done: make(chan struct{})}
	l.mu.Lock()
	prev := l.tails[key]
	l.tails[key] = t
	l.mu.Unlock()

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	var abandoned atomic.Bool
	result := make(chan error, 1)

	go func() {
		defer cancel(nil)
		defer l.finish(key, t)

		if prev != nil {
			<-prev.done
		}
		if abandoned.Load() {
			l.logger(ctx).Debug("lock skipped abandoned operation", "key", key, "operation", o.name)
			return
		}

		start := time.Now()
		err := callGuarded(runCtx, fn, o.name, key)
		result <- err

		if abandoned.Load() {
			l.logger(ctx).Warn("lock operation finished after caller gave up",
				"key", key, "operation", o.name, "cost", time.Since(start), "err", err)
		}
	}()

	var timer <-chan time.Time
	if o.timeout > 0 {
		tm := time.NewTimer(o.timeout)
		defer tm.Stop()
		timer = tm.C
	}

	select {
	case err := <-result:
		return err
	case <-timer:
		abandoned.Store(true)
		err := fmt.Errorf("%w: %s on %q after %s", ErrOperationTimeout, o.name, key, o.timeout)
		cancel(err)
		return err
	case <-ctx.Done():
		abandoned.Store(true)
		cancel(context.Cause(ctx))
		return ctx.Err()
	}
}

// callGuarded turns a panic in fn into an error so the chain still advances.
func callGuarded(ctx context.Context, fn func(context.Context) error, name, key string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lock: %s on %q panicked: %v", name, key, r)
		}
	}()
	return fn(ctx)
}

// Run is RunExclusive for functions that produce a value.
func Run[T any](ctx context.Context, l *Lock, key string, fn func(context.Context) (T, error), opts ...CallOption) (T, error) {
	var out T
	err := l.RunExclusive(ctx, key, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (l *Lock) finish(key string, t *ticket) {
	t.release()
	l.mu.Lock()
	if l.tails[key] == t {
		delete(l.tails, key)
	}
	l.mu.Unlock()
}

// IsLocked reports whether key has a running or queued operation.
func (l *Lock) IsLocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tails[key]
	return ok
}

func (l *Lock) ActiveKeyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tails)
}

// ForceRelease drops the chain for key so the next call starts immediately.
// Operations already queued keep waiting on their own predecessors.
// For tests and debugging only: it can let two writers overlap.
func (l *Lock) ForceRelease(key string) {
	l.mu.Lock()
	t := l.tails[key]
	delete(l.tails, key)
	l.mu.Unlock()
	if t != nil {
		l.logger(context.Background()).Warn("lock force released", "key", key)
	}
}

// ResetAll forgets every chain. Tests only.
func (l *Lock) ResetAll() {
	l.mu.Lock()
	l.tails = make(map[string]*ticket)
	l.mu.Unlock()
}

func (l *Lock) logger(ctx context.Context) *slog.Logger {
	if l.log != nil {
		return l.log
	}
	return logger.FromContext(ctx)
}
