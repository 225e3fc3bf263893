package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	markers []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.markers = append(r.markers, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.markers...)
}

func tailOf(l *Lock, key string) *ticket {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tails[key]
}

func TestRunExclusive_SameKeyRunsInArrivalOrder(t *testing.T) {
	l := New()
	rec := &recorder{}
	gate := make(chan struct{})

	const calls = 4
	var wg sync.WaitGroup
	errs := make([]error, calls)
	for i := 0; i < calls; i++ {
		before := tailOf(l, "S1")
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.RunExclusive(context.Background(), "S1", func(ctx context.Context) error {
				rec.add(fmt.Sprintf("start-%d", i))
				if i == 0 {
					<-gate
				}
				time.Sleep(5 * time.Millisecond)
				rec.add(fmt.Sprintf("end-%d", i))
				return nil
			})
		}(i)
		// the next call is only issued once this one has joined the chain
		require.Eventually(t, func() bool {
			tail := tailOf(l, "S1")
			return tail != nil && tail != before
		}, time.Second, time.Millisecond)
	}
	close(gate)
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, []string{
		"start-0", "end-0",
		"start-1", "end-1",
		"start-2", "end-2",
		"start-3", "end-3",
	}, rec.snapshot())
	require.Eventually(t, func() bool { return !l.IsLocked("S1") }, time.Second, time.Millisecond)
}

func TestRunExclusive_PanicReleasesKey(t *testing.T) {
	l := New()

	err := l.RunExclusive(context.Background(), "S1", func(ctx context.Context) error {
		panic("boom")
	}, WithName("append_batch"))
	require.ErrorContains(t, err, "panicked: boom")
	require.ErrorContains(t, err, "append_batch")

	ran := false
	err = l.RunExclusive(context.Background(), "S1", func(ctx context.Context) error {
		ran = true
		return nil
	}, WithTimeout(time.Second))
	require.NoError(t, err)
	require.True(t, ran)
	require.Eventually(t, func() bool { return !l.IsLocked("S1") }, time.Second, time.Millisecond)
}

func TestRunExclusive_DifferentKeysRunConcurrently(t *testing.T) {
	l := New()
	s1Started := make(chan struct{})
	s2Started := make(chan struct{})

	waitFor := func(ch <-chan struct{}) error {
		select {
		case <-ch:
			return nil
		case <-time.After(time.Second):
			return errors.New("other key never started")
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = l.RunExclusive(context.Background(), "S1", func(ctx context.Context) error {
			close(s1Started)
			return waitFor(s2Started)
		})
	}()
	go func() {
		defer wg.Done()
		errs[1] = l.RunExclusive(context.Background(), "S2", func(ctx context.Context) error {
			close(s2Started)
			return waitFor(s1Started)
		})
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
}

func TestRunExclusive_ErrorStillReleases(t *testing.T) {
	l := New()
	boom := errors.New("boom")

	err := l.RunExclusive(context.Background(), "S1", func(ctx context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	ran := false
	err = l.RunExclusive(context.Background(), "S1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)

	require.Eventually(t, func() bool { return l.ActiveKeyCount() == 0 }, time.Second, 5*time.Millisecond)
	require.False(t, l.IsLocked("S1"))
}

func TestRunExclusive_TimeoutLetsOperationFinishInBackground(t *testing.T) {
	l := New()
	release := make(chan struct{})
	var finished atomic.Bool

	err := l.RunExclusive(context.Background(), "S1", func(ctx context.Context) error {
		<-release // ignores ctx on purpose
		finished.Store(true)
		return nil
	}, WithTimeout(20*time.Millisecond), WithName("slow_write"))
	require.ErrorIs(t, err, ErrOperationTimeout)
	require.Contains(t, err.Error(), "slow_write")
	require.True(t, l.IsLocked("S1"))

	next := make(chan error, 1)
	go func() {
		next <- l.RunExclusive(context.Background(), "S1", func(ctx context.Context) error {
			if !finished.Load() {
				return errors.New("ran before the timed out operation finished")
			}
			return nil
		})
	}()

	select {
	case <-next:
		t.Fatal("second operation must wait for the first to finish")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-next)
}

func TestRunExclusive_TimeoutCancelsOperationContext(t *testing.T) {
	l := New(WithDefaultTimeout(20 * time.Millisecond))
	cause := make(chan error, 1)

	err := l.RunExclusive(context.Background(), "S1", func(ctx context.Context) error {
		<-ctx.Done()
		cause <- context.Cause(ctx)
		return ctx.Err()
	})
	require.ErrorIs(t, err, ErrOperationTimeout)

	select {
	case c := <-cause:
		require.ErrorIs(t, c, ErrOperationTimeout)
	case <-time.After(time.Second):
		t.Fatal("operation context was not cancelled")
	}
}

func TestRunExclusive_AbandonedBeforeStartIsSkipped(t *testing.T) {
	l := New()
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- l.RunExclusive(context.Background(), "S1", func(ctx context.Context) error {
			<-release
			return nil
		})
	}()
	require.Eventually(t, func() bool { return l.IsLocked("S1") }, time.Second, time.Millisecond)

	var ran atomic.Bool
	err := l.RunExclusive(context.Background(), "S1", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}, WithTimeout(10*time.Millisecond))
	require.ErrorIs(t, err, ErrOperationTimeout)

	close(release)
	require.NoError(t, <-firstDone)
	require.Eventually(t, func() bool { return !l.IsLocked("S1") }, time.Second, time.Millisecond)
	require.False(t, ran.Load())
}

func TestRunExclusive_CallerContextCancelled(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	go func() {
		<-started
		cancel()
	}()
	err := l.RunExclusive(ctx, "S1", func(fctx context.Context) error {
		close(started)
		<-fctx.Done()
		return fctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestForceRelease(t *testing.T) {
	l := New()
	release := make(chan struct{})
	defer close(release)

	go func() {
		_ = l.RunExclusive(context.Background(), "S1", func(ctx context.Context) error {
			<-release
			return nil
		})
	}()
	require.Eventually(t, func() bool { return l.IsLocked("S1") }, time.Second, time.Millisecond)

	l.ForceRelease("S1")
	require.False(t, l.IsLocked("S1"))

	err := l.RunExclusive(context.Background(), "S1", func(ctx context.Context) error { return nil },
		WithTimeout(time.Second))
	require.NoError(t, err)
}

func TestResetAllAndActiveKeyCount(t *testing.T) {
	l := New()
	release := make(chan struct{})
	defer close(release)

	for _, key := range []string{"a", "b", "c"} {
		go func(key string) {
			_ = l.RunExclusive(context.Background(), key, func(ctx context.Context) error {
				<-release
				return nil
			})
		}(key)
	}
	require.Eventually(t, func() bool { return l.ActiveKeyCount() == 3 }, time.Second, time.Millisecond)

	l.ResetAll()
	require.Equal(t, 0, l.ActiveKeyCount())
}

func TestRun_ReturnsValue(t *testing.T) {
	l := New()
	v, err := Run(context.Background(), l, "k", func(ctx context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, v)

	_, err = Run(context.Background(), l, "k", func(ctx context.Context) (int, error) {
		return 1, errors.New("nope")
	})
	require.EqualError(t, err, "nope")
}
