package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	calls atomic.Int32
	gate  chan struct{}
	err   atomic.Value
}

func (s *stubChecker) HealthCheck(ctx context.Context) error {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if v := s.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestProbe(checker Checker) (*Probe, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1760000000, 0)}
	p := NewProbe(Options{
		Checker:         checker,
		Timeout:         time.Second,
		HealthyWindow:   45 * time.Second,
		UnhealthyWindow: 15 * time.Second,
		Now:             clock.Now,
	})
	return p, clock
}

func TestProbeStartsUnknownAndStale(t *testing.T) {
	p, _ := newTestProbe(&stubChecker{})
	v := p.Verdict()
	require.Equal(t, StateUnknown, v.State)
	require.False(t, v.Fresh)
}

func TestEnsureFreshUsesCacheWithinWindow(t *testing.T) {
	checker := &stubChecker{}
	p, clock := newTestProbe(checker)

	v, err := p.EnsureFresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateHealthy, v.State)
	require.EqualValues(t, 1, checker.calls.Load())

	clock.Advance(44 * time.Second)
	_, err = p.EnsureFresh(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, checker.calls.Load())

	clock.Advance(2 * time.Second)
	_, err = p.EnsureFresh(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, checker.calls.Load())
}

func TestUnhealthyWindowIsShorter(t *testing.T) {
	checker := &stubChecker{}
	checker.err.Store(errors.New("503"))
	p, clock := newTestProbe(checker)

	v, err := p.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateUnhealthy, v.State)
	require.True(t, v.Fresh)

	clock.Advance(16 * time.Second)
	require.False(t, p.Verdict().Fresh)
}

func TestUnhealthyWindowClampedToHalf(t *testing.T) {
	p := NewProbe(Options{HealthyWindow: 40 * time.Second, UnhealthyWindow: 30 * time.Second})
	require.Equal(t, 20*time.Second, p.unhealthyWindow)
}

func TestConcurrentChecksShareOneProbe(t *testing.T) {
	checker := &stubChecker{gate: make(chan struct{})}
	p, _ := newTestProbe(checker)

	var wg, ready sync.WaitGroup
	results := make(chan State, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		ready.Add(1)
		go func() {
			defer wg.Done()
			ready.Done()
			v, err := p.Check(context.Background())
			if err == nil {
				results <- v.State
			}
		}()
	}

	ready.Wait()
	require.Eventually(t, func() bool { return p.State() == StateProbing }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(checker.gate)
	wg.Wait()
	close(results)

	for state := range results {
		require.Equal(t, StateHealthy, state)
	}
	require.EqualValues(t, 1, checker.calls.Load())
	require.EqualValues(t, 1, p.Probes())
}

func TestCancelledWaiterDoesNotCancelSharedProbe(t *testing.T) {
	checker := &stubChecker{gate: make(chan struct{})}
	p, _ := newTestProbe(checker)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Check(ctx)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return checker.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan Verdict, 1)
	go func() {
		v, _ := p.Check(context.Background())
		done <- v
	}()

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(checker.gate)
	v := <-done
	require.Equal(t, StateHealthy, v.State)
	require.EqualValues(t, 1, checker.calls.Load())
}

func TestConnectivityLossMarksUnhealthy(t *testing.T) {
	checker := &stubChecker{}
	p, _ := newTestProbe(checker)
	var states []State
	var mu sync.Mutex
	p.Subscribe(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	p.OnConnectivityChange(false)
	v := p.Verdict()
	require.Equal(t, StateUnhealthy, v.State)
	require.ErrorIs(t, v.Err, ErrOffline)
	require.Zero(t, checker.calls.Load())

	p.OnConnectivityChange(true)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []State{StateUnhealthy, StateProbing, StateHealthy}, states)
}

func TestRecordSuccessRefreshesCache(t *testing.T) {
	p, clock := newTestProbe(&stubChecker{})
	p.RecordSuccess()
	require.True(t, p.Verdict().Fresh)

	clock.Advance(5 * time.Second)
	since, ok := p.SinceLastSuccess()
	require.True(t, ok)
	require.Equal(t, 5*time.Second, since)
}

func TestForegroundProbesOnlyWhenStale(t *testing.T) {
	checker := &stubChecker{}
	p, clock := newTestProbe(checker)
	p.OnBackground()
	require.True(t, p.paused.Load())

	_, err := p.OnForeground(context.Background())
	require.NoError(t, err)
	require.False(t, p.paused.Load())
	require.EqualValues(t, 1, checker.calls.Load())

	clock.Advance(10 * time.Second)
	_, err = p.OnForeground(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, checker.calls.Load())
}
