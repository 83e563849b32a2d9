// Package health tracks whether the translation backend is answering.
package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Checker performs one liveness request against the backend.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

type State int

const (
	StateUnknown State = iota
	StateProbing
	StateHealthy
	StateUnhealthy
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateHealthy:
		return "healthy"
	case StateUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// ErrOffline marks a verdict produced by a lost network path rather than a probe.
var ErrOffline = errors.New("health: no network path")

// Verdict is the last settled probe outcome.
type Verdict struct {
	State     State
	CheckedAt time.Time
	Fresh     bool
	InFlight  bool
	Err       error
}

// Options configures a Probe. Zero values fall back to sensible defaults.
type Options struct {
	Checker         Checker
	Timeout         time.Duration
	HealthyWindow   time.Duration
	UnhealthyWindow time.Duration
	Interval        time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
}

// Probe is a cached, single-flight view of backend health.
type Probe struct {
	checker         Checker
	timeout         time.Duration
	healthyWindow   time.Duration
	unhealthyWindow time.Duration
	interval        time.Duration
	now             func() time.Time
	logger          *slog.Logger

	group    singleflight.Group
	probes   atomic.Int64
	paused   atomic.Bool
	inFlight atomic.Bool

	mu          sync.RWMutex
	settled     State
	checkedAt   time.Time
	lastErr     error
	lastSuccess time.Time

	subMu   sync.Mutex
	subNext int
	subs    map[int]func(State)

	startOnce sync.Once
}

func NewProbe(opts Options) *Probe {
	p := &Probe{
		checker:         opts.Checker,
		timeout:         opts.Timeout,
		healthyWindow:   opts.HealthyWindow,
		unhealthyWindow: opts.UnhealthyWindow,
		interval:        opts.Interval,
		now:             opts.Now,
		logger:          opts.Logger,
	}
	if p.timeout <= 0 {
		p.timeout = 3 * time.Second
	}
	if p.healthyWindow <= 0 {
		p.healthyWindow = 45 * time.Second
	}
	if p.unhealthyWindow <= 0 || p.unhealthyWindow > p.healthyWindow/2 {
		p.unhealthyWindow = p.healthyWindow / 2
	}
	if p.interval <= 0 {
		p.interval = 30 * time.Second
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// State returns the live state, reporting Probing while a check runs.
func (p *Probe) State() State {
	if p.inFlight.Load() {
		return StateProbing
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settled
}

// Verdict returns the cached outcome along with its freshness.
func (p *Probe) Verdict() Verdict {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Verdict{
		State:     p.settled,
		CheckedAt: p.checkedAt,
		Fresh:     p.freshLocked(),
		InFlight:  p.inFlight.Load(),
		Err:       p.lastErr,
	}
}

func (p *Probe) freshLocked() bool {
	age := p.now().Sub(p.checkedAt)
	switch p.settled {
	case StateHealthy:
		return age < p.healthyWindow
	case StateUnhealthy:
		return age < p.unhealthyWindow
	default:
		return false
	}
}

// SinceLastSuccess reports how long ago the backend last answered affirmatively.
func (p *Probe) SinceLastSuccess() (time.Duration, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastSuccess.IsZero() {
		return 0, false
	}
	return p.now().Sub(p.lastSuccess), true
}

// Probes returns how many underlying health requests have been issued.
func (p *Probe) Probes() int64 {
	return p.probes.Load()
}

// Check runs a probe, joining one already in flight. Cancelling ctx stops the
// wait only; the shared probe runs to its own timeout.
func (p *Probe) Check(ctx context.Context) (Verdict, error) {
	ch := p.group.DoChan("health", func() (interface{}, error) {
		p.inFlight.Store(true)
		p.publish(StateProbing)
		p.probes.Add(1)

		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		var err error
		if p.checker == nil {
			err = errors.New("health: no checker configured")
		} else {
			err = p.checker.HealthCheck(probeCtx)
		}
		p.inFlight.Store(false)
		return p.settle(err), nil
	})

	select {
	case <-ctx.Done():
		return p.Verdict(), ctx.Err()
	case res := <-ch:
		return res.Val.(Verdict), nil
	}
}

// EnsureFresh returns the cached verdict when it is still fresh and probes otherwise.
func (p *Probe) EnsureFresh(ctx context.Context) (Verdict, error) {
	if v := p.Verdict(); v.Fresh {
		return v, nil
	}
	return p.Check(ctx)
}

// RecordSuccess notes that a real request just succeeded against the backend.
func (p *Probe) RecordSuccess() {
	p.settle(nil)
}

// OnConnectivityChange forces a probe when the network returns and marks the
// backend unhealthy when it is lost.
func (p *Probe) OnConnectivityChange(online bool) {
	if !online {
		p.settle(ErrOffline)
		return
	}
	go func() {
		if _, err := p.Check(context.Background()); err != nil {
			p.logger.Warn("health probe after reconnect failed", slog.String("error", err.Error()))
		}
	}()
}

// OnForeground resumes periodic refresh and probes when the cache is stale.
func (p *Probe) OnForeground(ctx context.Context) (Verdict, error) {
	p.paused.Store(false)
	return p.EnsureFresh(ctx)
}

// OnBackground pauses the periodic refresh loop.
func (p *Probe) OnBackground() {
	p.paused.Store(true)
}

func (p *Probe) settle(err error) Verdict {
	now := p.now()
	state := StateHealthy
	if err != nil {
		state = StateUnhealthy
	}

	p.mu.Lock()
	prev := p.settled
	p.settled = state
	p.checkedAt = now
	p.lastErr = err
	if err == nil {
		p.lastSuccess = now
	}
	v := Verdict{State: state, CheckedAt: now, Fresh: p.freshLocked(), Err: err}
	p.mu.Unlock()

	if prev != state {
		attrs := []any{slog.String("from", prev.String()), slog.String("to", state.String())}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		p.logger.Info("backend health changed", attrs...)
	}
	p.publish(state)
	return v
}

// Subscribe registers fn for connection-state events.
func (p *Probe) Subscribe(fn func(State)) (unsubscribe func()) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	if p.subs == nil {
		p.subs = make(map[int]func(State))
	}
	id := p.subNext
	p.subNext++
	p.subs[id] = fn
	return func() {
		p.subMu.Lock()
		delete(p.subs, id)
		p.subMu.Unlock()
	}
}

func (p *Probe) publish(state State) {
	p.subMu.Lock()
	fns := make([]func(State), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.subMu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}
