// Package connectivity reports whether a network path to the backend exists.
package connectivity

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"
)

// Monitor exposes the current reachability and transitions between states.
type Monitor interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

type listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(bool)
}

func (l *listeners) add(fn func(bool)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(bool))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners) emit(online bool) {
	l.mu.Lock()
	fns := make([]func(bool), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}

// Static is a settable monitor for hosts that feed OS reachability events.
type Static struct {
	mu     sync.RWMutex
	online bool
	subs   listeners
}

func NewStatic(online bool) *Static {
	return &Static{online: online}
}

func (s *Static) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

func (s *Static) Subscribe(fn func(bool)) func() {
	return s.subs.add(fn)
}

// Set records a new state and notifies subscribers when it changed.
func (s *Static) Set(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()
	if changed {
		s.subs.emit(online)
	}
}

// DialMonitor periodically opens a TCP connection to the backend host.
type DialMonitor struct {
	address  string
	interval time.Duration
	timeout  time.Duration
	dialer   func(ctx context.Context, network, address string) (net.Conn, error)
	logger   *slog.Logger

	state     Static
	startOnce sync.Once
}

// NewDialMonitor builds a monitor for baseURL. The initial state is online so
// the first probe decides without blocking callers.
func NewDialMonitor(baseURL string, interval, timeout time.Duration, logger *slog.Logger) (*DialMonitor, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &net.Dialer{}
	return &DialMonitor{
		address:  host,
		interval: interval,
		timeout:  timeout,
		dialer:   d.DialContext,
		logger:   logger,
		state:    Static{online: true},
	}, nil
}

func (m *DialMonitor) Online() bool { return m.state.Online() }

func (m *DialMonitor) Subscribe(fn func(bool)) func() { return m.state.Subscribe(fn) }

// Start launches the polling loop until ctx is cancelled.
func (m *DialMonitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

func (m *DialMonitor) run(ctx context.Context) {
	m.Poll(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll performs one dial and updates the state.
func (m *DialMonitor) Poll(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	conn, err := m.dialer(dialCtx, "tcp", m.address)
	online := err == nil
	if conn != nil {
		_ = conn.Close()
	}
	if online != m.state.Online() {
		m.logger.Info("connectivity changed", slog.String("address", m.address), slog.Bool("online", online))
	}
	m.state.Set(online)
	return online
}
