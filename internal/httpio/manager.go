package httpio

import (
	"context"
	"net"
	"net/http"
	"sync"
)

// manager is the production ConnectionManager: a shared http.Transport
// fronted by a counting limiter so the engine's admission control and the
// transport's connection pool agree on the cap.
type manager struct {
	transport *http.Transport
	client    *http.Client

	mu          sync.Mutex
	limit       int
	current     int
	waiters     []chan struct{}
	shuttingDwn bool
	shutdownFn  func()
}

// NewManager returns the default net/http-backed ConnectionManager.
func NewManager(opts EndpointOptions) ConnectionManager {
	dialer := &net.Dialer{}
	if opts.ConnectTimeout > 0 {
		dialer.Timeout = opts.ConnectTimeout
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        opts.MaxConnections,
		MaxIdleConnsPerHost: opts.MaxConnections,
		MaxConnsPerHost:     opts.MaxConnections,
		ForceAttemptHTTP2:   false,
	}
	if opts.ProxyFromEnvironment {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &manager{
		transport: transport,
		client:    &http.Client{Transport: transport},
		limit:     opts.MaxConnections,
	}
}

// connection is one acquired slot on the shared transport.
type connection struct {
	m *manager
}

// RoundTrip executes the request on the shared transport. Redirects are not
// followed; the engine treats 3xx as a response, not a navigation.
func (c *connection) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.m.transport.RoundTrip(req)
}

// Acquire blocks until a slot frees up, the same waiter-queue shape the
// engine's request queue drains into.
func (m *manager) Acquire(ctx context.Context) (Connection, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.limit <= 0 || m.current < m.limit {
			m.current++
			m.mu.Unlock()
			return &connection{m: m}, nil
		}
		ch := make(chan struct{})
		m.waiters = append(m.waiters, ch)
		m.mu.Unlock()

		select {
		case <-ch:
			// re-check state and retry acquisition
		case <-ctx.Done():
			m.removeWaiter(ch)
			return nil, ctx.Err()
		}
	}
}

// Release returns a slot. closeConn drops idle connections so a poisoned TCP
// stream is not handed to the next request.
func (m *manager) Release(_ Connection, closeConn bool) {
	if closeConn {
		m.transport.CloseIdleConnections()
	}

	m.mu.Lock()
	if m.current > 0 {
		m.current--
	}
	m.notifyWaitersLocked()
	done := m.shuttingDwn && m.current == 0
	fn := m.shutdownFn
	m.mu.Unlock()

	if done && fn != nil {
		fn()
	}
}

// Shutdown closes idle connections and fires done once the last outstanding
// slot is released.
func (m *manager) Shutdown(done func()) {
	m.mu.Lock()
	m.shuttingDwn = true
	m.shutdownFn = done
	idle := m.current == 0
	m.mu.Unlock()

	m.transport.CloseIdleConnections()
	if idle && done != nil {
		done()
	}
}

func (m *manager) notifyWaitersLocked() {
	for _, ch := range m.waiters {
		close(ch)
	}
	m.waiters = nil
}

func (m *manager) removeWaiter(target chan struct{}) {
	m.mu.Lock()
	for i, ch := range m.waiters {
		if ch == target {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
}
