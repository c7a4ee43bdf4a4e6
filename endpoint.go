package s3xfer

import (
	"context"
	"net"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/httpio"
)

// Endpoint pairs one host name with its connection manager. Endpoints live in
// the client's endpoint table; the entry and its ref-count are guarded by the
// client's synced-data lock.
type Endpoint struct {
	// refCount is NOT atomic. It may be read or written only while the
	// owning client's synced-data lock is held; the release that drops it to
	// zero removes the table entry under that same lock.
	refCount int

	// host is the endpoint key in the client's table.
	host string

	// manager hands out HTTP connections for this host.
	manager httpio.ConnectionManager

	// addressCount is the resolver's address count at creation time; gates
	// the VIP estimate for this endpoint. Zero when unknown.
	addressCount int

	client *Client
}

// endpointSystem exists so tests can interpose on endpoint ref-counting
// without changing call sites.
type endpointSystem interface {
	acquire(ep *Endpoint, alreadyHoldingLock bool) *Endpoint
	release(ep *Endpoint)
}

// defaultEndpointSystem is the production endpointSystem.
type defaultEndpointSystem struct{}

func (defaultEndpointSystem) acquire(ep *Endpoint, alreadyHoldingLock bool) *Endpoint {
	if !alreadyHoldingLock {
		ep.client.synced.mu.Lock()
		defer ep.client.synced.mu.Unlock()
	}
	ep.refCount++
	return ep
}

// release decrements the ref-count and, at zero, removes the endpoint from
// the table and starts connection-manager shutdown. Callers MUST NOT hold the
// client lock: the manager's teardown can re-enter the client.
func (defaultEndpointSystem) release(ep *Endpoint) {
	c := ep.client

	c.synced.mu.Lock()
	ep.refCount--
	last := ep.refCount == 0
	if last {
		delete(c.synced.endpoints, ep.host)
	}
	c.synced.mu.Unlock()

	if !last {
		return
	}

	ep.manager.Shutdown(func() {
		c.endpointShutdownCallback()
	})
}

// endpointShutdownCallback runs when an endpoint's connection manager has
// fully shut down.
func (c *Client) endpointShutdownCallback() {
	c.synced.mu.Lock()
	c.synced.numEndpointsAllocated--
	c.scheduleProcessWorkSynced()
	c.synced.mu.Unlock()
}

// acquireEndpointForHost returns the table entry for host with its ref-count
// incremented, creating the endpoint on first use. The resolver runs before
// the lock is taken; a losing race simply discards the extra lookup.
func (c *Client) acquireEndpointForHost(host string) *Endpoint {
	addressCount := 0
	if n, err := c.hostResolver.GetHostAddressCount(context.Background(), host); err == nil {
		addressCount = n
	}

	c.synced.mu.Lock()
	defer c.synced.mu.Unlock()

	if ep, ok := c.synced.endpoints[host]; ok {
		return c.endpointOps.acquire(ep, true)
	}

	ep := &Endpoint{
		host:         host,
		addressCount: addressCount,
		client:       c,
		manager: c.connManagerFactory(httpio.EndpointOptions{
			Host:                 host,
			TLS:                  c.scheme == "https",
			MaxConnections:       c.maxRequestsInFlight(),
			ConnectTimeout:       c.cfg.ConnectTimeout,
			ProxyFromEnvironment: c.cfg.ProxyFromEnvironment,
		}),
	}
	c.synced.endpoints[host] = ep
	c.synced.numEndpointsAllocated++
	return c.endpointOps.acquire(ep, true)
}

// HostResolver is the DNS collaborator; its address count gates the VIP
// estimate for an endpoint.
type HostResolver interface {
	GetHostAddressCount(ctx context.Context, host string) (int, error)
}

// netHostResolver resolves through the net package.
type netHostResolver struct{}

func (netHostResolver) GetHostAddressCount(ctx context.Context, host string) (int, error) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return 0, err
	}
	return len(addrs), nil
}
