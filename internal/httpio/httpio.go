// Package httpio defines the HTTP-layer collaborator contract the engine
// drives, plus the production net/http-backed implementation. The engine
// never creates sockets itself; it acquires connections from a per-endpoint
// ConnectionManager and sends one request per acquired connection.
package httpio

import (
	"context"
	"net/http"
	"time"
)

// Connection is one live HTTP connection slot. RoundTrip executes exactly one
// request; the caller releases the connection afterwards.
type Connection interface {
	RoundTrip(req *http.Request) (*http.Response, error)
}

// ConnectionManager hands out connection slots for a single endpoint host.
type ConnectionManager interface {
	// Acquire blocks until a connection slot is available or ctx is done.
	Acquire(ctx context.Context) (Connection, error)

	// Release returns a connection slot. closeConn marks the underlying
	// connection as unhealthy so it is not reused.
	Release(conn Connection, closeConn bool)

	// Shutdown releases manager resources and invokes done once every
	// outstanding connection has been returned.
	Shutdown(done func())
}

// EndpointOptions configures a manager for one endpoint host.
type EndpointOptions struct {
	// Host is the endpoint host name, optionally with port.
	Host string

	// TLS selects https when true.
	TLS bool

	// MaxConnections caps concurrently acquired connections.
	MaxConnections int

	// ConnectTimeout bounds TCP connection establishment. Zero means the
	// transport default.
	ConnectTimeout time.Duration

	// ProxyFromEnvironment reads proxy configuration from the process
	// environment.
	ProxyFromEnvironment bool
}

// ManagerFactory builds a ConnectionManager for an endpoint. The client holds
// one factory and calls it once per distinct host.
type ManagerFactory func(opts EndpointOptions) ConnectionManager
