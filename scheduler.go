package s3xfer

import (
	"context"
	"fmt"
	"io"
	"time"

	s3errors "github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/httpio"
)

// connectionFinishCode classifies how a request's turn on a connection ended.
type connectionFinishCode int

const (
	connectionFinishCodeSuccess connectionFinishCode = iota
	connectionFinishCodeFailed
	connectionFinishCodeRetry
)

// connection pairs one acquired HTTP connection with the request currently
// executing on it. It lives for exactly one attempt.
type connection struct {
	endpoint *Endpoint
	request  *request
	conn     httpio.Connection
}

// scheduleProcessWork marks work pending and wakes the scheduler goroutine.
func (c *Client) scheduleProcessWork() {
	c.synced.mu.Lock()
	c.scheduleProcessWorkSynced()
	c.synced.mu.Unlock()
}

// scheduleProcessWorkSynced is scheduleProcessWork for callers already
// holding the client lock.
func (c *Client) scheduleProcessWorkSynced() {
	if c.synced.processWorkScheduled {
		return
	}
	c.synced.processWorkScheduled = true
	select {
	case c.workSignal <- struct{}{}:
	default:
	}
}

// processWorkLoop is the single scheduler goroutine. Everything under
// c.threaded belongs to it alone.
func (c *Client) processWorkLoop() {
	for range c.workSignal {
		if c.processWork() {
			return
		}
	}
}

// processWork runs one pass of the pipeline: drain synced hand-off lists,
// ask meta requests for work, feed the preparer, match prepared requests to
// connections, and check for shutdown. Returns true when the client has
// finished destroying itself.
func (c *Client) processWork() bool {
	c.synced.mu.Lock()
	c.synced.processWorkScheduled = false

	pendingMetaRequests := c.synced.pendingMetaRequestWork
	c.synced.pendingMetaRequestWork = nil

	prepared := c.synced.preparedRequests
	c.synced.preparedRequests = nil

	retryReady := c.synced.retryReadyRequests
	c.synced.retryReadyRequests = nil
	c.synced.mu.Unlock()

	c.threaded.metaRequests = append(c.threaded.metaRequests, pendingMetaRequests...)

	ready := prepared[:0]
	for _, req := range prepared {
		c.threaded.numRequestsBeingPrepared--
		if req.prepareErr != nil {
			c.requestDestroyed(req)
			continue
		}
		ready = append(ready, req)
	}
	c.queueRequestsThreaded(ready, false)

	// Requests whose retry backoff elapsed go back through preparation;
	// numTimesPrepared is already non-zero so body bytes are not re-read.
	for _, req := range retryReady {
		c.threaded.numRequestsBeingPrepared++
		c.prepareCh <- req
	}

	c.updateMetaRequestsThreaded()
	c.updateConnectionsThreaded()

	c.metrics.SetQueueSize(float64(c.threaded.requestQueueSize))

	return c.checkForShutdown()
}

// queueRequestsThreaded appends ready requests to the thread-local queue;
// queueFront prioritizes them ahead of existing work.
func (c *Client) queueRequestsThreaded(requests []*request, queueFront bool) {
	if len(requests) == 0 {
		return
	}
	if queueFront {
		c.threaded.requestQueue = append(append([]*request(nil), requests...), c.threaded.requestQueue...)
	} else {
		c.threaded.requestQueue = append(c.threaded.requestQueue, requests...)
	}
	c.threaded.requestQueueSize = len(c.threaded.requestQueue)
}

// updateMetaRequestsThreaded round-robins the ongoing meta requests, asking
// each for its next request until production limits are reached or every
// meta request reports it cannot progress.
func (c *Client) updateMetaRequestsThreaded() {
	maxPrepare := c.maxRequestsPrepare()
	maxInFlight := c.maxRequestsInFlight()

	blockedStreak := 0
	for len(c.threaded.metaRequests) > 0 && blockedStreak < len(c.threaded.metaRequests) {
		if c.threaded.numRequestsBeingPrepared+c.threaded.requestQueueSize >= maxPrepare {
			break
		}
		if int(c.stats.numRequestsInFlight.Load()) >= maxInFlight {
			break
		}

		var flags updateFlags
		if c.threaded.requestQueueSize+c.threaded.numRequestsBeingPrepared >= maxInFlight {
			flags |= updateFlagConservative
		}

		mr := c.threaded.metaRequests[0]
		req, hasWork := mr.variant.update(flags)

		if !hasWork {
			// Terminated: drop from the rotation and release its endpoint.
			c.threaded.metaRequests = c.threaded.metaRequests[1:]
			c.metaRequestRemovedThreaded(mr)
			blockedStreak = 0
			continue
		}

		// Rotate so every meta request gets a turn.
		c.threaded.metaRequests = append(c.threaded.metaRequests[1:], mr)

		if req == nil {
			blockedStreak++
			continue
		}
		blockedStreak = 0

		c.stats.numRequestsInFlight.Add(1)
		c.metrics.AddInFlight(1)
		c.threaded.numRequestsBeingPrepared++
		c.prepareCh <- req
	}
}

// metaRequestRemovedThreaded releases resources tied to a terminated meta
// request. Runs without the client lock held.
func (c *Client) metaRequestRemovedThreaded(mr *MetaRequest) {
	if mr.endpoint != nil {
		c.endpointOps.release(mr.endpoint)
	}
}

// updateConnectionsThreaded matches queued requests to connections while the
// admission ceiling allows.
func (c *Client) updateConnectionsThreaded() {
	for c.threaded.requestQueueSize > 0 {
		req := c.threaded.requestQueue[0]
		mr := req.metaRequest

		if c.networkIOTotal() >= c.getMaxActiveConnections(mr) {
			break
		}

		c.threaded.requestQueue = c.threaded.requestQueue[1:]
		c.threaded.requestQueueSize--

		// A failed meta request stops sending, except for requests flagged
		// always-send (the abort).
		if !req.alwaysSend && mr.hasFinishResult() {
			mr.variant.finishedRequest(req, s3errors.ErrCanceled)
			c.requestDestroyed(req)
			// The meta request update already ran this pass; poke the
			// scheduler so it observes the advanced part counters.
			c.scheduleProcessWork()
			continue
		}

		ep := c.endpointOps.acquire(mr.endpoint, false)
		c.stats.numRequestsNetworkIO[mr.typ].Add(1)
		c.metrics.AddNetworkIO(1)
		go c.sendRequest(&connection{endpoint: ep, request: req})
	}
}

// prepareLoop is the single preparer goroutine. Serializing preparation here
// is what makes body-stream reads safe without a stream lock.
func (c *Client) prepareLoop() {
	for req := range c.prepareCh {
		mr := req.metaRequest

		err := mr.variant.prepareRequest(req)
		if err != nil {
			req.prepareErr = err
			mr.variant.finishedRequest(req, err)
		} else {
			req.numTimesPrepared++
		}

		c.synced.mu.Lock()
		if err != nil {
			c.synced.numFailedPrepareRequests++
		}
		c.synced.preparedRequests = append(c.synced.preparedRequests, req)
		c.scheduleProcessWorkSynced()
		c.synced.mu.Unlock()
	}
}

// sendRequest drives one attempt of one request on one connection. Runs on
// its own goroutine; no locks are held across any of its suspension points.
func (c *Client) sendRequest(conn *connection) {
	req := conn.request
	ctx := context.Background()

	var err error
	if req.retryToken == nil {
		req.retryToken, err = c.retryStrategy.AcquireToken(ctx)
	}

	if err == nil {
		conn.conn, err = conn.endpoint.manager.Acquire(ctx)
	}
	if err == nil {
		err = c.sendRequestOnConnection(ctx, conn)
	}

	finishCode := connectionFinishCodeSuccess
	var retryDelay time.Duration
	if err != nil {
		if delay, ok := c.retryStrategy.RetryableError(req.retryToken, err); ok {
			finishCode = connectionFinishCodeRetry
			retryDelay = delay
		} else {
			finishCode = connectionFinishCodeFailed
		}
	}

	c.notifyConnectionFinished(conn, err, finishCode, retryDelay)
}

// sendRequestOnConnection signs and executes the prepared message, capturing
// status, headers, and body onto the request.
func (c *Client) sendRequestOnConnection(ctx context.Context, conn *connection) error {
	req := conn.request
	op := req.tag.operationName()

	// Reset per-attempt response state; a retried request reuses the struct.
	req.responseStatus = 0
	req.responseHeaders = nil
	req.responseBody = nil

	httpReq, err := req.message.HTTPRequest(ctx, c.scheme, conn.endpoint.host)
	if err != nil {
		return err
	}
	if err := c.signer.SignHTTPRequest(ctx, httpReq); err != nil {
		return err
	}

	resp, err := conn.conn.RoundTrip(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response body: %w", op, err)
	}

	req.responseStatus = resp.StatusCode
	if req.recordResponseHeaders {
		req.responseHeaders = resp.Header
	}
	req.responseBody = body

	if resp.StatusCode >= 300 {
		return &s3errors.ResponseError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Body:       bodyExcerpt(body),
		}
	}
	return nil
}

// bodyExcerpt bounds an error body for inclusion in error messages.
func bodyExcerpt(body []byte) string {
	const max = 512
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}

// notifyConnectionFinished is the progress signal from the HTTP layer: it
// returns the connection, routes retries, advances the meta request on
// terminal outcomes, and re-pokes the scheduler.
func (c *Client) notifyConnectionFinished(conn *connection, err error, code connectionFinishCode, retryDelay time.Duration) {
	req := conn.request
	mr := req.metaRequest

	if conn.conn != nil {
		conn.endpoint.manager.Release(conn.conn, err != nil)
		conn.conn = nil
	}

	c.stats.numRequestsNetworkIO[mr.typ].Add(-1)
	c.metrics.AddNetworkIO(-1)

	switch code {
	case connectionFinishCodeRetry:
		c.metrics.Retry()
		mr.log.WithFields(map[string]interface{}{
			"operation": req.tag.operationName(),
			"part":      req.partNumber,
			"delay":     retryDelay,
		}).Debug("retrying request")
		time.AfterFunc(retryDelay, func() {
			c.synced.mu.Lock()
			c.synced.retryReadyRequests = append(c.synced.retryReadyRequests, req)
			c.scheduleProcessWorkSynced()
			c.synced.mu.Unlock()
		})

	case connectionFinishCodeSuccess:
		c.retryStrategy.RecordSuccess(req.retryToken)
		mr.variant.finishedRequest(req, nil)
		c.requestDestroyed(req)

	case connectionFinishCodeFailed:
		mr.variant.finishedRequest(req, err)
		c.requestDestroyed(req)
	}

	// Per-connection endpoint ref; never released under the client lock.
	c.endpointOps.release(conn.endpoint)

	c.scheduleProcessWork()
}

// requestDestroyed retires a request artifact: its part buffer returns to
// the pool and the in-flight count drops.
func (c *Client) requestDestroyed(req *request) {
	if req.requestBody != nil {
		c.partBuffers.Put(req.requestBody)
		req.requestBody = nil
	}
	c.stats.numRequestsInFlight.Add(-1)
	c.metrics.AddInFlight(-1)
}

// checkForShutdown completes client teardown once nothing is left moving.
// Returns true when the scheduler goroutine should exit.
func (c *Client) checkForShutdown() bool {
	c.synced.mu.Lock()

	idle := !c.synced.active &&
		c.synced.startDestroyExecuting &&
		!c.synced.finishDestroy &&
		len(c.threaded.metaRequests) == 0 &&
		len(c.synced.pendingMetaRequestWork) == 0 &&
		len(c.synced.preparedRequests) == 0 &&
		len(c.synced.retryReadyRequests) == 0 &&
		c.threaded.requestQueueSize == 0 &&
		c.threaded.numRequestsBeingPrepared == 0 &&
		c.networkIOTotal() == 0 &&
		c.stats.numRequestsInFlight.Load() == 0 &&
		len(c.synced.endpoints) == 0 &&
		c.synced.numEndpointsAllocated == 0

	if idle {
		c.synced.finishDestroy = true
		c.synced.bodyStreamingActive = false
	}
	c.synced.mu.Unlock()

	if !idle {
		return false
	}

	close(c.prepareCh)
	c.bodyStreaming.shutdown()
	c.log.Debug("transfer client shut down")
	close(c.shutdownDone)
	return true
}
