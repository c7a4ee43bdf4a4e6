package s3xfer

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	s3errors "github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/wire"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/s3types"
)

// updateFlags modulate how eagerly a meta request emits work.
type updateFlags uint32

const (
	// updateFlagConservative tells the meta request to hold back new work
	// while the scheduler's queue is already long enough. Upload streams are
	// read strictly serially, so deep queuing only wastes memory.
	updateFlagConservative updateFlags = 1 << iota
)

// metaRequestVariant is the polymorphic half of a meta request. update runs
// on the scheduler goroutine; prepareRequest on the preparer goroutine;
// finishedRequest on a request goroutine (on the scheduler goroutine for
// queued requests cancelled before sending, on the preparer goroutine for
// prepare failures); pause on any caller goroutine.
type metaRequestVariant interface {
	// update either produces the next request to send (under the meta
	// request lock) or reports no more work, arranging termination via
	// finish. The returned bool is true while work remains.
	update(flags updateFlags) (*request, bool)

	// prepareRequest serializes body bytes and composes the HTTP message.
	// Runs off-lock; body-stream reads happen here and only here.
	prepareRequest(req *request) error

	// finishedRequest observes a request's terminal completion (success, or
	// failure after the retry strategy gave up).
	finishedRequest(req *request, err error)

	// pause serializes a resume token and fails the meta request with
	// ErrPaused. Variants without pause support return an error.
	pause() (string, error)
}

// MetaRequest is one logical transfer the client decomposes into HTTP
// requests. It carries the lifecycle, locking, body-streaming queue, and
// finish plumbing shared by all variants.
type MetaRequest struct {
	id     string
	client *Client
	typ    s3types.MetaRequestType

	// partSize is fixed at construction; for resumed uploads it comes from
	// the token.
	partSize int64

	computeContentMD5 bool
	checksumAlgorithm s3types.ChecksumAlgorithm

	// initialMessage carries the caller's method, path, and headers; every
	// wire request derives from it.
	initialMessage *wire.Message

	// body is the caller's upload stream. Read strictly serially by the
	// preparer goroutine.
	body io.Reader

	bucket, key string

	// endpoint is acquired at submission and released when the meta request
	// leaves the scheduler.
	endpoint *Endpoint

	callbacks s3types.MetaRequestCallbacks
	log       logrus.FieldLogger

	variant metaRequestVariant

	synced struct {
		mu sync.Mutex

		// finishResult is recorded once and never overwritten.
		finishResult    s3types.FinishResult
		finishResultSet bool

		// streamingQueue orders response bodies by part number for in-order
		// delivery to the caller.
		streamingQueue streamQueue

		// nextStreamingPart is the part number the next delivery must carry.
		nextStreamingPart int

		// numPartsStreamed counts bodies already delivered to the caller.
		numPartsStreamed int

		// readWindow is the flow-control budget in bytes when backpressure
		// is enabled.
		readWindow        int64
		readWindowEnabled bool

		// streamingScheduled is set while a delivery task is queued or
		// running on the body-streaming pool.
		streamingScheduled bool

		headersDelivered bool
	}

	finishOnce sync.Once
	done       chan struct{}
	result     s3types.FinishResult
}

// newMetaRequestBase wires the shared fields. The caller sets variant before
// the meta request is scheduled.
func newMetaRequestBase(
	c *Client,
	typ s3types.MetaRequestType,
	partSize int64,
	computeContentMD5 bool,
	algorithm s3types.ChecksumAlgorithm,
	initialMessage *wire.Message,
	body io.Reader,
	bucket, key string,
	callbacks s3types.MetaRequestCallbacks,
) *MetaRequest {
	mr := &MetaRequest{
		id:                newMetaRequestID(),
		client:            c,
		typ:               typ,
		partSize:          partSize,
		computeContentMD5: computeContentMD5,
		checksumAlgorithm: algorithm,
		initialMessage:    initialMessage,
		body:              body,
		bucket:            bucket,
		key:               key,
		callbacks:         callbacks,
		done:              make(chan struct{}),
	}
	mr.log = c.log.WithField("meta_request", mr.id)
	mr.synced.nextStreamingPart = 1
	mr.synced.readWindowEnabled = c.cfg.EnableReadBackpressure
	if mr.synced.readWindowEnabled {
		mr.synced.readWindow = c.cfg.InitialReadWindow
	}
	return mr
}

// Type reports the meta request variant kind.
func (mr *MetaRequest) Type() s3types.MetaRequestType {
	return mr.typ
}

// hasFinishResultSynced reports whether a terminal result is recorded.
// Callers must hold the meta request lock.
func (mr *MetaRequest) hasFinishResultSynced() bool {
	return mr.synced.finishResultSet
}

// hasFinishResult is the locking wrapper around hasFinishResultSynced.
func (mr *MetaRequest) hasFinishResult() bool {
	mr.synced.mu.Lock()
	defer mr.synced.mu.Unlock()
	return mr.synced.finishResultSet
}

// setFailSynced records the first terminal failure. Later failures are
// dropped. Callers must hold the meta request lock.
func (mr *MetaRequest) setFailSynced(req *request, err error) {
	if mr.synced.finishResultSet {
		return
	}
	mr.synced.finishResultSet = true
	mr.synced.finishResult = s3types.FinishResult{Err: err}
	if req != nil {
		mr.synced.finishResult.FailedOperation = req.tag.operationName()
		mr.synced.finishResult.ResponseStatus = req.responseStatus
	}
}

// setSuccessSynced records successful termination. A previously recorded
// failure wins. Callers must hold the meta request lock.
func (mr *MetaRequest) setSuccessSynced(status int) {
	if mr.synced.finishResultSet {
		return
	}
	mr.synced.finishResultSet = true
	mr.synced.finishResult = s3types.FinishResult{ResponseStatus: status}
}

// finish dispatches the terminal callback exactly once. Never called with
// any lock held.
func (mr *MetaRequest) finish() {
	mr.finishOnce.Do(func() {
		mr.synced.mu.Lock()
		if !mr.synced.finishResultSet {
			mr.synced.finishResultSet = true
			mr.synced.finishResult = s3types.FinishResult{Err: s3errors.ErrInternal}
		}
		mr.result = mr.synced.finishResult
		mr.synced.mu.Unlock()

		status := "success"
		if mr.result.Err != nil {
			status = "error"
		}
		mr.client.metrics.MetaRequestFinished(mr.typ.String(), status)
		mr.log.WithField("status", status).Debug("meta request finished")

		if mr.callbacks.OnFinish != nil {
			mr.callbacks.OnFinish(mr.result)
		}
		close(mr.done)
	})
}

// Cancel requests termination. In-flight requests drain before the abort
// branch (if any) runs. Safe to call from any goroutine, repeatedly.
func (mr *MetaRequest) Cancel() {
	mr.synced.mu.Lock()
	mr.setFailSynced(nil, s3errors.ErrCanceled)
	mr.synced.mu.Unlock()
	mr.client.scheduleProcessWork()
}

// Pause captures a resume token and terminates the meta request with
// ErrPaused, leaving server-side state intact. Only upload meta requests
// support pausing.
func (mr *MetaRequest) Pause() (string, error) {
	token, err := mr.variant.pause()
	mr.client.scheduleProcessWork()
	return token, err
}

// IncrementReadWindow grows the flow-control window, resuming body delivery
// that stalled on backpressure. No-op when backpressure is disabled.
func (mr *MetaRequest) IncrementReadWindow(bytes int64) {
	if bytes <= 0 {
		return
	}
	mr.synced.mu.Lock()
	if mr.synced.readWindowEnabled {
		mr.synced.readWindow += bytes
		mr.maybeScheduleStreamingSynced()
	}
	mr.synced.mu.Unlock()
}

// Done is closed when the meta request has terminated.
func (mr *MetaRequest) Done() <-chan struct{} {
	return mr.done
}

// Result returns the terminal outcome. Valid only after Done is closed.
func (mr *MetaRequest) Result() s3types.FinishResult {
	return mr.result
}

// Err returns the terminal error, if any. Valid only after Done is closed.
func (mr *MetaRequest) Err() error {
	return mr.result.Err
}
