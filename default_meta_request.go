package s3xfer

import (
	"fmt"
	"net/http"

	s3errors "github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/errors"
)

// defaultMetaRequest sends the caller's initial message as a single HTTP
// request. It exists for the operations that need no decomposition (plain
// GETs, HEADs, deletes) and exercises the shared contract: the one response
// body flows through the streaming queue as part 1.
type defaultMetaRequest struct {
	base *MetaRequest

	synced struct {
		requestSent      bool
		requestCompleted bool
		requestErrorCode error
	}
}

// newDefaultMetaRequest wires the pass-through variant onto a base.
func newDefaultMetaRequest(base *MetaRequest) *defaultMetaRequest {
	d := &defaultMetaRequest{base: base}
	base.variant = d
	return d
}

func (d *defaultMetaRequest) update(updateFlags) (*request, bool) {
	var req *request
	workRemaining := false

	d.base.synced.mu.Lock()
	if !d.base.hasFinishResultSynced() {
		switch {
		case !d.synced.requestSent:
			req = newRequest(d.base, requestTagDefault, 1, requestFlagRecordResponseHeaders)
			d.synced.requestSent = true
			workRemaining = true
		case !d.synced.requestCompleted:
			workRemaining = true
		case d.synced.requestErrorCode == nil && d.base.synced.numPartsStreamed < 1:
			// The response body is still queued for in-order delivery.
			workRemaining = true
		}
	} else if d.synced.requestSent && !d.synced.requestCompleted {
		workRemaining = true
	}

	if !workRemaining {
		d.base.setSuccessSynced(http.StatusOK)
	}
	d.base.synced.mu.Unlock()

	if !workRemaining {
		d.base.finish()
		return nil, false
	}
	return req, true
}

func (d *defaultMetaRequest) prepareRequest(req *request) error {
	req.message = d.base.initialMessage
	return nil
}

func (d *defaultMetaRequest) finishedRequest(req *request, err error) {
	if err == nil && d.base.callbacks.OnHeaders != nil {
		headers := make(http.Header)
		for name, values := range req.responseHeaders {
			for _, v := range values {
				headers.Add(name, v)
			}
		}
		d.base.callbacks.OnHeaders(req.responseStatus, headers)
	}

	d.base.synced.mu.Lock()
	d.synced.requestCompleted = true
	d.synced.requestErrorCode = err
	if err != nil {
		d.base.setFailSynced(req, err)
	} else {
		d.base.queueStreamingRequestSynced(req)
	}
	d.base.synced.mu.Unlock()
}

func (d *defaultMetaRequest) pause() (string, error) {
	return "", fmt.Errorf("%w: default meta requests cannot be paused", s3errors.ErrInvalidInput)
}
