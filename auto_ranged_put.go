package s3xfer

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	s3errors "github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/checksum"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/wire"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/s3types"
)

// phaseState tracks one protocol phase of the upload. All fields are guarded
// by the meta request lock. Each phase owns its correctly named error field.
type phaseState struct {
	sent      bool
	completed bool
	errorCode error
}

// autoRangedPut is the resumable, checksummed multi-part upload state
// machine: ListParts (resume only) -> CreateMultipartUpload -> part loop ->
// CompleteMultipartUpload, with an abort branch once a finish result exists.
type autoRangedPut struct {
	base *MetaRequest

	contentLength int64

	// resumed is true when the meta request was built from a resume token.
	resumed bool

	// uploadID is written once (at construction on resume, or by the
	// CreateMultipartUpload finish hook before createMPU.completed is
	// published under the lock) and read afterwards.
	uploadID string

	// checksums[i] holds the encoded checksum of part i+1. Resumed parts get
	// theirs while each ListParts page is parsed; freshly uploaded parts get
	// theirs from the preparer, which rewrites the same value on a retry.
	checksums []string

	synced struct {
		totalNumParts      int
		numPartsSent       int
		numPartsCompleted  int
		numPartsSuccessful int
		numPartsFailed     int

		// etagList[i] is the quote-stripped ETag of part i+1; sparsely
		// populated until the upload completes.
		etagList []string

		listParts   phaseState
		createMPU   phaseState
		completeMPU phaseState
		abortMPU    phaseState

		// listPartsContinuationToken is the part-number-marker for the next
		// ListParts page.
		listPartsContinuationToken string

		// neededResponseHeaders are customer-SSE headers destined for the
		// final user-visible headers.
		neededResponseHeaders http.Header
	}

	// threadedUpdate is touched only by the scheduler goroutine.
	threadedUpdate struct {
		nextPartNumber int
	}

	// prepareData is touched only by the preparer goroutine.
	prepareData struct {
		numPartsReadFromStream int
	}
}

// newAutoRangedPut wires the state machine onto a meta request base. For
// resumed uploads uploadID is non-empty and the ListParts phase runs first;
// fresh uploads skip straight to CreateMultipartUpload.
func newAutoRangedPut(base *MetaRequest, contentLength int64, totalNumParts int, resumeUploadID string) *autoRangedPut {
	p := &autoRangedPut{
		base:          base,
		contentLength: contentLength,
		resumed:       resumeUploadID != "",
		uploadID:      resumeUploadID,
		checksums:     make([]string, totalNumParts),
	}
	p.synced.totalNumParts = totalNumParts
	p.synced.etagList = make([]string, totalNumParts)
	p.threadedUpdate.nextPartNumber = 1

	if p.resumed {
		// Create will never run in this flow, so capture the customer-SSE
		// headers straight off the initial message.
		p.synced.createMPU.sent = true
		p.synced.createMPU.completed = true
		p.synced.neededResponseHeaders = captureSSECHeaders(base.initialMessage.Headers)
	} else {
		p.synced.listParts.sent = true
		p.synced.listParts.completed = true
	}

	base.variant = p
	return p
}

// captureSSECHeaders copies the customer-SSE headers present in src.
func captureSSECHeaders(src http.Header) http.Header {
	out := make(http.Header)
	for _, name := range wire.SSECCopyHeaders {
		if v := src.Get(name); v != "" {
			out.Set(name, v)
		}
	}
	return out
}

// update produces the next request the state machine wants sent, all state
// inspection under the meta request lock.
func (p *autoRangedPut) update(flags updateFlags) (*request, bool) {
	var req *request
	workRemaining := false

	p.base.synced.mu.Lock()

	if !p.base.hasFinishResultSynced() {
		workRemaining, req = p.updateOngoingSynced(flags)
	} else {
		workRemaining, req = p.updateCancelingSynced()
	}

	if !workRemaining {
		p.base.setSuccessSynced(http.StatusOK)
	}
	p.base.synced.mu.Unlock()

	if !workRemaining {
		p.base.finish()
		return nil, false
	}
	return req, true
}

// updateOngoingSynced walks the happy-path phases. Lock held.
func (p *autoRangedPut) updateOngoingSynced(flags updateFlags) (bool, *request) {
	s := &p.synced

	// Resuming: drive ListParts pages until pagination finishes.
	if !s.listParts.sent {
		s.listParts.sent = true
		return true, newRequest(p.base, requestTagListParts, 0, requestFlagRecordResponseHeaders)
	}
	if !s.listParts.completed {
		return true, nil
	}

	if !s.createMPU.sent {
		s.createMPU.sent = true
		return true, newRequest(p.base, requestTagCreateMultipartUpload, 0, requestFlagRecordResponseHeaders)
	}
	if !s.createMPU.completed {
		return true, nil
	}

	if s.numPartsSent < s.totalNumParts {
		// Skip any slot whose ETag arrived via ListParts; prepare will skip
		// the matching stream bytes.
		for p.threadedUpdate.nextPartNumber-1 < len(s.etagList) &&
			s.etagList[p.threadedUpdate.nextPartNumber-1] != "" {
			p.threadedUpdate.nextPartNumber++
		}

		if flags&updateFlagConservative != 0 && s.numPartsSent-s.numPartsCompleted > 0 {
			return true, nil
		}

		req := newRequest(p.base, requestTagPart, p.threadedUpdate.nextPartNumber, requestFlagRecordResponseHeaders)
		p.threadedUpdate.nextPartNumber++
		s.numPartsSent++
		p.base.log.WithField("part", req.partNumber).Debug("emitting part request")
		return true, req
	}

	if s.numPartsCompleted != s.totalNumParts {
		return true, nil
	}

	if !s.completeMPU.sent {
		s.completeMPU.sent = true
		return true, newRequest(p.base, requestTagCompleteMultipartUpload, 0, requestFlagRecordResponseHeaders)
	}
	if !s.completeMPU.completed {
		return true, nil
	}

	return false, nil
}

// updateCancelingSynced drains in-flight phases, then decides whether to
// abort the server-side upload. Lock held.
func (p *autoRangedPut) updateCancelingSynced() (bool, *request) {
	s := &p.synced

	// Nothing ever reached the server.
	if !s.createMPU.sent {
		return false, nil
	}
	if !s.createMPU.completed {
		return true, nil
	}

	// Let in-flight parts drain before aborting out from under them.
	if s.numPartsCompleted < s.numPartsSent {
		return true, nil
	}

	if s.completeMPU.sent && !s.completeMPU.completed {
		return true, nil
	}

	// Paused or failed-to-resume uploads keep their server-side parts.
	err := p.base.synced.finishResult.Err
	if s3errors.IsPaused(err) || s3errors.IsResumeFailed(err) {
		return false, nil
	}

	// A successful complete means there is nothing left to abort.
	if s.completeMPU.completed && s.completeMPU.errorCode == nil {
		return false, nil
	}

	if !s.abortMPU.sent {
		if p.uploadID == "" {
			return false, nil
		}
		s.abortMPU.sent = true
		return true, newRequest(p.base, requestTagAbortMultipartUpload, 0,
			requestFlagRecordResponseHeaders|requestFlagAlwaysSend)
	}
	if !s.abortMPU.completed {
		return true, nil
	}

	return false, nil
}

// requestBodySize returns the byte count of the given part: partSize for all
// but the last, which takes the content-length remainder when non-zero.
func (p *autoRangedPut) requestBodySize(partNumber int) int64 {
	size := p.base.partSize
	if partNumber == p.synced.totalNumParts {
		if remainder := p.contentLength % p.base.partSize; remainder > 0 {
			size = remainder
		}
	}
	return size
}

// skipPartsFromStream reads and discards body bytes for parts that were
// uploaded before the pause, verifying each stored checksum against the
// re-read bytes. A mismatch means the caller supplied a different body, and
// the resume fails without touching the server-side upload.
func (p *autoRangedPut) skipPartsFromStream(numPartsReadFromStream, skipUntilPartNumber int) error {
	if numPartsReadFromStream >= skipUntilPartNumber {
		return nil
	}

	p.base.log.WithFields(map[string]interface{}{
		"from": numPartsReadFromStream + 1,
		"to":   skipUntilPartNumber,
	}).Debug("skipping previously uploaded parts in body stream")

	buf := make([]byte, p.base.partSize)
	for partIndex := numPartsReadFromStream; partIndex < skipUntilPartNumber; partIndex++ {
		size := p.requestBodySize(partIndex + 1)
		if _, err := io.ReadFull(p.base.body, buf[:size]); err != nil {
			return fmt.Errorf("%w: body stream cannot be read: %v", s3errors.ErrResumeFailed, err)
		}

		if p.base.checksumAlgorithm != s3types.ChecksumAlgorithmNone && p.checksums[partIndex] != "" {
			encoded, err := checksum.Compute(p.base.checksumAlgorithm, buf[:size])
			if err != nil {
				return fmt.Errorf("%w: %v", s3errors.ErrResumeFailed, err)
			}
			if encoded != p.checksums[partIndex] {
				return fmt.Errorf("%w: part %d: %w",
					s3errors.ErrResumeFailed, partIndex+1, s3errors.ErrResumedPartChecksumMismatch)
			}
		}
	}
	return nil
}

// prepareRequest reads body bytes and composes the HTTP message for a
// request. Runs on the preparer goroutine; body-stream reads are therefore
// strictly serial.
func (p *autoRangedPut) prepareRequest(req *request) error {
	switch req.tag {
	case requestTagListParts:
		p.base.synced.mu.Lock()
		marker := p.synced.listPartsContinuationToken
		p.base.synced.mu.Unlock()
		req.message = wire.NewListParts(p.base.initialMessage, p.uploadID, marker)

	case requestTagCreateMultipartUpload:
		req.message = wire.NewCreateMultipartUpload(p.base.initialMessage, p.base.checksumAlgorithm)

	case requestTagPart:
		size := p.requestBodySize(req.partNumber)
		if req.numTimesPrepared == 0 {
			if err := p.skipPartsFromStream(p.prepareData.numPartsReadFromStream, req.partNumber-1); err != nil {
				return err
			}
			p.prepareData.numPartsReadFromStream = req.partNumber - 1

			buf := p.base.client.partBuffers.Get(size)
			buf = buf[:size]
			if _, err := io.ReadFull(p.base.body, buf); err != nil {
				return fmt.Errorf("read part %d from body stream: %w", req.partNumber, err)
			}
			req.requestBody = buf
			p.prepareData.numPartsReadFromStream++
		}

		msg, encoded, err := wire.NewUploadPart(
			p.base.initialMessage,
			req.requestBody,
			req.partNumber,
			p.uploadID,
			p.base.computeContentMD5,
			p.base.checksumAlgorithm,
		)
		if err != nil {
			return err
		}
		if encoded != "" {
			p.checksums[req.partNumber-1] = encoded
		}
		req.message = msg

	case requestTagCompleteMultipartUpload:
		if req.numTimesPrepared == 0 {
			// Corner case of the final parts having been uploaded before the
			// pause: they were never prepared, so the stream still holds
			// their bytes. Read them out and verify.
			if err := p.skipPartsFromStream(p.prepareData.numPartsReadFromStream, p.synced.totalNumParts); err != nil {
				return err
			}
			p.prepareData.numPartsReadFromStream = p.synced.totalNumParts
		}

		p.base.synced.mu.Lock()
		etags := append([]string(nil), p.synced.etagList...)
		p.base.synced.mu.Unlock()

		msg, err := wire.NewCompleteMultipartUpload(
			p.base.initialMessage,
			p.uploadID,
			etags,
			p.checksums,
			p.base.checksumAlgorithm,
		)
		if err != nil {
			return err
		}
		req.message = msg

	case requestTagAbortMultipartUpload:
		p.base.log.WithField("upload_id", p.uploadID).Debug("aborting multipart upload")
		req.message = wire.NewAbortMultipartUpload(p.base.initialMessage, p.uploadID)

	default:
		return fmt.Errorf("%w: unexpected request tag %d", s3errors.ErrInternal, req.tag)
	}

	return nil
}

// finishedRequest advances the state machine when the HTTP layer reports a
// request's terminal completion.
func (p *autoRangedPut) finishedRequest(req *request, err error) {
	switch req.tag {
	case requestTagListParts:
		p.finishedListParts(req, err)
	case requestTagCreateMultipartUpload:
		p.finishedCreateMultipartUpload(req, err)
	case requestTagPart:
		p.finishedPart(req, err)
	case requestTagCompleteMultipartUpload:
		p.finishedCompleteMultipartUpload(req, err)
	case requestTagAbortMultipartUpload:
		p.base.synced.mu.Lock()
		p.synced.abortMPU.completed = true
		p.synced.abortMPU.errorCode = err
		p.base.synced.mu.Unlock()
	}
}

func (p *autoRangedPut) finishedListParts(req *request, err error) {
	p.base.synced.mu.Lock()
	defer p.base.synced.mu.Unlock()

	hasMoreResults := false
	if err == nil {
		result, parseErr := wire.ParseListParts(req.responseBody)
		if parseErr != nil {
			err = fmt.Errorf("%w: %w: %v", s3errors.ErrResumeFailed, s3errors.ErrListPartsParse, parseErr)
		} else {
			for i := range result.Parts {
				info := &result.Parts[i]
				if info.PartNumber < 1 || info.PartNumber > p.synced.totalNumParts {
					err = fmt.Errorf("%w: %w: part number %d out of range", s3errors.ErrResumeFailed, s3errors.ErrListPartsParse, info.PartNumber)
					break
				}
				p.synced.etagList[info.PartNumber-1] = wire.StripQuotes(info.ETag)
				if cs := info.Checksum(p.base.checksumAlgorithm); cs != "" {
					p.checksums[info.PartNumber-1] = cs
				}
			}
			if err == nil && result.IsTruncated {
				p.synced.listPartsContinuationToken = strconv.Itoa(result.NextPartNumberMarker)
				// Re-arm the phase so update emits the next page.
				p.synced.listParts.sent = false
				hasMoreResults = true
			}
			if err == nil && !hasMoreResults {
				// Pagination done: account every previously uploaded part as
				// sent and completed.
				for _, etag := range p.synced.etagList {
					if etag != "" {
						p.synced.numPartsSent++
						p.synced.numPartsCompleted++
						p.synced.numPartsSuccessful++
					}
				}
				p.base.log.WithFields(map[string]interface{}{
					"completed": p.synced.numPartsCompleted,
					"total":     p.synced.totalNumParts,
				}).Debug("resuming upload; parts completed during previous run")
			}
		}
	} else {
		err = fmt.Errorf("%w: %v", s3errors.ErrResumeFailed, err)
	}

	p.synced.listParts.completed = !hasMoreResults
	p.synced.listParts.errorCode = err

	if err != nil {
		p.base.setFailSynced(req, err)
	}
}

func (p *autoRangedPut) finishedCreateMultipartUpload(req *request, err error) {
	var neededResponseHeaders http.Header
	if err == nil {
		neededResponseHeaders = captureSSECHeaders(req.responseHeaders)

		uploadID, parseErr := wire.ParseInitiateMultipartUpload(req.responseBody)
		if parseErr != nil || uploadID == "" {
			p.base.log.Error("could not find upload id in create-multipart-upload response")
			err = s3errors.ErrMissingUploadID
		} else {
			p.uploadID = uploadID
		}
	}

	p.base.synced.mu.Lock()
	p.synced.neededResponseHeaders = neededResponseHeaders
	p.synced.createMPU.completed = true
	p.synced.createMPU.errorCode = err
	if err != nil {
		p.base.setFailSynced(req, err)
	}
	p.base.synced.mu.Unlock()
}

func (p *autoRangedPut) finishedPart(req *request, err error) {
	etag := ""
	if err == nil {
		etag = wire.StripQuotes(req.responseHeaders.Get(wire.HeaderETag))
		if etag == "" {
			p.base.log.WithField("part", req.partNumber).Error("part response is missing its ETag header")
			err = fmt.Errorf("%w: part %d response missing ETag header", s3errors.ErrInternal, req.partNumber)
		}
	}

	if err == nil && p.base.callbacks.OnProgress != nil {
		p.base.callbacks.OnProgress(s3types.Progress{
			BytesTransferred: int64(len(req.requestBody)),
			ContentLength:    p.contentLength,
		})
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	p.base.client.metrics.PartCompleted(status)

	p.base.synced.mu.Lock()
	p.synced.numPartsCompleted++
	if err == nil {
		p.synced.numPartsSuccessful++
		p.synced.etagList[req.partNumber-1] = etag
	} else {
		p.synced.numPartsFailed++
		p.base.setFailSynced(req, err)
	}
	p.base.log.WithFields(map[string]interface{}{
		"completed": p.synced.numPartsCompleted,
		"total":     p.synced.totalNumParts,
	}).Debug("part completed")
	p.base.synced.mu.Unlock()
}

func (p *autoRangedPut) finishedCompleteMultipartUpload(req *request, err error) {
	if err == nil && p.base.callbacks.OnHeaders != nil {
		finalHeaders := make(http.Header)
		for name, values := range req.responseHeaders {
			for _, v := range values {
				finalHeaders.Add(name, v)
			}
		}

		p.base.synced.mu.Lock()
		for name, values := range p.synced.neededResponseHeaders {
			for _, v := range values {
				finalHeaders.Set(name, v)
			}
		}
		p.base.synced.mu.Unlock()

		// The object's ETag lives in the XML body; entity-encoded quotes come
		// back decoded by the parser.
		if etag, parseErr := wire.ParseCompleteMultipartUpload(req.responseBody); parseErr == nil && etag != "" {
			finalHeaders.Set(wire.HeaderETag, etag)
		}

		p.base.callbacks.OnHeaders(req.responseStatus, finalHeaders)
	}

	p.base.synced.mu.Lock()
	p.synced.completeMPU.completed = true
	p.synced.completeMPU.errorCode = err
	if err != nil {
		p.base.setFailSynced(req, err)
	}
	p.base.synced.mu.Unlock()
}

// pause serializes the resume token and fails the meta request with
// ErrPaused, which keeps the abort branch from deleting uploaded parts. A
// token is only produced once CreateMultipartUpload has completed; pausing
// earlier still stops the upload but yields an empty token.
func (p *autoRangedPut) pause() (string, error) {
	p.base.synced.mu.Lock()
	defer p.base.synced.mu.Unlock()

	token := ""
	var err error
	if p.synced.createMPU.completed && p.uploadID != "" {
		token, err = s3types.ResumeToken{
			Type:              s3types.ResumeTokenTypePutObject,
			MultipartUploadID: p.uploadID,
			PartitionSize:     p.base.partSize,
			TotalNumParts:     p.synced.totalNumParts,
		}.Serialize()
	}

	p.base.setFailSynced(nil, s3errors.ErrPaused)
	return token, err
}
