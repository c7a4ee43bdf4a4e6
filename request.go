package s3xfer

import (
	"net/http"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/wire"
)

// requestTag identifies what a single HTTP request does for its meta request.
// Each variant interprets its own tag space.
type requestTag int

const (
	// requestTagDefault is the single pass-through request of a default meta
	// request.
	requestTagDefault requestTag = iota

	requestTagListParts
	requestTagCreateMultipartUpload
	requestTagPart
	requestTagCompleteMultipartUpload
	requestTagAbortMultipartUpload
)

// operationName is the wire operation label used in errors, logs, and
// metrics.
func (t requestTag) operationName() string {
	switch t {
	case requestTagListParts:
		return "ListParts"
	case requestTagCreateMultipartUpload:
		return "CreateMultipartUpload"
	case requestTagPart:
		return "UploadPart"
	case requestTagCompleteMultipartUpload:
		return "CompleteMultipartUpload"
	case requestTagAbortMultipartUpload:
		return "AbortMultipartUpload"
	default:
		return "Default"
	}
}

// Flags controlling how the scheduler treats a request.
const (
	// requestFlagRecordResponseHeaders keeps the response headers on the
	// request for the finish hook.
	requestFlagRecordResponseHeaders = 1 << iota

	// requestFlagAlwaysSend sends the request even after its meta request has
	// a finish result (used by AbortMultipartUpload).
	requestFlagAlwaysSend
)

// request is a single HTTP request artifact flowing through the pipeline:
// produced by update, filled in by prepare, executed on a connection, and
// observed by the finish hook. Many requests serve one meta request.
type request struct {
	metaRequest *MetaRequest

	tag requestTag

	// partNumber is 1-based; 0 when not applicable.
	partNumber int

	recordResponseHeaders bool
	alwaysSend            bool

	// numTimesPrepared counts prepare passes. Retried requests skip
	// body-stream reads when it is non-zero.
	numTimesPrepared int

	// requestBody is the prepared body slice, pooled for part uploads.
	requestBody []byte

	// message is the prepared, unsigned HTTP message.
	message *wire.Message

	// prepareErr records a preparation failure for the scheduler drain.
	prepareErr error

	responseStatus  int
	responseHeaders http.Header
	responseBody    []byte

	// retryToken persists across attempts of this request.
	retryToken retry.Token

	// streamingOffset orders body delivery for download-style requests.
	streamingOffset int64
}

// newRequest allocates a request for the given meta request.
func newRequest(mr *MetaRequest, tag requestTag, partNumber int, flags int) *request {
	return &request{
		metaRequest:           mr,
		tag:                   tag,
		partNumber:            partNumber,
		recordResponseHeaders: flags&requestFlagRecordResponseHeaders != 0,
		alwaysSend:            flags&requestFlagAlwaysSend != 0,
	}
}
