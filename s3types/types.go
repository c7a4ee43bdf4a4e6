// Package s3types provides shared type definitions for the s3xfer module.
package s3types

import (
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/input-output-hk/catalyst-forge-libs/fs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// MetaRequestType identifies the kind of logical transfer a meta request performs.
type MetaRequestType int

// Meta request types.
const (
	// MetaRequestTypeDefault sends the caller's request as a single HTTP request.
	MetaRequestTypeDefault MetaRequestType = iota

	// MetaRequestTypeGetObject is the ranged-download type. No meta request in
	// this module has it; GetObject submits MetaRequestTypeDefault.
	MetaRequestTypeGetObject

	// MetaRequestTypePutObject splits an upload into a multi-part upload.
	MetaRequestTypePutObject

	// MetaRequestTypeMax bounds the type enum; used for per-type tables.
	MetaRequestTypeMax
)

// String returns the wire-stable name of the meta request type. The put name
// is also the "type" field of serialized resume tokens.
func (t MetaRequestType) String() string {
	switch t {
	case MetaRequestTypeGetObject:
		return "AWS_S3_META_REQUEST_TYPE_GET_OBJECT"
	case MetaRequestTypePutObject:
		return "AWS_S3_META_REQUEST_TYPE_PUT_OBJECT"
	default:
		return "AWS_S3_META_REQUEST_TYPE_DEFAULT"
	}
}

// ChecksumAlgorithm selects the flexible checksum computed per uploaded part.
type ChecksumAlgorithm int

// Supported checksum algorithms.
const (
	// ChecksumAlgorithmNone disables per-part checksums.
	ChecksumAlgorithmNone ChecksumAlgorithm = iota

	// ChecksumAlgorithmCRC32 uses the IEEE CRC32 polynomial.
	ChecksumAlgorithmCRC32

	// ChecksumAlgorithmCRC32C uses the Castagnoli CRC32 polynomial.
	ChecksumAlgorithmCRC32C

	// ChecksumAlgorithmSHA1 uses SHA-1.
	ChecksumAlgorithmSHA1

	// ChecksumAlgorithmSHA256 uses SHA-256.
	ChecksumAlgorithmSHA256
)

// String returns the algorithm suffix used in header and XML tag names.
func (a ChecksumAlgorithm) String() string {
	switch a {
	case ChecksumAlgorithmCRC32:
		return "CRC32"
	case ChecksumAlgorithmCRC32C:
		return "CRC32C"
	case ChecksumAlgorithmSHA1:
		return "SHA1"
	case ChecksumAlgorithmSHA256:
		return "SHA256"
	default:
		return "NONE"
	}
}

// SSECConfig carries customer-provided encryption key material. The three
// headers derived from it are sent on CreateMultipartUpload and echoed into
// the final response headers.
type SSECConfig struct {
	// Algorithm is the value for x-amz-server-side-encryption-customer-algorithm.
	Algorithm string

	// KeyMD5 is the value for x-amz-server-side-encryption-customer-key-MD5.
	KeyMD5 string

	// Context is the value for x-amz-server-side-encryption-context.
	Context string
}

// Progress reports incremental transfer progress to the progress callback.
type Progress struct {
	// BytesTransferred is the number of body bytes moved since the last report.
	BytesTransferred int64

	// ContentLength is the total length of the transfer, when known.
	ContentLength int64
}

// FinishResult is the terminal outcome of a meta request. It is recorded once
// and never overwritten.
type FinishResult struct {
	// Err is nil on success; otherwise the first terminal error observed.
	Err error

	// FailedOperation names the wire operation whose failure terminated the
	// meta request, e.g. "CreateMultipartUpload" or "UploadPart". Empty on
	// success and on caller-initiated cancellation.
	FailedOperation string

	// ResponseStatus is the HTTP status of the failed request, or the final
	// success status.
	ResponseStatus int
}

// Callbacks a meta request invokes as it progresses. All fields are optional.
// OnFinish runs on the scheduler goroutine; the others run on request or
// body-delivery goroutines. No callback may block indefinitely.
type MetaRequestCallbacks struct {
	// OnHeaders is invoked once with the final user-visible response headers
	// and status for the logical transfer.
	OnHeaders func(status int, headers http.Header)

	// OnBody is invoked with response body chunks in increasing offset order.
	OnBody func(offset int64, chunk []byte)

	// OnProgress is invoked as body bytes complete transfer.
	OnProgress func(p Progress)

	// OnFinish is invoked exactly once when the meta request terminates.
	OnFinish func(result FinishResult)
}

// PutObjectInput describes a multi-part upload.
type PutObjectInput struct {
	// Bucket is the destination bucket name.
	Bucket string

	// Key is the destination object key.
	Key string

	// Body is the object payload. It is read strictly serially, exactly once,
	// front to back, including during resume (previously uploaded ranges are
	// read and discarded for checksum verification).
	Body io.Reader

	// ContentLength is the total payload length in bytes. Required.
	ContentLength int64

	// ContentType is sent on CreateMultipartUpload. Optional.
	ContentType string

	// ContentMD5, when set, is treated as a caller-supplied Content-MD5 for
	// the logical object and turns on per-part MD5 computation.
	ContentMD5 string

	// Metadata holds user metadata sent as x-amz-meta-* headers on
	// CreateMultipartUpload only.
	Metadata map[string]string

	// StorageClass is sent as x-amz-storage-class when non-empty.
	StorageClass string

	// SSEC optionally configures customer-provided encryption headers.
	SSEC *SSECConfig

	// ChecksumAlgorithm selects the per-part flexible checksum. Defaults to
	// the client's configured algorithm.
	ChecksumAlgorithm ChecksumAlgorithm

	// ResumeToken, when non-empty, resumes a previously paused upload. The
	// token must have been produced by MetaRequest.Pause for the same object
	// and body.
	ResumeToken string

	// Callbacks receive progress and completion notifications.
	Callbacks MetaRequestCallbacks
}

// GetObjectInput describes a single-request download handled by the default
// meta request.
type GetObjectInput struct {
	// Bucket is the source bucket name.
	Bucket string

	// Key is the source object key.
	Key string

	// Range optionally restricts the download, e.g. "bytes=0-1023".
	Range string

	// RangeStart/RangeEnd restrict the download to an inclusive byte range
	// when RangeEnd is positive and Range is unset.
	RangeStart int64
	RangeEnd   int64

	// Callbacks receive headers, ordered body chunks, and completion.
	Callbacks MetaRequestCallbacks
}

// ClientConfig holds the resolved configuration for a Client. Populated by
// functional options; immutable after New returns.
type ClientConfig struct {
	// Region is the signing region, e.g. "us-west-2".
	Region string

	// Endpoint overrides the derived S3 endpoint host. When set, requests use
	// path-style addressing against this host.
	Endpoint string

	// UsePathStyle forces path-style addressing even without Endpoint.
	UsePathStyle bool

	// ThroughputTargetGbps is the aggregate throughput the client tries to
	// saturate. Drives the ideal VIP count.
	ThroughputTargetGbps float64

	// PartSize is the size of each upload part except possibly the last.
	PartSize int64

	// MaxPartSize caps PartSize growth for oversized objects.
	MaxPartSize int64

	// MaxActiveConnectionsOverride, when positive, is a hard cap on the
	// per-meta-request connection ceiling.
	MaxActiveConnectionsOverride int

	// ComputeContentMD5 turns on per-part Content-MD5 headers for uploads.
	ComputeContentMD5 bool

	// ChecksumAlgorithm is the default flexible checksum for uploads.
	ChecksumAlgorithm ChecksumAlgorithm

	// EnableReadBackpressure turns on the flow-control window for body
	// delivery. When enabled, delivery stalls once the window is exhausted
	// until the caller grows it.
	EnableReadBackpressure bool

	// InitialReadWindow is each meta request's starting flow-control window
	// in bytes. Ignored unless EnableReadBackpressure is set.
	InitialReadWindow int64

	// MaxRetries is the attempt ceiling for the default retry strategy.
	MaxRetries int

	// ConnectTimeout bounds TCP connection establishment.
	ConnectTimeout time.Duration

	// ProxyFromEnvironment reads proxy configuration from the process
	// environment when no explicit proxy is configured.
	ProxyFromEnvironment bool

	// CustomAWSConfig supplies AWS credentials and region instead of the
	// default credential chain.
	CustomAWSConfig *aws.Config

	// StaticCredentials, when non-nil, short-circuits credential resolution.
	StaticCredentials *StaticCredentials

	// Filesystem backs UploadFile. Defaults to the OS filesystem.
	Filesystem fs.Filesystem

	// Logger receives structured diagnostics. Defaults to a standard logger
	// at Info level.
	Logger logrus.FieldLogger

	// MetricsRegisterer, when non-nil, receives the client's Prometheus
	// collectors.
	MetricsRegisterer prometheus.Registerer
}

// StaticCredentials is a fixed AWS credential triple.
type StaticCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Option mutates a ClientConfig during construction.
type Option func(*ClientConfig)
