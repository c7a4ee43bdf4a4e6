package wire

import (
	"fmt"
	"net/http"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/checksum"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/s3types"
)

// Header names shared across builders.
const (
	HeaderETag            = "ETag"
	HeaderContentMD5      = "Content-MD5"
	HeaderRange           = "Range"
	headerChecksumAlgo    = "x-amz-checksum-algorithm"
	headerContentLength   = "Content-Length"
	headerCopySource      = "x-amz-copy-source"
	headerCopySourceRange = "x-amz-copy-source-range"
)

// SSECCopyHeaders are the customer-SSE headers captured from the
// CreateMultipartUpload response and echoed into the final user-visible
// headers of the transfer.
var SSECCopyHeaders = []string{
	"x-amz-server-side-encryption-customer-algorithm",
	"x-amz-server-side-encryption-customer-key-MD5",
	"x-amz-server-side-encryption-context",
}

// Headers stripped when deriving a CreateMultipartUpload message from the
// base put message. User metadata and SSE headers stay: they belong on the
// create request only.
var createMultipartUploadExcludedHeaders = []string{
	"Content-Length",
	"Content-MD5",
	headerCopySource,
	headerCopySourceRange,
}

// Headers that belong on the create request only and are stripped from every
// other multipart message.
var uploadPartExcludedHeaders = []string{
	"x-amz-acl",
	"Cache-Control",
	"Content-Disposition",
	"Content-Encoding",
	"Content-Language",
	"Content-Length",
	"Content-MD5",
	"Content-Type",
	"Expires",
	"x-amz-grant-full-control",
	"x-amz-grant-read",
	"x-amz-grant-read-acp",
	"x-amz-grant-write-acp",
	"x-amz-server-side-encryption",
	"x-amz-storage-class",
	"x-amz-website-redirect-location",
	"x-amz-server-side-encryption-aws-kms-key-id",
	"x-amz-server-side-encryption-context",
	"x-amz-server-side-encryption-bucket-key-enabled",
	"x-amz-tagging",
	"x-amz-object-lock-mode",
	"x-amz-object-lock-retain-until-date",
	"x-amz-object-lock-legal-hold",
	headerCopySource,
	headerCopySourceRange,
}

// The complete/abort/list messages additionally drop the customer-SSE key
// headers (the key itself never leaves the create request).
var completeMultipartUploadExcludedHeaders = append([]string{
	"x-amz-server-side-encryption-customer-algorithm",
	"x-amz-server-side-encryption-customer-key",
	"x-amz-server-side-encryption-customer-key-MD5",
}, uploadPartExcludedHeaders...)

// CompleteMultipartUpload keeps SSE-C headers when a flexible checksum is in
// use; the server requires them to validate checksummed completes.
var completeMultipartUploadWithChecksumExcludedHeaders = uploadPartExcludedHeaders

var listPartsExcludedHeaders = completeMultipartUploadExcludedHeaders

var abortMultipartUploadExcludedHeaders = completeMultipartUploadExcludedHeaders

// NewCreateMultipartUpload derives the POST ?uploads message from the base
// put message. SSE and x-amz-meta-* headers ride along; body-specific
// headers are stripped.
func NewCreateMultipartUpload(base *Message, algorithm s3types.ChecksumAlgorithm) *Message {
	msg := base.clone(createMultipartUploadExcludedHeaders, false)
	msg.setMultipartRequestPath("", 0, true)
	msg.Method = http.MethodPost
	msg.Headers.Del(HeaderContentMD5)
	if v := checksum.CreateMPUHeaderValue(algorithm); v != "" {
		msg.Headers.Set(headerChecksumAlgo, v)
	}
	return msg
}

// NewUploadPart derives the PUT ?partNumber=N&uploadId=U message carrying one
// part body. When a flexible checksum algorithm is configured the encoded
// checksum is set as a header and returned for later use in the complete
// body; Content-MD5 is computed only when no flexible checksum is in use.
func NewUploadPart(
	base *Message,
	body []byte,
	partNumber int,
	uploadID string,
	computeContentMD5 bool,
	algorithm s3types.ChecksumAlgorithm,
) (*Message, string, error) {
	if partNumber <= 0 {
		return nil, "", fmt.Errorf("wire: part number must be positive, got %d", partNumber)
	}
	msg := base.clone(uploadPartExcludedHeaders, true)
	msg.setMultipartRequestPath(uploadID, partNumber, false)
	msg.Method = http.MethodPut
	msg.setBody(body)

	var encoded string
	if algorithm != s3types.ChecksumAlgorithmNone {
		var err error
		encoded, err = checksum.Compute(algorithm, body)
		if err != nil {
			return nil, "", err
		}
		msg.Headers.Set(checksum.HeaderName(algorithm), encoded)
	} else if computeContentMD5 {
		msg.Headers.Set(HeaderContentMD5, checksum.ComputeMD5(body))
	}
	return msg, encoded, nil
}

// NewCompleteMultipartUpload derives the POST ?uploadId=U message whose XML
// body enumerates every part's number, ETag, and optional checksum. etags and
// checksums are indexed by part number - 1. Every etag must be set; a missing
// or empty checksum entry omits that part's checksum element.
func NewCompleteMultipartUpload(
	base *Message,
	uploadID string,
	etags []string,
	checksums []string,
	algorithm s3types.ChecksumAlgorithm,
) (*Message, error) {
	excluded := completeMultipartUploadExcludedHeaders
	if algorithm != s3types.ChecksumAlgorithmNone {
		excluded = completeMultipartUploadWithChecksumExcludedHeaders
	}
	msg := base.clone(excluded, true)
	msg.setMultipartRequestPath(uploadID, 0, false)
	msg.Method = http.MethodPost

	body, err := buildCompleteMultipartUploadBody(etags, checksums, algorithm)
	if err != nil {
		return nil, err
	}
	msg.setBody(body)
	return msg, nil
}

// NewAbortMultipartUpload derives the DELETE ?uploadId=U message.
func NewAbortMultipartUpload(base *Message, uploadID string) *Message {
	msg := base.clone(abortMultipartUploadExcludedHeaders, true)
	msg.setMultipartRequestPath(uploadID, 0, false)
	msg.Method = http.MethodDelete
	return msg
}

// NewListParts derives the GET ?uploadId=U message, with the previous page's
// part-number-marker when paginating.
func NewListParts(base *Message, uploadID, partNumberMarker string) *Message {
	msg := base.clone(listPartsExcludedHeaders, true)
	msg.setMultipartRequestPath(uploadID, 0, false)
	if partNumberMarker != "" {
		msg.Path += "&part-number-marker=" + partNumberMarker
	}
	msg.Method = http.MethodGet
	return msg
}

// NewRangedGet copies the base message and sets a bytes range header.
func NewRangedGet(base *Message, rangeStart, rangeEnd int64) *Message {
	msg := base.clone(nil, false)
	msg.Headers.Set(HeaderRange, fmt.Sprintf("bytes=%d-%d", rangeStart, rangeEnd))
	return msg
}
