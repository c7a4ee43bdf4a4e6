package s3xfer

import (
	"fmt"
	"net/http"
	"strconv"

	s3errors "github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/validation"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/wire"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/s3types"
)

// PutObject submits an auto-ranged multi-part upload and returns its handle.
// The upload proceeds asynchronously; observe completion through the input's
// callbacks or the returned MetaRequest.
func (c *Client) PutObject(input *s3types.PutObjectInput) (*MetaRequest, error) {
	const op = "putObject"

	if err := validation.ValidateBucketName(input.Bucket); err != nil {
		return nil, s3errors.NewObjectError(op, input.Bucket, input.Key, err)
	}
	if err := validation.ValidateObjectKey(input.Key); err != nil {
		return nil, s3errors.NewObjectError(op, input.Bucket, input.Key, err)
	}
	if err := validation.ValidateMetadata(input.Metadata); err != nil {
		return nil, s3errors.NewObjectError(op, input.Bucket, input.Key, err)
	}
	if input.Body == nil {
		return nil, s3errors.NewObjectError(op, input.Bucket, input.Key, s3errors.ErrInvalidInput).
			WithMessage("body is required")
	}
	if input.ContentLength <= 0 {
		return nil, s3errors.NewObjectError(op, input.Bucket, input.Key, s3errors.ErrInvalidInput).
			WithMessage("content length must be positive")
	}

	algorithm := input.ChecksumAlgorithm
	if algorithm == s3types.ChecksumAlgorithmNone {
		algorithm = c.cfg.ChecksumAlgorithm
	}

	partSize, totalNumParts, resumeUploadID, err := c.resolvePutPartitioning(input)
	if err != nil {
		return nil, s3errors.NewObjectError(op, input.Bucket, input.Key, err)
	}

	initialMessage := c.buildPutInitialMessage(input)

	computeContentMD5 := c.cfg.ComputeContentMD5 || input.ContentMD5 != ""

	mr := newMetaRequestBase(
		c,
		s3types.MetaRequestTypePutObject,
		partSize,
		computeContentMD5,
		algorithm,
		initialMessage,
		input.Body,
		input.Bucket,
		input.Key,
		input.Callbacks,
	)
	newAutoRangedPut(mr, input.ContentLength, totalNumParts, resumeUploadID)

	mr.endpoint = c.acquireEndpointForHost(c.hostForBucket(input.Bucket))

	if err := c.submitMetaRequest(mr); err != nil {
		c.endpointOps.release(mr.endpoint)
		return nil, s3errors.NewObjectError(op, input.Bucket, input.Key, err)
	}
	return mr, nil
}

// resolvePutPartitioning computes the part size and count for a fresh
// upload, or validates the caller's resume token against the body.
func (c *Client) resolvePutPartitioning(input *s3types.PutObjectInput) (int64, int, string, error) {
	if input.ResumeToken == "" {
		partSize := c.cfg.PartSize
		numParts := partCount(input.ContentLength, partSize)
		if numParts > MaxUploadParts {
			// Grow parts until the object fits the part-count ceiling.
			partSize = (input.ContentLength + MaxUploadParts - 1) / MaxUploadParts
			if partSize > c.cfg.MaxPartSize {
				return 0, 0, "", fmt.Errorf("%w: object needs a part size of %d which exceeds the %d maximum",
					s3errors.ErrInvalidInput, partSize, c.cfg.MaxPartSize)
			}
			numParts = partCount(input.ContentLength, partSize)
		}
		return partSize, numParts, "", nil
	}

	token, err := s3types.ParseResumeToken(input.ResumeToken)
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: %v", s3errors.ErrInvalidInput, err)
	}
	if token.Type != s3types.ResumeTokenTypePutObject {
		return 0, 0, "", fmt.Errorf("%w: resume token type %q is not a put token",
			s3errors.ErrInvalidInput, token.Type)
	}
	if token.PartitionSize < MinPartSize {
		return 0, 0, "", fmt.Errorf("%w: resume token partition size %d is below the %d minimum",
			s3errors.ErrInvalidInput, token.PartitionSize, int64(MinPartSize))
	}
	if token.TotalNumParts > MaxUploadParts {
		return 0, 0, "", fmt.Errorf("%w: resume token part count %d exceeds the %d maximum",
			s3errors.ErrInvalidInput, token.TotalNumParts, MaxUploadParts)
	}
	if expected := partCount(input.ContentLength, token.PartitionSize); expected != token.TotalNumParts {
		return 0, 0, "", fmt.Errorf("%w: resume token part count %d does not match the %d parts implied by the body",
			s3errors.ErrInvalidInput, token.TotalNumParts, expected)
	}
	return token.PartitionSize, token.TotalNumParts, token.MultipartUploadID, nil
}

// partCount is the ceiling division of contentLength by partSize.
func partCount(contentLength, partSize int64) int {
	return int((contentLength + partSize - 1) / partSize)
}

// buildPutInitialMessage assembles the logical PUT the meta request
// decomposes: the caller's headers land here, and every wire message derives
// from it with per-operation filtering.
func (c *Client) buildPutInitialMessage(input *s3types.PutObjectInput) *wire.Message {
	msg := wire.NewMessage(http.MethodPut, c.pathForObject(input.Bucket, input.Key))
	msg.Headers.Set("Content-Length", strconv.FormatInt(input.ContentLength, 10))

	if input.ContentType != "" {
		msg.Headers.Set("Content-Type", input.ContentType)
	}
	if input.ContentMD5 != "" {
		msg.Headers.Set(wire.HeaderContentMD5, input.ContentMD5)
	}
	if input.StorageClass != "" {
		msg.Headers.Set("x-amz-storage-class", input.StorageClass)
	}
	for key, value := range input.Metadata {
		msg.Headers.Set("x-amz-meta-"+key, value)
	}
	if input.SSEC != nil {
		if input.SSEC.Algorithm != "" {
			msg.Headers.Set("x-amz-server-side-encryption-customer-algorithm", input.SSEC.Algorithm)
		}
		if input.SSEC.KeyMD5 != "" {
			msg.Headers.Set("x-amz-server-side-encryption-customer-key-MD5", input.SSEC.KeyMD5)
		}
		if input.SSEC.Context != "" {
			msg.Headers.Set("x-amz-server-side-encryption-context", input.SSEC.Context)
		}
	}
	return msg
}
