package s3xfer

import (
	"net/http"

	s3errors "github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/validation"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/wire"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/s3types"
)

// GetObject submits a single-request download handled by the default meta
// request. The response body is delivered in order through the input's
// OnBody callback.
func (c *Client) GetObject(input *s3types.GetObjectInput) (*MetaRequest, error) {
	const op = "getObject"

	if err := validation.ValidateBucketName(input.Bucket); err != nil {
		return nil, s3errors.NewObjectError(op, input.Bucket, input.Key, err)
	}
	if err := validation.ValidateObjectKey(input.Key); err != nil {
		return nil, s3errors.NewObjectError(op, input.Bucket, input.Key, err)
	}

	msg := wire.NewMessage(http.MethodGet, c.pathForObject(input.Bucket, input.Key))
	switch {
	case input.Range != "":
		msg.Headers.Set(wire.HeaderRange, input.Range)
	case input.RangeEnd > 0:
		msg = wire.NewRangedGet(msg, input.RangeStart, input.RangeEnd)
	}

	mr := newMetaRequestBase(
		c,
		s3types.MetaRequestTypeDefault,
		c.cfg.PartSize,
		false,
		s3types.ChecksumAlgorithmNone,
		msg,
		nil,
		input.Bucket,
		input.Key,
		input.Callbacks,
	)
	newDefaultMetaRequest(mr)

	mr.endpoint = c.acquireEndpointForHost(c.hostForBucket(input.Bucket))

	if err := c.submitMetaRequest(mr); err != nil {
		c.endpointOps.release(mr.endpoint)
		return nil, s3errors.NewObjectError(op, input.Bucket, input.Key, err)
	}
	return mr, nil
}
