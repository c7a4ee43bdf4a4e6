package s3xfer

import (
	"github.com/gabriel-vasile/mimetype"

	s3errors "github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/s3types"
)

// UploadFile submits a multi-part upload whose body comes from the client's
// filesystem. Content type is sniffed from the file's leading bytes when the
// input does not set one. The returned meta request owns the open file and
// closes it on finish.
func (c *Client) UploadFile(bucket, key, path string, opts ...func(*s3types.PutObjectInput)) (*MetaRequest, error) {
	const op = "uploadFile"

	info, err := c.filesystem.Stat(path)
	if err != nil {
		return nil, s3errors.NewObjectError(op, bucket, key, err)
	}
	if info.IsDir() {
		return nil, s3errors.NewObjectError(op, bucket, key, s3errors.ErrInvalidInput).
			WithMessage("path points to a directory, not a file")
	}

	input := &s3types.PutObjectInput{
		Bucket:        bucket,
		Key:           key,
		ContentLength: info.Size(),
	}
	for _, opt := range opts {
		opt(input)
	}

	if input.ContentType == "" {
		input.ContentType = c.detectContentType(path)
	}

	file, err := c.filesystem.Open(path)
	if err != nil {
		return nil, s3errors.NewObjectError(op, bucket, key, err)
	}
	input.Body = file

	// Close the file once the transfer terminates, chaining any finish
	// callback the caller installed.
	userFinish := input.Callbacks.OnFinish
	input.Callbacks.OnFinish = func(result s3types.FinishResult) {
		file.Close()
		if userFinish != nil {
			userFinish(result)
		}
	}

	mr, err := c.PutObject(input)
	if err != nil {
		file.Close()
		return nil, err
	}
	return mr, nil
}

// detectContentType sniffs the file's leading bytes, falling back to the
// generic binary type when the file cannot be read.
func (c *Client) detectContentType(path string) string {
	const fallback = "application/octet-stream"

	file, err := c.filesystem.Open(path)
	if err != nil {
		return fallback
	}
	defer file.Close()

	buf := make([]byte, 512)
	n, _ := file.Read(buf)
	if n == 0 {
		return fallback
	}
	if mt := mimetype.Detect(buf[:n]); mt != nil {
		return mt.String()
	}
	return fallback
}
