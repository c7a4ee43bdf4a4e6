package s3xfer

import (
	"strings"
	"testing"

	"github.com/input-output-hk/catalyst-forge-libs/fs/billy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3errors "github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/testutil"
)

func TestUploadFile(t *testing.T) {
	memfs := billy.NewInMemoryFS()
	content := []byte("<?xml version=\"1.0\"?><doc>" + strings.Repeat("x", 6*mib) + "</doc>")
	require.NoError(t, memfs.WriteFile("/data/report.xml", content, 0o644))

	fake := testutil.NewFakeS3()
	c := newTestClient(t, fake, WithFilesystem(memfs))

	mr, err := c.UploadFile("bucket", "reports/report.xml", "/data/report.xml")
	require.NoError(t, err)
	require.NoError(t, waitDone(t, mr).Err)

	parts := fake.RequestsByOperation("UploadPart")
	require.Len(t, parts, 1)
	assert.Equal(t, content, parts[0].Body)

	// Content type was sniffed from the file's leading bytes and sent on the
	// create request.
	creates := fake.RequestsByOperation("CreateMultipartUpload")
	require.Len(t, creates, 1)
	assert.Contains(t, creates[0].Header.Get("Content-Type"), "xml")
}

func TestUploadFile_MissingFile(t *testing.T) {
	fake := testutil.NewFakeS3()
	c := newTestClient(t, fake, WithFilesystem(billy.NewInMemoryFS()))

	_, err := c.UploadFile("bucket", "key", "/missing")
	require.Error(t, err)
}

func TestUploadFile_DirectoryRejected(t *testing.T) {
	memfs := billy.NewInMemoryFS()
	require.NoError(t, memfs.MkdirAll("/data", 0o755))
	require.NoError(t, memfs.WriteFile("/data/x", []byte("x"), 0o644))

	fake := testutil.NewFakeS3()
	c := newTestClient(t, fake, WithFilesystem(memfs))

	_, err := c.UploadFile("bucket", "key", "/data")
	assert.ErrorIs(t, err, s3errors.ErrInvalidInput)
}
