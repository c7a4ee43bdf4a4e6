package s3xfer

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3errors "github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/checksum"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/s3types"
)

// headerRecorder captures the final headers callback.
type headerRecorder struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	called  bool
}

func (h *headerRecorder) callback() func(int, http.Header) {
	return func(status int, headers http.Header) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.called = true
		h.status = status
		h.headers = headers
	}
}

func putInput(body []byte, callbacks s3types.MetaRequestCallbacks) *s3types.PutObjectInput {
	return &s3types.PutObjectInput{
		Bucket:        "bucket",
		Key:           "big-object",
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
		Callbacks:     callbacks,
	}
}

func TestPutObject_Fresh25MiB(t *testing.T) {
	fake := testutil.NewFakeS3()
	c := newTestClient(t, fake)

	body := patternBody(25 * mib)
	headers := &headerRecorder{}

	mr, err := c.PutObject(putInput(body, s3types.MetaRequestCallbacks{OnHeaders: headers.callback()}))
	require.NoError(t, err)

	result := waitDone(t, mr)
	require.NoError(t, result.Err)

	// 25 MiB over 8 MiB parts: three full parts and a 1 MiB tail.
	parts := fake.RequestsByOperation("UploadPart")
	require.Len(t, parts, 4)

	sizes := map[int]int{}
	for _, p := range parts {
		n, err := strconv.Atoi(p.Query.Get("partNumber"))
		require.NoError(t, err)
		sizes[n] = len(p.Body)

		offset := (n - 1) * 8 * mib
		end := offset + len(p.Body)
		assert.Equal(t, body[offset:end], p.Body, "part %d body must match its slice of the stream", n)
	}
	assert.Equal(t, map[int]int{1: 8 * mib, 2: 8 * mib, 3: 8 * mib, 4: 1 * mib}, sizes)

	// The complete body lists parts 1..4 in order.
	completes := fake.RequestsByOperation("CompleteMultipartUpload")
	require.Len(t, completes, 1)
	completeBody := string(completes[0].Body)
	for n := 1; n <= 4; n++ {
		assert.Contains(t, completeBody, fmt.Sprintf("<PartNumber>%d</PartNumber>", n))
		assert.Contains(t, completeBody, fmt.Sprintf("<ETag>etag-part-%d</ETag>", n))
	}

	upload := fake.Upload("upload-1")
	require.NotNil(t, upload)
	assert.True(t, upload.Completed)
	assert.False(t, upload.Aborted)

	// Final headers carry the object ETag from the XML body, entity-decoded
	// back to literal quotes.
	headers.mu.Lock()
	defer headers.mu.Unlock()
	require.True(t, headers.called)
	assert.Equal(t, `"`+testutil.FinalETag("upload-1", 4)+`"`, headers.headers.Get("ETag"))

	// Invariants hold at rest.
	p := mr.variant.(*autoRangedPut)
	assert.Equal(t, 4, p.synced.totalNumParts)
	assert.Equal(t, 4, p.synced.numPartsSent)
	assert.Equal(t, 4, p.synced.numPartsCompleted)
	assert.Equal(t, p.synced.numPartsCompleted, p.synced.numPartsSuccessful+p.synced.numPartsFailed)
	for i, etag := range p.synced.etagList {
		assert.NotEmpty(t, etag, "etag for part %d must be recorded", i+1)
	}
}

func TestPutObject_ChecksumsFlowIntoCompleteBody(t *testing.T) {
	fake := testutil.NewFakeS3()
	c := newTestClient(t, fake, WithChecksumAlgorithm(s3types.ChecksumAlgorithmCRC32C))

	body := patternBody(9 * mib)
	mr, err := c.PutObject(putInput(body, s3types.MetaRequestCallbacks{}))
	require.NoError(t, err)
	require.NoError(t, waitDone(t, mr).Err)

	parts := fake.RequestsByOperation("UploadPart")
	require.Len(t, parts, 2)
	for _, p := range parts {
		n, _ := strconv.Atoi(p.Query.Get("partNumber"))
		want, err := checksum.Compute(s3types.ChecksumAlgorithmCRC32C, p.Body)
		require.NoError(t, err)
		assert.Equal(t, want, p.Header.Get("x-amz-checksum-crc32c"), "part %d checksum header", n)
	}

	completes := fake.RequestsByOperation("CompleteMultipartUpload")
	require.Len(t, completes, 1)
	assert.Contains(t, string(completes[0].Body), "<ChecksumCRC32C>")

	creates := fake.RequestsByOperation("CreateMultipartUpload")
	require.Len(t, creates, 1)
	assert.Equal(t, "CRC32C", creates[0].Header.Get("x-amz-checksum-algorithm"))
}

func TestPutObject_SSECHeadersEchoedIntoFinalHeaders(t *testing.T) {
	fake := testutil.NewFakeS3()
	fake.CreateMPUHeaders = http.Header{}
	fake.CreateMPUHeaders.Set("x-amz-server-side-encryption-customer-algorithm", "AES256")
	fake.CreateMPUHeaders.Set("x-amz-server-side-encryption-customer-key-MD5", "md5md5")

	c := newTestClient(t, fake)

	headers := &headerRecorder{}
	input := putInput(patternBody(6*mib), s3types.MetaRequestCallbacks{OnHeaders: headers.callback()})
	input.SSEC = &s3types.SSECConfig{Algorithm: "AES256", KeyMD5: "md5md5"}

	mr, err := c.PutObject(input)
	require.NoError(t, err)
	require.NoError(t, waitDone(t, mr).Err)

	headers.mu.Lock()
	defer headers.mu.Unlock()
	require.True(t, headers.called)
	assert.Equal(t, "AES256", headers.headers.Get("x-amz-server-side-encryption-customer-algorithm"))
	assert.Equal(t, "md5md5", headers.headers.Get("x-amz-server-side-encryption-customer-key-MD5"))
}

func TestPutObject_Resume(t *testing.T) {
	fake := testutil.NewFakeS3()
	c := newTestClient(t, fake, WithChecksumAlgorithm(s3types.ChecksumAlgorithmCRC32C))

	body := patternBody(25 * mib)

	cs1, err := checksum.Compute(s3types.ChecksumAlgorithmCRC32C, body[:8*mib])
	require.NoError(t, err)
	cs2, err := checksum.Compute(s3types.ChecksumAlgorithmCRC32C, body[8*mib:16*mib])
	require.NoError(t, err)

	fake.SeedUpload("abc", map[int]testutil.PartRecord{
		1: {ETag: "e1", Body: body[:8*mib], Checksum: cs1},
		2: {ETag: "e2", Body: body[8*mib : 16*mib], Checksum: cs2},
	})
	fake.MaxPartsPerListPage = 1 // force ListParts pagination

	input := putInput(body, s3types.MetaRequestCallbacks{})
	input.ResumeToken = `{"type":"AWS_S3_META_REQUEST_TYPE_PUT_OBJECT","multipart_upload_id":"abc","partition_size":8388608,"total_num_parts":4}`

	mr, err := c.PutObject(input)
	require.NoError(t, err)
	require.NoError(t, waitDone(t, mr).Err)

	// Pagination: two one-part pages, the second one not truncated.
	lists := fake.RequestsByOperation("ListParts")
	assert.GreaterOrEqual(t, len(lists), 2)

	// Only the missing parts hit the wire.
	parts := fake.RequestsByOperation("UploadPart")
	require.Len(t, parts, 2)
	uploaded := map[string]bool{}
	for _, p := range parts {
		uploaded[p.Query.Get("partNumber")] = true
	}
	assert.Equal(t, map[string]bool{"3": true, "4": true}, uploaded)

	// The complete body interleaves resumed and fresh ETags 1..4.
	completes := fake.RequestsByOperation("CompleteMultipartUpload")
	require.Len(t, completes, 1)
	completeBody := string(completes[0].Body)
	for _, etag := range []string{"e1", "e2", "etag-part-3", "etag-part-4"} {
		assert.Contains(t, completeBody, "<ETag>"+etag+"</ETag>")
	}

	assert.True(t, fake.Upload("abc").Completed)
}

func TestPutObject_ResumeChecksumMismatch(t *testing.T) {
	fake := testutil.NewFakeS3()
	c := newTestClient(t, fake, WithChecksumAlgorithm(s3types.ChecksumAlgorithmCRC32C))

	body := patternBody(25 * mib)

	// Stored checksum was computed over different bytes than the stream now
	// provides.
	staleChecksum, err := checksum.Compute(s3types.ChecksumAlgorithmCRC32C, []byte("different bytes entirely"))
	require.NoError(t, err)
	fake.SeedUpload("abc", map[int]testutil.PartRecord{
		1: {ETag: "e1", Body: nil, Checksum: staleChecksum},
	})

	input := putInput(body, s3types.MetaRequestCallbacks{})
	input.ResumeToken = `{"type":"AWS_S3_META_REQUEST_TYPE_PUT_OBJECT","multipart_upload_id":"abc","partition_size":8388608,"total_num_parts":4}`

	mr, err := c.PutObject(input)
	require.NoError(t, err)

	result := waitDone(t, mr)
	assert.ErrorIs(t, result.Err, s3errors.ErrResumedPartChecksumMismatch)
	assert.ErrorIs(t, result.Err, s3errors.ErrResumeFailed)

	// Resume failures leave the server-side upload untouched.
	assert.Empty(t, fake.RequestsByOperation("AbortMultipartUpload"))
	assert.False(t, fake.Upload("abc").Aborted)
}

func TestPutObject_CreateFailureHasNoAbort(t *testing.T) {
	fake := testutil.NewFakeS3()
	fake.FailNext("CreateMultipartUpload", http.StatusInternalServerError, 10)

	c := newTestClient(t, fake, WithMaxRetries(2))

	mr, err := c.PutObject(putInput(patternBody(6*mib), s3types.MetaRequestCallbacks{}))
	require.NoError(t, err)

	result := waitDone(t, mr)
	require.Error(t, result.Err)

	var respErr *s3errors.ResponseError
	require.ErrorAs(t, result.Err, &respErr)
	assert.Equal(t, http.StatusInternalServerError, respErr.StatusCode)
	assert.Equal(t, "CreateMultipartUpload", result.FailedOperation)
	assert.Equal(t, http.StatusInternalServerError, result.ResponseStatus)

	// With no upload id there is nothing to abort.
	assert.Empty(t, fake.RequestsByOperation("AbortMultipartUpload"))
	assert.Empty(t, fake.RequestsByOperation("UploadPart"))

	// The retry strategy got its attempts in.
	assert.Len(t, fake.RequestsByOperation("CreateMultipartUpload"), 2)
}

func TestPutObject_TerminalPartFailureAborts(t *testing.T) {
	fake := testutil.NewFakeS3()
	fake.FailNext("UploadPart", http.StatusBadRequest, 1)

	c := newTestClient(t, fake)

	mr, err := c.PutObject(putInput(patternBody(25*mib), s3types.MetaRequestCallbacks{}))
	require.NoError(t, err)

	result := waitDone(t, mr)
	require.Error(t, result.Err)
	assert.Equal(t, "UploadPart", result.FailedOperation)

	// The failed upload is cleaned up server-side.
	require.Len(t, fake.RequestsByOperation("AbortMultipartUpload"), 1)
	assert.True(t, fake.Upload("upload-1").Aborted)
	assert.False(t, fake.Upload("upload-1").Completed)

	// Counter invariants hold even on the failure path.
	p := mr.variant.(*autoRangedPut)
	assert.Equal(t, p.synced.numPartsCompleted, p.synced.numPartsSuccessful+p.synced.numPartsFailed)
	assert.LessOrEqual(t, p.synced.numPartsCompleted, p.synced.numPartsSent)
	assert.LessOrEqual(t, p.synced.numPartsSent, p.synced.totalNumParts)
}

func TestPutObject_RetryableFailureRecovers(t *testing.T) {
	fake := testutil.NewFakeS3()
	fake.FailNext("UploadPart", http.StatusServiceUnavailable, 1)

	c := newTestClient(t, fake, WithMaxRetries(3))

	body := patternBody(25 * mib)
	mr, err := c.PutObject(putInput(body, s3types.MetaRequestCallbacks{}))
	require.NoError(t, err)
	require.NoError(t, waitDone(t, mr).Err)

	// Four parts, one of which took two attempts.
	parts := fake.RequestsByOperation("UploadPart")
	require.Len(t, parts, 5)

	// The retried attempt re-sent the same prepared body; the stream was not
	// re-read.
	attempts := map[string][]RecordedBody{}
	for _, p := range parts {
		n := p.Query.Get("partNumber")
		attempts[n] = append(attempts[n], RecordedBody(p.Body))
	}
	for n, bodies := range attempts {
		if len(bodies) == 2 {
			assert.Equal(t, bodies[0], bodies[1], "retried part %s must resend identical bytes", n)
		}
	}

	assert.True(t, fake.Upload("upload-1").Completed)
}

// RecordedBody aliases a byte slice for comparison readability.
type RecordedBody = []byte

// blockingReader reads from r until blockAfter bytes have passed, then
// blocks until unblock is closed.
type blockingReader struct {
	r          io.Reader
	blockAfter int64
	read       int64
	unblock    chan struct{}
}

func (b *blockingReader) Read(p []byte) (int, error) {
	if b.read >= b.blockAfter {
		<-b.unblock
	}
	n, err := b.r.Read(p)
	b.read += int64(n)
	return n, err
}

func TestPutObject_PauseProducesTokenAndSkipsAbort(t *testing.T) {
	fake := testutil.NewFakeS3()
	c := newTestClient(t, fake)

	body := patternBody(25 * mib)
	unblock := make(chan struct{})
	reader := &blockingReader{r: bytes.NewReader(body), blockAfter: 8 * mib, unblock: unblock}

	input := &s3types.PutObjectInput{
		Bucket:        "bucket",
		Key:           "big-object",
		Body:          reader,
		ContentLength: int64(len(body)),
	}

	mr, err := c.PutObject(input)
	require.NoError(t, err)

	// Wait until part 1 is on the server, which implies create completed.
	require.Eventually(t, func() bool {
		return len(fake.RequestsByOperation("UploadPart")) >= 1
	}, 10*time.Second, 5*time.Millisecond)

	token, err := mr.Pause()
	require.NoError(t, err)
	require.NotEmpty(t, token)

	parsed, err := s3types.ParseResumeToken(token)
	require.NoError(t, err)
	assert.Equal(t, s3types.ResumeTokenTypePutObject, parsed.Type)
	assert.Equal(t, "upload-1", parsed.MultipartUploadID)
	assert.Equal(t, int64(8*mib), parsed.PartitionSize)
	assert.Equal(t, 4, parsed.TotalNumParts)

	close(unblock)

	result := waitDone(t, mr)
	assert.ErrorIs(t, result.Err, s3errors.ErrPaused)

	// Pause must not abort the server-side upload.
	assert.Empty(t, fake.RequestsByOperation("AbortMultipartUpload"))
	assert.False(t, fake.Upload("upload-1").Aborted)

	// A later cancel is a no-op: the finish result is already recorded.
	mr.Cancel()
	assert.ErrorIs(t, mr.Err(), s3errors.ErrPaused)
}

func TestPutObject_PauseThenResumeCompletes(t *testing.T) {
	fake := testutil.NewFakeS3()
	c := newTestClient(t, fake)

	body := patternBody(25 * mib)

	// First attempt pauses after part 1.
	unblock := make(chan struct{})
	reader := &blockingReader{r: bytes.NewReader(body), blockAfter: 8 * mib, unblock: unblock}
	mr, err := c.PutObject(&s3types.PutObjectInput{
		Bucket: "bucket", Key: "big-object",
		Body: reader, ContentLength: int64(len(body)),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(fake.RequestsByOperation("UploadPart")) >= 1
	}, 10*time.Second, 5*time.Millisecond)

	token, err := mr.Pause()
	require.NoError(t, err)
	close(unblock)
	require.ErrorIs(t, waitDone(t, mr).Err, s3errors.ErrPaused)

	uploadedBefore := len(fake.Upload("upload-1").Parts)
	require.GreaterOrEqual(t, uploadedBefore, 1)

	// Second attempt resumes from the token with a fresh stream.
	resumed, err := c.PutObject(&s3types.PutObjectInput{
		Bucket: "bucket", Key: "big-object",
		Body: bytes.NewReader(body), ContentLength: int64(len(body)),
		ResumeToken: token,
	})
	require.NoError(t, err)
	require.NoError(t, waitDone(t, resumed).Err)

	upload := fake.Upload("upload-1")
	assert.True(t, upload.Completed)
	assert.Len(t, upload.Parts, 4)

	completes := fake.RequestsByOperation("CompleteMultipartUpload")
	require.Len(t, completes, 1)
	for n := 1; n <= 4; n++ {
		assert.Contains(t, string(completes[0].Body), fmt.Sprintf("<PartNumber>%d</PartNumber>", n))
	}
}

func TestPutObject_InvalidResumeTokens(t *testing.T) {
	fake := testutil.NewFakeS3()
	c := newTestClient(t, fake)

	body := patternBody(25 * mib)

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "wrong type",
			token: `{"type":"AWS_S3_META_REQUEST_TYPE_GET_OBJECT","multipart_upload_id":"abc","partition_size":8388608,"total_num_parts":4}`,
		},
		{
			name:  "partition size below minimum",
			token: `{"type":"AWS_S3_META_REQUEST_TYPE_PUT_OBJECT","multipart_upload_id":"abc","partition_size":1024,"total_num_parts":4}`,
		},
		{
			name:  "part count mismatch",
			token: `{"type":"AWS_S3_META_REQUEST_TYPE_PUT_OBJECT","multipart_upload_id":"abc","partition_size":8388608,"total_num_parts":7}`,
		},
		{
			name:  "garbage",
			token: `not json at all`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := putInput(body, s3types.MetaRequestCallbacks{})
			input.ResumeToken = tt.token
			_, err := c.PutObject(input)
			assert.ErrorIs(t, err, s3errors.ErrInvalidInput)
		})
	}
}

func TestPutObject_InputValidation(t *testing.T) {
	fake := testutil.NewFakeS3()
	c := newTestClient(t, fake)

	_, err := c.PutObject(&s3types.PutObjectInput{Bucket: "", Key: "k", Body: bytes.NewReader(nil), ContentLength: 1})
	assert.ErrorIs(t, err, s3errors.ErrInvalidInput)

	_, err = c.PutObject(&s3types.PutObjectInput{Bucket: "bucket", Key: "", Body: bytes.NewReader(nil), ContentLength: 1})
	assert.ErrorIs(t, err, s3errors.ErrInvalidInput)

	_, err = c.PutObject(&s3types.PutObjectInput{Bucket: "bucket", Key: "k", Body: nil, ContentLength: 1})
	assert.ErrorIs(t, err, s3errors.ErrInvalidInput)

	_, err = c.PutObject(&s3types.PutObjectInput{Bucket: "bucket", Key: "k", Body: bytes.NewReader(nil), ContentLength: 0})
	assert.ErrorIs(t, err, s3errors.ErrInvalidInput)
}

func TestPutObject_ProgressCallback(t *testing.T) {
	fake := testutil.NewFakeS3()
	c := newTestClient(t, fake)

	var mu sync.Mutex
	var transferred int64
	callbacks := s3types.MetaRequestCallbacks{
		OnProgress: func(p s3types.Progress) {
			mu.Lock()
			transferred += p.BytesTransferred
			mu.Unlock()
		},
	}

	body := patternBody(25 * mib)
	mr, err := c.PutObject(putInput(body, callbacks))
	require.NoError(t, err)
	require.NoError(t, waitDone(t, mr).Err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(len(body)), transferred)
}
