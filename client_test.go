package s3xfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3errors "github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/signing"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/s3types"
)

const mib = 1024 * 1024

// staticResolver is the DNS collaborator test double.
type staticResolver struct {
	count int
}

func (r staticResolver) GetHostAddressCount(context.Context, string) (int, error) {
	return r.count, nil
}

// newTestClient builds a client wired to the in-memory endpoint fake.
func newTestClient(t *testing.T, fake *testutil.FakeS3, opts ...s3types.Option) *Client {
	t.Helper()

	base := []s3types.Option{
		WithEndpoint("http://s3.test.local:9000"),
		WithRegion("us-east-1"),
		WithStaticCredentials("AKID", "SECRET", ""),
		WithThroughputTarget(4.0),
	}
	c, err := New(append(base, opts...)...)
	require.NoError(t, err)

	c.connManagerFactory = fake.ManagerFactory()
	c.signer = signing.Anonymous{}
	c.hostResolver = staticResolver{count: 4}

	t.Cleanup(func() { c.Close() })
	return c
}

// waitDone blocks until the meta request terminates.
func waitDone(t *testing.T, mr *MetaRequest) s3types.FinishResult {
	t.Helper()
	select {
	case <-mr.Done():
		return mr.Result()
	case <-time.After(30 * time.Second):
		t.Fatal("meta request did not finish")
		return s3types.FinishResult{}
	}
}

// patternBody produces deterministic pseudo-content of the given size.
func patternBody(n int) []byte {
	body := make([]byte, n)
	for i := range body {
		body[i] = byte(i*31 + 7)
	}
	return body
}

func TestNew_ValidatesConfiguration(t *testing.T) {
	_, err := New(WithStaticCredentials("a", "b", ""), WithPartSize(1024))
	assert.ErrorIs(t, err, s3errors.ErrInvalidInput)

	_, err = New(WithStaticCredentials("a", "b", ""), WithPartSize(8*mib), WithMaxPartSize(6*mib))
	assert.ErrorIs(t, err, s3errors.ErrInvalidInput)
}

func TestNew_AdmissionCeilings(t *testing.T) {
	fake := testutil.NewFakeS3()

	// 4 Gbps target over 4 Gbps per VIP -> one VIP, ten connections.
	c := newTestClient(t, fake)
	assert.Equal(t, 1, c.idealVIPCount)
	assert.Equal(t, 10, c.maxRequestsInFlight())
	assert.Equal(t, 20, c.maxRequestsPrepare())

	fake2 := testutil.NewFakeS3()
	capped := newTestClient(t, fake2, WithMaxActiveConnections(3))
	assert.Equal(t, 3, capped.maxRequestsInFlight())
}

func TestClient_CloseIsIdempotentAndRejectsNewWork(t *testing.T) {
	fake := testutil.NewFakeS3()
	c := newTestClient(t, fake)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.GetObject(&s3types.GetObjectInput{Bucket: "bucket", Key: "key"})
	assert.ErrorIs(t, err, s3errors.ErrClientShutdown)
}

func TestClient_EndpointSharedAcrossMetaRequests(t *testing.T) {
	fake := testutil.NewFakeS3()
	fake.PutObjectBody("/bucket/key-a", []byte("aaa"))
	fake.PutObjectBody("/bucket/key-b", []byte("bbb"))

	c := newTestClient(t, fake)

	var wg sync.WaitGroup
	for _, key := range []string{"key-a", "key-b"} {
		mr, err := c.GetObject(&s3types.GetObjectInput{Bucket: "bucket", Key: key})
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-mr.Done()
		}()
	}

	c.synced.mu.Lock()
	endpointCount := len(c.synced.endpoints)
	c.synced.mu.Unlock()
	assert.Equal(t, 1, endpointCount, "requests to one host share one endpoint")

	wg.Wait()
	require.NoError(t, c.Close())

	c.synced.mu.Lock()
	defer c.synced.mu.Unlock()
	assert.Empty(t, c.synced.endpoints, "endpoint table must drain on shutdown")
	assert.Zero(t, c.synced.numEndpointsAllocated)
}

// countingEndpointSystem interposes on endpoint ref-counting, the way the
// production code allows test doubles in place of the default.
type countingEndpointSystem struct {
	inner    endpointSystem
	mu       sync.Mutex
	acquires int
	releases int
}

func (s *countingEndpointSystem) acquire(ep *Endpoint, alreadyHoldingLock bool) *Endpoint {
	s.mu.Lock()
	s.acquires++
	s.mu.Unlock()
	return s.inner.acquire(ep, alreadyHoldingLock)
}

func (s *countingEndpointSystem) release(ep *Endpoint) {
	s.mu.Lock()
	s.releases++
	s.mu.Unlock()
	s.inner.release(ep)
}

func TestClient_EndpointRefCountsBalance(t *testing.T) {
	fake := testutil.NewFakeS3()
	fake.PutObjectBody("/bucket/key", []byte("payload"))

	c := newTestClient(t, fake)
	counter := &countingEndpointSystem{inner: defaultEndpointSystem{}}
	c.endpointOps = counter

	mr, err := c.GetObject(&s3types.GetObjectInput{Bucket: "bucket", Key: "key"})
	require.NoError(t, err)
	waitDone(t, mr)
	require.NoError(t, c.Close())

	counter.mu.Lock()
	defer counter.mu.Unlock()
	assert.Equal(t, counter.acquires, counter.releases, "every endpoint acquire must pair with a release")
	assert.Positive(t, counter.acquires)
}
