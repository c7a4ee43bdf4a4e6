package s3xfer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/input-output-hk/catalyst-forge-libs/fs"
	"github.com/input-output-hk/catalyst-forge-libs/fs/billy"
	"github.com/sirupsen/logrus"

	s3errors "github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/httpio"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/metrics"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/pool"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/signing"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/s3types"
)

// Transfer sizing and admission constants.
const (
	// DefaultPartSize is the upload part size when none is configured.
	DefaultPartSize = 8 * 1024 * 1024

	// MinPartSize is the smallest part the multipart protocol accepts.
	MinPartSize = 5 * 1024 * 1024

	// DefaultMaxPartSize caps part growth for very large objects.
	DefaultMaxPartSize = 5 * 1024 * 1024 * 1024

	// MaxUploadParts is the protocol's part-count ceiling.
	MaxUploadParts = 10000

	// throughputPerVIPGbps is the assumed capacity of one VIP.
	throughputPerVIPGbps = 4.0

	// defaultThroughputTargetGbps is the target when none is configured.
	defaultThroughputTargetGbps = 10.0

	// maxConnsPerVIP caps connections spawned against one VIP.
	maxConnsPerVIP = 10
)

// connsPerVIPByType is the per-meta-request-type connection allowance per
// VIP.
var connsPerVIPByType = [s3types.MetaRequestTypeMax]int{
	s3types.MetaRequestTypeDefault:   maxConnsPerVIP,
	s3types.MetaRequestTypeGetObject: maxConnsPerVIP,
	s3types.MetaRequestTypePutObject: maxConnsPerVIP,
}

// Client is the process-wide transfer engine: it owns the endpoint table,
// the process-work scheduler, the preparer, and the body-streaming pool, and
// drives every meta request through the update -> prepare -> send -> finish
// pipeline.
//
// All configuration fields are immutable after New. Mutable state lives in
// exactly two places: synced (guarded by its mutex) and threaded (owned by
// the scheduler goroutine).
type Client struct {
	cfg s3types.ClientConfig

	scheme        string
	endpointHost  string
	idealVIPCount int

	signer             signing.Signer
	retryStrategy      retry.Strategy
	connManagerFactory httpio.ManagerFactory
	hostResolver       HostResolver
	endpointOps        endpointSystem

	filesystem  fs.Filesystem
	log         logrus.FieldLogger
	metrics     *metrics.Metrics
	partBuffers *pool.PartBufferPool

	bodyStreaming *bodyStreamPool

	// workSignal wakes the scheduler goroutine; capacity one, a set flag.
	workSignal chan struct{}

	// prepareCh feeds the single preparer goroutine; body-stream reads stay
	// strictly serial because only the preparer touches them.
	prepareCh chan *request

	shutdownDone chan struct{}

	stats struct {
		numRequestsInFlight  atomic.Int64
		numRequestsNetworkIO [s3types.MetaRequestTypeMax]atomic.Int64
	}

	synced struct {
		mu sync.Mutex

		endpoints map[string]*Endpoint

		// pendingMetaRequestWork holds meta requests submitted but not yet
		// adopted by the scheduler.
		pendingMetaRequestWork []*MetaRequest

		// preparedRequests holds requests whose preparation finished (with
		// prepareErr set on failure), awaiting the scheduler drain.
		preparedRequests []*request

		// retryReadyRequests holds requests whose backoff elapsed.
		retryReadyRequests []*request

		processWorkScheduled bool

		active                bool
		startDestroyExecuting bool
		finishDestroy         bool
		bodyStreamingActive   bool

		numEndpointsAllocated    int
		numFailedPrepareRequests int
	}

	// threaded is accessed only from the scheduler goroutine.
	threaded struct {
		requestQueue []*request
		metaRequests []*MetaRequest

		requestQueueSize         int
		numRequestsBeingPrepared int
	}
}

// New creates a Client and starts its scheduling goroutines.
func New(opts ...s3types.Option) (*Client, error) {
	cfg := s3types.ClientConfig{
		Region:               "us-east-1",
		ThroughputTargetGbps: defaultThroughputTargetGbps,
		PartSize:             DefaultPartSize,
		MaxPartSize:          DefaultMaxPartSize,
		MaxRetries:           5,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.PartSize < MinPartSize {
		return nil, s3errors.NewError("new", s3errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("part size %d is below the %d minimum", cfg.PartSize, MinPartSize))
	}
	if cfg.MaxPartSize < cfg.PartSize {
		return nil, s3errors.NewError("new", s3errors.ErrInvalidInput).
			WithMessage("max part size is below part size")
	}
	if cfg.ThroughputTargetGbps <= 0 {
		return nil, s3errors.NewError("new", s3errors.ErrInvalidInput).
			WithMessage("throughput target must be positive")
	}

	c := &Client{
		cfg:           cfg,
		scheme:        "https",
		idealVIPCount: int(math.Ceil(cfg.ThroughputTargetGbps / throughputPerVIPGbps)),
		hostResolver:  netHostResolver{},
		endpointOps:   defaultEndpointSystem{},
		workSignal:    make(chan struct{}, 1),
		shutdownDone:  make(chan struct{}),
		partBuffers:   pool.NewPartBufferPool(cfg.PartSize),
	}

	if cfg.Endpoint != "" {
		scheme, host, err := splitEndpoint(cfg.Endpoint)
		if err != nil {
			return nil, s3errors.NewError("new", err)
		}
		c.scheme = scheme
		c.endpointHost = host
	}

	c.log = cfg.Logger
	if c.log == nil {
		c.log = logrus.New()
	}

	c.metrics = metrics.New(cfg.MetricsRegisterer)

	c.filesystem = cfg.Filesystem
	if c.filesystem == nil {
		c.filesystem = billy.NewOSFS("/")
	}

	signer, err := resolveSigner(&cfg)
	if err != nil {
		return nil, err
	}
	c.signer = signer

	c.retryStrategy = retry.NewStandard(cfg.MaxRetries)
	c.connManagerFactory = httpio.NewManager

	// Sized for the prepare window plus retries re-entering preparation.
	c.prepareCh = make(chan *request, c.maxRequestsPrepare()+c.maxRequestsInFlight())
	c.bodyStreaming = newBodyStreamPool(2)

	c.synced.endpoints = make(map[string]*Endpoint)
	c.synced.active = true
	c.synced.bodyStreamingActive = true

	go c.processWorkLoop()
	go c.prepareLoop()

	c.log.WithFields(logrus.Fields{
		"region":    cfg.Region,
		"vip_count": c.idealVIPCount,
		"part_size": cfg.PartSize,
	}).Debug("created transfer client")

	return c, nil
}

// resolveSigner builds the signing collaborator from the configuration.
func resolveSigner(cfg *s3types.ClientConfig) (signing.Signer, error) {
	if cfg.StaticCredentials != nil {
		provider := credentials.NewStaticCredentialsProvider(
			cfg.StaticCredentials.AccessKeyID,
			cfg.StaticCredentials.SecretAccessKey,
			cfg.StaticCredentials.SessionToken,
		)
		return signing.NewSigV4(provider, cfg.Region), nil
	}
	if cfg.CustomAWSConfig != nil {
		region := cfg.CustomAWSConfig.Region
		if region == "" {
			region = cfg.Region
		}
		return signing.NewSigV4(cfg.CustomAWSConfig.Credentials, region), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, s3errors.NewError("new", err).WithMessage("load AWS configuration")
	}
	return signing.NewSigV4(awsCfg.Credentials, cfg.Region), nil
}

// splitEndpoint separates an endpoint URL into scheme and host.
func splitEndpoint(endpoint string) (scheme, host string, err error) {
	switch {
	case len(endpoint) > 8 && endpoint[:8] == "https://":
		return "https", endpoint[8:], nil
	case len(endpoint) > 7 && endpoint[:7] == "http://":
		return "http", endpoint[7:], nil
	default:
		return "https", endpoint, nil
	}
}

// hostForBucket derives the endpoint host for a bucket: the configured
// endpoint when set, otherwise the bucket's virtual-host name.
func (c *Client) hostForBucket(bucket string) string {
	if c.endpointHost != "" {
		return c.endpointHost
	}
	if c.cfg.UsePathStyle {
		return fmt.Sprintf("s3.%s.amazonaws.com", c.cfg.Region)
	}
	return fmt.Sprintf("%s.s3.%s.amazonaws.com", bucket, c.cfg.Region)
}

// pathForObject derives the request path for an object under the client's
// addressing style.
func (c *Client) pathForObject(bucket, key string) string {
	if c.endpointHost != "" || c.cfg.UsePathStyle {
		return "/" + bucket + "/" + key
	}
	return "/" + key
}

// getMaxActiveConnections is the admission ceiling for one meta request: the
// effective VIP count times the per-type connection allowance, clamped by the
// configured hard override.
func (c *Client) getMaxActiveConnections(mr *MetaRequest) int {
	vips := c.idealVIPCount
	if mr != nil && mr.endpoint != nil && mr.endpoint.addressCount > 0 && mr.endpoint.addressCount < vips {
		vips = mr.endpoint.addressCount
	}
	if vips < 1 {
		vips = 1
	}

	typ := s3types.MetaRequestTypeDefault
	if mr != nil {
		typ = mr.typ
	}
	conns := vips * connsPerVIPByType[typ]

	if c.cfg.MaxActiveConnectionsOverride > 0 && conns > c.cfg.MaxActiveConnectionsOverride {
		conns = c.cfg.MaxActiveConnectionsOverride
	}
	if conns < 1 {
		conns = 1
	}
	return conns
}

// maxRequestsInFlight bounds the total number of live request artifacts.
func (c *Client) maxRequestsInFlight() int {
	conns := c.idealVIPCount * maxConnsPerVIP
	if c.cfg.MaxActiveConnectionsOverride > 0 && conns > c.cfg.MaxActiveConnectionsOverride {
		conns = c.cfg.MaxActiveConnectionsOverride
	}
	if conns < 1 {
		conns = 1
	}
	return conns
}

// maxRequestsPrepare lets preparation overlap network I/O.
func (c *Client) maxRequestsPrepare() int {
	return 2 * c.maxRequestsInFlight()
}

// networkIOTotal sums on-the-wire requests across meta request types.
func (c *Client) networkIOTotal() int {
	total := int64(0)
	for i := range c.stats.numRequestsNetworkIO {
		total += c.stats.numRequestsNetworkIO[i].Load()
	}
	return int(total)
}

// submitMetaRequest hands a constructed meta request to the scheduler.
func (c *Client) submitMetaRequest(mr *MetaRequest) error {
	c.synced.mu.Lock()
	if !c.synced.active {
		c.synced.mu.Unlock()
		return s3errors.ErrClientShutdown
	}
	c.synced.pendingMetaRequestWork = append(c.synced.pendingMetaRequestWork, mr)
	c.scheduleProcessWorkSynced()
	c.synced.mu.Unlock()
	return nil
}

// Close stops accepting meta requests, lets outstanding ones run to
// completion, tears down endpoints and worker goroutines, then returns.
func (c *Client) Close() error {
	c.synced.mu.Lock()
	if c.synced.startDestroyExecuting {
		c.synced.mu.Unlock()
		<-c.shutdownDone
		return nil
	}
	c.synced.startDestroyExecuting = true
	c.synced.active = false
	c.scheduleProcessWorkSynced()
	c.synced.mu.Unlock()

	<-c.shutdownDone
	return nil
}
