// Functional options for configuring Client behavior.
package s3xfer

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/input-output-hk/catalyst-forge-libs/fs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/s3types"
)

// WithRegion sets the signing region. Defaults to "us-east-1".
func WithRegion(region string) s3types.Option {
	return func(c *s3types.ClientConfig) {
		c.Region = region
	}
}

// WithEndpoint targets an S3-compatible service instead of the derived AWS
// endpoint. The host may carry an http:// or https:// scheme prefix; requests
// use path-style addressing.
func WithEndpoint(endpoint string) s3types.Option {
	return func(c *s3types.ClientConfig) {
		c.Endpoint = endpoint
	}
}

// WithPathStyle forces path-style addressing even against AWS endpoints.
func WithPathStyle() s3types.Option {
	return func(c *s3types.ClientConfig) {
		c.UsePathStyle = true
	}
}

// WithThroughputTarget sets the aggregate throughput, in gigabits per
// second, the client sizes its connection pools to saturate. Default 10.
func WithThroughputTarget(gbps float64) s3types.Option {
	return func(c *s3types.ClientConfig) {
		if gbps > 0 {
			c.ThroughputTargetGbps = gbps
		}
	}
}

// WithPartSize sets the multipart part size. Must be at least 5 MiB.
// Default is 8 MiB.
func WithPartSize(partSize int64) s3types.Option {
	return func(c *s3types.ClientConfig) {
		if partSize > 0 {
			c.PartSize = partSize
		}
	}
}

// WithMaxPartSize caps how far the part size may grow for objects whose
// length would otherwise exceed the protocol's part-count ceiling.
func WithMaxPartSize(maxPartSize int64) s3types.Option {
	return func(c *s3types.ClientConfig) {
		if maxPartSize > 0 {
			c.MaxPartSize = maxPartSize
		}
	}
}

// WithMaxActiveConnections hard-caps the per-meta-request connection
// ceiling, overriding the throughput-derived value.
func WithMaxActiveConnections(limit int) s3types.Option {
	return func(c *s3types.ClientConfig) {
		if limit > 0 {
			c.MaxActiveConnectionsOverride = limit
		}
	}
}

// WithComputeContentMD5 adds per-part Content-MD5 headers to uploads. MD5 is
// skipped for parts carrying a flexible checksum.
func WithComputeContentMD5() s3types.Option {
	return func(c *s3types.ClientConfig) {
		c.ComputeContentMD5 = true
	}
}

// WithChecksumAlgorithm selects the default flexible checksum for uploads.
func WithChecksumAlgorithm(algorithm s3types.ChecksumAlgorithm) s3types.Option {
	return func(c *s3types.ClientConfig) {
		c.ChecksumAlgorithm = algorithm
	}
}

// WithReadBackpressure enables the flow-control window for body delivery.
// Delivery stalls once initialWindow bytes are outstanding until the caller
// grows the window with MetaRequest.IncrementReadWindow.
func WithReadBackpressure(initialWindow int64) s3types.Option {
	return func(c *s3types.ClientConfig) {
		c.EnableReadBackpressure = true
		c.InitialReadWindow = initialWindow
	}
}

// WithMaxRetries sets the attempt ceiling for the default retry strategy.
// Default is 5 attempts.
func WithMaxRetries(maxRetries int) s3types.Option {
	return func(c *s3types.ClientConfig) {
		if maxRetries > 0 {
			c.MaxRetries = maxRetries
		}
	}
}

// WithConnectTimeout bounds TCP connection establishment.
func WithConnectTimeout(timeout time.Duration) s3types.Option {
	return func(c *s3types.ClientConfig) {
		c.ConnectTimeout = timeout
	}
}

// WithProxyFromEnvironment reads proxy configuration from the process
// environment for all endpoint connections.
func WithProxyFromEnvironment() s3types.Option {
	return func(c *s3types.ClientConfig) {
		c.ProxyFromEnvironment = true
	}
}

// WithAWSConfig supplies credentials and region from a pre-built AWS
// configuration instead of the default credential chain.
func WithAWSConfig(config *aws.Config) s3types.Option {
	return func(c *s3types.ClientConfig) {
		c.CustomAWSConfig = config
	}
}

// WithStaticCredentials signs requests with a fixed credential triple.
func WithStaticCredentials(accessKeyID, secretAccessKey, sessionToken string) s3types.Option {
	return func(c *s3types.ClientConfig) {
		c.StaticCredentials = &s3types.StaticCredentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			SessionToken:    sessionToken,
		}
	}
}

// WithFilesystem backs UploadFile with the given filesystem abstraction.
// Defaults to the OS filesystem.
func WithFilesystem(filesystem fs.Filesystem) s3types.Option {
	return func(c *s3types.ClientConfig) {
		c.Filesystem = filesystem
	}
}

// WithLogger injects a structured logger for client diagnostics.
func WithLogger(logger logrus.FieldLogger) s3types.Option {
	return func(c *s3types.ClientConfig) {
		c.Logger = logger
	}
}

// WithMetricsRegisterer registers the client's Prometheus collectors.
func WithMetricsRegisterer(reg prometheus.Registerer) s3types.Option {
	return func(c *s3types.ClientConfig) {
		c.MetricsRegisterer = reg
	}
}
