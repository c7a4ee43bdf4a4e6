// Package s3xfer is a high-throughput object-storage transfer client.
//
// The client saturates high-bandwidth links by decomposing a logical upload
// (a "meta request") into many concurrent HTTP requests over pooled
// per-endpoint connections. GetObject downloads go out as a single request
// whose body is delivered to the caller in order. Uploads are resumable: Pause captures an opaque JSON token that a
// later PutObject call can resume from, re-verifying already-uploaded parts
// against the body stream by checksum.
//
// Construction follows the functional options pattern:
//
//	client, err := s3xfer.New(
//	    s3xfer.WithRegion("us-west-2"),
//	    s3xfer.WithThroughputTarget(25.0),
//	    s3xfer.WithChecksumAlgorithm(s3types.ChecksumAlgorithmCRC32C),
//	)
//
// Transfers are asynchronous; PutObject and GetObject return a MetaRequest
// handle whose Done channel closes on completion:
//
//	mr, err := client.PutObject(&s3types.PutObjectInput{
//	    Bucket:        "my-bucket",
//	    Key:           "big-object",
//	    Body:          reader,
//	    ContentLength: size,
//	})
//	<-mr.Done()
//	err = mr.Err()
//
// The HTTP connection layer, request signer, retry strategy, and DNS
// resolver are collaborators behind interfaces with production defaults
// (net/http, SigV4 via the AWS SDK, capped exponential backoff, net
// resolver).
package s3xfer
