// Package checksum computes the flexible checksums and Content-MD5 digests
// attached to upload parts.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"hash/crc32"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/s3types"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// New returns a fresh hash for the given algorithm.
// Callers must not pass ChecksumAlgorithmNone.
func New(algorithm s3types.ChecksumAlgorithm) (hash.Hash, error) {
	switch algorithm {
	case s3types.ChecksumAlgorithmCRC32:
		return crc32.NewIEEE(), nil
	case s3types.ChecksumAlgorithmCRC32C:
		return crc32.New(castagnoli), nil
	case s3types.ChecksumAlgorithmSHA1:
		return sha1.New(), nil
	case s3types.ChecksumAlgorithmSHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("checksum: unsupported algorithm %v", algorithm)
	}
}

// Compute returns the base64-encoded checksum of data, matching the encoding
// S3 expects in x-amz-checksum-* headers and Complete-MPU XML elements.
func Compute(algorithm s3types.ChecksumAlgorithm, data []byte) (string, error) {
	h, err := New(algorithm)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// ComputeMD5 returns the base64-encoded MD5 digest of data for the
// Content-MD5 header.
func ComputeMD5(data []byte) string {
	sum := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HeaderName returns the x-amz-checksum-* request/response header name for
// the algorithm, or "" for none.
func HeaderName(algorithm s3types.ChecksumAlgorithm) string {
	switch algorithm {
	case s3types.ChecksumAlgorithmCRC32:
		return "x-amz-checksum-crc32"
	case s3types.ChecksumAlgorithmCRC32C:
		return "x-amz-checksum-crc32c"
	case s3types.ChecksumAlgorithmSHA1:
		return "x-amz-checksum-sha1"
	case s3types.ChecksumAlgorithmSHA256:
		return "x-amz-checksum-sha256"
	default:
		return ""
	}
}

// CreateMPUHeaderValue returns the x-amz-checksum-algorithm value sent on
// CreateMultipartUpload, e.g. "CRC32C". Empty for none.
func CreateMPUHeaderValue(algorithm s3types.ChecksumAlgorithm) string {
	if algorithm == s3types.ChecksumAlgorithmNone {
		return ""
	}
	return algorithm.String()
}
