package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/s3types"
)

func TestCompute_KnownVectors(t *testing.T) {
	payload := []byte("hello world")

	tests := []struct {
		name      string
		algorithm s3types.ChecksumAlgorithm
		want      string
	}{
		{name: "CRC32", algorithm: s3types.ChecksumAlgorithmCRC32, want: "DUoRhQ=="},
		{name: "CRC32C", algorithm: s3types.ChecksumAlgorithmCRC32C, want: "yZRlqg=="},
		{name: "SHA1", algorithm: s3types.ChecksumAlgorithmSHA1, want: "Kq5sNclPz7QV2+lfQIuc6R7oRu0="},
		{name: "SHA256", algorithm: s3types.ChecksumAlgorithmSHA256, want: "uU0nuZNNPgilLlLX2n2r+sSE7+N6U4DukIj3rOLvzek="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.algorithm, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompute_UnsupportedAlgorithm(t *testing.T) {
	_, err := Compute(s3types.ChecksumAlgorithmNone, []byte("x"))
	require.Error(t, err)
}

func TestComputeMD5(t *testing.T) {
	assert.Equal(t, "XrY7u+Ae7tCTyyK7j1rNww==", ComputeMD5([]byte("hello world")))
}

func TestHeaderName(t *testing.T) {
	assert.Equal(t, "x-amz-checksum-crc32c", HeaderName(s3types.ChecksumAlgorithmCRC32C))
	assert.Equal(t, "x-amz-checksum-sha256", HeaderName(s3types.ChecksumAlgorithmSHA256))
	assert.Empty(t, HeaderName(s3types.ChecksumAlgorithmNone))
}

func TestCreateMPUHeaderValue(t *testing.T) {
	assert.Equal(t, "CRC32C", CreateMPUHeaderValue(s3types.ChecksumAlgorithmCRC32C))
	assert.Empty(t, CreateMPUHeaderValue(s3types.ChecksumAlgorithmNone))
}
