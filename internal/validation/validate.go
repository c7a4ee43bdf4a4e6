// Package validation provides input validation for bucket names, object
// keys, and user metadata before anything reaches the wire.
package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/errors"
)

// ValidateBucketName validates that a bucket name is DNS-compliant according
// to S3 rules.
func ValidateBucketName(bucket string) error {
	if bucket == "" {
		return errors.NewError("validateBucketName", errors.ErrInvalidInput).
			WithMessage("bucket name cannot be empty")
	}
	if len(bucket) < 3 || len(bucket) > 63 {
		return errors.NewError("validateBucketName", errors.ErrInvalidInput).
			WithBucket(bucket).
			WithMessage("bucket name must be between 3 and 63 characters long")
	}
	for _, r := range bucket {
		if !unicode.IsLower(r) && !unicode.IsDigit(r) && r != '-' && r != '.' {
			return errors.NewError("validateBucketName", errors.ErrInvalidInput).
				WithBucket(bucket).
				WithMessage(fmt.Sprintf("bucket name contains invalid character %q", r))
		}
	}
	if strings.HasPrefix(bucket, "-") || strings.HasSuffix(bucket, "-") ||
		strings.HasPrefix(bucket, ".") || strings.HasSuffix(bucket, ".") {
		return errors.NewError("validateBucketName", errors.ErrInvalidInput).
			WithBucket(bucket).
			WithMessage("bucket name cannot begin or end with a hyphen or dot")
	}
	if strings.Contains(bucket, "..") {
		return errors.NewError("validateBucketName", errors.ErrInvalidInput).
			WithBucket(bucket).
			WithMessage("bucket name cannot contain consecutive dots")
	}
	return nil
}

// ValidateObjectKey validates an object key: non-empty, within the protocol
// length limit, free of control characters and path traversal sequences.
func ValidateObjectKey(key string) error {
	if key == "" {
		return errors.NewError("validateObjectKey", errors.ErrInvalidInput).
			WithMessage("object key cannot be empty")
	}
	if len(key) > 1024 {
		return errors.NewError("validateObjectKey", errors.ErrInvalidInput).
			WithKey(key).
			WithMessage("object key cannot exceed 1024 bytes")
	}
	if key == ".." || strings.HasPrefix(key, "../") || strings.HasSuffix(key, "/..") ||
		strings.Contains(key, "/../") {
		return errors.NewError("validateObjectKey", errors.ErrInvalidInput).
			WithKey(key).
			WithMessage("object key cannot contain path traversal sequences")
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return errors.NewError("validateObjectKey", errors.ErrInvalidInput).
				WithKey(key).
				WithMessage("object key cannot contain control characters")
		}
	}
	return nil
}

// ValidateMetadata validates user metadata keys and values: keys must be
// header-safe tokens, values printable ASCII.
func ValidateMetadata(metadata map[string]string) error {
	for key, value := range metadata {
		if key == "" {
			return errors.NewError("validateMetadata", errors.ErrInvalidInput).
				WithMessage("metadata key cannot be empty")
		}
		for _, r := range key {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
				return errors.NewError("validateMetadata", errors.ErrInvalidInput).
					WithMessage(fmt.Sprintf("metadata key %q contains invalid character %q", key, r))
			}
		}
		for _, r := range value {
			if r < 0x20 || r > 0x7e {
				return errors.NewError("validateMetadata", errors.ErrInvalidInput).
					WithMessage(fmt.Sprintf("metadata value for %q contains non-printable character", key))
			}
		}
	}
	return nil
}
