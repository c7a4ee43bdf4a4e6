package wire

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/s3types"
)

// s3NS is the S3 XML namespace used in request bodies.
const s3NS = "http://s3.amazonaws.com/doc/2006-03-01/"

// xmlHeader is the standard XML declaration prepended to request bodies.
const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// initiateMultipartUploadResult is the CreateMultipartUpload response body.
type initiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

// Part is one part entry of a ListParts response.
type Part struct {
	PartNumber     int    `xml:"PartNumber"`
	ETag           string `xml:"ETag"`
	Size           int64  `xml:"Size"`
	ChecksumCRC32  string `xml:"ChecksumCRC32"`
	ChecksumCRC32C string `xml:"ChecksumCRC32C"`
	ChecksumSHA1   string `xml:"ChecksumSHA1"`
	ChecksumSHA256 string `xml:"ChecksumSHA256"`
}

// Checksum returns the part's checksum for the given algorithm, or "".
func (p *Part) Checksum(algorithm s3types.ChecksumAlgorithm) string {
	switch algorithm {
	case s3types.ChecksumAlgorithmCRC32:
		return p.ChecksumCRC32
	case s3types.ChecksumAlgorithmCRC32C:
		return p.ChecksumCRC32C
	case s3types.ChecksumAlgorithmSHA1:
		return p.ChecksumSHA1
	case s3types.ChecksumAlgorithmSHA256:
		return p.ChecksumSHA256
	default:
		return ""
	}
}

// ListPartsResult is the ListParts response body.
type ListPartsResult struct {
	XMLName              xml.Name `xml:"ListPartsResult"`
	Bucket               string   `xml:"Bucket"`
	Key                  string   `xml:"Key"`
	UploadID             string   `xml:"UploadId"`
	PartNumberMarker     int      `xml:"PartNumberMarker"`
	NextPartNumberMarker int      `xml:"NextPartNumberMarker"`
	IsTruncated          bool     `xml:"IsTruncated"`
	Parts                []Part   `xml:"Part"`
}

// completeMultipartUploadResult is the CompleteMultipartUpload response body.
// xml.Unmarshal decodes entity references, so an ETag containing &quot; comes
// back with literal double quotes.
type completeMultipartUploadResult struct {
	XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
	Location string   `xml:"Location"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}

// completedPart is one part entry of a CompleteMultipartUpload request body.
type completedPart struct {
	XMLName        xml.Name `xml:"Part"`
	ETag           string   `xml:"ETag"`
	PartNumber     int      `xml:"PartNumber"`
	ChecksumCRC32  string   `xml:"ChecksumCRC32,omitempty"`
	ChecksumCRC32C string   `xml:"ChecksumCRC32C,omitempty"`
	ChecksumSHA1   string   `xml:"ChecksumSHA1,omitempty"`
	ChecksumSHA256 string   `xml:"ChecksumSHA256,omitempty"`
}

// completeMultipartUpload is the CompleteMultipartUpload request body.
type completeMultipartUpload struct {
	XMLName xml.Name        `xml:"CompleteMultipartUpload"`
	Xmlns   string          `xml:"xmlns,attr"`
	Parts   []completedPart `xml:"Part"`
}

// buildCompleteMultipartUploadBody renders the XML body listing parts 1..N in
// order, with the per-part checksum element when an algorithm is configured.
func buildCompleteMultipartUploadBody(
	etags []string,
	checksums []string,
	algorithm s3types.ChecksumAlgorithm,
) ([]byte, error) {
	payload := completeMultipartUpload{Xmlns: s3NS}
	for i, etag := range etags {
		if etag == "" {
			return nil, fmt.Errorf("wire: missing etag for part %d", i+1)
		}
		part := completedPart{ETag: etag, PartNumber: i + 1}
		if algorithm != s3types.ChecksumAlgorithmNone && i < len(checksums) {
			switch algorithm {
			case s3types.ChecksumAlgorithmCRC32:
				part.ChecksumCRC32 = checksums[i]
			case s3types.ChecksumAlgorithmCRC32C:
				part.ChecksumCRC32C = checksums[i]
			case s3types.ChecksumAlgorithmSHA1:
				part.ChecksumSHA1 = checksums[i]
			case s3types.ChecksumAlgorithmSHA256:
				part.ChecksumSHA256 = checksums[i]
			}
		}
		payload.Parts = append(payload.Parts, part)
	}

	raw, err := xml.MarshalIndent(payload, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("wire: marshal complete multipart body: %w", err)
	}
	return append([]byte(xmlHeader), raw...), nil
}

// ParseInitiateMultipartUpload extracts the UploadId from a
// CreateMultipartUpload response body. Returns "" when absent.
func ParseInitiateMultipartUpload(body []byte) (string, error) {
	var result initiateMultipartUploadResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("wire: parse initiate multipart response: %w", err)
	}
	return result.UploadID, nil
}

// ParseListParts decodes one page of a ListParts response.
func ParseListParts(body []byte) (*ListPartsResult, error) {
	var result ListPartsResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("wire: parse list parts response: %w", err)
	}
	return &result, nil
}

// ParseCompleteMultipartUpload extracts the final object ETag from a
// CompleteMultipartUpload response body. Entity-encoded quotes come back
// decoded. Returns "" when the body carries no ETag.
func ParseCompleteMultipartUpload(body []byte) (string, error) {
	var result completeMultipartUploadResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("wire: parse complete multipart response: %w", err)
	}
	return result.ETag, nil
}

// StripQuotes removes one pair of surrounding double quotes, matching how
// ETag header values arrive on the wire.
func StripQuotes(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}
