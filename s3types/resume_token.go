package s3types

import (
	"encoding/json"
	"fmt"
)

// ResumeTokenTypePutObject is the only token type the put meta request
// accepts. The literal is stable across releases and restarts.
const ResumeTokenTypePutObject = "AWS_S3_META_REQUEST_TYPE_PUT_OBJECT"

// ResumeToken is the persistable state of a paused multi-part upload. It is
// serialized as a UTF-8 JSON object and is the only state the engine ever
// persists.
type ResumeToken struct {
	// Type discriminates the meta request variant the token belongs to.
	Type string `json:"type"`

	// MultipartUploadID is the server-issued upload id to resume.
	MultipartUploadID string `json:"multipart_upload_id"`

	// PartitionSize is the part size the paused upload was using, in bytes.
	PartitionSize int64 `json:"partition_size"`

	// TotalNumParts is the paused upload's total part count.
	TotalNumParts int `json:"total_num_parts"`
}

// Serialize renders the token as its stable JSON form.
func (t ResumeToken) Serialize() (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("serialize resume token: %w", err)
	}
	return string(raw), nil
}

// ParseResumeToken decodes a serialized resume token. It validates shape
// only; semantic validation (part size bounds, part count) happens when the
// token is applied to a meta request.
func ParseResumeToken(raw string) (ResumeToken, error) {
	var t ResumeToken
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return ResumeToken{}, fmt.Errorf("parse resume token: %w", err)
	}
	if t.Type == "" || t.MultipartUploadID == "" || t.PartitionSize <= 0 || t.TotalNumParts <= 0 {
		return ResumeToken{}, fmt.Errorf("parse resume token: missing required field")
	}
	return t, nil
}
