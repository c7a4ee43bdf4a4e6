// Package wire builds and parses the HTTP messages of the object-store
// multipart protocol: CreateMultipartUpload, UploadPart, ListParts,
// CompleteMultipartUpload, AbortMultipartUpload, and ranged GETs.
package wire

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Message is a not-yet-signed HTTP request: method, path with query string,
// headers, and an optional in-memory body. Meta requests derive per-part
// messages from a base message that carries the caller's headers.
type Message struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

// NewMessage returns an empty message with the given method and path.
func NewMessage(method, path string) *Message {
	return &Message{
		Method:  method,
		Path:    path,
		Headers: make(http.Header),
	}
}

// userMetadataPrefix marks caller metadata headers, which travel on
// CreateMultipartUpload only.
const userMetadataPrefix = "x-amz-meta-"

// clone copies method, path, and headers, dropping any header named in
// excluded (case-insensitive) and, when excludeUserMetadata is set, any
// x-amz-meta-* header. The body is never copied.
func (m *Message) clone(excluded []string, excludeUserMetadata bool) *Message {
	out := NewMessage(m.Method, m.Path)
	for name, values := range m.Headers {
		if headerExcluded(name, excluded) {
			continue
		}
		if excludeUserMetadata && strings.HasPrefix(strings.ToLower(name), userMetadataPrefix) {
			continue
		}
		for _, v := range values {
			out.Headers.Add(name, v)
		}
	}
	return out
}

func headerExcluded(name string, excluded []string) bool {
	for _, e := range excluded {
		if strings.EqualFold(name, e) {
			return true
		}
	}
	return false
}

// setMultipartRequestPath appends the multipart query parameters to the
// message path: ?partNumber=N for parts, ?uploadId=U for any request bound
// to an upload, and ?uploads for CreateMultipartUpload.
func (m *Message) setMultipartRequestPath(uploadID string, partNumber int, appendUploadsSuffix bool) {
	var b strings.Builder
	b.WriteString(m.Path)

	hasQuery := strings.Contains(m.Path, "?")
	sep := func() string {
		if hasQuery {
			return "&"
		}
		hasQuery = true
		return "?"
	}

	if partNumber > 0 {
		b.WriteString(sep())
		b.WriteString("partNumber=")
		b.WriteString(strconv.Itoa(partNumber))
	}
	if uploadID != "" {
		b.WriteString(sep())
		b.WriteString("uploadId=")
		b.WriteString(uploadID)
	}
	if appendUploadsSuffix {
		b.WriteString(sep())
		b.WriteString("uploads")
	}
	m.Path = b.String()
}

// setBody attaches an in-memory body and keeps the Content-Length header in
// step with it.
func (m *Message) setBody(body []byte) {
	m.Body = body
	m.Headers.Set("Content-Length", strconv.Itoa(len(body)))
}

// HTTPRequest materializes the message as an *http.Request against the given
// scheme and host.
func (m *Message) HTTPRequest(ctx context.Context, scheme, host string) (*http.Request, error) {
	url := fmt.Sprintf("%s://%s%s", scheme, host, m.Path)
	var body *bytes.Reader
	if m.Body != nil {
		body = bytes.NewReader(m.Body)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, m.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("wire: build http request: %w", err)
	}
	for name, values := range m.Headers {
		if strings.EqualFold(name, "Content-Length") {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.ContentLength = int64(len(m.Body))
	req.Host = host
	return req, nil
}
