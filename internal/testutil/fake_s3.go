// Package testutil provides a test double for the transfer engine: an
// in-memory S3 multipart endpoint wired in as a ConnectionManager.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/internal/httpio"
)

// RecordedRequest captures one request the fake served.
type RecordedRequest struct {
	Operation string
	Method    string
	Path      string
	Query     url.Values
	Header    http.Header
	Body      []byte
}

// PartRecord is one stored part of a multipart upload.
type PartRecord struct {
	ETag     string
	Body     []byte
	Checksum string
}

// Upload is one in-progress multipart upload.
type Upload struct {
	Bucket    string
	Key       string
	Parts     map[int]PartRecord
	Completed bool
	Aborted   bool
}

// FakeS3 is an in-memory S3 multipart endpoint. It implements
// httpio.ConnectionManager so the engine drives it exactly like a real
// endpoint, wire messages and all.
type FakeS3 struct {
	mu sync.Mutex

	uploads      map[string]*Upload
	objects      map[string][]byte
	nextUploadID int

	// failures maps operation name to a queue of HTTP statuses to answer
	// with before succeeding.
	failures map[string][]int

	// CreateMPUHeaders are extra headers for CreateMultipartUpload
	// responses (e.g. SSE-C echoes).
	CreateMPUHeaders http.Header

	// MaxPartsPerListPage paginates ListParts when positive.
	MaxPartsPerListPage int

	// OmitUploadID makes CreateMultipartUpload answer without an UploadId
	// element.
	OmitUploadID bool

	requests []RecordedRequest

	shutdown     bool
	shutdownDone func()
	outstanding  int
}

// NewFakeS3 returns an empty fake endpoint.
func NewFakeS3() *FakeS3 {
	return &FakeS3{
		uploads:  make(map[string]*Upload),
		objects:  make(map[string][]byte),
		failures: make(map[string][]int),
	}
}

// ManagerFactory returns a factory handing out this fake for every host.
func (f *FakeS3) ManagerFactory() httpio.ManagerFactory {
	return func(httpio.EndpointOptions) httpio.ConnectionManager {
		return f
	}
}

// FailNext makes the next n requests of the named operation answer with
// the given HTTP status.
func (f *FakeS3) FailNext(operation string, status int, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.failures[operation] = append(f.failures[operation], status)
	}
}

// PutObjectBody stores a plain object served to GET requests.
func (f *FakeS3) PutObjectBody(path string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = body
}

// SeedUpload installs an in-progress upload, for resume tests.
func (f *FakeS3) SeedUpload(uploadID string, parts map[int]PartRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[uploadID] = &Upload{Parts: parts}
}

// Upload returns the recorded upload state for an id.
func (f *FakeS3) Upload(uploadID string) *Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[uploadID]
}

// Requests returns every request served so far.
func (f *FakeS3) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}

// RequestsByOperation filters recorded requests by operation name.
func (f *FakeS3) RequestsByOperation(operation string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range f.Requests() {
		if r.Operation == operation {
			out = append(out, r)
		}
	}
	return out
}

// Acquire implements httpio.ConnectionManager.
func (f *FakeS3) Acquire(context.Context) (httpio.Connection, error) {
	f.mu.Lock()
	f.outstanding++
	f.mu.Unlock()
	return &fakeConnection{fake: f}, nil
}

// Release implements httpio.ConnectionManager.
func (f *FakeS3) Release(httpio.Connection, bool) {
	f.mu.Lock()
	f.outstanding--
	done := f.shutdown && f.outstanding == 0
	fn := f.shutdownDone
	f.mu.Unlock()
	if done && fn != nil {
		fn()
	}
}

// Shutdown implements httpio.ConnectionManager.
func (f *FakeS3) Shutdown(done func()) {
	f.mu.Lock()
	f.shutdown = true
	f.shutdownDone = done
	idle := f.outstanding == 0
	f.mu.Unlock()
	if idle && done != nil {
		done()
	}
}

type fakeConnection struct {
	fake *FakeS3
}

func (c *fakeConnection) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.fake.handle(req)
}

// handle routes a request by method and query shape, the same dispatch a
// real multipart endpoint performs.
func (f *FakeS3) handle(req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	query := req.URL.Query()

	operation := classify(req.Method, query)

	f.mu.Lock()
	f.requests = append(f.requests, RecordedRequest{
		Operation: operation,
		Method:    req.Method,
		Path:      req.URL.Path,
		Query:     query,
		Header:    req.Header.Clone(),
		Body:      body,
	})

	if statuses := f.failures[operation]; len(statuses) > 0 {
		status := statuses[0]
		f.failures[operation] = statuses[1:]
		f.mu.Unlock()
		return errorResponse(status, "InternalError", "injected failure"), nil
	}
	defer f.mu.Unlock()

	switch operation {
	case "CreateMultipartUpload":
		return f.handleCreate(req), nil
	case "UploadPart":
		return f.handleUploadPart(req, query, body), nil
	case "ListParts":
		return f.handleListParts(query), nil
	case "CompleteMultipartUpload":
		return f.handleComplete(query, body), nil
	case "AbortMultipartUpload":
		return f.handleAbort(query), nil
	default:
		return f.handleGetObject(req), nil
	}
}

// classify mirrors the wire protocol's operation dispatch.
func classify(method string, query url.Values) string {
	_, hasUploads := query["uploads"]
	uploadID := query.Get("uploadId")
	switch {
	case method == http.MethodPost && hasUploads:
		return "CreateMultipartUpload"
	case method == http.MethodPut && query.Get("partNumber") != "":
		return "UploadPart"
	case method == http.MethodGet && uploadID != "":
		return "ListParts"
	case method == http.MethodPost && uploadID != "":
		return "CompleteMultipartUpload"
	case method == http.MethodDelete && uploadID != "":
		return "AbortMultipartUpload"
	default:
		return "GetObject"
	}
}

func (f *FakeS3) handleCreate(req *http.Request) *http.Response {
	f.nextUploadID++
	uploadID := fmt.Sprintf("upload-%d", f.nextUploadID)
	f.uploads[uploadID] = &Upload{
		Key:   req.URL.Path,
		Parts: make(map[int]PartRecord),
	}

	payload := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<InitiateMultipartUploadResult><Bucket>bucket</Bucket><Key>` + req.URL.Path +
		`</Key><UploadId>` + uploadID + `</UploadId></InitiateMultipartUploadResult>`
	if f.OmitUploadID {
		payload = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
			`<InitiateMultipartUploadResult><Bucket>bucket</Bucket></InitiateMultipartUploadResult>`
	}

	resp := xmlResponse(http.StatusOK, payload)
	for name, values := range f.CreateMPUHeaders {
		for _, v := range values {
			resp.Header.Add(name, v)
		}
	}
	return resp
}

func (f *FakeS3) handleUploadPart(req *http.Request, query url.Values, body []byte) *http.Response {
	uploadID := query.Get("uploadId")
	upload, ok := f.uploads[uploadID]
	if !ok {
		return errorResponse(http.StatusNotFound, "NoSuchUpload", "unknown upload id")
	}
	partNumber, err := strconv.Atoi(query.Get("partNumber"))
	if err != nil || partNumber < 1 {
		return errorResponse(http.StatusBadRequest, "InvalidArgument", "bad part number")
	}

	record := PartRecord{
		ETag: fmt.Sprintf("etag-part-%d", partNumber),
		Body: append([]byte(nil), body...),
	}
	for _, name := range []string{
		"x-amz-checksum-crc32", "x-amz-checksum-crc32c",
		"x-amz-checksum-sha1", "x-amz-checksum-sha256",
	} {
		if v := req.Header.Get(name); v != "" {
			record.Checksum = v
			break
		}
	}
	upload.Parts[partNumber] = record

	resp := emptyResponse(http.StatusOK)
	resp.Header.Set("ETag", `"`+record.ETag+`"`)
	return resp
}

func (f *FakeS3) handleListParts(query url.Values) *http.Response {
	uploadID := query.Get("uploadId")
	upload, ok := f.uploads[uploadID]
	if !ok {
		return errorResponse(http.StatusNotFound, "NoSuchUpload", "unknown upload id")
	}

	marker := 0
	if m := query.Get("part-number-marker"); m != "" {
		marker, _ = strconv.Atoi(m)
	}

	var numbers []int
	for n := range upload.Parts {
		if n > marker {
			numbers = append(numbers, n)
		}
	}
	sort.Ints(numbers)

	truncated := false
	if f.MaxPartsPerListPage > 0 && len(numbers) > f.MaxPartsPerListPage {
		numbers = numbers[:f.MaxPartsPerListPage]
		truncated = true
	}

	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<ListPartsResult><UploadId>` + uploadID + `</UploadId>`)
	nextMarker := marker
	for _, n := range numbers {
		part := upload.Parts[n]
		b.WriteString(`<Part><PartNumber>` + strconv.Itoa(n) + `</PartNumber>`)
		b.WriteString(`<ETag>&quot;` + part.ETag + `&quot;</ETag>`)
		b.WriteString(`<Size>` + strconv.Itoa(len(part.Body)) + `</Size>`)
		if part.Checksum != "" {
			// The fake stores whichever checksum the uploader sent; tests
			// configure the matching algorithm.
			b.WriteString(`<ChecksumCRC32C>` + part.Checksum + `</ChecksumCRC32C>`)
		}
		b.WriteString(`</Part>`)
		nextMarker = n
	}
	b.WriteString(`<PartNumberMarker>` + strconv.Itoa(marker) + `</PartNumberMarker>`)
	b.WriteString(`<NextPartNumberMarker>` + strconv.Itoa(nextMarker) + `</NextPartNumberMarker>`)
	b.WriteString(`<IsTruncated>` + strconv.FormatBool(truncated) + `</IsTruncated>`)
	b.WriteString(`</ListPartsResult>`)

	return xmlResponse(http.StatusOK, b.String())
}

func (f *FakeS3) handleComplete(query url.Values, body []byte) *http.Response {
	uploadID := query.Get("uploadId")
	upload, ok := f.uploads[uploadID]
	if !ok {
		return errorResponse(http.StatusNotFound, "NoSuchUpload", "unknown upload id")
	}
	if len(body) == 0 {
		return errorResponse(http.StatusBadRequest, "MalformedXML", "empty complete body")
	}
	upload.Completed = true

	payload := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<CompleteMultipartUploadResult><Key>` + upload.Key + `</Key>` +
		`<ETag>&quot;` + finalETag(uploadID, len(upload.Parts)) + `&quot;</ETag>` +
		`</CompleteMultipartUploadResult>`
	return xmlResponse(http.StatusOK, payload)
}

func (f *FakeS3) handleAbort(query url.Values) *http.Response {
	uploadID := query.Get("uploadId")
	if upload, ok := f.uploads[uploadID]; ok {
		upload.Aborted = true
	}
	return emptyResponse(http.StatusNoContent)
}

func (f *FakeS3) handleGetObject(req *http.Request) *http.Response {
	body, ok := f.objects[req.URL.Path]
	if !ok {
		return errorResponse(http.StatusNotFound, "NoSuchKey", "no such key")
	}
	resp := emptyResponse(http.StatusOK)
	resp.Header.Set("Content-Type", "application/octet-stream")
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp
}

// FinalETag is the deterministic multipart ETag the fake produces on
// complete, exposed for test assertions.
func FinalETag(uploadID string, numParts int) string {
	return finalETag(uploadID, numParts)
}

func finalETag(uploadID string, numParts int) string {
	return fmt.Sprintf("%s-final-%d", uploadID, numParts)
}

func xmlResponse(status int, payload string) *http.Response {
	resp := emptyResponse(status)
	resp.Header.Set("Content-Type", "application/xml")
	resp.Body = io.NopCloser(bytes.NewReader([]byte(payload)))
	return resp
}

func errorResponse(status int, code, message string) *http.Response {
	payload := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<Error><Code>` + code + `</Code><Message>` + message + `</Message></Error>`
	return xmlResponse(status, payload)
}

func emptyResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}
}
