package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// TimingInfo breaks the request down by phase. Phases that did not
// occur (cached DNS, reused connection, plain HTTP) are zero.
type TimingInfo struct {
	StartTime       time.Time
	DNSLookup       time.Duration
	TCPConnect      time.Duration
	TLSHandshake    time.Duration
	TimeToFirstByte time.Duration
	ContentTransfer time.Duration
	Total           time.Duration
}

// Response is a fully drained HTTP response. The body has been read
// and the connection returned to the pool by the time the caller sees
// it, so a Response can be inspected any number of times.
type Response struct {
	StatusCode   int
	Status       string
	Headers      http.Header
	Body         []byte
	BytesIn      int64
	ResponseTime time.Duration
	Timing       TimingInfo
}

// BodyString returns the response body as a string.
func (r *Response) BodyString() string {
	return string(r.Body)
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// GetHeader returns the value of the given header.
func (r *Response) GetHeader(key string) string {
	return r.Headers.Get(key)
}

// IsSuccess returns true if the status code is in the 2xx range.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRedirect returns true if the status code is in the 3xx range.
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// IsClientError returns true if the status code is in the 4xx range.
func (r *Response) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

// IsServerError returns true if the status code is in the 5xx range.
func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500 && r.StatusCode < 600
}
