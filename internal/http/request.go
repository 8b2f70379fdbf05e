package http

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request represents an HTTP request to be executed. The URL is the
// full resolved target; query params are appended to any query the URL
// already carries. Body is the raw payload, sent verbatim.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Params  map[string]string
	Body    string
}

// NewRequest creates a new request for the given method and URL.
func NewRequest(method, rawURL string) *Request {
	return &Request{
		Method:  strings.ToUpper(method),
		URL:     rawURL,
		Headers: make(map[string]string),
		Params:  make(map[string]string),
	}
}

// WithHeader adds a header to the request.
func (r *Request) WithHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

// WithParam adds a query parameter to the request.
func (r *Request) WithParam(key, value string) *Request {
	r.Params[key] = value
	return r
}

// WithBody sets the request body.
func (r *Request) WithBody(body string) *Request {
	r.Body = body
	return r
}

// Build converts the request to an *http.Request.
func (r *Request) Build() (*http.Request, error) {
	parsed, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", r.URL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("URL %q must be absolute", r.URL)
	}

	if len(r.Params) > 0 {
		query := parsed.Query()
		for key, value := range r.Params {
			query.Set(key, value)
		}
		parsed.RawQuery = query.Encode()
	}

	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}

	httpReq, err := http.NewRequest(r.Method, parsed.String(), body)
	if err != nil {
		return nil, err
	}

	for key, value := range r.Headers {
		httpReq.Header.Set(key, value)
	}

	// A payload with no declared type is assumed to be JSON, which is
	// what suite bodies are in practice.
	if r.Body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	return httpReq, nil
}
