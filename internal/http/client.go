// Package http implements the transport layer: a configurable client
// that executes requests with per-phase timing capture and classifies
// transport failures so the runner can tell a broken connection from a
// response that merely failed its assertions. A non-2xx response is a
// successful transport call; Do returns it with a nil error.
package http

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

// DefaultTimeout is the client timeout when no option overrides it.
const DefaultTimeout = 30 * time.Second

// Client executes requests. A single Client is safe for concurrent use
// and should be shared across workers so connections are pooled.
type Client struct {
	httpClient *http.Client
	transport  *http.Transport
	headers    map[string]string
	userAgent  string
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// NewClient creates a new HTTP client with the given options.
func NewClient(options ...ClientOption) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	client := &Client{
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
		},
		transport: transport,
		headers:   make(map[string]string),
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// WithTimeout sets the timeout for the client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHeader adds a default header applied to every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify() ClientOption {
	return func(c *Client) {
		if c.transport.TLSClientConfig == nil {
			c.transport.TLSClientConfig = &tls.Config{}
		}
		c.transport.TLSClientConfig.InsecureSkipVerify = true
	}
}

// WithMaxConnsPerHost caps connections per host. Load runs raise this
// together with the idle pool so ramping workers do not thrash dials.
func WithMaxConnsPerHost(n int) ClientOption {
	return func(c *Client) {
		c.transport.MaxConnsPerHost = n
		c.transport.MaxIdleConnsPerHost = n
	}
}

// WithDisableKeepAlives turns connection reuse off.
func WithDisableKeepAlives() ClientOption {
	return func(c *Client) {
		c.transport.DisableKeepAlives = true
	}
}

// Do executes the request and returns the response with per-phase
// timing. A returned error is always a *TransportError; response
// status is never folded into the error.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := req.Build()
	if err != nil {
		return nil, &TransportError{Kind: KindProtocol, Err: err}
	}

	for key, value := range c.headers {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}
	if c.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	timing := TimingInfo{
		StartTime: time.Now(),
	}

	// Trace the request phases. lastPhaseEnd tracks where the previous
	// phase finished so TTFB measures only the server wait.
	var dnsStart, connectStart, tlsStart time.Time
	var dnsDone, connectDone bool
	lastPhaseEnd := timing.StartTime

	trace := &httptrace.ClientTrace{
		DNSStart: func(info httptrace.DNSStartInfo) {
			dnsStart = time.Now()
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			now := time.Now()
			timing.DNSLookup = now.Sub(dnsStart)
			dnsDone = true
			lastPhaseEnd = now
		},
		ConnectStart: func(network, addr string) {
			if dnsDone || connectStart.IsZero() {
				connectStart = time.Now()
			}
		},
		ConnectDone: func(network, addr string, err error) {
			if err == nil {
				now := time.Now()
				timing.TCPConnect = now.Sub(connectStart)
				connectDone = true
				lastPhaseEnd = now
			}
		},
		TLSHandshakeStart: func() {
			if connectDone {
				tlsStart = time.Now()
			}
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			if err == nil && !tlsStart.IsZero() {
				now := time.Now()
				timing.TLSHandshake = now.Sub(tlsStart)
				lastPhaseEnd = now
			}
		},
		GotFirstResponseByte: func() {
			timing.TimeToFirstByte = time.Since(lastPhaseEnd)
		},
	}

	httpReq = httpReq.WithContext(httptrace.WithClientTrace(ctx, trace))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, Classify(err)
	}

	transferStart := time.Now()
	bodyBytes, err := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	if err != nil {
		return nil, Classify(err)
	}
	timing.ContentTransfer = time.Since(transferStart)
	timing.Total = time.Since(timing.StartTime)

	return &Response{
		StatusCode:   httpResp.StatusCode,
		Status:       httpResp.Status,
		Headers:      httpResp.Header,
		Body:         bodyBytes,
		BytesIn:      int64(len(bodyBytes)),
		ResponseTime: timing.Total,
		Timing:       timing,
	}, nil
}
