package output

import (
	nethttp "net/http"
	"strings"
	"testing"
	"time"

	"github.com/volleyhq/volley/internal/http"
)

func TestFormatRequest(t *testing.T) {
	f := NewFormatter(false, true)
	req := http.NewRequest("get", "https://api.test/users").
		WithHeader("Accept", "application/json").
		WithParam("page", "2").
		WithBody(`{"name":"kim"}`)

	out := f.FormatRequest(req)

	if !strings.Contains(out, "▶ REQUEST: GET https://api.test/users?page=2") {
		t.Errorf("Expected the request line with query params, got:\n%s", out)
	}
	if !strings.Contains(out, "Accept: application/json") {
		t.Errorf("Expected headers listed, got:\n%s", out)
	}
	if !strings.Contains(out, `"name"`) {
		t.Errorf("Expected the body rendered, got:\n%s", out)
	}
}

func TestFormatResponse(t *testing.T) {
	f := NewFormatter(false, true)
	headers := nethttp.Header{}
	headers.Set("Content-Type", "application/json")
	resp := &http.Response{
		StatusCode:   200,
		Status:       "200 OK",
		Headers:      headers,
		Body:         []byte(`{"ok":true}`),
		ResponseTime: 42 * time.Millisecond,
	}

	out := f.FormatResponse(resp)

	if !strings.Contains(out, "◀ RESPONSE: 200 OK (42ms)") {
		t.Errorf("Expected the response status line, got:\n%s", out)
	}
	if !strings.Contains(out, `"ok"`) {
		t.Errorf("Expected the body rendered, got:\n%s", out)
	}
	if strings.Contains(out, "Timing:") {
		t.Errorf("Expected no timing section without verbose, got:\n%s", out)
	}
}

func TestFormatResponseVerboseTiming(t *testing.T) {
	f := NewFormatter(true, true)
	resp := &http.Response{
		StatusCode:   204,
		Status:       "204 No Content",
		Headers:      nethttp.Header{},
		ResponseTime: 18 * time.Millisecond,
		Timing: http.TimingInfo{
			DNSLookup:       2 * time.Millisecond,
			TCPConnect:      3 * time.Millisecond,
			TLSHandshake:    5 * time.Millisecond,
			TimeToFirstByte: 15 * time.Millisecond,
			ContentTransfer: 3 * time.Millisecond,
			Total:           18 * time.Millisecond,
		},
	}

	out := f.FormatResponse(resp)

	for _, want := range []string{
		"DNS Lookup:          2ms",
		"TCP Connection:      3ms",
		"TLS Handshake:       5ms",
		"Time to First Byte:  15ms",
		"Content Transfer:    3ms",
		"Total:               18ms",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected timing line %q, got:\n%s", want, out)
		}
	}
}
