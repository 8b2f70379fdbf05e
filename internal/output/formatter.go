package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/volleyhq/volley/internal/http"
)

// Formatter renders a single request/response exchange for the
// one-off send command.
type Formatter struct {
	Verbose bool
	Scheme  *ColorScheme
}

// NewFormatter creates a text formatter.
func NewFormatter(verbose, noColor bool) *Formatter {
	scheme := DefaultColorScheme()
	if noColor {
		scheme = NoColorScheme()
	}
	return &Formatter{Verbose: verbose, Scheme: scheme}
}

// FormatRequest renders an outgoing request.
func (f *Formatter) FormatRequest(req *http.Request) string {
	var buf strings.Builder

	target := req.URL
	if len(req.Params) > 0 {
		values := url.Values{}
		for key, value := range req.Params {
			values.Set(key, value)
		}
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + values.Encode()
	}

	buf.WriteString(fmt.Sprintf("▶ REQUEST: %s %s\n",
		f.Scheme.Method.Sprint(req.Method), f.Scheme.URL.Sprint(target)))

	if len(req.Headers) > 0 {
		buf.WriteString("  Headers:\n")
		for key, value := range req.Headers {
			buf.WriteString(fmt.Sprintf("    %s: %s\n", key, value))
		}
	}

	if req.Body != "" {
		buf.WriteString("  Body: ")
		buf.WriteString(prettyJSON(req.Body))
		buf.WriteString("\n")
	}

	return buf.String()
}

// FormatResponse renders a drained response with its timing
// breakdown in verbose mode.
func (f *Formatter) FormatResponse(resp *http.Response) string {
	var buf strings.Builder

	statusColor := f.Scheme.Pass
	switch {
	case resp.IsSuccess():
		statusColor = f.Scheme.Pass
	case resp.IsRedirect():
		statusColor = f.Scheme.Caution
	default:
		statusColor = f.Scheme.Fail
	}

	buf.WriteString(fmt.Sprintf("◀ RESPONSE: %s (%s)\n",
		statusColor.Sprint(resp.Status), fmtDuration(resp.ResponseTime)))

	if f.Verbose {
		buf.WriteString("  Timing:\n")
		buf.WriteString(fmt.Sprintf("    DNS Lookup:          %s\n", fmtDuration(resp.Timing.DNSLookup)))
		buf.WriteString(fmt.Sprintf("    TCP Connection:      %s\n", fmtDuration(resp.Timing.TCPConnect)))
		buf.WriteString(fmt.Sprintf("    TLS Handshake:       %s\n", fmtDuration(resp.Timing.TLSHandshake)))
		buf.WriteString(fmt.Sprintf("    Time to First Byte:  %s\n", fmtDuration(resp.Timing.TimeToFirstByte)))
		buf.WriteString(fmt.Sprintf("    Content Transfer:    %s\n", fmtDuration(resp.Timing.ContentTransfer)))
		buf.WriteString(fmt.Sprintf("    Total:               %s\n", fmtDuration(resp.Timing.Total)))

		buf.WriteString("  Headers:\n")
		for key, values := range resp.Headers {
			for _, value := range values {
				buf.WriteString(fmt.Sprintf("    %s: %s\n", key, value))
			}
		}
	}

	if len(resp.Body) > 0 {
		buf.WriteString("  Body:\n")
		buf.WriteString(indentLines(prettyJSON(string(resp.Body)), "  "))
		buf.WriteString("\n")
	}

	return buf.String()
}

// prettyJSON indents a JSON document, passing non-JSON through.
func prettyJSON(s string) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(s), "  ", "  "); err != nil {
		return s
	}
	return pretty.String()
}

func indentLines(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
