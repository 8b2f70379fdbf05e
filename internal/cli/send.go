package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/volleyhq/volley/internal/http"
	"github.com/volleyhq/volley/internal/output"
)

var sendCmd = &cobra.Command{
	Use:   "send METHOD URL",
	Short: "Send a single request and show the response",
	Long: `Send fires one request outside any suite and prints the response,
with a per-phase timing breakdown in verbose mode.

Examples:
  volley send GET https://api.example.com/users
  volley send POST api.example.com/users -H "Content-Type: application/json" -d '{"name":"ada"}'
  volley send GET https://api.example.com/health --format json`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		opts := sendOptions{Method: args[0], URL: args[1], Stdout: os.Stdout, Stderr: os.Stderr}
		opts.Headers, _ = cmd.Flags().GetStringArray("header")
		opts.Body, _ = cmd.Flags().GetString("data")
		opts.Timeout, _ = cmd.Flags().GetDuration("timeout")
		opts.Format, _ = cmd.Flags().GetString("format")
		opts.Insecure, _ = cmd.Flags().GetBool("insecure")
		opts.Verbose, _ = cmd.Flags().GetBool("verbose")
		opts.NoColor, _ = cmd.Flags().GetBool("no-color")
		opts.CI, _ = cmd.Flags().GetBool("ci")

		if code := runSend(opts); code != 0 {
			os.Exit(code)
		}
	},
}

func init() {
	sendCmd.Flags().StringArrayP("header", "H", nil, "Request header as 'Name: value' (repeatable)")
	sendCmd.Flags().StringP("data", "d", "", "Request body")
	sendCmd.Flags().DurationP("timeout", "T", 30*time.Second, "Request timeout")
	sendCmd.Flags().String("format", "text", "Output format: text, json or yaml")
	sendCmd.Flags().BoolP("insecure", "k", false, "Skip TLS certificate verification")
}

// sendOptions carries the resolved send flags.
type sendOptions struct {
	Method   string
	URL      string
	Headers  []string
	Body     string
	Timeout  time.Duration
	Format   string
	Insecure bool
	Verbose  bool
	NoColor  bool
	CI       bool

	Stdout io.Writer
	Stderr io.Writer
}

// runSend executes the one-off request and returns the process exit
// code. A non-2xx response is still a delivered response and exits
// zero; only transport failures fail the command.
func runSend(opts sendOptions) int {
	format := strings.ToLower(opts.Format)
	switch format {
	case "", "text", "json", "yaml", "yml":
	default:
		fmt.Fprintf(opts.Stderr, "Error: unknown output format %q (want text, json or yaml)\n", opts.Format)
		return 1
	}

	clientOpts := []http.ClientOption{http.WithTimeout(opts.Timeout)}
	if opts.Insecure {
		clientOpts = append(clientOpts, http.WithInsecureSkipVerify())
	}
	client := http.NewClient(clientOpts...)

	req := http.NewRequest(opts.Method, ensureScheme(opts.URL))
	for _, header := range opts.Headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			req.WithHeader(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
		}
	}
	if opts.Body != "" {
		req.WithBody(opts.Body)
	}

	text := format == "" || format == "text"
	formatter := output.NewFormatter(opts.Verbose, opts.NoColor || opts.CI)
	if text {
		fmt.Fprint(opts.Stdout, formatter.FormatRequest(req))
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	resp, err := client.Do(ctx, req)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 1
	}

	if text {
		fmt.Fprint(opts.Stdout, formatter.FormatResponse(resp))
		return 0
	}

	rendered := renderSend(req, resp)
	switch format {
	case "json":
		data, merr := json.MarshalIndent(rendered, "", "  ")
		if merr != nil {
			fmt.Fprintf(opts.Stderr, "Error: %v\n", merr)
			return 1
		}
		fmt.Fprintf(opts.Stdout, "%s\n", data)
	default:
		enc := yaml.NewEncoder(opts.Stdout)
		enc.SetIndent(2)
		if merr := enc.Encode(rendered); merr != nil {
			fmt.Fprintf(opts.Stderr, "Error: %v\n", merr)
			return 1
		}
		enc.Close()
	}
	return 0
}

// sendResult is the machine rendering of a one-off request.
type sendResult struct {
	Method     string            `json:"method" yaml:"method"`
	URL        string            `json:"url" yaml:"url"`
	StatusCode int               `json:"statusCode" yaml:"statusCode"`
	Status     string            `json:"status" yaml:"status"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body       interface{}       `json:"body,omitempty" yaml:"body,omitempty"`
	BytesIn    int64             `json:"bytesIn" yaml:"bytesIn"`
	Timing     sendTiming        `json:"timing" yaml:"timing"`
}

// sendTiming is the per-phase breakdown with human-readable durations.
type sendTiming struct {
	DNSLookup       string `json:"dnsLookup" yaml:"dnsLookup"`
	TCPConnect      string `json:"tcpConnect" yaml:"tcpConnect"`
	TLSHandshake    string `json:"tlsHandshake,omitempty" yaml:"tlsHandshake,omitempty"`
	TimeToFirstByte string `json:"timeToFirstByte" yaml:"timeToFirstByte"`
	ContentTransfer string `json:"contentTransfer" yaml:"contentTransfer"`
	Total           string `json:"total" yaml:"total"`
}

func renderSend(req *http.Request, resp *http.Response) sendResult {
	headers := make(map[string]string, len(resp.Headers))
	for name := range resp.Headers {
		headers[name] = resp.GetHeader(name)
	}

	// A JSON body renders structured; anything else stays a string.
	var body interface{}
	if len(resp.Body) > 0 {
		var parsed interface{}
		if err := json.Unmarshal(resp.Body, &parsed); err == nil {
			body = parsed
		} else {
			body = resp.BodyString()
		}
	}

	tlsHandshake := ""
	if resp.Timing.TLSHandshake > 0 {
		tlsHandshake = resp.Timing.TLSHandshake.String()
	}

	return sendResult{
		Method:     req.Method,
		URL:        req.URL,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    headers,
		Body:       body,
		BytesIn:    resp.BytesIn,
		Timing: sendTiming{
			DNSLookup:       resp.Timing.DNSLookup.String(),
			TCPConnect:      resp.Timing.TCPConnect.String(),
			TLSHandshake:    tlsHandshake,
			TimeToFirstByte: resp.Timing.TimeToFirstByte.String(),
			ContentTransfer: resp.Timing.ContentTransfer.String(),
			Total:           resp.Timing.Total.String(),
		},
	}
}

// ensureScheme defaults a bare host to plain HTTP so quick checks do
// not require typing the scheme.
func ensureScheme(rawURL string) string {
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	return "http://" + rawURL
}
