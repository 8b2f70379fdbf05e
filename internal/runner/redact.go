package runner

import (
	nethttp "net/http"
	"net/url"
	"regexp"
	"strings"
)

// RedactedValue replaces anything the redactor strips.
const RedactedValue = "[REDACTED]"

var defaultRedactedHeaders = []string{
	"Authorization",
	"Proxy-Authorization",
	"Cookie",
	"Set-Cookie",
	"X-Api-Key",
}

var defaultRedactedParams = []string{
	"token", "access_token", "refresh_token",
	"api_key", "apikey", "key",
	"secret", "client_secret", "password",
}

// bodySecrets matches JSON string fields whose names suggest
// credentials. Replacement keeps the key and blanks the value.
var bodySecrets = regexp.MustCompile(`(?i)"(password|passwd|secret|token|access_token|refresh_token|api_key|apikey|authorization|client_secret)"\s*:\s*"(?:[^"\\]|\\.)*"`)

// textSecrets matches credential query parameters and bearer tokens
// inside free-form text, such as transport error messages that embed
// the request URL.
var (
	textSecrets  = regexp.MustCompile(`(?i)\b(token|access_token|refresh_token|api_key|apikey|key|secret|client_secret|password)=[^&\s"']+`)
	bearerSecret = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
)

// Redactor strips secrets from request/response snapshots before they
// are recorded on an Outcome. Header and query-parameter names are
// matched case-insensitively.
type Redactor struct {
	headers map[string]bool
	params  map[string]bool
}

// NewRedactor builds a redactor covering the default sensitive
// headers plus any extra header names.
func NewRedactor(extraHeaders ...string) *Redactor {
	r := &Redactor{
		headers: make(map[string]bool),
		params:  make(map[string]bool),
	}
	for _, name := range defaultRedactedHeaders {
		r.headers[strings.ToLower(name)] = true
	}
	for _, name := range extraHeaders {
		r.headers[strings.ToLower(name)] = true
	}
	for _, name := range defaultRedactedParams {
		r.params[name] = true
	}
	return r
}

// Headers returns a redacted copy of a header map.
func (r *Redactor) Headers(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if r.headers[strings.ToLower(name)] {
			out[name] = RedactedValue
			continue
		}
		out[name] = value
	}
	return out
}

// HeaderMap flattens an http.Header to first values, redacted.
func (r *Redactor) HeaderMap(headers nethttp.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		if r.headers[strings.ToLower(name)] {
			out[name] = RedactedValue
			continue
		}
		out[name] = values[0]
	}
	return out
}

// URL redacts sensitive query parameter values. A URL that does not
// parse is returned unchanged.
func (r *Redactor) URL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := parsed.Query()
	changed := false
	for name := range query {
		if r.params[strings.ToLower(name)] {
			query.Set(name, RedactedValue)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// Body blanks the values of credential-named JSON string fields.
func (r *Redactor) Body(body string) string {
	return bodySecrets.ReplaceAllString(body, `"${1}":"`+RedactedValue+`"`)
}

// Text redacts free-form text such as error messages: credential
// query parameters, bearer tokens, and JSON credential fields.
func (r *Redactor) Text(text string) string {
	text = textSecrets.ReplaceAllString(text, "${1}="+RedactedValue)
	text = bearerSecret.ReplaceAllString(text, "Bearer "+RedactedValue)
	return r.Body(text)
}
