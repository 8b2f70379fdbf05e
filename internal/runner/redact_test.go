package runner

import (
	nethttp "net/http"
	"strings"
	"testing"
)

func TestRedactorHeaders(t *testing.T) {
	redactor := NewRedactor("X-Internal-Token")

	got := redactor.Headers(map[string]string{
		"authorization":    "Bearer abc.def.ghi",
		"Content-Type":     "application/json",
		"X-Api-Key":        "sk-12345",
		"X-Internal-Token": "t-999",
	})

	if got["authorization"] != RedactedValue {
		t.Errorf("Expected the authorization header to be redacted, got %q", got["authorization"])
	}
	if got["X-Api-Key"] != RedactedValue {
		t.Errorf("Expected the api key header to be redacted, got %q", got["X-Api-Key"])
	}
	if got["X-Internal-Token"] != RedactedValue {
		t.Errorf("Expected the extra header to be redacted, got %q", got["X-Internal-Token"])
	}
	if got["Content-Type"] != "application/json" {
		t.Errorf("Expected content type to pass through, got %q", got["Content-Type"])
	}
}

func TestRedactorHeaderMap(t *testing.T) {
	redactor := NewRedactor()

	headers := nethttp.Header{}
	headers.Set("Set-Cookie", "session=s3cr3t; HttpOnly")
	headers.Add("Accept", "application/json")
	headers.Add("Accept", "text/plain")

	got := redactor.HeaderMap(headers)
	if got["Set-Cookie"] != RedactedValue {
		t.Errorf("Expected the cookie to be redacted, got %q", got["Set-Cookie"])
	}
	if got["Accept"] != "application/json" {
		t.Errorf("Expected the first Accept value, got %q", got["Accept"])
	}
}

func TestRedactorURL(t *testing.T) {
	redactor := NewRedactor()

	tests := []struct {
		name string
		in   string
		want func(string) bool
	}{
		{
			name: "api key redacted, page kept",
			in:   "https://api.example.com/users?api_key=sk-123&page=2",
			want: func(s string) bool {
				return strings.Contains(s, "api_key=%5BREDACTED%5D") && strings.Contains(s, "page=2")
			},
		},
		{
			name: "token redacted",
			in:   "https://api.example.com/auth?token=abc",
			want: func(s string) bool { return !strings.Contains(s, "abc") },
		},
		{
			name: "clean URL unchanged",
			in:   "https://api.example.com/users/1",
			want: func(s string) bool { return s == "https://api.example.com/users/1" },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := redactor.URL(tc.in)
			if !tc.want(got) {
				t.Errorf("Unexpected redaction result: %q", got)
			}
		})
	}
}

func TestRedactorBody(t *testing.T) {
	redactor := NewRedactor()

	body := `{"username": "kim", "password": "hunter2", "profile": {"access_token": "eyJ0.abc"}}`
	got := redactor.Body(body)

	if strings.Contains(got, "hunter2") || strings.Contains(got, "eyJ0.abc") {
		t.Errorf("Expected credentials to be stripped, got %s", got)
	}
	if !strings.Contains(got, `"username": "kim"`) {
		t.Errorf("Expected non-secret fields to survive, got %s", got)
	}
	if !strings.Contains(got, RedactedValue) {
		t.Errorf("Expected the redaction marker, got %s", got)
	}
}

func TestRedactorText(t *testing.T) {
	redactor := NewRedactor()

	text := `Get "https://api.example.com/auth?token=abc123": dial tcp: refused (auth was Bearer eyJ0.xyz)`
	got := redactor.Text(text)

	if strings.Contains(got, "abc123") {
		t.Errorf("Expected the token parameter to be stripped, got %s", got)
	}
	if strings.Contains(got, "eyJ0.xyz") {
		t.Errorf("Expected the bearer token to be stripped, got %s", got)
	}
	if !strings.Contains(got, "dial tcp: refused") {
		t.Errorf("Expected the error text to survive, got %s", got)
	}
}
