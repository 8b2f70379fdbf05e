// Package config defines the suite and load plan model and loads it
// from YAML or JSON files. The model is declarative data only; request
// execution, assertion evaluation and load shaping live elsewhere.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Suite is the root of a test suite file.
//
// Example YAML:
//
//	name: user-api
//	env:
//	  staging:
//	    base_url: https://staging.example.com
//	    headers:
//	      Authorization: "Bearer ${STAGING_TOKEN}"
//	vars:
//	  user_id: "42"
//	tests:
//	  - name: get user
//	    request:
//	      method: GET
//	      url: "{{base_url}}/users/{{user_id}}"
//	    expect:
//	      status: 200
type Suite struct {
	// Name of the suite (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the suite (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Env maps environment names to their bindings; one is selected per run
	Env map[string]Environment `json:"env,omitempty" yaml:"env,omitempty"`

	// DefaultEnv is the environment used when the run selects none
	DefaultEnv string `json:"default_env,omitempty" yaml:"default_env,omitempty"`

	// Vars are suite-wide variables available to all requests
	Vars map[string]string `json:"vars,omitempty" yaml:"vars,omitempty"`

	// Schemas holds named JSON Schema documents referenced by expectations
	Schemas map[string]interface{} `json:"schemas,omitempty" yaml:"schemas,omitempty"`

	// Setup steps run sequentially before the tests
	Setup []TestCase `json:"setup,omitempty" yaml:"setup,omitempty"`

	// Tests are the suite's test cases, in declared order
	Tests []TestCase `json:"tests" yaml:"tests"`

	// Dataset optionally drives the tests once per data row
	Dataset *Dataset `json:"dataset,omitempty" yaml:"dataset,omitempty"`

	// Teardown steps run sequentially after the tests, even on failure
	Teardown []TestCase `json:"teardown,omitempty" yaml:"teardown,omitempty"`

	// Retry is the suite-wide default retry policy
	Retry *RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`

	// Timeout is the default per-request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Load configures performance runs of this suite
	Load *LoadPlan `json:"load,omitempty" yaml:"load,omitempty"`
}

// Environment is one named target a suite can run against. Selecting it
// binds {{base_url}} and {{VOLLEY_ENV}}, merges its vars and applies
// its default headers.
type Environment struct {
	BaseURL string            `json:"base_url" yaml:"base_url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Vars    map[string]string `json:"vars,omitempty" yaml:"vars,omitempty"`
}

// TestCase is one declared test (or setup/teardown step).
type TestCase struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Request     Request      `json:"request" yaml:"request"`
	Expect      *Expectation `json:"expect,omitempty" yaml:"expect,omitempty"`
	Retry       *RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`
	Timeout     Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Request is a request template; all string fields may contain
// {{variable}} and ${ENV:default} references.
type Request struct {
	Method  string            `json:"method" yaml:"method"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Params  map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`
}

// Expectation declares the checks applied to a response. A case with no
// expectation passes when the status is below 400.
type Expectation struct {
	// Status is the expected status code; a string form is resolved
	// through the variable context before being parsed
	Status *StatusExpectation `json:"status,omitempty" yaml:"status,omitempty"`

	// Headers maps header names to expected values
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// JSONPath maps path expressions to expected values
	JSONPath map[string]interface{} `json:"jsonpath,omitempty" yaml:"jsonpath,omitempty"`

	// Asserts lists explicit checks with conditions beyond equality
	Asserts []AssertConfig `json:"asserts,omitempty" yaml:"asserts,omitempty"`

	// Schema validates the body (or the SchemaPath sub-document)
	Schema *SchemaRef `json:"schema,omitempty" yaml:"schema,omitempty"`

	// SchemaPath restricts the schema check to a body sub-path
	SchemaPath string `json:"schema_path,omitempty" yaml:"schema_path,omitempty"`
}

// AssertConfig is one explicit check in an expectation's assert list.
// The Headers and JSONPath shorthand maps cover plain equality; this
// form names a condition.
type AssertConfig struct {
	// Source is what to check: "status", "header", "jsonpath" or "body"
	Source string `json:"source" yaml:"source"`

	// Path is the header name or the path expression
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Condition is the comparison: "equals" (default), "exists",
	// "contains", "matches", "is_array" or "min_length"
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Value is the expected value, pattern, or length
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// StatusExpectation is an expected status code declared either as a
// number or as a string that may contain variable references.
type StatusExpectation struct {
	Code int
	Expr string
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StatusExpectation) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return s.set(raw)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *StatusExpectation) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return s.set(raw)
}

func (s *StatusExpectation) set(raw interface{}) error {
	switch v := raw.(type) {
	case int:
		s.Code = v
	case float64:
		s.Code = int(v)
	case string:
		s.Expr = v
	default:
		return fmt.Errorf("status must be a number or a string, got %T", raw)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s StatusExpectation) MarshalJSON() ([]byte, error) {
	if s.Expr != "" {
		return json.Marshal(s.Expr)
	}
	return json.Marshal(s.Code)
}

// SchemaRef names a schema from the suite's schemas block or carries an
// inline schema document.
type SchemaRef struct {
	Name   string
	Inline map[string]interface{}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *SchemaRef) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return s.set(raw)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SchemaRef) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return s.set(raw)
}

func (s *SchemaRef) set(raw interface{}) error {
	switch v := raw.(type) {
	case string:
		s.Name = v
	case map[string]interface{}:
		s.Inline = v
	default:
		return fmt.Errorf("schema must be a name or an inline document, got %T", raw)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s SchemaRef) MarshalJSON() ([]byte, error) {
	if s.Name != "" {
		return json.Marshal(s.Name)
	}
	return json.Marshal(s.Inline)
}

// Dataset points the tests at a CSV file; the header row names the
// variables and each data row produces one run of every test.
type Dataset struct {
	File string `json:"file" yaml:"file"`

	// Parallel overrides the run concurrency for dataset execution
	Parallel int `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// DatasetRow maps variable names to values for one data row.
type DatasetRow map[string]string

// RetryConfig bounds retries for transient failures. The zero value
// means a single attempt with no retries.
type RetryConfig struct {
	// MaxAttempts caps total attempts, including the first
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// Backoff is the delay before the second attempt
	Backoff Duration `json:"backoff,omitempty" yaml:"backoff,omitempty"`

	// Multiplier grows the backoff between subsequent attempts
	Multiplier float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`

	// OnStatus lists response statuses classified as transient.
	// Nothing is listed by default: only transport failures retry.
	OnStatus []int `json:"on_status,omitempty" yaml:"on_status,omitempty"`

	// Assertions opts assertion failures into retries as well
	Assertions bool `json:"assertions,omitempty" yaml:"assertions,omitempty"`
}

const (
	// DefaultBackoff seeds the exponential backoff when unset.
	DefaultBackoff = 200 * time.Millisecond

	// DefaultMultiplier grows the backoff when unset.
	DefaultMultiplier = 2.0

	// DefaultTimeout is the per-request timeout for test runs.
	DefaultTimeout = 30 * time.Second
)

// EffectiveRetry resolves the retry policy for one case: the case's own
// block wins, then the suite default, then nil (single attempt).
func EffectiveRetry(suite *Suite, tc *TestCase) *RetryConfig {
	if tc != nil && tc.Retry != nil {
		return tc.Retry
	}
	if suite != nil {
		return suite.Retry
	}
	return nil
}

// Duration wraps time.Duration for config files. It accepts Go duration
// strings ("30s", "1h30m") and bare numbers, treated as seconds.
type Duration time.Duration

// GetDuration returns the duration or a default if unset.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw interface{}) error {
	switch v := raw.(type) {
	case nil:
		*d = 0
	case string:
		if v == "" || v == "null" {
			*d = 0
			return nil
		}
		dur, err := ParseDurationString(v)
		if err != nil {
			return err
		}
		*d = Duration(dur)
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	default:
		return fmt.Errorf("invalid duration value %v (%T)", raw, raw)
	}
	return nil
}
