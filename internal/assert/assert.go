// Package assert evaluates a response against a test case's declared
// expectations. Checks are built once per execution unit, with every
// variable already substituted; evaluation itself is a pure function
// of (checks, response) and performs no substitution or I/O.
package assert

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/volleyhq/volley/internal/config"
	"github.com/volleyhq/volley/internal/http"
	"github.com/volleyhq/volley/pkg/jsonpath"
	"github.com/volleyhq/volley/pkg/jsonschema"
)

// Kind classifies a mismatch. A path that does not exist is a
// different failure than a path that exists with the wrong value.
type Kind int

const (
	// KindNotEqual means the value was present but did not match.
	KindNotEqual Kind = iota
	// KindMissing means the checked element does not exist at all.
	KindMissing
	// KindNotMatched means the value was present but did not satisfy
	// a containment or pattern condition.
	KindNotMatched
	// KindSchemaViolation means the body did not conform to a schema.
	KindSchemaViolation
	// KindBadInput means the response could not be interrogated, for
	// example a path check against a non-JSON body.
	KindBadInput
)

// String returns the name of the mismatch kind.
func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindNotMatched:
		return "not matched"
	case KindSchemaViolation:
		return "schema violation"
	case KindBadInput:
		return "bad input"
	default:
		return "not equal"
	}
}

func parseKind(name string) (Kind, error) {
	switch name {
	case "not equal":
		return KindNotEqual, nil
	case "missing":
		return KindMissing, nil
	case "not matched":
		return KindNotMatched, nil
	case "schema violation":
		return KindSchemaViolation, nil
	case "bad input":
		return KindBadInput, nil
	}
	return KindNotEqual, fmt.Errorf("unknown mismatch kind %q", name)
}

// Kinds serialize by name so reports stay readable.

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := parseKind(name)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k Kind) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

func (k *Kind) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	parsed, err := parseKind(name)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Mode selects the comparison a header or path check applies.
type Mode int

const (
	// ModeEquals compares for equality; the zero value.
	ModeEquals Mode = iota
	// ModeExists only requires the element to be present.
	ModeExists
	// ModeContains requires the value to contain a substring.
	ModeContains
	// ModeMatches requires the value to match a regular expression.
	ModeMatches
	// ModeIsArray requires the value to be a JSON array.
	ModeIsArray
	// ModeMinLength requires an array or string of at least N elements.
	ModeMinLength
)

// ParseMode maps a condition name from suite configuration to a Mode.
// The empty string means equality.
func ParseMode(condition string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(condition)) {
	case "", "eq", "equals":
		return ModeEquals, nil
	case "exists":
		return ModeExists, nil
	case "contains":
		return ModeContains, nil
	case "matches":
		return ModeMatches, nil
	case "is_array", "isarray":
		return ModeIsArray, nil
	case "min_length", "minlength":
		return ModeMinLength, nil
	default:
		return ModeEquals, fmt.Errorf("unknown assert condition %q", condition)
	}
}

// Mismatch is one failed check: what was examined, what was expected,
// and what was actually there.
type Mismatch struct {
	Locator string `json:"locator" yaml:"locator"`
	Kind    Kind   `json:"kind" yaml:"kind"`
	Want    string `json:"want,omitempty" yaml:"want,omitempty"`
	Got     string `json:"got,omitempty" yaml:"got,omitempty"`
}

// String renders the mismatch for display.
func (m Mismatch) String() string {
	if m.Kind == KindMissing {
		return fmt.Sprintf("%s: expected %s, but it is missing", m.Locator, m.Want)
	}
	return fmt.Sprintf("%s: expected %s, got %s", m.Locator, m.Want, m.Got)
}

// Verdict is the result of evaluating all checks against a response.
type Verdict struct {
	Mismatches []Mismatch
}

// Passed reports whether every check held.
func (v Verdict) Passed() bool {
	return len(v.Mismatches) == 0
}

// Summary joins all mismatches into a single line.
func (v Verdict) Summary() string {
	parts := make([]string, len(v.Mismatches))
	for i, m := range v.Mismatches {
		parts[i] = m.String()
	}
	return strings.Join(parts, "; ")
}

// Check is one evaluable expectation. The set of implementations is
// closed; evaluation dispatches on the concrete variant.
type Check interface {
	evaluate(resp *http.Response) []Mismatch
}

// StatusCheck verifies the response status code.
type StatusCheck struct {
	Want int
}

func (c StatusCheck) evaluate(resp *http.Response) []Mismatch {
	if resp.StatusCode == c.Want {
		return nil
	}
	return []Mismatch{{
		Locator: "status",
		Kind:    KindNotEqual,
		Want:    strconv.Itoa(c.Want),
		Got:     strconv.Itoa(resp.StatusCode),
	}}
}

// HeaderCheck verifies a response header. The zero Mode compares for
// equality; ModeExists, ModeContains and ModeMatches relax that.
type HeaderCheck struct {
	Name string
	Mode Mode
	Want string

	pattern *regexp.Regexp
}

func (c HeaderCheck) evaluate(resp *http.Response) []Mismatch {
	locator := fmt.Sprintf("header %q", c.Name)
	values := resp.Headers.Values(c.Name)
	if len(values) == 0 {
		return []Mismatch{{
			Locator: locator,
			Kind:    KindMissing,
			Want:    c.wantDescription(),
			Got:     "(missing)",
		}}
	}

	got := values[0]
	switch c.Mode {
	case ModeExists:
		return nil
	case ModeContains:
		if strings.Contains(got, c.Want) {
			return nil
		}
		return []Mismatch{{
			Locator: locator,
			Kind:    KindNotMatched,
			Want:    c.wantDescription(),
			Got:     got,
		}}
	case ModeMatches:
		pattern, err := c.regexpWant()
		if err != nil {
			return []Mismatch{{
				Locator: locator,
				Kind:    KindBadInput,
				Want:    c.wantDescription(),
				Got:     fmt.Sprintf("(invalid pattern: %v)", err),
			}}
		}
		if pattern.MatchString(got) {
			return nil
		}
		return []Mismatch{{
			Locator: locator,
			Kind:    KindNotMatched,
			Want:    c.wantDescription(),
			Got:     got,
		}}
	default:
		if got == c.Want {
			return nil
		}
		return []Mismatch{{
			Locator: locator,
			Kind:    KindNotEqual,
			Want:    c.Want,
			Got:     got,
		}}
	}
}

func (c HeaderCheck) wantDescription() string {
	switch c.Mode {
	case ModeExists:
		return "a value"
	case ModeContains:
		return fmt.Sprintf("a value containing %q", c.Want)
	case ModeMatches:
		return fmt.Sprintf("a value matching %q", c.Want)
	default:
		return c.Want
	}
}

func (c HeaderCheck) regexpWant() (*regexp.Regexp, error) {
	if c.pattern != nil {
		return c.pattern, nil
	}
	return regexp.Compile(c.Want)
}

// PathCheck verifies the value at a JSONPath expression in the body.
// Under the default equality mode Want holds the expected value in
// its declared type: a numeric expectation only matches a JSON
// number, a boolean only a boolean, null only null. A string
// expectation compares against the rendered value, so "42" still
// matches the number 42. ModeMinLength expects an int Want; the
// length of an array is its element count, of anything else the
// rendered string length.
type PathCheck struct {
	Path string
	Mode Mode
	Want interface{}

	pattern *regexp.Regexp
}

func (c PathCheck) evaluate(resp *http.Response) []Mismatch {
	locator := fmt.Sprintf("jsonpath %q", c.Path)
	body := resp.BodyString()

	if !gjson.Valid(body) {
		return []Mismatch{{
			Locator: locator,
			Kind:    KindBadInput,
			Want:    c.wantDescription(),
			Got:     "(body is not valid JSON)",
		}}
	}

	result, found := jsonpath.Lookup(body, c.Path)
	if !found {
		return []Mismatch{{
			Locator: locator,
			Kind:    KindMissing,
			Want:    c.wantDescription(),
			Got:     "(missing)",
		}}
	}

	switch c.Mode {
	case ModeExists:
		return nil
	case ModeContains:
		got := renderResult(result)
		if strings.Contains(got, renderWant(c.Want)) {
			return nil
		}
		return []Mismatch{{
			Locator: locator,
			Kind:    KindNotMatched,
			Want:    c.wantDescription(),
			Got:     got,
		}}
	case ModeMatches:
		got := renderResult(result)
		pattern, err := c.regexpWant()
		if err != nil {
			return []Mismatch{{
				Locator: locator,
				Kind:    KindBadInput,
				Want:    c.wantDescription(),
				Got:     fmt.Sprintf("(invalid pattern: %v)", err),
			}}
		}
		if pattern.MatchString(got) {
			return nil
		}
		return []Mismatch{{
			Locator: locator,
			Kind:    KindNotMatched,
			Want:    c.wantDescription(),
			Got:     got,
		}}
	case ModeIsArray:
		if result.IsArray() {
			return nil
		}
		return []Mismatch{{
			Locator: locator,
			Kind:    KindNotEqual,
			Want:    "an array",
			Got:     renderResult(result),
		}}
	case ModeMinLength:
		n, err := wantLength(c.Want)
		if err != nil {
			return []Mismatch{{
				Locator: locator,
				Kind:    KindBadInput,
				Want:    "a length bound",
				Got:     fmt.Sprintf("(%v)", err),
			}}
		}
		length := resultLength(result)
		if length >= n {
			return nil
		}
		return []Mismatch{{
			Locator: locator,
			Kind:    KindNotEqual,
			Want:    fmt.Sprintf("length of at least %d", n),
			Got:     fmt.Sprintf("length %d", length),
		}}
	default:
		if valueEqual(c.Want, result) {
			return nil
		}
		return []Mismatch{{
			Locator: locator,
			Kind:    KindNotEqual,
			Want:    renderWant(c.Want),
			Got:     renderResult(result),
		}}
	}
}

func (c PathCheck) wantDescription() string {
	switch c.Mode {
	case ModeExists:
		return "a value"
	case ModeContains:
		return fmt.Sprintf("a value containing %q", renderWant(c.Want))
	case ModeMatches:
		return fmt.Sprintf("a value matching %q", renderWant(c.Want))
	case ModeIsArray:
		return "an array"
	case ModeMinLength:
		if n, err := wantLength(c.Want); err == nil {
			return fmt.Sprintf("length of at least %d", n)
		}
		return "a length bound"
	default:
		return renderWant(c.Want)
	}
}

func (c PathCheck) regexpWant() (*regexp.Regexp, error) {
	if c.pattern != nil {
		return c.pattern, nil
	}
	return regexp.Compile(renderWant(c.Want))
}

// wantLength coerces a min_length expectation into an int.
func wantLength(want interface{}) (int, error) {
	switch w := want.(type) {
	case int:
		return w, nil
	case int64:
		return int(w), nil
	case float64:
		return int(w), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(w))
	default:
		return 0, fmt.Errorf("min_length wants a number, got %T", want)
	}
}

// resultLength is the element count of an array, or the rendered
// string length of anything else.
func resultLength(result gjson.Result) int {
	if result.IsArray() {
		return len(result.Array())
	}
	return len(result.String())
}

// SchemaCheck validates the body, or the value at Path when set,
// against a compiled schema.
type SchemaCheck struct {
	Schema *jsonschema.Schema
	Path   string
}

func (c SchemaCheck) evaluate(resp *http.Response) []Mismatch {
	locator := "schema"
	document := resp.BodyString()

	if c.Path != "" {
		locator = fmt.Sprintf("schema at %q", c.Path)
		if !gjson.Valid(document) {
			return []Mismatch{{
				Locator: locator,
				Kind:    KindBadInput,
				Want:    "a JSON body",
				Got:     "(body is not valid JSON)",
			}}
		}
		result, found := jsonpath.Lookup(document, c.Path)
		if !found {
			return []Mismatch{{
				Locator: locator,
				Kind:    KindMissing,
				Want:    "a value to validate",
				Got:     "(missing)",
			}}
		}
		document = result.Raw
	}

	violations, err := c.Schema.Validate(document)
	if err != nil {
		return []Mismatch{{
			Locator: locator,
			Kind:    KindBadInput,
			Want:    "a JSON body",
			Got:     "(body is not valid JSON)",
		}}
	}

	mismatches := make([]Mismatch, 0, len(violations))
	for _, v := range violations {
		mismatches = append(mismatches, Mismatch{
			Locator: locator,
			Kind:    KindSchemaViolation,
			Want:    "conforming body",
			Got:     v.String(),
		})
	}
	return mismatches
}

// BuildChecks turns an expectation declaration into evaluable checks.
// resolve substitutes variables; it is applied to every templated
// field here so evaluation never sees a placeholder. schemaSource
// returns the schema document for a reference. Errors are
// configuration failures and abort the run before dispatch.
func BuildChecks(expect *config.Expectation, resolve func(string) string, schemaSource func(*config.SchemaRef) ([]byte, error)) ([]Check, error) {
	if expect == nil {
		return nil, nil
	}

	var checks []Check

	if expect.Status != nil {
		code := expect.Status.Code
		if expect.Status.Expr != "" {
			resolved := resolve(expect.Status.Expr)
			parsed, err := strconv.Atoi(strings.TrimSpace(resolved))
			if err != nil {
				return nil, fmt.Errorf("status expectation %q resolves to %q, not a status code", expect.Status.Expr, resolved)
			}
			code = parsed
		}
		checks = append(checks, StatusCheck{Want: code})
	}

	for _, name := range sortedKeys(expect.Headers) {
		checks = append(checks, HeaderCheck{
			Name: name,
			Want: resolve(expect.Headers[name]),
		})
	}

	for _, path := range sortedPathKeys(expect.JSONPath) {
		want := expect.JSONPath[path]
		if s, ok := want.(string); ok {
			want = resolve(s)
		}
		checks = append(checks, PathCheck{
			Path: resolve(path),
			Want: want,
		})
	}

	for i := range expect.Asserts {
		check, err := buildAssert(&expect.Asserts[i], resolve)
		if err != nil {
			return nil, fmt.Errorf("assert %d: %w", i+1, err)
		}
		checks = append(checks, check)
	}

	if expect.Schema != nil {
		document, err := schemaSource(expect.Schema)
		if err != nil {
			return nil, err
		}
		schema, err := jsonschema.Compile(string(document))
		if err != nil {
			return nil, err
		}
		checks = append(checks, SchemaCheck{
			Schema: schema,
			Path:   resolve(expect.SchemaPath),
		})
	}

	return checks, nil
}

// buildAssert maps one explicit assert declaration to a check.
// Patterns compile here so a bad regular expression aborts the run
// instead of failing every evaluation.
func buildAssert(ac *config.AssertConfig, resolve func(string) string) (Check, error) {
	mode, err := ParseMode(ac.Condition)
	if err != nil {
		return nil, err
	}
	path := resolve(ac.Path)
	value := resolve(ac.Value)

	var pattern *regexp.Regexp
	if mode == ModeMatches {
		pattern, err = regexp.Compile(value)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %v", value, err)
		}
	}

	switch strings.ToLower(ac.Source) {
	case "status":
		if mode != ModeEquals {
			return nil, fmt.Errorf("condition %q does not apply to status", ac.Condition)
		}
		code, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("status value %q is not a status code", value)
		}
		return StatusCheck{Want: code}, nil
	case "header":
		if mode == ModeIsArray || mode == ModeMinLength {
			return nil, fmt.Errorf("condition %q does not apply to headers", ac.Condition)
		}
		return HeaderCheck{Name: path, Mode: mode, Want: value, pattern: pattern}, nil
	case "jsonpath", "body":
		check := PathCheck{Path: path, Mode: mode, pattern: pattern}
		if mode == ModeMinLength {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("min_length value %q is not a number", value)
			}
			check.Want = n
		} else {
			check.Want = value
		}
		return check, nil
	default:
		return nil, fmt.Errorf("unknown assert source %q", ac.Source)
	}
}

// Evaluate runs every check against the response. With no checks the
// default expectation applies: any status below 400 passes.
func Evaluate(resp *http.Response, checks []Check) Verdict {
	if len(checks) == 0 {
		if resp.StatusCode < 400 {
			return Verdict{}
		}
		return Verdict{Mismatches: []Mismatch{{
			Locator: "status",
			Kind:    KindNotEqual,
			Want:    "a non-error status",
			Got:     strconv.Itoa(resp.StatusCode),
		}}}
	}

	var mismatches []Mismatch
	for _, check := range checks {
		mismatches = append(mismatches, check.evaluate(resp)...)
	}
	return Verdict{Mismatches: mismatches}
}

// valueEqual compares a declared expectation against an extracted
// JSON value, honoring the expectation's type. Numbers compare
// numerically, booleans as booleans, null only to null; a string
// expectation compares against the rendered value, so "42" matches
// the number 42.
func valueEqual(want interface{}, got gjson.Result) bool {
	switch w := want.(type) {
	case nil:
		return got.Type == gjson.Null
	case bool:
		if got.Type != gjson.True && got.Type != gjson.False {
			return false
		}
		return got.Bool() == w
	case int:
		return got.Type == gjson.Number && got.Num == float64(w)
	case int64:
		return got.Type == gjson.Number && got.Num == float64(w)
	case float64:
		return got.Type == gjson.Number && got.Num == w
	case string:
		if got.Type == gjson.Null {
			return w == "null"
		}
		return got.String() == w
	default:
		// Composite expectations (objects, arrays) compare
		// structurally via a canonical JSON round trip.
		return jsonEqual(w, got.Raw)
	}
}

func jsonEqual(want interface{}, gotRaw string) bool {
	wantJSON, err := json.Marshal(want)
	if err != nil {
		return false
	}
	var wantVal, gotVal interface{}
	if err := json.Unmarshal(wantJSON, &wantVal); err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(gotRaw), &gotVal); err != nil {
		return false
	}
	return reflect.DeepEqual(wantVal, gotVal)
}

func renderWant(want interface{}) string {
	switch w := want.(type) {
	case nil:
		return "null"
	case string:
		return w
	default:
		rendered, err := json.Marshal(want)
		if err != nil {
			return fmt.Sprintf("%v", want)
		}
		return string(rendered)
	}
}

func renderResult(result gjson.Result) string {
	if result.Type == gjson.Null {
		return "null"
	}
	if result.IsObject() || result.IsArray() {
		return result.Raw
	}
	return result.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPathKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
