// Package jsonpath evaluates JSONPath-style expressions against JSON
// documents by translating them onto gjson's path syntax. Expressions
// without the leading $ are taken to be gjson paths already and pass
// through untouched.
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Lookup resolves path against the document and reports whether the
// path exists. A JSON null exists; callers that need to tell null from
// absent inspect the result's Type.
func Lookup(json, path string) (gjson.Result, bool) {
	result := gjson.Get(json, Translate(path))
	return result, result.Exists()
}

// Extract returns the value at path rendered as a string. A JSON null
// renders as "null"; an absent path is an error.
func Extract(json, path string) (string, error) {
	if json == "" {
		return "", fmt.Errorf("empty JSON document")
	}
	if path == "" {
		return "", fmt.Errorf("empty path expression")
	}

	result, found := Lookup(json, path)
	if !found {
		return "", fmt.Errorf("path not found: %s", path)
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// ExtractMultiple resolves a map of named paths against one document.
// Paths that resolve are returned even when others fail; the error
// lists every path that did not.
func ExtractMultiple(json string, paths map[string]string) (map[string]string, error) {
	if json == "" {
		return nil, fmt.Errorf("empty JSON document")
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no path expressions provided")
	}

	results := make(map[string]string)
	var failed []string
	for name, path := range paths {
		value, err := Extract(json, path)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		results[name] = value
	}

	if len(failed) > 0 {
		return results, fmt.Errorf("extraction errors: %s", strings.Join(failed, "; "))
	}
	return results, nil
}

// bracketForms rewrites JSONPath bracket notation into gjson dots:
// ['name'] and ["name"] become .name, [*] becomes .#, [0] becomes .0.
var bracketForms = strings.NewReplacer(
	"['", ".", "']", "",
	`["`, ".", `"]`, "",
	"[*]", ".#",
	"[", ".", "]", "",
)

// Translate converts a JSONPath expression to gjson syntax. Recursive
// descent ($..) and filters are not supported.
func Translate(path string) string {
	if path == "" || path == "$" {
		return "@this"
	}
	if !strings.HasPrefix(path, "$") {
		return path
	}

	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	path = bracketForms.Replace(path)
	return strings.TrimPrefix(path, ".")
}
