// Package coverage compares the requests a run actually executed
// against a declared catalog of API operations. Matching is
// structural: /users/42 satisfies the catalog entry /users/{id}
// because the segments line up, not because the strings are equal.
// Calls that match no catalog entry are reported as uncatalogued,
// never silently dropped.
package coverage

import (
	"net/url"
	"sort"
	"strings"
)

// Operation is one declared API operation. An empty status list means
// any status counts as covering the operation.
type Operation struct {
	Method   string `json:"method" yaml:"method"`
	Path     string `json:"path" yaml:"path"`
	Statuses []int  `json:"statuses,omitempty" yaml:"statuses,omitempty"`
}

// Catalog is the declared set of operations a suite should exercise.
type Catalog struct {
	Operations []Operation `json:"operations" yaml:"operations"`
}

// Call is one executed (method, path, status) tuple.
type Call struct {
	Method string `json:"method" yaml:"method"`
	Path   string `json:"path" yaml:"path"`
	Status int    `json:"status" yaml:"status"`
}

// NewCall builds a Call from an executed request. rawURL may be a
// full URL or a bare path.
func NewCall(method, rawURL string, status int) Call {
	path := rawURL
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		path = parsed.Path
	}
	return Call{
		Method: strings.ToUpper(method),
		Path:   NormalizePath(path),
		Status: status,
	}
}

// Entry is the coverage outcome for one catalog operation.
type Entry struct {
	Operation  Operation `json:"operation" yaml:"operation"`
	Hit        bool      `json:"hit" yaml:"hit"`
	Calls      int       `json:"calls" yaml:"calls"`
	Statuses   []int     `json:"statuses,omitempty" yaml:"statuses,omitempty"`
	Missing    []int     `json:"missing,omitempty" yaml:"missing,omitempty"`
	Unexpected []int     `json:"unexpected,omitempty" yaml:"unexpected,omitempty"`
}

// Report is the full coverage result. Total and Covered count
// (operation, declared status) tuples; an operation with no declared
// statuses counts as a single tuple covered by any hit.
type Report struct {
	Entries      []Entry `json:"entries" yaml:"entries"`
	Uncatalogued []Call  `json:"uncatalogued,omitempty" yaml:"uncatalogued,omitempty"`
	Total        int     `json:"total" yaml:"total"`
	Covered      int     `json:"covered" yaml:"covered"`
	Percent      float64 `json:"percent" yaml:"percent"`
}

// Evaluate matches executed calls against the catalog.
func Evaluate(calls []Call, catalog *Catalog) *Report {
	report := &Report{
		Entries: make([]Entry, len(catalog.Operations)),
	}

	observed := make([]map[int]int, len(catalog.Operations))
	for i, op := range catalog.Operations {
		observed[i] = make(map[int]int)
		report.Entries[i].Operation = op
	}

	seen := make(map[Call]bool)
	for _, call := range calls {
		call.Method = strings.ToUpper(call.Method)
		call.Path = NormalizePath(call.Path)

		idx := match(catalog.Operations, call)
		if idx < 0 {
			if !seen[call] {
				seen[call] = true
				report.Uncatalogued = append(report.Uncatalogued, call)
			}
			continue
		}
		observed[idx][call.Status]++
		report.Entries[idx].Calls++
	}

	for i := range report.Entries {
		entry := &report.Entries[i]
		entry.Hit = len(observed[i]) > 0
		for status := range observed[i] {
			entry.Statuses = append(entry.Statuses, status)
		}
		sort.Ints(entry.Statuses)

		declared := entry.Operation.Statuses
		if len(declared) == 0 {
			report.Total++
			if entry.Hit {
				report.Covered++
			}
			continue
		}

		declaredSet := make(map[int]bool, len(declared))
		for _, status := range declared {
			declaredSet[status] = true
			report.Total++
			if _, ok := observed[i][status]; ok {
				report.Covered++
			} else {
				entry.Missing = append(entry.Missing, status)
			}
		}
		for _, status := range entry.Statuses {
			if !declaredSet[status] {
				entry.Unexpected = append(entry.Unexpected, status)
			}
		}
		sort.Ints(entry.Missing)
	}

	if report.Total > 0 {
		report.Percent = float64(report.Covered) / float64(report.Total) * 100
	}
	return report
}

// match returns the index of the catalog operation best matching the
// call, preferring the candidate with the most literal segment
// matches so /users/me beats /users/{id}. Returns -1 when nothing
// matches.
func match(operations []Operation, call Call) int {
	best := -1
	bestScore := -1
	for i, op := range operations {
		if !strings.EqualFold(op.Method, call.Method) {
			continue
		}
		score, ok := pathScore(op.Path, call.Path)
		if !ok {
			continue
		}
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	return best
}

// pathScore matches a concrete path against a template segment by
// segment. A literal segment must be equal; a parameter segment
// ({id} or :id) matches anything. The score is the count of literal
// matches, used to rank overlapping templates.
func pathScore(template, concrete string) (int, bool) {
	tsegs := strings.Split(NormalizePath(template), "/")
	csegs := strings.Split(concrete, "/")
	if len(tsegs) != len(csegs) {
		return 0, false
	}

	score := 0
	for i, tseg := range tsegs {
		if isParam(tseg) {
			continue
		}
		if tseg != csegs[i] {
			return 0, false
		}
		score++
	}
	return score, true
}

func isParam(segment string) bool {
	if strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") {
		return true
	}
	return strings.HasPrefix(segment, ":") && len(segment) > 1
}

// NormalizePath gives paths a canonical shape: a leading slash, no
// trailing slash (except the root), no empty segments.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}
