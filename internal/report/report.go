// Package report renders run and performance results into machine
// formats for CI consumption, and reads run reports back for coverage
// evaluation.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/volleyhq/volley/internal/loadgen"
	"github.com/volleyhq/volley/internal/runner"
)

// Format identifies a report format.
type Format string

const (
	// FormatJSON is the canonical machine format; coverage can read
	// it back.
	FormatJSON Format = "json"
	// FormatYAML mirrors the JSON structure.
	FormatYAML Format = "yaml"
	// FormatJUnit is JUnit XML for CI test ingestion.
	FormatJUnit Format = "junit"
)

// ParseFormat resolves a format name, case-insensitively.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "junit", "xml":
		return FormatJUnit, nil
	}
	return "", fmt.Errorf("unknown report format %q (want json, yaml or junit)", name)
}

// WriteRun renders a test run result to w.
func WriteRun(w io.Writer, format Format, result *runner.RunResult) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatYAML:
		return writeYAML(w, result)
	case FormatJUnit:
		return writeJUnit(w, runJUnit(result))
	}
	return fmt.Errorf("unknown report format %q", format)
}

// WritePerformance renders a performance result to w.
func WritePerformance(w io.Writer, format Format, result *loadgen.PerformanceResult) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatYAML:
		return writeYAML(w, result)
	case FormatJUnit:
		return writeJUnit(w, performanceJUnit(result))
	}
	return fmt.Errorf("unknown report format %q", format)
}

// ReadRun parses a JSON run report as written by WriteRun.
func ReadRun(r io.Reader) (*runner.RunResult, error) {
	var result runner.RunResult
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, fmt.Errorf("parsing run report: %w", err)
	}
	if result.ID == "" || result.Suite == "" {
		return nil, fmt.Errorf("parsing run report: not a run report (missing id or suite)")
	}
	return &result, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("rendering json report: %w", err)
	}
	out = append(out, '\n')
	_, err = w.Write(out)
	return err
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("rendering yaml report: %w", err)
	}
	return enc.Close()
}
