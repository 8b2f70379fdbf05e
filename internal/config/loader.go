package config

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadSuite loads a suite file.
//
// The format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// The suite is validated before it is returned; an invalid suite never
// reaches the runner.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}

	suite, err := ParseSuite(data, path)
	if err != nil {
		return nil, err
	}

	if errs := ValidateSuite(suite); len(errs) > 0 {
		return nil, errs[0]
	}

	return suite, nil
}

// ParseSuite parses suite data. The format is determined by the file
// extension in path; unknown or empty extensions try YAML, which also
// accepts JSON input.
func ParseSuite(data []byte, path string) (*Suite, error) {
	var suite Suite

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &suite); err != nil {
			return nil, fmt.Errorf("failed to parse JSON suite: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &suite); err != nil {
			return nil, fmt.Errorf("failed to parse YAML suite: %w", err)
		}
	}

	return &suite, nil
}

// LoadDataset reads a CSV file into dataset rows. The header row names
// the variables; every following row yields one DatasetRow. Short rows
// leave their trailing variables unset rather than failing the load.
func LoadDataset(path string) ([]DatasetRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset %s is empty", path)
	}

	header := records[0]
	rows := make([]DatasetRow, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(DatasetRow, len(header))
		for i, name := range header {
			if i < len(record) {
				row[strings.TrimSpace(name)] = record[i]
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// SchemaJSON resolves a schema reference into the JSON document the
// validator compiles: a named reference is looked up in the suite's
// schemas block, an inline document is serialized as-is.
func SchemaJSON(suite *Suite, ref *SchemaRef) ([]byte, error) {
	if ref == nil {
		return nil, fmt.Errorf("schema reference is nil")
	}

	if ref.Name != "" {
		doc, ok := suite.Schemas[ref.Name]
		if !ok {
			return nil, fmt.Errorf("schema not found: %s", ref.Name)
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to encode schema %s: %w", ref.Name, err)
		}
		return data, nil
	}

	data, err := json.Marshal(ref.Inline)
	if err != nil {
		return nil, fmt.Errorf("failed to encode inline schema: %w", err)
	}
	return data, nil
}

// ParseDurationString parses duration strings like "30s", "5m", "1h",
// plus spelled-out forms like "30 seconds".
func ParseDurationString(duration string) (time.Duration, error) {
	duration = strings.TrimSpace(duration)
	if duration == "" {
		return 0, fmt.Errorf("duration cannot be empty")
	}

	// Try parsing as Go duration
	if d, err := time.ParseDuration(duration); err == nil {
		return d, nil
	}

	// Handle additional formats like "1 minute", "30 seconds"
	duration = strings.ToLower(duration)
	duration = strings.ReplaceAll(duration, " ", "")

	// Plural forms first so "seconds" never degrades to "ss".
	replacements := []struct{ word, abbrev string }{
		{"seconds", "s"},
		{"second", "s"},
		{"minutes", "m"},
		{"minute", "m"},
		{"hours", "h"},
		{"hour", "h"},
	}

	for _, r := range replacements {
		duration = strings.ReplaceAll(duration, r.word, r.abbrev)
	}

	return time.ParseDuration(duration)
}

// GetSuiteDir returns the directory containing the suite file; relative
// dataset paths resolve against it.
func GetSuiteDir(suitePath string) string {
	return filepath.Dir(suitePath)
}
