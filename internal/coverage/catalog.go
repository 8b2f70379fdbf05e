package coverage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadCatalog reads an operation catalog from a YAML (or JSON) file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	if len(catalog.Operations) == 0 {
		return nil, fmt.Errorf("catalog %s declares no operations", path)
	}
	for i, op := range catalog.Operations {
		if op.Method == "" {
			return nil, fmt.Errorf("catalog operation %d has no method", i)
		}
		if op.Path == "" {
			return nil, fmt.Errorf("catalog operation %d has no path", i)
		}
		for _, status := range op.Statuses {
			if status < 100 || status > 599 {
				return nil, fmt.Errorf("catalog operation %d declares invalid status %d", i, status)
			}
		}
	}
	return &catalog, nil
}
