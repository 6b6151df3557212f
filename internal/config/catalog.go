package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultModels is used when no catalog file exists.
var DefaultModels = []string{"hunyuan-a13b", "hunyuan-standard", "hunyuan-pro"}

// LoadModels reads the list of selectable model names from path. The file is
// a JSON or YAML array of strings. A missing, unreadable or malformed file
// falls back to DefaultModels; the error explains why, except when the file
// simply does not exist.
func LoadModels(path string) ([]string, error) {
	fallback := append([]string(nil), DefaultModels...)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("failed to read model catalog: %w", err)
	}

	var names []string
	if err := yaml.Unmarshal(data, &names); err != nil {
		return fallback, fmt.Errorf("model catalog %s must be an array of strings: %w", path, err)
	}
	if len(names) == 0 {
		return fallback, fmt.Errorf("model catalog %s is empty", path)
	}
	for i, n := range names {
		if n == "" {
			return fallback, fmt.Errorf("model catalog %s: entry %d is empty", path, i)
		}
	}
	return names, nil
}
