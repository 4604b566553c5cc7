package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type file struct {
	Personas []Persona `yaml:"personas"`
}

// LoadFile reads persona overrides from a YAML file. A missing file yields
// no overrides.
func LoadFile(path string) ([]Persona, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	return LoadYAML(data)
}

// LoadYAML parses a document of the form `personas: [...]` and validates
// every entry.
func LoadYAML(data []byte) ([]Persona, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse persona YAML: %w", err)
	}
	seen := make(map[string]bool, len(f.Personas))
	for _, p := range f.Personas {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid persona configuration: %w", err)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("invalid persona configuration: duplicate id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return f.Personas, nil
}
