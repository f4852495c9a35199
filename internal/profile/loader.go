// Package profile loads robot hardware profiles from JSON or YAML.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/efeuentertainment/vigiclient/internal/types"
	"gopkg.in/yaml.v3"
)

type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatOf picks the format from the file extension.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

type Loader struct {
	cache     sync.Map
	validator *Validator
}

func NewLoader() (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{validator: validator}, nil
}

// Load reads and validates the profile at path. Results are cached until
// ClearCache.
func (l *Loader) Load(path string) (*types.Profile, error) {
	if cached, ok := l.cache.Load(path); ok {
		return cached.(*types.Profile), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	p, err := l.Parse(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}

	l.cache.Store(path, p)

	return p, nil
}

// Parse validates and decodes a profile document.
func (l *Loader) Parse(data []byte, format Format) (*types.Profile, error) {
	if format == FormatYAML {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, err
		}
		data = converted
	}

	if err := l.validator.ValidateDocument(data); err != nil {
		return nil, err
	}

	var p types.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	if err := l.validator.ValidateProfile(&p); err != nil {
		return nil, err
	}

	return &p, nil
}

func (l *Loader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}

// yamlToJSON re-encodes a YAML document so both formats share one schema.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML: %w", err)
	}
	return out, nil
}
