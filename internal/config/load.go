package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides (SALESETL_STORAGE_DSN, ...).
const EnvPrefix = "SALESETL"

// Load reads a pipeline document from path, applies SALESETL_* environment
// overrides, expands ${VAR} references in the DSN and fills defaults.
//
// Edge cases:
//   - ".yaml" and ".yml" files are decoded as YAML; anything else as JSON.
//   - An environment variable only overrides a field when it is set.
//
// Errors:
//   - Returns "read config:" or "parse config:" wrapped errors; Load does not
//     validate. Call Validate for that.
func Load(path string) (Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes a pipeline document. ext selects the decoder (".yaml", ".yml"
// or anything else for JSON).
func Parse(data []byte, ext string) (Pipeline, error) {
	var p Pipeline
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Pipeline{}, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &p); err != nil {
			return Pipeline{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &p); err != nil {
		return Pipeline{}, fmt.Errorf("env overrides: %w", err)
	}
	p.Storage.DSN = os.ExpandEnv(p.Storage.DSN)
	p.ApplyDefaults()
	return p, nil
}
