package cluster

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Load reads one or more config files, merges them in order (later files
// win), applies environment overrides and defaults, and validates the result.
// Any problem is reported as a *ConfigError.
func Load(env EnvOverrides, paths ...string) (*ClusterConfig, error) {
	if len(paths) == 0 {
		return nil, newConfigError("", multierror.Append(nil, errors.New("no config file given")))
	}

	var merged ClusterConfig
	for _, path := range paths {
		cfg, err := ReadFile(path)
		if err != nil {
			return nil, newConfigError(path, multierror.Append(nil, err))
		}
		merged = Merge(merged, cfg)
	}

	if merged.TailscaleEnabled() && env.TailscaleAuthKey != "" {
		merged.TailscaleAuthKey = env.TailscaleAuthKey
	}

	out := ApplyDefaults(merged, env)
	if err := Validate(&out); err != nil {
		var cerr *ConfigError
		if errors.As(err, &cerr) {
			cerr.Source = strings.Join(paths, ", ")
		}
		return nil, err
	}
	return &out, nil
}

// ReadFile decodes a config file without defaulting or validating it.
// The format follows the file extension: .yaml/.yml or .json.
func ReadFile(path string) (ClusterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClusterConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return Parse(data, FormatYAML)
	case ".json":
		return Parse(data, FormatJSON)
	default:
		return ClusterConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Format is a config serialization format
type Format int

const (
	FormatYAML Format = iota
	FormatJSON
)

// Parse decodes raw config bytes
func Parse(data []byte, format Format) (ClusterConfig, error) {
	var cfg ClusterConfig
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&cfg); err != nil {
			return ClusterConfig{}, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return ClusterConfig{}, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return cfg, nil
}

// Marshal renders cfg as YAML
func Marshal(cfg *ClusterConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}
