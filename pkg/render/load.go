package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ParseYAML decodes one or more YAML documents, each holding a run config
func ParseYAML(data []byte) ([]*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var configs []*Config
	for {
		var cfg Config
		err := decoder.Decode(&cfg)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		configs = append(configs, &cfg)
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("no render configs found")
	}
	return configs, nil
}

// ParseJSON decodes a single run config or an array of them
func ParseJSON(data []byte) ([]*Config, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var configs []*Config
		if err := json.Unmarshal(trimmed, &configs); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		for i, c := range configs {
			if c == nil {
				return nil, fmt.Errorf("failed to parse JSON: config %d is null", i)
			}
		}
		return configs, nil
	}

	var cfg Config
	if err := json.Unmarshal(trimmed, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return []*Config{&cfg}, nil
}

// LoadFile reads YAML or JSON configs from disk and anchors relative paths at the file's directory
func LoadFile(path string) ([]*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var configs []*Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		configs, err = ParseYAML(data)
	case ".json":
		configs, err = ParseJSON(data)
	default:
		return nil, fmt.Errorf("%s: unsupported config format", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	SetBaseDir(configs, filepath.Dir(path))
	return configs, nil
}

// SetBaseDir anchors configs without a base directory at dir
func SetBaseDir(configs []*Config, dir string) {
	for _, c := range configs {
		if c.BaseDir == "" {
			c.BaseDir = dir
		}
	}
}
