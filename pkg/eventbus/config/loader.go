package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a bus settings file and validates it.
//
// Example:
//
//	settings, err := config.Load("eventbus.yaml")
//	if err != nil {
//	    return err
//	}
//	bus, err := eventbus.NewFromSettings(settings)
func Load(path string) (BusSettings, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return BusSettings{}, err
	}
	s := Bus(cfg)
	if err := s.Validate(); err != nil {
		return BusSettings{}, fmt.Errorf("bus settings %s: %w", path, err)
	}
	return s, nil
}

// FromFile loads a bus settings file. The format follows the extension:
// .yaml, .yml or .json.
func FromFile(path string) (Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	parse, ok := parsers[ext]
	if !ok {
		return Config{}, fmt.Errorf("bus settings %s: unsupported extension %q", path, ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read bus settings: %w", err)
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("bus settings %s: %w", path, err)
	}
	return cfg, nil
}

var parsers = map[string]func([]byte) (Config, error){
	".yaml": FromYAML,
	".yml":  FromYAML,
	".json": FromJSON,
}

// FromYAML parses a YAML settings document.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses a JSON settings document.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}
