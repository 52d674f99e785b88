package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// Load builds a validated configuration: defaults, then the file at path
// (if any), then CMDRELAY_* environment overrides.
func Load(path string) (*Config, error) {
	cfg, err := LoadUnvalidated(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadUnvalidated is Load without Validate, for callers that only need
// part of the configuration.
func LoadUnvalidated(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, err
		}
		if err := decodeRawConfig(raw, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any CMDRELAY_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// LoadRaw reads a configuration file into a merged raw map, resolving $include directives.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	seen := map[string]bool{}
	return loadRawRecursive(path, seen)
}

// Included files are merged first, so the including file wins.
func loadRawRecursive(path string, seen map[string]bool) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[absPath] {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	seen[absPath] = true
	defer delete(seen, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	raw, err := parseRawBytes([]byte(os.ExpandEnv(string(data))), absPath)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(absPath), err)
	}

	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	baseDir := filepath.Dir(absPath)
	for _, inc := range includes {
		if strings.TrimSpace(inc) == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(baseDir, inc)
		}
		incRaw, err := loadRawRecursive(inc, seen)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, incRaw)
	}

	return mergeMaps(merged, raw), nil
}

func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	switch strings.ToLower(filepath.Ext(pathHint)) {
	case ".json", ".json5":
		decoder := json5.NewDecoder(bytes.NewReader(data))
		decoder.UseNumber()
		var raw map[string]any
		if err := decoder.Decode(&raw); err != nil {
			return nil, err
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return normalizeNumbers(raw).(map[string]any), nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil && err != io.EOF {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("expected single document")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// normalizeNumbers turns json5.Number into int64 or float64 so snowflake
// IDs above 2^53 survive decoding.
func normalizeNumbers(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		for key, value := range typed {
			typed[key] = normalizeNumbers(value)
		}
		return typed
	case []any:
		for i, value := range typed {
			typed[i] = normalizeNumbers(value)
		}
		return typed
	case json5.Number:
		if n, err := typed.Int64(); err == nil {
			return n
		}
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	default:
		return v
	}
}

func extractIncludes(raw map[string]any) ([]string, error) {
	includeVal, ok := raw[includeKey]
	if !ok {
		return nil, nil
	}
	delete(raw, includeKey)

	switch typed := includeVal.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{typed}, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			value, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings", includeKey)
			}
			paths = append(paths, value)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("%s must be a string or list of strings", includeKey)
	}
}

func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

// decodeRawConfig decodes raw onto cfg, keeping values for absent keys and
// rejecting unknown ones.
func decodeRawConfig(raw map[string]any, cfg *Config) error {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}
