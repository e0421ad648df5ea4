package config

import (
	"fmt"
	"strconv"
	"testing"
)

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend map[string]any

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	if !ok {
		return "", false, nil
	}
	return fmt.Sprintf("%v", v), true, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case int:
		return val, true, nil
	case string:
		i, err := strconv.Atoi(val)
		return i, true, err
	default:
		return 0, true, fmt.Errorf("invalid type for %s", key)
	}
}

func (m mapBackend) SetString(key, val string) error  { m[key] = val; return nil }
func (m mapBackend) SetInt(key string, val int) error { m[key] = val; return nil }
func (m mapBackend) Delete(key string) error          { delete(m, key); return nil }

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(mapBackend{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Model.ContextWindow != 2048 {
		t.Errorf("Model.ContextWindow = %d, want 2048", cfg.Model.ContextWindow)
	}
	if cfg.Model.Variant != "full" {
		t.Errorf("Model.Variant = %q, want %q", cfg.Model.Variant, "full")
	}
	if cfg.Model.SourceURL == "" {
		t.Error("Model.SourceURL is empty")
	}
	if cfg.Model.Filename == "" {
		t.Error("Model.Filename is empty")
	}
	if cfg.Engine.ServerBin != "llama-server" {
		t.Errorf("Engine.ServerBin = %q, want %q", cfg.Engine.ServerBin, "llama-server")
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.History.Enabled {
		t.Error("History.Enabled = true by default, want false")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
}

func TestBackendValues(t *testing.T) {
	b := mapBackend{
		"model.context_window": 4096,
		"model.filename":       "custom.gguf",
		"history.enabled":      "true",
		"server.port":          5000,
	}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Model.ContextWindow != 4096 {
		t.Errorf("Model.ContextWindow = %d, want 4096", cfg.Model.ContextWindow)
	}
	if cfg.Model.Filename != "custom.gguf" {
		t.Errorf("Model.Filename = %q, want %q", cfg.Model.Filename, "custom.gguf")
	}
	if !cfg.History.Enabled {
		t.Error("History.Enabled = false, want true")
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
}

func TestEnvOverride(t *testing.T) {
	b := mapBackend{"model.variant": "full"}

	t.Setenv("SOLACE_MODEL_VARIANT", "compact")
	t.Setenv("SOLACE_MODEL_CONTEXT_WINDOW", "1024")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Model.Variant != "compact" {
		t.Errorf("Model.Variant = %q, want env override %q", cfg.Model.Variant, "compact")
	}
	if cfg.Model.ContextWindow != 1024 {
		t.Errorf("Model.ContextWindow = %d, want env override 1024", cfg.Model.ContextWindow)
	}
}

func TestEnvOverride_BadIntKeepsDefault(t *testing.T) {
	t.Setenv("SOLACE_SERVER_PORT", "not-a-port")

	cfg, err := loadWith(mapBackend{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want the default 4000", cfg.Server.Port)
	}
}

func TestShowAll(t *testing.T) {
	cfg, err := loadWith(mapBackend{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	infos := ShowAll(cfg)
	if len(infos) != len(specs) {
		t.Fatalf("ShowAll returned %d keys, want %d", len(infos), len(specs))
	}
	for _, info := range infos {
		if info.Key == "" || info.EnvVar == "" {
			t.Errorf("incomplete key info: %+v", info)
		}
	}
}

func TestValidKeys(t *testing.T) {
	keys := ValidKeys()
	if len(keys) != len(specs) {
		t.Fatalf("ValidKeys returned %d keys, want %d", len(keys), len(specs))
	}
	seen := map[string]bool{}
	for _, k := range keys {
		if seen[k] {
			t.Errorf("duplicate key %q", k)
		}
		seen[k] = true
	}
	if !seen["model.source_url"] || !seen["log.level"] {
		t.Errorf("expected keys missing from %v", keys)
	}
}
