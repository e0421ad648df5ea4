package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "model.source_url", typ: kString, env: "SOLACE_MODEL_SOURCE_URL",
		apply:   func(cfg *Config, v any) { cfg.Model.SourceURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.SourceURL },
	},
	{
		key: "model.dir", typ: kString, env: "SOLACE_MODEL_DIR",
		apply:   func(cfg *Config, v any) { cfg.Model.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Dir },
	},
	{
		key: "model.filename", typ: kString, env: "SOLACE_MODEL_FILENAME",
		apply:   func(cfg *Config, v any) { cfg.Model.Filename = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Filename },
	},
	{
		key: "model.context_window", typ: kInt, env: "SOLACE_MODEL_CONTEXT_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Model.ContextWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Model.ContextWindow },
	},
	{
		key: "model.variant", typ: kString, env: "SOLACE_MODEL_VARIANT",
		apply:   func(cfg *Config, v any) { cfg.Model.Variant = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Variant },
	},
	{
		key: "engine.base_url", typ: kString, env: "SOLACE_ENGINE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.BaseURL },
	},
	{
		key: "engine.server_bin", typ: kString, env: "SOLACE_ENGINE_SERVER_BIN",
		apply:   func(cfg *Config, v any) { cfg.Engine.ServerBin = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.ServerBin },
	},
	{
		key: "server.port", typ: kInt, env: "SOLACE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "history.enabled", typ: kBool, env: "SOLACE_HISTORY_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.History.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.History.Enabled },
	},
	{
		key: "history.data_dir", typ: kString, env: "SOLACE_HISTORY_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.History.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.History.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "SOLACE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
