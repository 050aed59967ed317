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
		key: "storage.data_dir", typ: kString, env: "PAWKIT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "process.base_url", typ: kString, env: "PAWKIT_PROCESS_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Process.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Process.BaseURL },
	},
	{
		key: "upload.authority_url", typ: kString, env: "PAWKIT_UPLOAD_AUTHORITY_URL",
		apply:   func(cfg *Config, v any) { cfg.Upload.AuthorityURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Upload.AuthorityURL },
	},
	{
		key: "upload.fallback_url", typ: kString, env: "PAWKIT_UPLOAD_FALLBACK_URL",
		apply:   func(cfg *Config, v any) { cfg.Upload.FallbackURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Upload.FallbackURL },
	},
	{
		key: "pets.quota_bytes", typ: kInt, env: "PAWKIT_PETS_QUOTA_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Pets.QuotaBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Pets.QuotaBytes },
	},
	{
		key: "pets.key_prefix", typ: kString, env: "PAWKIT_PETS_KEY_PREFIX",
		apply:   func(cfg *Config, v any) { cfg.Pets.KeyPrefix = v.(string) },
		extract: func(cfg Config) any { return cfg.Pets.KeyPrefix },
	},
	{
		key: "log.level", typ: kString, env: "PAWKIT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
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
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
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
		}
	}
}
