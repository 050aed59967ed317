// Package config loads pawkit configuration from defaults, a JSON config
// file, and PAWKIT_* environment variables, in increasing precedence.
package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Storage StorageConfig
	Process ProcessConfig
	Upload  UploadConfig
	Pets    PetsConfig
	Log     LogConfig
}

type StorageConfig struct {
	DataDir string
}

// ProcessConfig targets the remote stylization service.
type ProcessConfig struct {
	BaseURL string
}

// UploadConfig targets the signed-URL upload authorities.
type UploadConfig struct {
	AuthorityURL string
	// FallbackURL is optional; empty disables the fallback path.
	FallbackURL string
}

type PetsConfig struct {
	QuotaBytes int
	KeyPrefix  string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Process: ProcessConfig{
			BaseURL: "https://process.inkandpaw.com/api",
		},
		Upload: UploadConfig{
			AuthorityURL: "https://uploads.inkandpaw.com",
		},
		Pets: PetsConfig{
			QuotaBytes: 5 << 20,
			KeyPrefix:  "pawkit:pet:",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "pawkit-data"
		}
	}
	return filepath.Join(dir, "pawkit")
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/pawkit/config.json, then applies PAWKIT_* environment
// overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}
