package config

import (
	"testing"
)

// mapBackend is an in-memory Backend for tests.
type mapBackend struct {
	data map[string]any
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (b *mapBackend) SetString(key, val string) error {
	b.data[key] = val
	return nil
}

func (b *mapBackend) SetInt(key string, val int) error {
	b.data[key] = val
	return nil
}

func (b *mapBackend) Delete(key string) error {
	delete(b.data, key)
	return nil
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadWith(&mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Process.BaseURL != "https://process.inkandpaw.com/api" {
		t.Errorf("Process.BaseURL = %q", cfg.Process.BaseURL)
	}
	if cfg.Pets.QuotaBytes != 5<<20 {
		t.Errorf("Pets.QuotaBytes = %d", cfg.Pets.QuotaBytes)
	}
	if cfg.Pets.KeyPrefix != "pawkit:pet:" {
		t.Errorf("Pets.KeyPrefix = %q", cfg.Pets.KeyPrefix)
	}
	if cfg.Upload.FallbackURL != "" {
		t.Errorf("Upload.FallbackURL = %q, want empty", cfg.Upload.FallbackURL)
	}
}

func TestLoad_BackendOverridesDefaults(t *testing.T) {
	cfg, err := loadWith(&mapBackend{data: map[string]any{
		"process.base_url": "http://localhost:9000",
		"pets.quota_bytes": 1024,
	}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Process.BaseURL != "http://localhost:9000" {
		t.Errorf("Process.BaseURL = %q", cfg.Process.BaseURL)
	}
	if cfg.Pets.QuotaBytes != 1024 {
		t.Errorf("Pets.QuotaBytes = %d", cfg.Pets.QuotaBytes)
	}
}

func TestLoad_EnvOverridesBackend(t *testing.T) {
	t.Setenv("PAWKIT_PROCESS_BASE_URL", "http://env-wins:1234")
	t.Setenv("PAWKIT_PETS_QUOTA_BYTES", "2048")

	cfg, err := loadWith(&mapBackend{data: map[string]any{
		"process.base_url": "http://file-value:9000",
		"pets.quota_bytes": 1024,
	}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Process.BaseURL != "http://env-wins:1234" {
		t.Errorf("Process.BaseURL = %q", cfg.Process.BaseURL)
	}
	if cfg.Pets.QuotaBytes != 2048 {
		t.Errorf("Pets.QuotaBytes = %d", cfg.Pets.QuotaBytes)
	}
}

func TestLoad_MalformedEnvIntKeepsDefault(t *testing.T) {
	t.Setenv("PAWKIT_PETS_QUOTA_BYTES", "not-a-number")

	cfg, err := loadWith(&mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Pets.QuotaBytes != 5<<20 {
		t.Errorf("Pets.QuotaBytes = %d, want default", cfg.Pets.QuotaBytes)
	}
}

func TestFileBackend_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetKey("process.base_url", "http://saved:8080"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := SetKey("pets.quota_bytes", "4096"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Process.BaseURL != "http://saved:8080" {
		t.Errorf("Process.BaseURL = %q", cfg.Process.BaseURL)
	}
	if cfg.Pets.QuotaBytes != 4096 {
		t.Errorf("Pets.QuotaBytes = %d", cfg.Pets.QuotaBytes)
	}
}

func TestSetKey_UnknownKey(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetKey("no.such.key", "x"); err == nil {
		t.Fatal("SetKey accepted unknown key")
	}
}

func TestShowAll_CoversEveryKey(t *testing.T) {
	infos := ShowAll(defaults())
	if len(infos) != len(specs) {
		t.Fatalf("ShowAll returned %d keys, specs has %d", len(infos), len(specs))
	}
	for _, info := range infos {
		if info.Key == "" || info.EnvVar == "" {
			t.Errorf("incomplete key info: %+v", info)
		}
	}
}
