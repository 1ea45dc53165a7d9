package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestGetDefaults tests that the default configuration is complete and
// passes its own validation
func TestGetDefaults(t *testing.T) {
	cfg := GetDefaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Registry.PatternsFile != "configs/patterns.yaml" {
		t.Errorf("PatternsFile = %q", cfg.Registry.PatternsFile)
	}
	if cfg.Detector.UnitBudget != 2*time.Millisecond {
		t.Errorf("UnitBudget = %s", cfg.Detector.UnitBudget)
	}
	if cfg.Detector.MaxUnitBytes != 64*1024 {
		t.Errorf("MaxUnitBytes = %d", cfg.Detector.MaxUnitBytes)
	}
	if !cfg.Audit.Enabled {
		t.Error("Audit disabled by default")
	}
	if cfg.Cache.Enabled {
		t.Error("Cache enabled by default")
	}
	if cfg.Audit.Database.Enabled || cfg.Audit.NATS.Enabled {
		t.Error("External audit backends enabled by default")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}

	if err := validateConfig(cfg); err != nil {
		t.Errorf("Defaults fail validation: %v", err)
	}
}

// TestValidateConfig tests each validation rule
func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Defaults", func(c *Config) {}, false},
		{"PortZero", func(c *Config) { c.Server.Port = 0 }, true},
		{"PortTooHigh", func(c *Config) { c.Server.Port = 65536 }, true},
		{"NoPatternsFile", func(c *Config) { c.Registry.PatternsFile = "" }, true},
		{"ZeroUnitBudget", func(c *Config) { c.Detector.UnitBudget = 0 }, true},
		{"ZeroMaxUnitBytes", func(c *Config) { c.Detector.MaxUnitBytes = 0 }, true},
		{"CacheWithoutURL", func(c *Config) {
			c.Cache.Enabled = true
			c.Cache.RedisURL = ""
		}, true},
		{"AuditDatabaseWithoutURL", func(c *Config) {
			c.Audit.Database.Enabled = true
			c.Audit.Database.URL = ""
		}, true},
		{"AuditNATSWithoutURL", func(c *Config) {
			c.Audit.NATS.Enabled = true
			c.Audit.NATS.URL = ""
		}, true},
		{"RateLimitWithoutRPS", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.RPS = 0
		}, true},
		{"BadLogLevel", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"BadLogFormat", func(c *Config) { c.Logging.Format = "text" }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := GetDefaults()
			tc.mutate(cfg)
			err := validateConfig(cfg)
			if tc.wantErr && err == nil {
				t.Error("validateConfig accepted an invalid config")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("validateConfig rejected a valid config: %v", err)
			}
		})
	}
}

// TestLoad tests loading from an explicit file with defaults merged in
func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("FileOverrides", func(t *testing.T) {
		path := filepath.Join(dir, "config.yaml")
		content := `server:
  port: 9090
detector:
  max_unit_bytes: 1234
logging:
  level: debug
redaction:
  token_key: file-secret
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("Port = %d, want 9090", cfg.Server.Port)
		}
		if cfg.Detector.MaxUnitBytes != 1234 {
			t.Errorf("MaxUnitBytes = %d, want 1234", cfg.Detector.MaxUnitBytes)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("Level = %q, want debug", cfg.Logging.Level)
		}
		if cfg.Redaction.TokenKey != "file-secret" {
			t.Errorf("TokenKey = %q", cfg.Redaction.TokenKey)
		}

		// Keys absent from the file keep their defaults
		if cfg.Registry.PatternsFile != "configs/patterns.yaml" {
			t.Errorf("PatternsFile = %q", cfg.Registry.PatternsFile)
		}
		if cfg.Detector.UnitBudget != 2*time.Millisecond {
			t.Errorf("UnitBudget = %s", cfg.Detector.UnitBudget)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(dir, "nope.yaml")); err == nil {
			t.Error("Load succeeded with a nonexistent file")
		}
	})

	t.Run("InvalidValues", func(t *testing.T) {
		path := filepath.Join(dir, "bad_values.yaml")
		if err := os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("Load accepted an invalid port")
		}
	})

	t.Run("MalformedYAML", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		if err := os.WriteFile(path, []byte("{{not yaml"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("Load accepted malformed YAML")
		}
	})
}
