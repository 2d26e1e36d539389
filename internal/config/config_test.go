package config

import (
	"testing"
)

// TestDefaults tests the built-in configuration defaults
func TestDefaults(t *testing.T) {
	cfg := GetDefaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Remote.BaseURL == "" {
		t.Error("Remote base URL default is empty")
	}
	if cfg.Upload.MaxFileSize != 50*1024*1024 {
		t.Errorf("MaxFileSize = %d, want 50MB", cfg.Upload.MaxFileSize)
	}
	if len(cfg.Upload.AllowedExtensions) != 5 {
		t.Errorf("AllowedExtensions = %v", cfg.Upload.AllowedExtensions)
	}
	if cfg.Cache.Enabled || cfg.Audit.Enabled {
		t.Error("Optional backends should be disabled by default")
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RequestsPerMin != 120 {
		t.Errorf("RateLimit defaults = %+v", cfg.RateLimit)
	}
	if err := validateConfig(cfg); err != nil {
		t.Errorf("Defaults fail validation: %v", err)
	}
}

// TestValidateConfig tests configuration validation
func TestValidateConfig(t *testing.T) {
	t.Run("InvalidPort", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Server.Port = 0
		if err := validateConfig(cfg); err == nil {
			t.Error("Port 0 accepted")
		}
	})

	t.Run("MissingRemoteURL", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Remote.BaseURL = ""
		if err := validateConfig(cfg); err == nil {
			t.Error("Empty remote base URL accepted")
		}
	})

	t.Run("AuditNeedsDatabaseURL", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Audit.Enabled = true
		cfg.Audit.DatabaseURL = ""
		if err := validateConfig(cfg); err == nil {
			t.Error("Enabled audit without database URL accepted")
		}
	})

	t.Run("InvalidLogLevel", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Logging.Level = "verbose"
		if err := validateConfig(cfg); err == nil {
			t.Error("Unknown log level accepted")
		}
	})

	t.Run("InvalidLogFormat", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Logging.Format = "xml"
		if err := validateConfig(cfg); err == nil {
			t.Error("Unknown log format accepted")
		}
	})
}
