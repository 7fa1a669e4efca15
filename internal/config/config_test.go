package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Assistant.APIKey != "${OPENAI_API_KEY}" {
		t.Error("expected openai API key placeholder")
	}
	if cfg.Server.Addr() != "127.0.0.1:8399" {
		t.Errorf("expected default addr 127.0.0.1:8399, got %s", cfg.Server.Addr())
	}
	if cfg.Scheduler.Workers == 0 {
		t.Error("expected a default worker count")
	}
	if cfg.Scheduler.MaxRetries != 3 {
		t.Errorf("expected 3 default retries, got %d", cfg.Scheduler.MaxRetries)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		os.Setenv("TEST_API_KEY", "secret123")
		defer os.Unsetenv("TEST_API_KEY")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestSchedulerDurations(t *testing.T) {
	cfg := SchedulerCfg{
		PollIntervalSeconds:     5,
		StageDelaySeconds:       30,
		RetryDelaySeconds:       10,
		TransportBackoffSeconds: 15,
	}
	if cfg.PollInterval().Seconds() != 5 {
		t.Errorf("poll interval = %s", cfg.PollInterval())
	}
	if cfg.StageDelay().Seconds() != 30 {
		t.Errorf("stage delay = %s", cfg.StageDelay())
	}
	if cfg.RetryDelay().Seconds() != 10 {
		t.Errorf("retry delay = %s", cfg.RetryDelay())
	}
	if cfg.TransportBackoff().Seconds() != 15 {
		t.Errorf("transport backoff = %s", cfg.TransportBackoff())
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := filepath.Join(tmpDir, "config.yaml")

		configContent := `
assistant:
  assistant_id: "asst_from_file"
server:
  port: "9000"
`
		if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Assistant.AssistantID != "asst_from_file" {
			t.Errorf("expected asst_from_file, got %s", cfg.Assistant.AssistantID)
		}
		if cfg.Server.Port != "9000" {
			t.Errorf("expected port 9000, got %s", cfg.Server.Port)
		}
		// Unset keys fall back to defaults.
		if cfg.Database.Path != "folio.db" {
			t.Errorf("expected default database path, got %s", cfg.Database.Path)
		}
	})
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("write default: %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if got := mgr.Get().Assistant.BaseURL; got != DefaultConfig().Assistant.BaseURL {
		t.Errorf("base_url = %s, want default", got)
	}
}
