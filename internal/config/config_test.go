package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.LocalURL != "http://localhost:11434" {
			t.Errorf("LocalURL = %q, want http://localhost:11434", cfg.LocalURL)
		}
		if cfg.ChunkSeconds != 29 {
			t.Errorf("ChunkSeconds = %d, want 29", cfg.ChunkSeconds)
		}
		if cfg.MaxRecordingHours != 12 {
			t.Errorf("MaxRecordingHours = %d, want 12", cfg.MaxRecordingHours)
		}
		if cfg.MaxCloudUploadMB != 100 {
			t.Errorf("MaxCloudUploadMB = %d, want 100", cfg.MaxCloudUploadMB)
		}
		if cfg.LocalTokenCeiling != 6000 {
			t.Errorf("LocalTokenCeiling = %d, want 6000", cfg.LocalTokenCeiling)
		}
	})

	t.Run("env_vars", func(t *testing.T) {
		cleanup := setEnvs(t, map[string]string{
			"LOCAL_BACKEND_URL": "http://localhost:9999",
			"CHUNK_SECONDS":     "10",
		})
		defer cleanup()

		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.LocalURL != "http://localhost:9999" {
			t.Errorf("LocalURL = %q, want env value", cfg.LocalURL)
		}
		if cfg.ChunkSeconds != 10 {
			t.Errorf("ChunkSeconds = %d, want 10", cfg.ChunkSeconds)
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cleanup := setEnvs(t, map[string]string{
			"HTTP_ADDR": ":7000",
		})
		defer cleanup()

		cfg, err := Load(Overrides{
			EnvFile:      "nonexistent.env",
			HTTPAddr:     ":9090",
			LogLevel:     "debug",
			DatabasePath: "/tmp/override.sqlite",
			AudioDir:     "/tmp/recordings",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.DatabasePath != "/tmp/override.sqlite" {
			t.Errorf("DatabasePath = %q, want override", cfg.DatabasePath)
		}
		if cfg.AudioDir != "/tmp/recordings" {
			t.Errorf("AudioDir = %q, want /tmp/recordings", cfg.AudioDir)
		}
	})
}

func TestDerivedLimits(t *testing.T) {
	cfg := &Config{MaxRecordingHours: 12, MaxCloudUploadMB: 100}
	if got := cfg.MaxRecordingDuration(); got != 12*time.Hour {
		t.Errorf("MaxRecordingDuration = %v, want 12h", got)
	}
	if got := cfg.MaxCloudUploadBytes(); got != 100*1024*1024 {
		t.Errorf("MaxCloudUploadBytes = %d, want 104857600", got)
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
