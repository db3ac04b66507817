package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./lesson-engine.sqlite"`
	AudioDir     string `env:"AUDIO_DIR" envDefault:"./recordings"`

	// Local inference backend (Ollama-compatible API on this host).
	LocalURL      string        `env:"LOCAL_BACKEND_URL" envDefault:"http://localhost:11434"`
	LocalModel    string        `env:"LOCAL_MODEL" envDefault:"llama3.2"`
	LocalSTTURL   string        `env:"LOCAL_STT_URL" envDefault:"http://localhost:9000/v1/audio/transcriptions"`
	LocalSTTModel string        `env:"LOCAL_STT_MODEL" envDefault:"Systran/faster-whisper-small"`
	ProbeTimeout  time.Duration `env:"LOCAL_PROBE_TIMEOUT" envDefault:"2s"`
	ContextTokens int64         `env:"LOCAL_CONTEXT_TOKENS" envDefault:"8192"`

	// Cloud fallback (OpenAI-compatible API).
	CloudAPIKey   string `env:"CLOUD_API_KEY"`
	CloudBaseURL  string `env:"CLOUD_BASE_URL"`
	CloudModel    string `env:"CLOUD_MODEL" envDefault:"gpt-4o-mini"`
	CloudSTTModel string `env:"CLOUD_STT_MODEL" envDefault:"whisper-1"`

	// Transcription pipeline limits.
	ChunkSeconds      int   `env:"CHUNK_SECONDS" envDefault:"29"`
	MaxRecordingHours int   `env:"MAX_RECORDING_HOURS" envDefault:"12"`
	MaxCloudUploadMB  int64 `env:"MAX_CLOUD_UPLOAD_MB" envDefault:"100"`

	// Follow-up analysis.
	LocalTokenCeiling int `env:"LOCAL_TOKEN_CEILING" envDefault:"6000"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	DefaultCallLimit int64  `env:"DEFAULT_CALL_LIMIT" envDefault:"50"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile      string
	HTTPAddr     string
	LogLevel     string
	DatabasePath string
	LocalURL     string
	AudioDir     string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabasePath != "" {
		cfg.DatabasePath = overrides.DatabasePath
	}
	if overrides.LocalURL != "" {
		cfg.LocalURL = overrides.LocalURL
	}
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}

	return cfg, nil
}

// MaxRecordingDuration returns the hard cap on total source audio length.
func (c *Config) MaxRecordingDuration() time.Duration {
	return time.Duration(c.MaxRecordingHours) * time.Hour
}

// MaxCloudUploadBytes returns the cloud-path file size ceiling in bytes.
func (c *Config) MaxCloudUploadBytes() int64 {
	return c.MaxCloudUploadMB * 1024 * 1024
}
