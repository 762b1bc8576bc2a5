package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice-live service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Remote streaming voice service
	LiveAPIKey            string `envconfig:"LIVE_API_KEY" required:"true"`
	LiveEndpoint          string `envconfig:"LIVE_ENDPOINT" default:"wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"`
	LiveModel             string `envconfig:"LIVE_MODEL" default:"models/gemini-2.5-flash-native-audio-preview-09-2025"`
	LiveVoice             string `envconfig:"LIVE_VOICE" default:"Zephyr"`
	LiveSystemInstruction string `envconfig:"LIVE_SYSTEM_INSTRUCTION" default:""`
	LiveOpenTimeout       int    `envconfig:"LIVE_OPEN_TIMEOUT" default:"15"` // seconds, bounds the setup handshake only

	// Capture configuration
	CaptureBlockSize int `envconfig:"CAPTURE_BLOCK_SIZE" default:"4096"` // samples per block at 16kHz
	CaptureQueueSize int `envconfig:"CAPTURE_QUEUE_SIZE" default:"32"`   // encoded frames waiting for send

	// Software audio devices
	MicSourceFile      string `envconfig:"MIC_SOURCE_FILE" default:""`      // WAV fed as microphone input; silence when empty
	PlaybackRecordFile string `envconfig:"PLAYBACK_RECORD_FILE" default:""` // WAV written with rendered playback; discarded when empty

	// Voice activity telemetry on captured audio
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"0.015"` // RMS of normalized samples
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"3"`       // Quiet blocks before speech end

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Open failures before failing fast
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before allowing a trial open

	// Start a session as soon as the server is up
	AutoStart bool `envconfig:"AUTO_START" default:"false"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot express as tags
func (c *Config) Validate() error {
	if c.LiveAPIKey == "" {
		return fmt.Errorf("LIVE_API_KEY is required")
	}
	if c.CaptureBlockSize <= 0 {
		return fmt.Errorf("CAPTURE_BLOCK_SIZE must be positive, got %d", c.CaptureBlockSize)
	}
	if c.CaptureQueueSize <= 0 {
		return fmt.Errorf("CAPTURE_QUEUE_SIZE must be positive, got %d", c.CaptureQueueSize)
	}
	if c.LiveOpenTimeout <= 0 {
		return fmt.Errorf("LIVE_OPEN_TIMEOUT must be positive, got %d", c.LiveOpenTimeout)
	}
	return nil
}

// OpenTimeout returns the transport handshake bound as a duration
func (c *Config) OpenTimeout() time.Duration {
	return time.Duration(c.LiveOpenTimeout) * time.Second
}
