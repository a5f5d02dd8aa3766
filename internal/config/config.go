package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported remote speech services.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Supported audio hosts.
const (
	HostRich        = "rich"
	HostConstrained = "constrained"
)

// VoiceConfig stores the session pipeline settings.
type VoiceConfig struct {
	Provider string `yaml:"provider"` // "gemini" or "openai"
	Host     string `yaml:"host"`     // "rich" or "constrained"

	GuardOffset         time.Duration `yaml:"guard_offset"`
	Tick                time.Duration `yaml:"tick"`
	CaptureFrameSamples int           `yaml:"capture_frame_samples"`
	CaptureQueueSize    int           `yaml:"capture_queue_size"`
	PlaybackQueueSize   int           `yaml:"playback_queue_size"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`

	MaxSessionLength  time.Duration `yaml:"max_session_length"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	HistorySize       int           `yaml:"history_size"`

	AutoStart bool `yaml:"auto_start"` // start a session when the app starts
}

// GeminiConfig stores Gemini Live specific configurations.
type GeminiConfig struct {
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Voice             string        `yaml:"voice"`
	BaseURL           string        `yaml:"base_url"`
	SystemInstruction string        `yaml:"system_instruction"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// OpenAIConfig stores OpenAI specific configurations.
type OpenAIConfig struct {
	APIKey                  string `yaml:"api_key"`
	Model                   string `yaml:"model"`
	Voice                   string `yaml:"voice"`
	Instructions            string `yaml:"instructions"`
	InputAudioTranscription bool   `yaml:"input_audio_transcription"`
	PricingFile             string `yaml:"pricing_file"` // optional models.json for cost estimates
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the HTTP listener
	Path string `yaml:"path"`
}

// Config stores the application configuration.
type Config struct {
	Voice    VoiceConfig   `yaml:"voice"`
	Gemini   GeminiConfig  `yaml:"gemini"`
	OpenAI   OpenAIConfig  `yaml:"openai"`
	Metrics  MetricsConfig `yaml:"metrics"`
	LogLevel string        `yaml:"log_level"`
}

// LoadConfig loads the configuration from the given file path. Values of the
// form ${NAME} are expanded from the environment before parsing.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg)
	if err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	v := &c.Voice
	if v.Provider == "" {
		v.Provider = ProviderGemini
	}
	if v.Host == "" {
		v.Host = HostRich
	}
	if v.GuardOffset == 0 {
		v.GuardOffset = 50 * time.Millisecond
	}
	if v.Tick == 0 {
		v.Tick = 20 * time.Millisecond
	}
	if v.CaptureFrameSamples == 0 {
		v.CaptureFrameSamples = 4096
	}
	if v.CaptureQueueSize == 0 {
		v.CaptureQueueSize = 32
	}
	if v.PlaybackQueueSize == 0 {
		v.PlaybackQueueSize = 256
	}
	if v.ConnectTimeout == 0 {
		v.ConnectTimeout = 10 * time.Second
	}
	if v.DisconnectTimeout == 0 {
		v.DisconnectTimeout = 2 * time.Second
	}
	if v.DrainTimeout == 0 {
		v.DrainTimeout = 5 * time.Second
	}
	if v.MaxSessionLength == 0 {
		v.MaxSessionLength = 30 * time.Minute
	}
	if v.InactivityTimeout == 0 {
		v.InactivityTimeout = 5 * time.Minute
	}
	if v.HistorySize == 0 {
		v.HistorySize = 50
	}

	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.0-flash-live-001"
	}
	if c.Gemini.Voice == "" {
		c.Gemini.Voice = "Puck"
	}
	if c.Gemini.KeepaliveInterval == 0 {
		c.Gemini.KeepaliveInterval = 30 * time.Second
	}

	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-realtime-preview"
	}
	if c.OpenAI.Voice == "" {
		c.OpenAI.Voice = "shimmer"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	v := c.Voice
	switch v.Provider {
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			return errors.New("gemini.api_key is required when voice.provider is gemini")
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return errors.New("openai.api_key is required when voice.provider is openai")
		}
	default:
		return fmt.Errorf("unknown voice.provider %q", v.Provider)
	}

	switch v.Host {
	case HostRich, HostConstrained:
	default:
		return fmt.Errorf("unknown voice.host %q", v.Host)
	}

	if v.GuardOffset < 0 {
		return errors.New("voice.guard_offset must not be negative")
	}
	if v.Tick <= 0 {
		return errors.New("voice.tick must be positive")
	}
	if v.CaptureFrameSamples <= 0 {
		return errors.New("voice.capture_frame_samples must be positive")
	}
	if v.ConnectTimeout <= 0 || v.DisconnectTimeout <= 0 || v.DrainTimeout <= 0 {
		return errors.New("voice timeouts must be positive")
	}
	if v.HistorySize < 0 {
		return errors.New("voice.history_size must not be negative")
	}

	return nil
}
