package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all astronoma client configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Remote services
	API APIConfig `yaml:"api"`

	// Resource cache and batch generation
	Assets AssetsConfig `yaml:"assets"`

	// Duplex event channel
	Channel ChannelConfig `yaml:"channel"`

	// Transition readiness gate
	Gate GateConfig `yaml:"gate"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig locates the universe backend.
type APIConfig struct {
	BaseURL     string `yaml:"base_url"`    // REST endpoints (/health, /universe, /textures)
	ChannelURL  string `yaml:"channel_url"` // websocket endpoint for correlated calls
	HTTPTimeout string `yaml:"http_timeout"`
}

// AssetsConfig configures the resource cache.
type AssetsConfig struct {
	BatchTimeout string `yaml:"batch_timeout"`
	FetchTimeout string `yaml:"fetch_timeout"`
	// MaxEntries bounds the cache; 0 keeps every entry for the process lifetime.
	MaxEntries int `yaml:"max_entries"`
	Width      int `yaml:"width"`
	Height     int `yaml:"height"`
}

// ChannelConfig configures the correlated channel client.
type ChannelConfig struct {
	ConnectTimeout       string `yaml:"connect_timeout"`
	NarrationTimeout     string `yaml:"narration_timeout"`
	ChatTimeout          string `yaml:"chat_timeout"`
	SpeechTimeout        string `yaml:"speech_timeout"`
	TranscriptionTimeout string `yaml:"transcription_timeout"`
	GenerationTimeout    string `yaml:"generation_timeout"`
	ReconnectAttempts    int    `yaml:"reconnect_attempts"`
	ReconnectDelay       string `yaml:"reconnect_delay"`
}

// GateConfig configures transition timing.
type GateConfig struct {
	MinDwell     string `yaml:"min_dwell"`
	DisplayDelay string `yaml:"display_delay"`
	// MaxWait force-completes a transition whose data never arrives.
	MaxWait string `yaml:"max_wait"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "astronoma",
		Version: "1.0.0",

		API: APIConfig{
			BaseURL:     "http://localhost:3000",
			ChannelURL:  "ws://localhost:3000/ws",
			HTTPTimeout: "30s",
		},

		Assets: AssetsConfig{
			BatchTimeout: "15s",
			FetchTimeout: "10s",
			MaxEntries:   0,
			Width:        256,
			Height:       128,
		},

		Channel: ChannelConfig{
			ConnectTimeout:       "5s",
			NarrationTimeout:     "10s",
			ChatTimeout:          "5s",
			SpeechTimeout:        "10s",
			TranscriptionTimeout: "15s",
			GenerationTimeout:    "30s",
			ReconnectAttempts:    3,
			ReconnectDelay:       "1s",
		},

		Gate: GateConfig{
			MinDwell:     "4s",
			DisplayDelay: "500ms",
			MaxWait:      "30s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Defaults if config file doesn't exist
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if u := os.Getenv("ASTRONOMA_API_URL"); u != "" {
		c.API.BaseURL = u
	}
	if u := os.Getenv("ASTRONOMA_WS_URL"); u != "" {
		c.API.ChannelURL = u
	}
	if lvl := os.Getenv("ASTRONOMA_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validateURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("api.channel_url", c.API.ChannelURL, "ws", "wss"); err != nil {
		return err
	}
	if c.Assets.MaxEntries < 0 {
		return fmt.Errorf("assets.max_entries must not be negative (got %d)", c.Assets.MaxEntries)
	}
	if c.Assets.Width <= 0 || c.Assets.Height <= 0 {
		return fmt.Errorf("assets placeholder size must be positive (got %dx%d)", c.Assets.Width, c.Assets.Height)
	}
	if c.Channel.ReconnectAttempts < 0 {
		return fmt.Errorf("channel.reconnect_attempts must not be negative (got %d)", c.Channel.ReconnectAttempts)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (expected scheme %v)", field, raw, schemes)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// GetHTTPTimeout returns the REST client timeout.
func (c *Config) GetHTTPTimeout() time.Duration {
	return parseDuration(c.API.HTTPTimeout, 30*time.Second)
}

// GetBatchTimeout returns the hard budget for one texture batch.
func (c *Config) GetBatchTimeout() time.Duration {
	return parseDuration(c.Assets.BatchTimeout, 15*time.Second)
}

// GetFetchTimeout returns the timeout for fetching a referenced image.
func (c *Config) GetFetchTimeout() time.Duration {
	return parseDuration(c.Assets.FetchTimeout, 10*time.Second)
}

// GetConnectTimeout returns how long a call waits for the lazy connect.
func (c *Config) GetConnectTimeout() time.Duration {
	return parseDuration(c.Channel.ConnectTimeout, 5*time.Second)
}

// GetNarrationTimeout returns the narration call timeout.
func (c *Config) GetNarrationTimeout() time.Duration {
	return parseDuration(c.Channel.NarrationTimeout, 10*time.Second)
}

// GetChatTimeout returns the chat call timeout.
func (c *Config) GetChatTimeout() time.Duration {
	return parseDuration(c.Channel.ChatTimeout, 5*time.Second)
}

// GetSpeechTimeout returns the speech synthesis call timeout.
func (c *Config) GetSpeechTimeout() time.Duration {
	return parseDuration(c.Channel.SpeechTimeout, 10*time.Second)
}

// GetTranscriptionTimeout returns the transcription call timeout.
func (c *Config) GetTranscriptionTimeout() time.Duration {
	return parseDuration(c.Channel.TranscriptionTimeout, 15*time.Second)
}

// GetGenerationTimeout returns the universe generation call timeout.
func (c *Config) GetGenerationTimeout() time.Duration {
	return parseDuration(c.Channel.GenerationTimeout, 30*time.Second)
}

// GetReconnectDelay returns the fixed backoff between reconnect attempts.
func (c *Config) GetReconnectDelay() time.Duration {
	return parseDuration(c.Channel.ReconnectDelay, time.Second)
}

// GetMinDwell returns the minimum transition presentation time.
func (c *Config) GetMinDwell() time.Duration {
	return parseDuration(c.Gate.MinDwell, 4*time.Second)
}

// GetDisplayDelay returns the pause between readiness and completion.
func (c *Config) GetDisplayDelay() time.Duration {
	return parseDuration(c.Gate.DisplayDelay, 500*time.Millisecond)
}

// GetMaxWait returns the bound after which a stalled transition completes
// with an error. Zero disables the bound.
func (c *Config) GetMaxWait() time.Duration {
	return parseDuration(c.Gate.MaxWait, 30*time.Second)
}
