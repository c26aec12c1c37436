package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("API URL", func(t *testing.T) {
		t.Setenv("ASTRONOMA_API_URL", "https://api.example.test")
		t.Setenv("ASTRONOMA_WS_URL", "")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "https://api.example.test", cfg.API.BaseURL)
		assert.Equal(t, "ws://localhost:3000/ws", cfg.API.ChannelURL)
	})

	t.Run("channel URL", func(t *testing.T) {
		t.Setenv("ASTRONOMA_WS_URL", "wss://api.example.test/ws")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "wss://api.example.test/ws", cfg.API.ChannelURL)
	})

	t.Run("log level", func(t *testing.T) {
		t.Setenv("ASTRONOMA_LOG_LEVEL", "debug")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("empty values leave config untouched", func(t *testing.T) {
		t.Setenv("ASTRONOMA_API_URL", "")
		t.Setenv("ASTRONOMA_WS_URL", "")
		t.Setenv("ASTRONOMA_LOG_LEVEL", "")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, DefaultConfig().API, cfg.API)
		assert.Equal(t, "info", cfg.Logging.Level)
	})
}
