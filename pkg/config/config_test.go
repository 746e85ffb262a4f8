package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Run: RunConfig{
			TestSuite: "suite.yaml",
			Ledger:    "ledger.json",
			ModelName: "qwen2.5",
			Variants:  []string{"qwen2.5:q4_0", "qwen2.5:q8_0"},
			BaseTag:   "qwen2.5:q8_0",
		},
		Server: ServerConfig{URL: "http://localhost:11434"},
	}
}

func TestConfig_Validate_OK(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_BaseTagNotInVariants(t *testing.T) {
	cfg := validConfig()
	cfg.Run.BaseTag = "not-a-variant"
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_BadRequestTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Run.RequestTimeout = "not-a-duration"
	assert.Error(t, cfg.Validate())
}

func TestConfig_RequestTimeout_Default(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 5*time.Minute, cfg.RequestTimeout())
}

func TestConfig_RequestTimeout_Parsed(t *testing.T) {
	cfg := validConfig()
	cfg.Run.RequestTimeout = "90s"
	assert.Equal(t, 90*time.Second, cfg.RequestTimeout())
}
