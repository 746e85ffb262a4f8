package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_BasicYAML(t *testing.T) {
	path := writeConfigFile(t, `
run:
  test_suite: suite.yaml
  ledger: ledger.json
  model_name: qwen2.5
  variants: ["qwen2.5:q4_0", "qwen2.5:q8_0"]
  base_tag: "qwen2.5:q8_0"
server:
  url: http://localhost:11434
judge:
  model: llama3.1:70b
options:
  num_predict: 256
  context_length: 4096
  temperature: 0.2
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "suite.yaml", cfg.Run.TestSuite)
	assert.Equal(t, []string{"qwen2.5:q4_0", "qwen2.5:q8_0"}, cfg.Run.Variants)
	assert.Equal(t, "qwen2.5:q8_0", cfg.Run.BaseTag)
	assert.Equal(t, "http://localhost:11434", cfg.Server.URL)
	assert.Equal(t, "llama3.1:70b", cfg.Judge.Model)
	assert.Equal(t, 256, cfg.Options.NumPredict)
	assert.Equal(t, 0.2, cfg.Options.Temperature)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
run:
  test_suite: suite.yaml
  ledger: ledger.json
  model_name: qwen2.5
  variants: ["qwen2.5:q4_0"]
server:
  url: http://localhost:11434
options:
  temperature: 0.2
`)

	os.Setenv("OSYNC_OPTIONS__TEMPERATURE", "0.7")
	os.Setenv("OSYNC_SERVER__URL", "http://remote:11434")
	defer func() {
		os.Unsetenv("OSYNC_OPTIONS__TEMPERATURE")
		os.Unsetenv("OSYNC_SERVER__URL")
	}()

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.7, cfg.Options.Temperature)
	assert.Equal(t, "http://remote:11434", cfg.Server.URL)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		expectError bool
	}{
		{
			name: "valid",
			yaml: `
run:
  test_suite: suite.yaml
  ledger: ledger.json
  model_name: qwen2.5
  variants: ["qwen2.5:q4_0"]
server:
  url: http://localhost:11434
`,
			expectError: false,
		},
		{
			name: "missing required variants",
			yaml: `
run:
  test_suite: suite.yaml
  ledger: ledger.json
  model_name: qwen2.5
server:
  url: http://localhost:11434
`,
			expectError: true,
		},
		{
			name: "base tag not in variants",
			yaml: `
run:
  test_suite: suite.yaml
  ledger: ledger.json
  model_name: qwen2.5
  variants: ["qwen2.5:q4_0"]
  base_tag: "qwen2.5:q8_0"
server:
  url: http://localhost:11434
`,
			expectError: true,
		},
		{
			name: "temperature out of range",
			yaml: `
run:
  test_suite: suite.yaml
  ledger: ledger.json
  model_name: qwen2.5
  variants: ["qwen2.5:q4_0"]
server:
  url: http://localhost:11434
options:
  temperature: 5.0
`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.yaml)
			cfg, err := Load(path)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, cfg)
			}
		})
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}
