// Package config is the ambient configuration layer (§6 "Configuration
// inputs"): a typed Config struct loaded via koanf with CLI flag > env var
// > config file > default precedence, validated with struct tags.
package config

import (
	"fmt"
	"time"
)

// Config is the complete, resolved configuration for one benchmark run.
type Config struct {
	Run     RunConfig     `yaml:"run" koanf:"run"`
	Server  ServerConfig  `yaml:"server" koanf:"server"`
	Judge   JudgeConfig   `yaml:"judge" koanf:"judge"`
	Options OptionsConfig `yaml:"options" koanf:"options"`
}

// RunConfig identifies the test suite, ledger, model variants, and the
// model being benchmarked.
type RunConfig struct {
	TestSuite     string   `yaml:"test_suite" koanf:"test_suite" validate:"required"`
	Ledger        string   `yaml:"ledger" koanf:"ledger" validate:"required"`
	ModelName     string   `yaml:"model_name" koanf:"model_name" validate:"required"`
	RepositoryURL string   `yaml:"repository_url,omitempty" koanf:"repository_url"`
	Variants      []string `yaml:"variants" koanf:"variants" validate:"required,min=1"`
	BaseTag       string   `yaml:"base_tag,omitempty" koanf:"base_tag"`

	Mode             string `yaml:"mode,omitempty" koanf:"mode" validate:"omitempty,oneof=serial parallel inflight"`
	JudgeConcurrency int    `yaml:"judge_concurrency,omitempty" koanf:"judge_concurrency" validate:"gte=0"`

	PullOnDemand   bool `yaml:"pull_on_demand,omitempty" koanf:"pull_on_demand"`
	DeleteAfterRun bool `yaml:"delete_after_run,omitempty" koanf:"delete_after_run"`

	// Force re-runs a variant's generation even if the ledger already marks
	// it complete (§4.8 step 7).
	Force bool `yaml:"force,omitempty" koanf:"force"`
	// Rejudge re-scores every question even if a Judgment from the current
	// judge model already exists (§4.7).
	Rejudge bool `yaml:"rejudge,omitempty" koanf:"rejudge"`
	// Verbose raises the default log level to debug, surfacing per-question
	// timing and retry detail that's otherwise suppressed (§6).
	Verbose bool `yaml:"verbose,omitempty" koanf:"verbose"`

	RequestTimeout string `yaml:"request_timeout,omitempty" koanf:"request_timeout"`
}

// ServerConfig points at the inference server under test.
type ServerConfig struct {
	URL string `yaml:"url" koanf:"url" validate:"required"`
}

// JudgeConfig points at the (optional) judge model and server.
type JudgeConfig struct {
	Model string `yaml:"model,omitempty" koanf:"model"`
	URL   string `yaml:"url,omitempty" koanf:"url"`
}

// OptionsConfig holds the generation parameters forwarded to every
// generate/chat call, plus run-wide token/context defaults.
type OptionsConfig struct {
	NumPredict    int `yaml:"num_predict,omitempty" koanf:"num_predict" validate:"gte=0"`
	ContextLength int `yaml:"context_length,omitempty" koanf:"context_length" validate:"gte=0"`

	Temperature      float64 `yaml:"temperature,omitempty" koanf:"temperature" validate:"gte=0,lte=2"`
	Seed             int     `yaml:"seed,omitempty" koanf:"seed"`
	TopP             float64 `yaml:"top_p,omitempty" koanf:"top_p" validate:"gte=0,lte=1"`
	TopK             int     `yaml:"top_k,omitempty" koanf:"top_k" validate:"gte=0"`
	RepeatPenalty    float64 `yaml:"repeat_penalty,omitempty" koanf:"repeat_penalty"`
	FrequencyPenalty float64 `yaml:"frequency_penalty,omitempty" koanf:"frequency_penalty"`

	WithLogprobs bool `yaml:"with_logprobs,omitempty" koanf:"with_logprobs"`
}

// Validate runs the checks that struct tags can't express cleanly: duration
// parsing and the variant-list/base-tag relationship (§6, §7).
func (c *Config) Validate() error {
	if c.Run.RequestTimeout != "" {
		if _, err := time.ParseDuration(c.Run.RequestTimeout); err != nil {
			return fmt.Errorf("run.request_timeout: %w", err)
		}
	}

	if c.Run.BaseTag != "" {
		found := false
		for _, v := range c.Run.Variants {
			if v == c.Run.BaseTag {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("run.base_tag %q is not present in run.variants", c.Run.BaseTag)
		}
	}

	return nil
}

// RequestTimeout parses RunConfig.RequestTimeout, defaulting to 5 minutes
// when unset.
func (c *Config) RequestTimeout() time.Duration {
	if c.Run.RequestTimeout == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(c.Run.RequestTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}
