package main

import (
	"fmt"
	"time"

	"github.com/alecthomas/kong"
)

// CLI represents the osync command-line interface.
var CLI struct {
	Debug      bool          `help:"Enable debug logging." short:"d" env:"OSYNC_DEBUG"`
	Version    VersionCmd    `cmd:"" help:"Print version information."`
	Help       HelpCmd       `cmd:"" hidden:"" default:"1"`
	Models     ModelsCmd     `cmd:"" help:"List models available on an Ollama-compatible server."`
	Run        RunCmd        `cmd:"" help:"Benchmark a set of model variants against a test suite."`
	Completion CompletionCmd `cmd:"" help:"Generate shell completion scripts."`
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (v *VersionCmd) Run() error {
	printVersion()
	return nil
}

// HelpCmd prints help.
type HelpCmd struct{}

func (h *HelpCmd) Run(ctx *kong.Context) error {
	// Print top-level help (application help), not help for the implicit Help command.
	appCtx := *ctx
	if len(appCtx.Path) > 1 {
		appCtx.Path = appCtx.Path[:1]
	}
	return appCtx.PrintUsage(false)
}

// ModelsCmd lists the models an Ollama-compatible server currently has
// pulled, the set that --variant globs are matched against.
type ModelsCmd struct {
	Server string `help:"Ollama-compatible server URL." default:"http://localhost:11434" env:"OSYNC_SERVER__URL"`
}

func (m *ModelsCmd) Run() error {
	return listModels(m)
}

// RunCmd drives a benchmark run: every resolved variant is asked the test
// suite's questions, and non-base variants are optionally scored against
// the base variant's answers by a judge model (§4, §6).
type RunCmd struct {
	TestSuite string `arg:"" help:"Path to the test suite YAML file." type:"existingfile"`

	Variant       []string `help:"Model tag to benchmark (repeatable; globs like 'qwen2.5:*' are expanded against the server's model list)." short:"m" name:"variant"`
	BaseTag       string   `help:"Variant whose answers other variants are judged against; a base already marked in the ledger takes precedence, and \"fp16\" is used when neither is set." name:"base-tag"`
	ModelName     string   `help:"Logical model family name recorded in the ledger." name:"model-name"`
	RepositoryURL string   `help:"Source repository URL recorded in the ledger, for provenance." name:"repository-url"`

	Server      string `help:"Ollama-compatible server URL used for generation." default:"http://localhost:11434" env:"OSYNC_SERVER__URL"`
	JudgeServer string `help:"Ollama-compatible server URL used for judging; defaults to --server." name:"judge-server"`
	JudgeModel  string `help:"Judge model tag; when empty, judging is skipped entirely." name:"judge-model" env:"OSYNC_JUDGE__MODEL"`

	Ledger     string `help:"Path to the resumable results ledger JSON file." default:"ledger.json"`
	ConfigFile string `help:"YAML config file supplying values for flags left unset on the command line; flags with a built-in default (server, ledger, temperature, mode, judge-concurrency, request-timeout) always use the flag's value." type:"existingfile" name:"config-file"`

	NumPredict    int  `help:"Override the per-question token generation limit." name:"num-predict"`
	ContextLength int  `help:"Override the context length used for every question." name:"context-length"`
	WithLogprobs  bool `help:"Request per-token logprobs from the server." name:"with-logprobs"`

	Temperature float64 `help:"Sampling temperature." default:"0.8"`
	Seed        int     `help:"Sampling seed; 0 lets the server choose."`
	TopP        float64 `help:"Nucleus sampling top_p." name:"top-p"`
	TopK        int     `help:"Top-k sampling cutoff." name:"top-k"`

	Mode             string `help:"Judgment scheduling mode relative to generation." enum:"serial,parallel,inflight" default:"serial" name:"mode"`
	JudgeConcurrency int    `help:"Max concurrent judge calls." name:"judge-concurrency" default:"1"`

	PullOnDemand   bool `help:"Pull a variant from the server's library when it isn't present locally." name:"pull-on-demand"`
	DeleteAfterRun bool `help:"Delete any on-demand pulled variant once its run completes." name:"delete-after-run"`

	Force   bool `help:"Re-run generation for a variant even if the ledger already marks it complete." name:"force"`
	Rejudge bool `help:"Re-score every question even if a Judgment from the current judge model already exists." name:"rejudge"`

	RequestTimeout time.Duration `help:"Per-request HTTP timeout." name:"request-timeout" default:"5m"`

	LogLevel  string `help:"Log level." enum:"debug,info,warn,error" default:"info" name:"log-level" env:"OSYNC_LOG_LEVEL"`
	LogFormat string `help:"Log output format." enum:"text,json" default:"text" name:"log-format" env:"OSYNC_LOG_FORMAT"`
	Verbose   bool   `help:"Shorthand for --log-level=debug." short:"v"`
}

func (r *RunCmd) Run() error {
	return runBenchmark(r)
}

func (r *RunCmd) Validate() error {
	if r.ConfigFile == "" {
		if len(r.Variant) == 0 {
			return fmt.Errorf("at least one --variant is required (or supply --config-file)")
		}
		if r.ModelName == "" {
			return fmt.Errorf("--model-name is required (or supply --config-file)")
		}
	}
	if r.BaseTag != "" && len(r.Variant) > 0 {
		found := false
		for _, v := range r.Variant {
			if v == r.BaseTag {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("--base-tag %q is not among --variant values", r.BaseTag)
		}
	}
	return nil
}

// CompletionCmd generates shell completion scripts.
type CompletionCmd struct {
	Shell string `arg:"" enum:"bash,zsh,fish" help:"Shell type (bash, zsh, fish)."`
}

func (c *CompletionCmd) Run() error {
	switch c.Shell {
	case "bash":
		fmt.Println("# Bash completion for osync")
		fmt.Println("# Add to ~/.bashrc:")
		fmt.Println("# eval \"$(osync completion bash)\"")
	case "zsh":
		fmt.Println("# Zsh completion for osync")
		fmt.Println("# Add to ~/.zshrc:")
		fmt.Println("# eval \"$(osync completion zsh)\"")
	case "fish":
		fmt.Println("# Fish completion for osync")
		fmt.Println("# Run: osync completion fish | source")
	}
	return nil
}
