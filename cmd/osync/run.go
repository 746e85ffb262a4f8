package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mann1x/osync/pkg/config"
	"github.com/mann1x/osync/pkg/inference"
	"github.com/mann1x/osync/pkg/logging"
	"github.com/mann1x/osync/pkg/orchestrator"
	"github.com/mann1x/osync/pkg/scheduler"
)

// listModels prints every model tag currently pulled on the target server,
// the set --variant globs are resolved against.
func listModels(m *ModelsCmd) error {
	client := inference.New(m.Server, 0)
	ctx, cancel := signalContext()
	defer cancel()

	models, err := client.List(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	for _, mi := range models {
		fmt.Printf("%s\t%d\n", mi.Name, mi.Size)
	}
	return nil
}

// runBenchmark merges the config file (if any) with explicit CLI flags, CLI
// flags winning, builds an orchestrator.Config and runs it to completion.
func runBenchmark(r *RunCmd) error {
	cfg, err := resolveConfig(r)
	if err != nil {
		return err
	}

	level := r.LogLevel
	if r.Verbose {
		level = "debug"
	}
	logging.Configure(logging.ParseLevel(level), r.LogFormat, os.Stderr)

	ctx, cancel := signalContext()
	defer cancel()

	o := orchestrator.New(*cfg)
	if err := o.Run(ctx); err != nil {
		return err
	}

	fmt.Println(o.Metrics.Snapshot().String())
	return nil
}

// signalContext returns a context canceled on the first SIGINT/SIGTERM, so a
// run in progress aborts its in-flight request and still saves the ledger
// with every answer completed before it (§7 "Cancellation"). A second signal forces an immediate exit
// without further I/O (§4.8 step 1, §5 "Cancellation"): the ledger save
// triggered by the first signal may never get to run, so nothing further is
// attempted.
func signalContext() (context.Context, context.CancelFunc) {
	raw := make(chan os.Signal, 2)
	signal.Notify(raw, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		select {
		case <-raw:
			cancel()
		case <-done:
			return
		}
		select {
		case <-raw:
			os.Exit(2)
		case <-done:
		}
	}()

	return ctx, func() {
		close(done)
		signal.Stop(raw)
		cancel()
	}
}

// resolveConfig builds an orchestrator.Config, preferring a --config-file's
// values as the base and letting any flag the user actually set on the
// command line override them. Flags that still carry their zero value are
// left to the config file (or its own defaults) to supply. Flags with a
// built-in kong default (server, ledger, temperature, mode,
// judge-concurrency, request-timeout) are never zero, so their flag value
// always wins over the file.
func resolveConfig(r *RunCmd) (*orchestrator.Config, error) {
	var fileCfg config.Config
	if r.ConfigFile != "" {
		loaded, err := config.Load(r.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		fileCfg = *loaded
	}
	if fileCfg.Run.Verbose {
		r.Verbose = true
	}

	testSuite := r.TestSuite
	if testSuite == "" {
		testSuite = fileCfg.Run.TestSuite
	}

	ledgerPath := r.Ledger
	if ledgerPath == "" {
		ledgerPath = fileCfg.Run.Ledger
	}

	variants := r.Variant
	if len(variants) == 0 {
		variants = fileCfg.Run.Variants
	}

	modelName := r.ModelName
	if modelName == "" {
		modelName = fileCfg.Run.ModelName
	}

	baseTag := r.BaseTag
	if baseTag == "" {
		baseTag = fileCfg.Run.BaseTag
	}

	repositoryURL := r.RepositoryURL
	if repositoryURL == "" {
		repositoryURL = fileCfg.Run.RepositoryURL
	}

	serverURL := r.Server
	if serverURL == "" {
		serverURL = fileCfg.Server.URL
	}

	judgeServerURL := r.JudgeServer
	if judgeServerURL == "" {
		judgeServerURL = fileCfg.Judge.URL
	}

	judgeModel := r.JudgeModel
	if judgeModel == "" {
		judgeModel = fileCfg.Judge.Model
	}

	numPredict := r.NumPredict
	if numPredict == 0 {
		numPredict = fileCfg.Options.NumPredict
	}
	contextLength := r.ContextLength
	if contextLength == 0 {
		contextLength = fileCfg.Options.ContextLength
	}

	mode := r.Mode
	if mode == "" {
		mode = fileCfg.Run.Mode
	}
	judgeConcurrency := r.JudgeConcurrency
	if judgeConcurrency == 0 {
		judgeConcurrency = fileCfg.Run.JudgeConcurrency
	}

	requestTimeoutSeconds := int(r.RequestTimeout.Seconds())
	if requestTimeoutSeconds == 0 && fileCfg.Run.RequestTimeout != "" {
		requestTimeoutSeconds = int(fileCfg.RequestTimeout().Seconds())
	}

	gen := inference.Options{
		Temperature:      valueOr(r.Temperature, fileCfg.Options.Temperature),
		Seed:             valueOrInt(r.Seed, fileCfg.Options.Seed),
		TopP:             valueOr(r.TopP, fileCfg.Options.TopP),
		TopK:             valueOrInt(r.TopK, fileCfg.Options.TopK),
		RepeatPenalty:    fileCfg.Options.RepeatPenalty,
		FrequencyPenalty: fileCfg.Options.FrequencyPenalty,
	}

	cfg := &orchestrator.Config{
		TestSuitePath: testSuite,
		LedgerPath:    ledgerPath,
		ModelName:     modelName,
		RepositoryURL: repositoryURL,

		Variants: variants,
		BaseTag:  baseTag,

		ServerURL:      serverURL,
		JudgeServerURL: judgeServerURL,
		JudgeModel:     judgeModel,

		NumPredict:    numPredict,
		ContextLength: contextLength,
		WithLogprobs:  r.WithLogprobs || fileCfg.Options.WithLogprobs,
		Generation:    gen,

		PullOnDemand:   r.PullOnDemand || fileCfg.Run.PullOnDemand,
		DeleteAfterRun: r.DeleteAfterRun || fileCfg.Run.DeleteAfterRun,

		Force:   r.Force || fileCfg.Run.Force,
		Rejudge: r.Rejudge || fileCfg.Run.Rejudge,

		Mode:             scheduler.Mode(modeOrDefault(mode)),
		JudgeConcurrency: judgeConcurrency,

		RequestTimeout: requestTimeoutSeconds,
	}

	if cfg.TestSuitePath == "" {
		return nil, fmt.Errorf("test suite path is required")
	}
	if len(cfg.Variants) == 0 {
		return nil, fmt.Errorf("at least one variant is required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("--model-name is required")
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:11434"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 300
	}

	return cfg, nil
}

func modeOrDefault(m string) string {
	if m == "" {
		return string(scheduler.ModeSerial)
	}
	return m
}

func valueOr(flagVal, fileVal float64) float64 {
	if flagVal != 0 {
		return flagVal
	}
	return fileVal
}

func valueOrInt(flagVal, fileVal int) int {
	if flagVal != 0 {
		return flagVal
	}
	return fileVal
}
