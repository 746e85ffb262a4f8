package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kongExit struct{ code int }

func TestCLIStructParsing(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "help flag", args: []string{"--help"}},
		{name: "version command", args: []string{"version"}},
		{name: "no command (defaults to help)", args: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cli struct {
				Debug   bool       `help:"Enable debug mode." short:"d"`
				Version VersionCmd `cmd:"" help:"Print version."`
				Help    HelpCmd    `cmd:"" hidden:"" default:"1"`
				Run     RunCmd     `cmd:"" help:"Run benchmark."`
			}

			var stdout bytes.Buffer
			didExit := false
			exitCode := -1

			parser, err := kong.New(&cli,
				kong.Name("osync"),
				kong.Exit(func(code int) {
					didExit = true
					exitCode = code
					panic(kongExit{code: code})
				}),
			)
			require.NoError(t, err)
			parser.Stdout = &stdout
			parser.Stderr = &stdout

			var parseErr error
			func() {
				defer func() {
					if r := recover(); r != nil {
						if _, ok := r.(kongExit); ok {
							return
						}
						panic(r)
					}
				}()
				_, parseErr = parser.Parse(tt.args)
			}()

			assert.NoError(t, parseErr)

			if tt.name == "help flag" {
				assert.True(t, didExit)
				assert.Equal(t, 0, exitCode)
				assert.Contains(t, stdout.String(), "Usage: osync")
			} else {
				assert.False(t, didExit)
			}
		})
	}
}

func TestRunCmdValidate(t *testing.T) {
	tests := []struct {
		name        string
		cmd         RunCmd
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid with variant and model name",
			cmd:         RunCmd{Variant: []string{"qwen2.5:q4_0"}, ModelName: "qwen2.5"},
			expectError: false,
		},
		{
			name:        "missing variant",
			cmd:         RunCmd{ModelName: "qwen2.5"},
			expectError: true,
			errorMsg:    "at least one --variant",
		},
		{
			name:        "missing model name",
			cmd:         RunCmd{Variant: []string{"qwen2.5:q4_0"}},
			expectError: true,
			errorMsg:    "--model-name",
		},
		{
			name:        "config file supplied skips required checks",
			cmd:         RunCmd{ConfigFile: "config.yaml"},
			expectError: false,
		},
		{
			name: "base tag not among variants",
			cmd: RunCmd{
				Variant:   []string{"qwen2.5:q4_0", "qwen2.5:q8_0"},
				ModelName: "qwen2.5",
				BaseTag:   "qwen2.5:q2_k",
			},
			expectError: true,
			errorMsg:    "not among --variant",
		},
		{
			name: "base tag among variants",
			cmd: RunCmd{
				Variant:   []string{"qwen2.5:q4_0", "qwen2.5:q8_0"},
				ModelName: "qwen2.5",
				BaseTag:   "qwen2.5:q8_0",
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.expectError {
				assert.Error(t, err)
				if tt.errorMsg != "" {
					assert.Contains(t, err.Error(), tt.errorMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunCmdFlagParsing(t *testing.T) {
	var cli struct {
		Run RunCmd `cmd:""`
	}

	parser, err := kong.New(&cli,
		kong.Name("osync"),
		kong.Exit(func(int) {}),
	)
	require.NoError(t, err)

	args := []string{
		"run",
		"suite.yaml",
		"--variant", "qwen2.5:q4_0",
		"--variant", "qwen2.5:q8_0",
		"--base-tag", "qwen2.5:q8_0",
		"--model-name", "qwen2.5",
		"--judge-model", "llama3.1:70b",
		"--mode", "parallel",
		"--judge-concurrency", "3",
		"--pull-on-demand",
	}

	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ctx.Command(), "run"))

	assert.Equal(t, "suite.yaml", cli.Run.TestSuite)
	assert.Equal(t, []string{"qwen2.5:q4_0", "qwen2.5:q8_0"}, cli.Run.Variant)
	assert.Equal(t, "qwen2.5:q8_0", cli.Run.BaseTag)
	assert.Equal(t, "qwen2.5", cli.Run.ModelName)
	assert.Equal(t, "llama3.1:70b", cli.Run.JudgeModel)
	assert.Equal(t, "parallel", cli.Run.Mode)
	assert.Equal(t, 3, cli.Run.JudgeConcurrency)
	assert.True(t, cli.Run.PullOnDemand)
}

func TestRunCmdDefaults(t *testing.T) {
	var cli struct {
		Run RunCmd `cmd:""`
	}

	parser, err := kong.New(&cli,
		kong.Name("osync"),
		kong.Exit(func(int) {}),
	)
	require.NoError(t, err)

	args := []string{"run", "suite.yaml", "--variant", "qwen2.5:q4_0", "--model-name", "qwen2.5"}

	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ctx.Command(), "run"))

	assert.Equal(t, "serial", cli.Run.Mode)
	assert.Equal(t, "http://localhost:11434", cli.Run.Server)
	assert.Equal(t, "ledger.json", cli.Run.Ledger)
	assert.Equal(t, 0.8, cli.Run.Temperature)
	assert.Equal(t, 5*time.Minute, cli.Run.RequestTimeout)
}

func TestRunCmdModeEnum(t *testing.T) {
	tests := []struct {
		mode        string
		expectError bool
	}{
		{"serial", false},
		{"parallel", false},
		{"inflight", false},
		{"bogus", true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			var cli struct {
				Run RunCmd `cmd:""`
			}

			parser, err := kong.New(&cli,
				kong.Name("osync"),
				kong.Exit(func(int) {}),
			)
			require.NoError(t, err)

			args := []string{"run", "suite.yaml", "--variant", "v", "--model-name", "m", "--mode", tt.mode}
			_, err = parser.Parse(args)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVersionCmdRun(t *testing.T) {
	cmd := VersionCmd{}
	assert.NoError(t, cmd.Run())
}

func TestHelpCmdRun(t *testing.T) {
	var cli struct {
		Help HelpCmd `cmd:"" hidden:"" default:"1"`
		Run  RunCmd  `cmd:""`
	}

	parser, err := kong.New(&cli,
		kong.Name("osync"),
		kong.Description("Test CLI"),
	)
	require.NoError(t, err)

	ctx, err := parser.Parse([]string{})
	require.NoError(t, err)

	var buf bytes.Buffer
	ctx.Kong.Stdout = &buf

	err = cli.Help.Run(ctx)
	assert.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "osync")
	assert.Contains(t, output, "Test CLI")
}

func TestCompletionCmdRun(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish"} {
		cmd := CompletionCmd{Shell: shell}
		assert.NoError(t, cmd.Run())
	}
}
