package regress

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-regress/flags"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	TestDir         string
	Manifest        string
	GoBinary        string
	FromFile        string
	Start           string
	Exclude         bool // Positional test args name exclusions instead of selections
	TestArgs        []string
	Randomize       bool
	RandSeed        *int64 // nil means draw a fresh seed when randomizing
	SingleStep      bool
	SingleStepFile  string
	FailFast        bool
	FailEnvChanged  bool
	Rerun           bool
	FailRerun       bool
	Forever         bool
	Timeout         time.Duration // Per-test timeout, can be overridden by the manifest
	Workers         int           // 0 = sequential
	Verbose         bool
	OutputOnFailure bool
	MatchFilters    []string
	IgnoreFilters   []string
	UseResources    []string
	JUnitXML        string
	Slowest         bool
	LogDir          string
	Log             log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	testDir := ctx.String(flags.TestDir.Name)
	absTestDir, err := filepath.Abs(testDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for test directory '%s': %w", testDir, err)
	}

	var absManifest string
	if manifest := ctx.String(flags.Manifest.Name); manifest != "" {
		absManifest, err = filepath.Abs(manifest)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for manifest '%s': %w", manifest, err)
		}
	}

	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	matchFilters := ctx.StringSlice(flags.Match.Name)
	if file := ctx.String(flags.MatchFile.Name); file != "" {
		patterns, err := readPatternFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read match file: %w", err)
		}
		matchFilters = append(matchFilters, patterns...)
	}
	ignoreFilters := ctx.StringSlice(flags.Ignore.Name)
	if file := ctx.String(flags.IgnoreFile.Name); file != "" {
		patterns, err := readPatternFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read ignore file: %w", err)
		}
		ignoreFilters = append(ignoreFilters, patterns...)
	}

	randomize := ctx.Bool(flags.Randomize.Name)
	var randSeed *int64
	if ctx.IsSet(flags.RandSeed.Name) && ctx.Int64(flags.RandSeed.Name) >= 0 {
		seed := ctx.Int64(flags.RandSeed.Name)
		randSeed = &seed
		randomize = true
	}

	failFast := ctx.Bool(flags.FailFast.Name)
	forever := ctx.Bool(flags.Forever.Name)
	if forever {
		// Repeating until failure only makes sense if a failure stops the run.
		failFast = true
	}

	workers := ctx.Int(flags.Workers.Name)
	if workers < 0 {
		workers = runtime.NumCPU() + 2
	}

	return &Config{
		TestDir:         absTestDir,
		Manifest:        absManifest,
		GoBinary:        ctx.String(flags.GoBinary.Name),
		FromFile:        ctx.String(flags.FromFile.Name),
		Start:           ctx.String(flags.Start.Name),
		Exclude:         ctx.Bool(flags.Exclude.Name),
		TestArgs:        ctx.Args().Slice(),
		Randomize:       randomize,
		RandSeed:        randSeed,
		SingleStep:      ctx.Bool(flags.SingleStep.Name),
		SingleStepFile:  ctx.String(flags.SingleStepFile.Name),
		FailFast:        failFast,
		FailEnvChanged:  ctx.Bool(flags.FailEnvChanged.Name),
		Rerun:           ctx.Bool(flags.Rerun.Name),
		FailRerun:       ctx.Bool(flags.FailRerun.Name),
		Forever:         forever,
		Timeout:         ctx.Duration(flags.Timeout.Name),
		Workers:         workers,
		Verbose:         ctx.Bool(flags.Verbose.Name),
		OutputOnFailure: ctx.Bool(flags.OutputOnFailure.Name),
		MatchFilters:    matchFilters,
		IgnoreFilters:   ignoreFilters,
		UseResources:    ctx.StringSlice(flags.Use.Name),
		JUnitXML:        ctx.String(flags.JUnitXML.Name),
		Slowest:         ctx.Bool(flags.Slowest.Name),
		LogDir:          logDir,
		Log:             log,
	}, nil
}

// readPatternFile reads one pattern per line, skipping blanks and comments.
func readPatternFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}
