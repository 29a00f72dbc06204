// Package regress is a regression test orchestrator: it selects a set of
// test units, runs them sequentially or in parallel, aggregates the
// outcomes into named result buckets, and reports a verdict with a
// matching process exit code.
package regress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-regress/exitcodes"
	"github.com/ethereum-optimism/infra/op-regress/logging"
	"github.com/ethereum-optimism/infra/op-regress/metrics"
	"github.com/ethereum-optimism/infra/op-regress/registry"
	"github.com/ethereum-optimism/infra/op-regress/results"
	"github.com/ethereum-optimism/infra/op-regress/runner"
	"github.com/ethereum-optimism/infra/op-regress/selection"
	"github.com/ethereum-optimism/infra/op-regress/testlist"
	"github.com/ethereum-optimism/infra/op-regress/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// regress implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &regress{}

// regress wires selection, execution and aggregation together for one run.
type regress struct {
	ctx      context.Context
	config   *Config
	version  string
	registry *registry.Registry
	runID    string

	results  *results.Aggregator
	selected *selection.Selection
	summary  *runner.Summary
	duration time.Duration

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*regress, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating regression runner with config",
		"testDir", config.TestDir,
		"manifest", config.Manifest,
		"workers", config.Workers,
		"rerun", config.Rerun)

	reg, err := registry.NewRegistry(registry.Config{
		Log:          config.Log,
		ManifestFile: config.Manifest,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	return &regress{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		runID:            uuid.New().String(),
		results:          results.NewAggregator(),
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start resolves the selection, runs it, and reports. Start implements the
// cliapp.Lifecycle interface.
func (r *regress) Start(ctx context.Context) error {
	defer func() {
		if rec := recover(); rec != nil {
			r.config.Log.Error("Runtime error occurred", "error", rec)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	r.ctx = ctx
	r.done = make(chan struct{})
	r.running.Store(true)

	r.config.Log.Info("Starting op-regress", "run_id", r.runID, "version", r.version)

	err := r.runTests(ctx)
	if err != nil {
		r.config.Log.Error("Runtime error running tests", "error", err)
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}

	r.printSummary()

	if r.summary.ExitCode != exitcodes.Success {
		return cli.Exit("", r.summary.ExitCode)
	}
	go func() {
		r.shutdownCallback(nil)
	}()
	return nil
}

// runTests performs selection, the run itself, and the post-run artifacts
// (pointer file, failure logs, JUnit report, metrics). Any error is a
// runtime defect, never an ordinary test failure.
func (r *regress) runTests(ctx context.Context) error {
	discoverer := testlist.NewDiscoverer(r.config.TestDir)

	pointerPath := r.config.SingleStepFile
	selected, err := selection.Resolve(selection.Options{
		FromFile:    r.config.FromFile,
		Args:        r.config.TestArgs,
		Exclude:     r.config.Exclude,
		Start:       r.config.Start,
		Randomize:   r.config.Randomize,
		RandomSeed:  r.config.RandSeed,
		SingleStep:  r.config.SingleStep,
		PointerPath: pointerPath,
	}, discoverer, r.config.Log)
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to resolve test selection: %w", err))
	}
	r.selected = selected
	if len(selected.Tests) == 0 {
		r.config.Log.Warn("No tests selected")
	}

	failureLog, err := logging.NewFailureLog(r.config.LogDir, r.runID, r.config.Log)
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create failure log: %w", err))
	}

	executor, err := runner.NewGoTestExecutor(runner.ExecutorConfig{
		WorkDir:    r.config.TestDir,
		GoBinary:   r.config.GoBinary,
		Registry:   r.registry,
		FailureLog: failureLog,
		JUnit:      r.config.JUnitXML != "",
		Log:        r.config.Log,
	})
	if err != nil {
		return NewRuntimeError(err)
	}

	testRunner, err := runner.NewRunner(runner.Config{
		Executor:  executor,
		Results:   r.results,
		Log:       r.config.Log,
		RunID:     r.runID,
		WantRerun: r.config.Rerun,
		FailRerun: r.config.FailRerun,
	})
	if err != nil {
		return NewRuntimeError(err)
	}

	cfg := types.RunConfig{
		Tests:           selected.Tests,
		FailFast:        r.config.FailFast,
		FailEnvChanged:  r.config.FailEnvChanged,
		Forever:         r.config.Forever,
		Randomized:      selected.Randomized,
		RandomSeed:      selected.Seed,
		Timeout:         r.config.Timeout,
		Workers:         r.config.Workers,
		Verbose:         r.config.Verbose,
		OutputOnFailure: r.config.OutputOnFailure,
		MatchFilters:    r.config.MatchFilters,
		IgnoreFilters:   r.config.IgnoreFilters,
		UseResources:    r.config.UseResources,
	}

	start := time.Now()
	summary, err := testRunner.Run(ctx, cfg)
	r.duration = time.Since(start)
	if err != nil {
		return NewRuntimeError(err)
	}
	r.summary = summary

	if cleanupErr := executor.CleanupScratch(); cleanupErr != nil {
		r.config.Log.Warn("Failed to clean up scratch directories", "err", cleanupErr)
	}
	if selected.Pointer != nil {
		if ptrErr := selected.Pointer.Finalize(); ptrErr != nil {
			r.config.Log.Warn("Failed to update single-step pointer file", "err", ptrErr)
		}
	}
	if r.config.JUnitXML != "" {
		if junitErr := r.results.WriteJUnit(r.config.JUnitXML); junitErr != nil {
			return NewRuntimeError(fmt.Errorf("failed to write JUnit report: %w", junitErr))
		}
	}

	metrics.RecordRun(r.runID, summary.Verdict,
		len(r.results.Good)+len(r.results.Bad)+len(r.results.RerunBad),
		len(r.results.Bad)+len(r.results.RerunBad), r.duration)

	r.config.Log.Info("Test run completed",
		"run_id", r.runID, "verdict", summary.Verdict, "exit_code", summary.ExitCode)
	return nil
}

// Stop stops the op-regress service.
// Stop implements the cliapp.Lifecycle interface.
func (r *regress) Stop(ctx context.Context) error {
	r.config.Log.Info("Stopping op-regress")

	if !r.running.Load() {
		r.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	r.running.Store(false)
	close(r.done)

	r.config.Log.Info("op-regress stopped successfully")
	return nil
}

// Stopped returns true if the op-regress service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (r *regress) Stopped() bool {
	return !r.running.Load()
}
