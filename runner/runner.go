// Package runner drives test execution passes: the sequential in-process
// loop, the parallel worker pool, and the automatic rerun of failures in a
// more diagnostic mode.
package runner

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-regress/metrics"
	"github.com/ethereum-optimism/infra/op-regress/results"
	"github.com/ethereum-optimism/infra/op-regress/types"
)

// Executor is the collaborator that runs one test unit in isolation and
// reports a structured outcome. It never returns nil: execution problems are
// expressed as failing outcome states, and a cancelled context yields an
// INTERRUPTED outcome.
type Executor interface {
	Execute(ctx context.Context, name string, cfg *types.RunConfig) *types.TestOutcome
}

// ScratchCleaner is implemented by executors that accumulate per-test
// scratch state. The sequential loop invokes it between tests to bound
// growth; failures are non-fatal.
type ScratchCleaner interface {
	CleanupScratch() error
}

// Pool is the worker-pool collaborator: it executes every test in the
// configuration, delivering exactly one outcome per test to the sink, in any
// order. It must cease dispatch once a qualifying failure is observed under
// fail-fast, and must still report DID_NOT_RUN for dispatched-but-unfinished
// work on early termination.
type Pool interface {
	Run(ctx context.Context, cfg *types.RunConfig, sink func(*types.TestOutcome) error) error
}

// Runner is the orchestration state machine: one mandatory pass plus at most
// one rerun pass, with the final verdict and exit code derived from the
// accumulated results.
type Runner struct {
	executor Executor
	pool     Pool
	results  *results.Aggregator
	log      log.Logger
	runID    string

	wantRerun bool
	failRerun bool
}

// Config holds configuration for creating a new Runner.
type Config struct {
	Executor Executor
	Pool     Pool // optional; defaults to the channel-based worker pool
	Results  *results.Aggregator
	Log      log.Logger
	RunID    string

	// WantRerun enables the automatic rerun pass for failures; FailRerun
	// makes a rerun that happened at all fatal for the exit code.
	WantRerun bool
	FailRerun bool
}

// NewRunner creates a runner. The aggregator is owned by the caller so the
// final summary can be rendered from it after Run returns.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("results aggregator is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Pool == nil {
		cfg.Pool = NewWorkerPool(cfg.Executor, cfg.Log)
	}
	return &Runner{
		executor:  cfg.Executor,
		pool:      cfg.Pool,
		results:   cfg.Results,
		log:       cfg.Log,
		runID:     cfg.RunID,
		wantRerun: cfg.WantRerun,
		failRerun: cfg.FailRerun,
	}, nil
}

// Summary is what one invocation of Run produced.
type Summary struct {
	// FirstConfig and RerunConfig keep both passes inspectable for
	// reporting; RerunConfig is nil when no rerun happened.
	FirstConfig *types.RunConfig
	RerunConfig *types.RunConfig

	// Verdict is the concatenated verdict string; after a rerun it has the
	// form "{first} then {second}".
	Verdict string

	ExitCode int

	// Omitted lists selected tests that never produced an outcome.
	Omitted []string
}

// Run executes the configured pass, triggers the rerun pass when warranted,
// and derives the overall verdict and exit code. Errors returned here are
// fatal defects (an outcome outside the closed state set), never ordinary
// test failures.
func (r *Runner) Run(ctx context.Context, cfg types.RunConfig) (*Summary, error) {
	if err := r.runPass(ctx, &cfg); err != nil {
		return nil, err
	}

	verdict := r.results.State(cfg.FailEnvChanged)
	summary := &Summary{
		FirstConfig: &cfg,
		Verdict:     verdict,
	}

	if r.wantRerun && r.results.NeedRerun() {
		rerunCfg, err := r.rerunFailedTests(ctx, cfg)
		if err != nil {
			return nil, err
		}
		summary.RerunConfig = rerunCfg
		summary.Verdict = fmt.Sprintf("%s then %s", verdict, r.results.State(cfg.FailEnvChanged))

		if failedAgain := r.results.Bad; len(failedAgain) > 0 {
			r.log.Warn("Tests failed again after re-run", "count", len(failedAgain), "tests", failedAgain)
		}
	}

	summary.ExitCode = r.results.ExitCode(cfg.FailEnvChanged, r.failRerun)
	summary.Omitted = r.results.Omitted(cfg.Tests)
	return summary, nil
}

// rerunFailedTests builds and executes the derived rerun pass: restricted to
// the failing subset, always exactly one worker for deterministic low-noise
// diagnostics, verbose, no fail-fast.
func (r *Runner) rerunFailedTests(ctx context.Context, first types.RunConfig) (*types.RunConfig, error) {
	tests, matchFilters := r.results.PrepareRerun()
	rerunCfg := first.Rerun(tests, matchFilters)

	r.log.Info("Re-running failed tests in verbose mode", "count", len(tests))
	if err := r.runPass(ctx, &rerunCfg); err != nil {
		return nil, err
	}
	return &rerunCfg, nil
}

// runPass executes a single pass, sequentially or through the pool.
func (r *Runner) runPass(ctx context.Context, cfg *types.RunConfig) error {
	if cfg.Workers == 0 {
		return r.runSequentially(ctx, cfg)
	}

	r.log.Info("Running tests in parallel", "tests", len(cfg.Tests), "workers", cfg.Workers)
	sink := func(outcome *types.TestOutcome) error {
		return r.accumulate(outcome, cfg)
	}
	for {
		if err := r.pool.Run(ctx, cfg, sink); err != nil {
			return err
		}
		// Cancellation can land before any test is in flight, in which case
		// the pool only reports DID_NOT_RUN outcomes. The interruption itself
		// must still reach the aggregator.
		if ctx.Err() != nil && !r.results.Interrupted {
			interrupted := &types.TestOutcome{State: types.StateInterrupted, Err: ctx.Err()}
			if err := r.accumulate(interrupted, cfg); err != nil {
				return err
			}
		}
		if !cfg.Forever || len(cfg.Tests) == 0 {
			return nil
		}
		if r.stopForever(cfg) {
			return nil
		}
	}
}

// stopForever reports whether an endless pass has hit a stop condition.
func (r *Runner) stopForever(cfg *types.RunConfig) bool {
	if len(r.results.Bad) > 0 || r.results.Interrupted {
		return true
	}
	return cfg.FailEnvChanged && len(r.results.EnvChanged) > 0
}

// runSequentially iterates the selection in order, accumulating each outcome
// and stopping early when the configured policy requires it. With Forever
// set the selection repeats until a stop condition. Between tests the
// executor's scratch state is released best-effort.
func (r *Runner) runSequentially(ctx context.Context, cfg *types.RunConfig) error {
	msg := "Running tests sequentially"
	if cfg.Timeout > 0 {
		msg += fmt.Sprintf(" (timeout: %s)", cfg.Timeout)
	}
	r.log.Info(msg, "tests", len(cfg.Tests))

	for {
		stopped, err := r.runSequence(ctx, cfg)
		if err != nil {
			return err
		}
		if stopped || !cfg.Forever || len(cfg.Tests) == 0 {
			return nil
		}
	}
}

// runSequence runs one iteration over the selection. It reports whether a
// stop condition ended the iteration early.
func (r *Runner) runSequence(ctx context.Context, cfg *types.RunConfig) (bool, error) {
	for i, name := range cfg.Tests {
		outcome := r.executor.Execute(ctx, name, cfg)
		if err := r.accumulate(outcome, cfg); err != nil {
			return true, err
		}

		if cleaner, ok := r.executor.(ScratchCleaner); ok {
			if err := cleaner.CleanupScratch(); err != nil {
				r.log.Debug("Scratch cleanup failed", "err", err)
			}
		}

		if outcome.State == types.StateInterrupted {
			// Cancellation is cooperative: everything not yet dispatched
			// is recorded as never having run, and the pass still renders
			// a best-effort summary.
			if err := r.markDidNotRun(cfg, cfg.Tests[i+1:]); err != nil {
				return true, err
			}
			return true, nil
		}
		if outcome.MustStop(cfg.FailFast, cfg.FailEnvChanged) {
			r.log.Info("Stopping pass early", "test", name, "state", outcome.State.String())
			return true, nil
		}
	}
	return false, nil
}

func (r *Runner) markDidNotRun(cfg *types.RunConfig, names []string) error {
	for _, name := range names {
		outcome := &types.TestOutcome{Name: name, State: types.StateDidNotRun}
		if err := r.accumulate(outcome, cfg); err != nil {
			return err
		}
	}
	return nil
}

// accumulate is the single accumulation point of the invocation: every
// outcome, sequential or pooled, flows through here one at a time.
func (r *Runner) accumulate(outcome *types.TestOutcome, cfg *types.RunConfig) error {
	if err := r.results.Accumulate(outcome, cfg); err != nil {
		// A state outside the closed set signals a defect in the
		// execution layer; abort instead of coercing.
		return fmt.Errorf("aggregation failed: %w", err)
	}
	metrics.RecordOutcome(r.runID, outcome.State, cfg.IsRerun)
	r.logOutcome(outcome, cfg)
	return nil
}

func (r *Runner) logOutcome(outcome *types.TestOutcome, cfg *types.RunConfig) {
	if outcome.Name == "" {
		// A nameless outcome carries only the interruption signal.
		r.log.Warn("Run interrupted", "err", outcome.Err)
		return
	}
	switch {
	case outcome.State == types.StatePassed:
		r.log.Debug("Test passed", "test", outcome.Name, "duration", outcome.Duration)
	case outcome.IsFailed(cfg.FailEnvChanged):
		r.log.Warn("Test failed", "test", outcome.Name, "state", outcome.State.String(), "err", outcome.Err)
	default:
		r.log.Info("Test finished", "test", outcome.Name, "state", outcome.State.String())
	}
}
