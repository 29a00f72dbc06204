package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-regress/logging"
	"github.com/ethereum-optimism/infra/op-regress/registry"
	"github.com/ethereum-optimism/infra/op-regress/testlist"
	"github.com/ethereum-optimism/infra/op-regress/types"
)

var _ Executor = (*GoTestExecutor)(nil)
var _ ScratchCleaner = (*GoTestExecutor)(nil)

// DefaultGoBinary is used when no Go binary path is configured.
const DefaultGoBinary = "go"

// extra slack so the child process hits its own timeout before the parent
// context does.
const timeoutSlack = 200 * time.Millisecond

// GoTestExecutor runs one test unit by shelling out to `go test -json` and
// digesting the event stream into a TestOutcome. It is the default
// execution collaborator; the orchestration core only consumes the Executor
// interface.
type GoTestExecutor struct {
	workDir    string
	goBinary   string
	registry   *registry.Registry
	failureLog *logging.FailureLog
	junit      bool
	log        log.Logger
	tracer     trace.Tracer

	scratchMu sync.Mutex
	scratch   []string
}

// ExecutorConfig holds configuration for creating a GoTestExecutor.
type ExecutorConfig struct {
	WorkDir    string
	GoBinary   string
	Registry   *registry.Registry
	FailureLog *logging.FailureLog
	JUnit      bool
	Log        log.Logger
}

// NewGoTestExecutor creates an executor rooted at cfg.WorkDir.
func NewGoTestExecutor(cfg ExecutorConfig) (*GoTestExecutor, error) {
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("work directory is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.GoBinary == "" {
		cfg.GoBinary = DefaultGoBinary
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &GoTestExecutor{
		workDir:    cfg.WorkDir,
		goBinary:   cfg.GoBinary,
		registry:   cfg.Registry,
		failureLog: cfg.FailureLog,
		junit:      cfg.JUnit,
		log:        cfg.Log,
		tracer:     otel.Tracer("test executor"),
	}, nil
}

// Execute runs a single test unit. It never returns nil; every failure mode
// is expressed as an outcome state.
func (e *GoTestExecutor) Execute(ctx context.Context, name string, cfg *types.RunConfig) *types.TestOutcome {
	if ctx.Err() != nil {
		return &types.TestOutcome{Name: name, State: types.StateInterrupted, Err: ctx.Err()}
	}

	req := e.registry.Requirements(name)
	if missing := e.registry.MissingResource(name, cfg.ResourceEnabled); missing != "" {
		e.log.Info("Skipping test, resource not enabled", "test", name, "resource", missing)
		return &types.TestOutcome{
			Name:  name,
			State: types.StateResourceDenied,
			Err:   fmt.Errorf("resource %q is not enabled", missing),
		}
	}

	target, err := e.resolveTarget(req)
	if err != nil {
		return &types.TestOutcome{
			Name:  name,
			State: types.StateUncaughtException,
			Err:   fmt.Errorf("failed to resolve package for %s: %w", name, err),
		}
	}

	timeout := cfg.Timeout
	if req.Timeout != nil {
		timeout = *req.Timeout
	}

	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("test %s", name))
	defer span.End()

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout+timeoutSlack)
		defer cancel()
	}

	before, snapErr := e.snapshotWorkDir()
	if snapErr != nil {
		e.log.Debug("Failed to snapshot work directory", "err", snapErr)
	}

	args := e.buildTestArgs(name, cfg, timeout, target)
	cmd := exec.CommandContext(runCtx, e.goBinary, args...)
	cmd.Dir = e.workDir
	if scratch := e.newScratchDir(); scratch != "" {
		cmd.Env = append(os.Environ(), "TMPDIR="+scratch)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.log.Debug("Running test command", "test", name, "command", cmd.String(), "timeout", timeout)
	start := time.Now()
	runErr := cmd.Run()
	wallClock := time.Since(start)

	if ctx.Err() != nil && runCtx.Err() != context.DeadlineExceeded {
		// The run-wide context was cancelled, not the per-test timer.
		return &types.TestOutcome{Name: name, State: types.StateInterrupted, Err: ctx.Err()}
	}
	if runCtx.Err() == context.DeadlineExceeded {
		outcome := &types.TestOutcome{
			Name:     name,
			State:    types.StateTimeout,
			Duration: wallClock,
			Err:      fmt.Errorf("test timed out after %v", timeout),
		}
		e.finishFailing(outcome, cfg, stdout.String())
		return outcome
	}

	parsed := parseTestOutput(stdout.Bytes(), name)
	outcome := &types.TestOutcome{
		Name:        name,
		State:       parsed.State,
		Duration:    parsed.Duration,
		Stats:       &parsed.Stats,
		RerunFilter: parsed.FailedCases,
	}
	if outcome.Duration == 0 {
		outcome.Duration = wallClock
	}

	if !parsed.valid {
		// The process produced no event stream at all: a crash or
		// compilation failure, not a regular test failure.
		outcome.State = types.StateUncaughtException
		outcome.Err = fmt.Errorf("no test output: %s", firstLine(stderr.String()))
	} else if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && exitErr.ExitCode() == 1 && parsed.State == types.StateFailed {
			outcome.Err = fmt.Errorf("test failed")
		} else if !errors.As(runErr, &exitErr) {
			outcome.State = types.StateUncaughtException
			outcome.Err = fmt.Errorf("failed to run test: %w", runErr)
		} else if parsed.State != types.StateFailed {
			outcome.State = types.StateUncaughtException
			outcome.Err = fmt.Errorf("test runner exited with code %d: %s",
				exitErr.ExitCode(), firstLine(stderr.String()))
		}
	}

	if outcome.State == types.StatePassed && snapErr == nil {
		if leftover := e.leftoverFiles(before); len(leftover) > 0 {
			outcome.State = types.StateEnvChanged
			outcome.Err = fmt.Errorf("test left files behind in work directory: %s",
				strings.Join(leftover, ", "))
		}
	}

	if outcome.IsFailed(true) {
		e.finishFailing(outcome, cfg, parsed.Output)
	}
	if e.junit {
		outcome.XMLFragment = buildJUnitFragment(name, outcome, parsed.Cases)
	}
	return outcome
}

// finishFailing captures a failing outcome's output when the configuration
// asks for it, and records it in the failure log.
func (e *GoTestExecutor) finishFailing(outcome *types.TestOutcome, cfg *types.RunConfig, output string) {
	cleaned := logging.CleanOutput(output)
	if cfg.OutputOnFailure || cfg.Verbose {
		outcome.Output = cleaned
	}
	if e.failureLog != nil {
		e.failureLog.Record(outcome.Name, cleaned)
	}
}

// resolveTarget scopes the go test invocation to the test's declared package
// when the manifest names one, instead of sweeping the whole module tree.
func (e *GoTestExecutor) resolveTarget(req registry.Requirement) (string, error) {
	if req.Package == "" {
		return "./...", nil
	}
	dir, err := testlist.ResolvePackageDir(req.Package, e.workDir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(e.workDir, dir)
	if err != nil {
		return "", err
	}
	return "./" + filepath.ToSlash(rel), nil
}

func (e *GoTestExecutor) buildTestArgs(name string, cfg *types.RunConfig, timeout time.Duration, target string) []string {
	args := []string{"test", target, "-count", "1", "-json"}

	pattern := fmt.Sprintf("^%s$", name)
	if filters := cfg.MatchFiltersFor(name); len(filters) > 0 {
		pattern += fmt.Sprintf("/^(%s)$", strings.Join(filters, "|"))
	}
	args = append(args, "-run", pattern)

	if len(cfg.IgnoreFilters) > 0 {
		args = append(args, "-skip", fmt.Sprintf("^(%s)$", strings.Join(cfg.IgnoreFilters, "|")))
	}
	if timeout > 0 {
		args = append(args, "-timeout", timeout.String())
	}
	if cfg.Verbose {
		args = append(args, "-v")
	}
	return args
}

// snapshotWorkDir records the top-level entries of the work directory so a
// test mutating it can be detected afterwards.
func (e *GoTestExecutor) snapshotWorkDir() (map[string]struct{}, error) {
	entries, err := os.ReadDir(e.workDir)
	if err != nil {
		return nil, err
	}
	snapshot := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		snapshot[entry.Name()] = struct{}{}
	}
	return snapshot, nil
}

func (e *GoTestExecutor) leftoverFiles(before map[string]struct{}) []string {
	after, err := e.snapshotWorkDir()
	if err != nil {
		return nil
	}
	var leftover []string
	for name := range after {
		if _, ok := before[name]; !ok {
			leftover = append(leftover, name)
		}
	}
	sort.Strings(leftover)
	return leftover
}

// newScratchDir creates a private TMPDIR for the child process. The dir is
// retained until CleanupScratch so in-flight artifacts survive the test
// itself.
func (e *GoTestExecutor) newScratchDir() string {
	dir, err := os.MkdirTemp("", "op-regress-scratch-*")
	if err != nil {
		e.log.Debug("Failed to create scratch dir", "err", err)
		return ""
	}
	e.scratchMu.Lock()
	e.scratch = append(e.scratch, dir)
	e.scratchMu.Unlock()
	return dir
}

// CleanupScratch removes accumulated per-test scratch directories. Invoked
// between sequential tests; errors are reported but never fatal.
func (e *GoTestExecutor) CleanupScratch() error {
	e.scratchMu.Lock()
	dirs := e.scratch
	e.scratch = nil
	e.scratchMu.Unlock()

	var errs []error
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
