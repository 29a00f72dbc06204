// Package results collects per-test outcomes into disjoint buckets and
// derives the overall verdict and exit code of a run.
package results

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-regress/exitcodes"
	"github.com/ethereum-optimism/infra/op-regress/types"
)

// Verdict labels, concatenated in order into the final verdict string.
const (
	VerdictFailure     = "FAILURE"
	VerdictEnvChanged  = "ENV CHANGED"
	VerdictNoTestsRan  = "NO TESTS RAN"
	VerdictInterrupted = "INTERRUPTED"
	VerdictSuccess     = "SUCCESS"
)

// TestTime pairs a test name with its execution duration, for the
// slowest-tests report.
type TestTime struct {
	Duration time.Duration
	Name     string
}

// Aggregator ingests one outcome at a time and bucket-sorts test names by
// state. A name lands in exactly one bucket; INTERRUPTED contributes only to
// the interrupted flag. The aggregator lives for the whole invocation, not
// per pass: PrepareRerun moves first-pass failures aside so the rerun pass
// repopulates Bad independently.
//
// All methods are called from the single orchestration goroutine; the
// worker pool funnels outcomes through one channel before they reach here.
type Aggregator struct {
	Good           []string
	Bad            []string
	RerunBad       []string
	Skipped        []string
	ResourceDenied []string
	EnvChanged     []string
	RunNoTests     []string

	// Rerun lists names that were retried, regardless of their second
	// outcome.
	Rerun []string

	Interrupted bool

	// TestTimes excludes rerun passes so the slowest-tests report reflects
	// the ordinary run.
	TestTimes []TestTime

	Stats types.Stats

	badOutcomes []*types.TestOutcome
	fragments   [][]byte
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Accumulate classifies a single outcome into its bucket and folds in its
// timing, stats and XML fragment. An outcome whose state is outside the
// closed set is a defect in the execution layer and is returned as an error;
// the caller must abort the run rather than continue with a silently
// coerced result.
func (a *Aggregator) Accumulate(outcome *types.TestOutcome, cfg *types.RunConfig) error {
	name := outcome.Name

	switch outcome.State {
	case types.StatePassed:
		a.Good = append(a.Good, name)
	case types.StateEnvChanged:
		a.EnvChanged = append(a.EnvChanged, name)
	case types.StateSkipped:
		a.Skipped = append(a.Skipped, name)
	case types.StateResourceDenied:
		a.ResourceDenied = append(a.ResourceDenied, name)
	case types.StateInterrupted:
		a.Interrupted = true
		if name == "" {
			// A nameless interruption (cancellation with nothing in flight)
			// contributes only the flag.
			return nil
		}
	case types.StateDidNotRun:
		a.RunNoTests = append(a.RunNoTests, name)
	default:
		if !outcome.State.Valid() || !outcome.IsFailed(cfg.FailEnvChanged) {
			return fmt.Errorf("invalid test state for %q: %s", name, outcome.State)
		}
		a.Bad = append(a.Bad, name)
		a.badOutcomes = append(a.badOutcomes, outcome)
	}

	if outcome.HasMeaningfulDuration() && !cfg.IsRerun {
		a.TestTimes = append(a.TestTimes, TestTime{outcome.Duration, name})
	}
	if outcome.Stats != nil {
		a.Stats.Accumulate(outcome.Stats)
	}
	if cfg.IsRerun {
		a.Rerun = append(a.Rerun, name)
	}
	if len(outcome.XMLFragment) > 0 {
		a.fragments = append(a.fragments, outcome.XMLFragment)
	}
	return nil
}

// NeedRerun reports whether at least one failing outcome was retained.
func (a *Aggregator) NeedRerun() bool {
	return len(a.badOutcomes) > 0
}

// PrepareRerun returns the failing test names plus any per-test sub-case
// filters, then moves the failed names into RerunBad and clears the failing
// store, so the second pass distinguishes "still failing" from "fixed".
func (a *Aggregator) PrepareRerun() ([]string, map[string][]string) {
	tests := make([]string, 0, len(a.badOutcomes))
	matchFilters := make(map[string][]string)
	for _, outcome := range a.badOutcomes {
		tests = append(tests, outcome.Name)
		if len(outcome.RerunFilter) > 0 {
			matchFilters[outcome.Name] = outcome.RerunFilter
		}
	}

	a.RerunBad = append(a.RerunBad, a.Bad...)
	a.Bad = nil
	a.badOutcomes = nil

	return tests, matchFilters
}

// Executed returns the set of test names that produced an observed outcome.
// Selected tests missing from this set were omitted (for instance a worker
// crashed before reporting) and must be surfaced by the caller.
func (a *Aggregator) Executed() map[string]struct{} {
	executed := make(map[string]struct{})
	for _, bucket := range [][]string{
		a.Good, a.Bad, a.Skipped, a.ResourceDenied, a.EnvChanged, a.RunNoTests,
	} {
		for _, name := range bucket {
			executed[name] = struct{}{}
		}
	}
	return executed
}

// Omitted returns the selected tests that never produced an outcome, sorted.
func (a *Aggregator) Omitted(selected []string) []string {
	executed := a.Executed()
	var omitted []string
	for _, name := range selected {
		if _, ok := executed[name]; !ok {
			omitted = append(omitted, name)
		}
	}
	sort.Strings(omitted)
	return omitted
}

func (a *Aggregator) noTestsRun() bool {
	return len(a.Good) == 0 && len(a.Bad) == 0 && len(a.Skipped) == 0 &&
		len(a.EnvChanged) == 0 && !a.Interrupted
}

// State derives the verdict string for the current bucket contents.
// FAILURE, ENV CHANGED and NO TESTS RAN are mutually exclusive in strict
// priority order; INTERRUPTED is appended independently. Calling State twice
// without new outcomes returns the same string.
func (a *Aggregator) State(failEnvChanged bool) string {
	var state []string
	if len(a.Bad) > 0 {
		state = append(state, VerdictFailure)
	} else if failEnvChanged && len(a.EnvChanged) > 0 {
		state = append(state, VerdictEnvChanged)
	} else if a.noTestsRun() {
		state = append(state, VerdictNoTestsRan)
	}

	if a.Interrupted {
		state = append(state, VerdictInterrupted)
	}
	if len(state) == 0 {
		state = append(state, VerdictSuccess)
	}
	return strings.Join(state, ", ")
}

// ExitCode derives the process exit code, in strict priority order.
func (a *Aggregator) ExitCode(failEnvChanged, failRerun bool) int {
	switch {
	case len(a.Bad) > 0:
		return exitcodes.BadTest
	case a.Interrupted:
		return exitcodes.Interrupted
	case failEnvChanged && len(a.EnvChanged) > 0:
		return exitcodes.EnvChanged
	case a.noTestsRun():
		return exitcodes.NoTestsRan
	case failRerun && len(a.Rerun) > 0:
		return exitcodes.RerunFail
	default:
		return exitcodes.Success
	}
}

// SlowestTests returns up to n timing samples, slowest first.
func (a *Aggregator) SlowestTests(n int) []TestTime {
	sorted := make([]TestTime, len(a.TestTimes))
	copy(sorted, a.TestTimes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Duration > sorted[j].Duration
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
