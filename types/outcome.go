package types

import (
	"fmt"
	"time"
)

// OutcomeState represents the possible states of a single test execution.
// The set is closed: an outcome carrying any other value is a defect in the
// execution layer and must abort the run.
type OutcomeState int

const (
	StatePassed OutcomeState = iota
	StateFailed
	StateSkipped
	StateResourceDenied
	StateEnvChanged
	StateDidNotRun
	StateInterrupted
	StateUncaughtException
	StateTimeout
)

func (s OutcomeState) String() string {
	switch s {
	case StatePassed:
		return "passed"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	case StateResourceDenied:
		return "resource denied"
	case StateEnvChanged:
		return "env changed"
	case StateDidNotRun:
		return "did not run"
	case StateInterrupted:
		return "interrupted"
	case StateUncaughtException:
		return "uncaught exception"
	case StateTimeout:
		return "timed out"
	default:
		return fmt.Sprintf("OutcomeState(%d)", int(s))
	}
}

// Valid reports whether s is a member of the closed state set.
func (s OutcomeState) Valid() bool {
	return s >= StatePassed && s <= StateTimeout
}

// TestOutcome captures the result of one executed test unit.
type TestOutcome struct {
	Name  string
	State OutcomeState

	// Duration is meaningful only for states that reflect an actual
	// execution; zero otherwise.
	Duration time.Duration

	// Stats carries per-case counters when the execution layer reports
	// them.
	Stats *Stats

	// Err holds detail for failing states.
	Err error

	// Output is the captured (already cleaned) output of the test,
	// populated for failing outcomes when output capture is enabled.
	Output string

	// XMLFragment is a serialized JUnit <testsuite> element for this test,
	// collected when JUnit reporting is enabled.
	XMLFragment []byte

	// RerunFilter narrows which sub-cases should be retried when this
	// outcome triggers a rerun. Empty means rerun the whole test.
	RerunFilter []string
}

// IsFailed reports whether the outcome counts as failing under the given
// env-change policy. ENV_CHANGED is failing only when the policy makes it so.
func (o *TestOutcome) IsFailed(failEnvChanged bool) bool {
	switch o.State {
	case StateFailed, StateUncaughtException, StateTimeout:
		return true
	case StateEnvChanged:
		return failEnvChanged
	default:
		return false
	}
}

// MustStop reports whether a sequential pass has to stop after this outcome.
func (o *TestOutcome) MustStop(failFast, failEnvChanged bool) bool {
	if o.State == StateInterrupted {
		return true
	}
	if failFast && o.IsFailed(failEnvChanged) {
		return true
	}
	return false
}

// HasMeaningfulDuration reports whether Duration reflects a real execution.
// Skipped, denied and never-run tests carry no timing information.
func (o *TestOutcome) HasMeaningfulDuration() bool {
	switch o.State {
	case StateSkipped, StateResourceDenied, StateDidNotRun:
		return false
	default:
		return true
	}
}

func (o *TestOutcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s %s (%v)", o.Name, o.State, o.Err)
	}
	return fmt.Sprintf("%s %s", o.Name, o.State)
}
