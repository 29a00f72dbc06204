package runner

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-regress/types"
)

// Go test2json (TestEvent) action constants.
// See https://cs.opensource.google/go/go/+/master:src/cmd/test2json/main.go
const (
	ActionStart  = "start"
	ActionRun    = "run"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
)

// TestEvent represents a single event from the go test JSON output.
type TestEvent struct {
	Time    time.Time
	Action  string
	Package string
	Test    string
	Output  string
	Elapsed float64
}

// parsedRun is the digest of one test unit's JSON event stream.
type parsedRun struct {
	State    types.OutcomeState
	Duration time.Duration
	Stats    types.Stats

	// FailedCases holds the first-level sub-case names that failed, used to
	// narrow a rerun.
	FailedCases []string

	// Output is the concatenated output text of the run.
	Output string

	// Cases carries per-case results for the JUnit fragment.
	Cases []caseResult

	valid bool
}

type caseResult struct {
	Name     string
	State    types.OutcomeState
	Duration time.Duration
	Message  string
}

// parseTestOutput digests the test2json event stream of a single test unit.
// The unit's own events determine the outcome state; sub-case events feed
// the stats counters, the rerun filter and the JUnit fragment. A stream with
// no valid events yields valid=false and the caller decides what that means.
func parseTestOutput(output []byte, name string) parsedRun {
	parsed := parsedRun{State: types.StatePassed}

	var start, end time.Time
	var outputBuf strings.Builder
	caseStates := make(map[string]*caseResult)
	caseStarts := make(map[string]time.Time)
	caseOrder := []string{}
	hasSkip := false

	for _, line := range bytes.Split(output, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var event TestEvent
		if err := json.Unmarshal(line, &event); err != nil {
			// Interleaved non-JSON output is tolerated.
			continue
		}
		parsed.valid = true

		if event.Output != "" {
			outputBuf.WriteString(event.Output)
		}

		if event.Test == "" || event.Test == name {
			switch event.Action {
			case ActionStart, ActionRun:
				if event.Test == name && start.IsZero() {
					start = event.Time
				}
			case ActionPass:
				end = event.Time
			case ActionFail:
				end = event.Time
				parsed.State = types.StateFailed
			case ActionSkip:
				end = event.Time
				hasSkip = true
			}
			if event.Test == name && isTerminal(event.Action) {
				parsed.Stats.TestsRun++
				switch event.Action {
				case ActionFail:
					parsed.Stats.Failures++
				case ActionSkip:
					parsed.Stats.Skipped++
				}
			}
			continue
		}

		// Sub-case event.
		cr, ok := caseStates[event.Test]
		if !ok {
			cr = &caseResult{Name: event.Test, State: types.StatePassed}
			caseStates[event.Test] = cr
			caseOrder = append(caseOrder, event.Test)
		}
		switch event.Action {
		case ActionRun, ActionStart:
			caseStarts[event.Test] = event.Time
		case ActionPass, ActionFail, ActionSkip:
			cr.Duration = caseDuration(event, caseStarts)
			parsed.Stats.TestsRun++
			switch event.Action {
			case ActionFail:
				cr.State = types.StateFailed
				parsed.State = types.StateFailed
				parsed.Stats.Failures++
			case ActionSkip:
				cr.State = types.StateSkipped
				parsed.Stats.Skipped++
			}
		case ActionOutput:
			if event.Output != "" {
				cr.Message += event.Output
			}
		}
	}

	if hasSkip && parsed.State != types.StateFailed && len(caseStates) == 0 {
		parsed.State = types.StateSkipped
	}

	parsed.Duration = runDuration(start, end)
	parsed.Output = outputBuf.String()
	for _, caseName := range caseOrder {
		cr := caseStates[caseName]
		parsed.Cases = append(parsed.Cases, *cr)
		if cr.State == types.StateFailed {
			parsed.FailedCases = append(parsed.FailedCases, firstCaseSegment(caseName, name))
		}
	}
	parsed.FailedCases = dedupeCases(parsed.FailedCases)
	return parsed
}

func isTerminal(action string) bool {
	return action == ActionPass || action == ActionFail || action == ActionSkip
}

func caseDuration(event TestEvent, starts map[string]time.Time) time.Duration {
	if start, ok := starts[event.Test]; ok && !start.IsZero() {
		return event.Time.Sub(start)
	}
	if event.Elapsed > 0 {
		return time.Duration(event.Elapsed * float64(time.Second))
	}
	return 0
}

func runDuration(start, end time.Time) time.Duration {
	if !start.IsZero() && !end.IsZero() {
		return end.Sub(start)
	}
	return 0
}

// firstCaseSegment extracts the first-level sub-case name beneath the test,
// the granularity at which a rerun can be narrowed.
func firstCaseSegment(caseName, testName string) string {
	rest := strings.TrimPrefix(caseName, testName+"/")
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

func dedupeCases(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0:0]
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
