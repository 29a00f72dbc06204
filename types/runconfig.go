package types

import "time"

// RunConfig describes everything one execution pass needs. It is built once
// per pass and treated as immutable after that; the rerun pass is derived
// with Rerun(), never by mutating the first pass's value, so the original
// configuration stays inspectable for reporting.
type RunConfig struct {
	// Tests is the ordered, deduplicated selection for this pass.
	Tests []string

	FailFast       bool
	FailEnvChanged bool

	// IsRerun marks the derived second pass.
	IsRerun bool

	// Forever repeats the selection until a stop condition. Implies
	// fail-fast.
	Forever bool

	// Randomized records whether the selection was shuffled; RandomSeed is
	// the seed that reproduces the shuffle.
	Randomized bool
	RandomSeed int64

	// Timeout applies per test; enforced by the execution layer.
	Timeout time.Duration

	// Workers selects execution mode: 0 runs the sequential in-process
	// loop, anything else delegates to the worker pool with that many
	// workers.
	Workers int

	Verbose         bool
	OutputOnFailure bool

	// MatchFilters / IgnoreFilters narrow which cases run inside every
	// test; MatchFiltersPerTest narrows per test name (used by reruns).
	MatchFilters        []string
	IgnoreFilters       []string
	MatchFiltersPerTest map[string][]string

	// UseResources lists the external resources enabled for this run.
	// Tests requiring anything else are denied, not failed.
	UseResources []string
}

// Rerun derives the configuration for the diagnostic second pass restricted
// to the given failing tests. The rerun pass is deterministic and
// side-effect-isolated: exactly one worker, verbose, no fail-fast, no
// forever looping, no output-on-failure buffering.
func (c RunConfig) Rerun(tests []string, matchFilters map[string][]string) RunConfig {
	derived := c
	derived.Tests = tests
	derived.IsRerun = true
	derived.Verbose = true
	derived.FailFast = false
	derived.Forever = false
	derived.OutputOnFailure = false
	derived.MatchFiltersPerTest = matchFilters
	derived.Workers = 1
	return derived
}

// MatchFiltersFor returns the case filters applying to a single test:
// the per-test filters when present, the pass-wide filters otherwise.
func (c *RunConfig) MatchFiltersFor(name string) []string {
	if c.MatchFiltersPerTest != nil {
		if filters, ok := c.MatchFiltersPerTest[name]; ok {
			return filters
		}
	}
	return c.MatchFilters
}

// ResourceEnabled reports whether a named external resource was enabled for
// this run.
func (c *RunConfig) ResourceEnabled(name string) bool {
	for _, r := range c.UseResources {
		if r == name || r == "all" {
			return true
		}
	}
	return false
}
