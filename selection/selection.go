// Package selection resolves raw test-selection inputs into the ordered,
// deduplicated list of test names a pass will execute.
package selection

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// ErrStartNotFound is returned when the configured starting test is not part
// of the resolved selection. This is a configuration error and aborts the
// run before any test executes.
var ErrStartNotFound = errors.New("starting test not found in selection")

// testNameRe matches a test identifier inside a free-form line, so a
// fromfile may be a previous run's progress log rather than a clean list.
var testNameRe = regexp.MustCompile(`\bTest[A-Za-z0-9_]+\b`)

// Options are the raw selection inputs of one invocation.
type Options struct {
	// FromFile, when set, exclusively determines the test names: positional
	// arguments and the discovered universe are ignored for this pass.
	FromFile string

	// Args are explicit positional test names.
	Args []string

	// Exclude inverts Args: they become an exclusion set applied to the
	// discovered universe instead of a selection.
	Exclude bool

	// Start trims every selected name preceding the named test.
	Start string

	// Randomize shuffles the selection; RandomSeed pins the shuffle, and
	// when nil a seed is drawn and recorded so the order can be replayed.
	Randomize  bool
	RandomSeed *int64

	// SingleStep restricts the pass to exactly one test read from the
	// pointer file at PointerPath, advancing it afterwards.
	SingleStep  bool
	PointerPath string
}

// Selection is the resolved outcome of Resolve.
type Selection struct {
	Tests      []string
	Randomized bool
	Seed       int64

	// Pointer is non-nil in single-step mode and must be finalized after
	// the pass completes.
	Pointer *StepPointer
}

// Discoverer is the test-discovery collaborator: it returns the ordered
// universe of test names under a fixed root, minus the exclude set, and is
// deterministic for a fixed filesystem state.
type Discoverer interface {
	Discover(exclude map[string]struct{}) ([]string, error)
}

// Resolve combines the selection sources in priority order: fromfile when
// present, else positional arguments, else the discovered universe. The
// result is deduplicated preserving first occurrence, optionally trimmed at
// the start cursor and optionally shuffled with a recorded seed.
func Resolve(opts Options, discoverer Discoverer, logger log.Logger) (*Selection, error) {
	var tests []string

	if opts.SingleStep && opts.PointerPath != "" {
		if next, ok := readPointer(opts.PointerPath); ok {
			tests = []string{next}
		}
	}

	if opts.FromFile != "" {
		fromFile, err := parseFromFile(opts.FromFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read fromfile: %w", err)
		}
		tests = fromFile
	}

	exclude := make(map[string]struct{})
	args := opts.Args
	if opts.Exclude {
		for _, name := range args {
			exclude[name] = struct{}{}
		}
		args = nil
	}

	universe, err := discoverer.Discover(exclude)
	if err != nil {
		return nil, fmt.Errorf("test discovery failed: %w", err)
	}

	var selected []string
	switch {
	case opts.FromFile != "":
		selected = tests
	case len(tests) > 0:
		selected = tests
	case len(args) > 0:
		selected = args
	default:
		selected = universe
	}
	selected = dedupe(selected)

	sel := &Selection{}

	if opts.SingleStep {
		if len(selected) > 1 {
			selected = selected[:1]
		}
		sel.Pointer = newStepPointer(opts.PointerPath, nextInUniverse(selected, universe))
	}

	if opts.Start != "" {
		idx := indexOf(selected, opts.Start)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrStartNotFound, opts.Start)
		}
		selected = selected[idx:]
	}

	if opts.Randomize {
		seed := drawSeed(opts.RandomSeed)
		shuffled := make([]string, len(selected))
		copy(shuffled, selected)
		r := rand.New(rand.NewSource(seed))
		r.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		selected = shuffled
		sel.Randomized = true
		sel.Seed = seed
		logger.Info("Using random seed", "seed", seed)
	}

	sel.Tests = selected
	return sel, nil
}

// drawSeed returns the supplied seed, or draws one from a wide uniform range
// using a throwaway source so process-global random state is never touched.
func drawSeed(supplied *int64) int64 {
	if supplied != nil {
		return *supplied
	}
	return rand.New(rand.NewSource(time.Now().UnixNano())).Int63n(100_000_000)
}

// parseFromFile extracts test names by scanning free-form lines for test
// identifiers, discarding everything after a comment marker. This lets a
// previous run's progress output be replayed directly.
func parseFromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tests []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		if match := testNameRe.FindString(line); match != "" {
			tests = append(tests, match)
		}
	}
	return tests, scanner.Err()
}

func dedupe(names []string) []string {
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

func indexOf(names []string, target string) int {
	for i, name := range names {
		if name == target {
			return i
		}
	}
	return -1
}

// nextInUniverse returns the universe entry positionally following the
// single selected test, or "" when it has no successor.
func nextInUniverse(selected, universe []string) string {
	if len(selected) == 0 {
		return ""
	}
	idx := indexOf(universe, selected[0])
	if idx < 0 || idx+1 >= len(universe) {
		return ""
	}
	return universe[idx+1]
}
