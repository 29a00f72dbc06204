package regress

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-regress/exitcodes"
	"github.com/ethereum-optimism/infra/op-regress/results"
)

// printSummary prints the results of the run to the console.
func (r *regress) printSummary() {
	r.config.Log.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Regression Test Results (%s)", formatDuration(r.duration)))

	t.AppendHeader(table.Row{"Result", "Count", "Tests"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Count", Align: text.AlignRight},
		{Name: "Tests", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	appendBucket(t, "Passed", r.results.Good, false)
	appendBucket(t, "Failed", r.results.Bad, true)
	appendBucket(t, "Failed on first run", r.results.RerunBad, true)
	appendBucket(t, "Skipped", r.results.Skipped, true)
	appendBucket(t, "Resource denied", r.results.ResourceDenied, true)
	appendBucket(t, "Environment altered", r.results.EnvChanged, true)
	appendBucket(t, "No tests ran", r.results.RunNoTests, true)
	appendBucket(t, "Re-run", r.results.Rerun, true)
	if len(r.summary.Omitted) > 0 {
		t.AppendRow(table.Row{"Omitted", len(r.summary.Omitted), strings.Join(r.summary.Omitted, " ")})
	}

	switch r.summary.ExitCode {
	case exitcodes.Success:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case exitcodes.NoTestsRan:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{"TOTAL", r.results.Stats.TestsRun, r.summary.Verdict})
	t.Render()

	if r.selected != nil && r.selected.Randomized {
		fmt.Printf("Using random seed: %d\n", r.selected.Seed)
	}
	if r.config.Slowest {
		printSlowest(r.results.SlowestTests(10))
	}
	fmt.Printf("Result: %s\n", r.summary.Verdict)
}

// appendBucket adds one bucket row; empty buckets are skipped except the
// always-shown passed row.
func appendBucket(t table.Writer, label string, tests []string, skipEmpty bool) {
	if skipEmpty && len(tests) == 0 {
		return
	}
	t.AppendRow(table.Row{label, len(tests), strings.Join(tests, " ")})
}

// printSlowest lists the slowest tests of the run in descending order.
func printSlowest(slowest []results.TestTime) {
	if len(slowest) == 0 {
		return
	}
	fmt.Printf("%d slowest tests:\n", len(slowest))
	for _, tt := range slowest {
		fmt.Printf("- %s: %s\n", tt.Name, formatDuration(tt.Duration))
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
