package results

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
)

// suiteCounts mirrors the numeric attributes of a JUnit <testsuite> element.
// Attributes are kept as strings so a malformed count is skipped rather than
// failing the whole report.
type suiteCounts struct {
	XMLName  xml.Name `xml:"testsuite"`
	Tests    string   `xml:"tests,attr"`
	Errors   string   `xml:"errors,attr"`
	Failures string   `xml:"failures,attr"`
}

// WriteJUnit writes the collected per-test <testsuite> fragments under a
// single <testsuites> root whose numeric attributes are the sums of the
// fragments' own counts. When no fragments were collected, no file is
// created at all: callers distinguish "no report" from "empty report".
func (a *Aggregator) WriteJUnit(filename string) error {
	if len(a.fragments) == 0 {
		// Don't create an empty XML file.
		return nil
	}

	var tests, errors, failures int
	for _, fragment := range a.fragments {
		var counts suiteCounts
		if err := xml.Unmarshal(fragment, &counts); err != nil {
			return fmt.Errorf("malformed testsuite fragment: %w", err)
		}
		addCount(&tests, counts.Tests)
		addCount(&errors, counts.Errors)
		addCount(&failures, counts.Failures)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<testsuites tests="%d" errors="%d" failures="%d">`,
		tests, errors, failures)
	for _, fragment := range a.fragments {
		buf.Write(fragment)
	}
	buf.WriteString(`</testsuites>`)

	return os.WriteFile(filename, buf.Bytes(), 0o644)
}

// HasJUnitData reports whether any XML fragments were collected.
func (a *Aggregator) HasJUnitData() bool {
	return len(a.fragments) > 0
}

func addCount(total *int, attr string) {
	if attr == "" {
		return
	}
	n, err := strconv.Atoi(attr)
	if err != nil {
		// Non-numeric counts are ignored, not fatal.
		return
	}
	*total += n
}
