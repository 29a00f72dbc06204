package selection

import (
	"os"
	"strings"
)

// StepPointer is the single-line on-disk cursor backing single-step mode.
// It is an explicit optional value with two operations: Advance persists the
// successor test for the next invocation, Clear removes the file when the
// recorded test has no successor, so the pointer is never left stale.
type StepPointer struct {
	path string
	next string
}

func newStepPointer(path, next string) *StepPointer {
	return &StepPointer{path: path, next: next}
}

// Next returns the successor test recorded for the next invocation, or ""
// when there is none.
func (p *StepPointer) Next() string {
	return p.next
}

// Finalize advances the pointer to the successor test, or clears it when the
// universe has been exhausted.
func (p *StepPointer) Finalize() error {
	if p.next == "" {
		return p.clear()
	}
	return p.advance()
}

func (p *StepPointer) advance() error {
	return os.WriteFile(p.path, []byte(p.next+"\n"), 0o644)
}

func (p *StepPointer) clear() error {
	err := os.Remove(p.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// readPointer loads the test name recorded by a previous single-step run.
// A missing or unreadable file simply means no pointer is set.
func readPointer(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", false
	}
	return name, true
}
