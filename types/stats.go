package types

// Stats tracks per-case counters reported by the execution layer. A single
// test unit may contain many cases, so these run ahead of the file-level
// bucket counts.
type Stats struct {
	TestsRun int
	Failures int
	Skipped  int
}

// Accumulate folds other into s.
func (s *Stats) Accumulate(other *Stats) {
	if other == nil {
		return
	}
	s.TestsRun += other.TestsRun
	s.Failures += other.Failures
	s.Skipped += other.Skipped
}
