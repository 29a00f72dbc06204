// Package exitcodes defines the standard exit codes used by op-regress.
package exitcodes

// Exit code constants used by op-regress.
// These codes are a stable contract with CI consumers:
//
// * Success (0): every selected test passed (or was skipped)
// * RuntimeErr (1): configuration or runtime errors, outside the result taxonomy
// * BadTest (2): at least one test failed
// * EnvChanged (3): a test altered the execution environment and that class is fatal
// * NoTestsRan (4): nothing was executed at all
// * RerunFail (5): a rerun happened and that class is fatal by configuration
// * Interrupted (130): the run was cancelled by an external signal
const (
	Success     = 0
	RuntimeErr  = 1
	BadTest     = 2
	EnvChanged  = 3
	NoTestsRan  = 4
	RerunFail   = 5
	Interrupted = 130
)
