package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_REGRESS"

var (
	TestDir = &cli.StringFlag{
		Name:     "testdir",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "TESTDIR"),
		Usage:    "Path to the test directory from which to discover tests",
	}
	Manifest = &cli.StringFlag{
		Name:    "manifest",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MANIFEST"),
		Usage:   "Path to the test requirements manifest (eg. 'requirements.yaml')",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GO_BINARY"),
		Usage:   "Path to the Go binary to use for running tests",
	}
	FromFile = &cli.StringFlag{
		Name:    "fromfile",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FROMFILE"),
		Usage:   "Read the list of tests to run from this file, one per line",
	}
	Start = &cli.StringFlag{
		Name:    "start",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "START"),
		Usage:   "Start the run at this test, skipping everything before it",
	}
	Exclude = &cli.BoolFlag{
		Name:    "exclude",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXCLUDE"),
		Usage:   "Treat positional test arguments as exclusions instead of selections",
	}
	Randomize = &cli.BoolFlag{
		Name:    "randomize",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RANDOMIZE"),
		Usage:   "Shuffle the execution order of the selected tests",
	}
	RandSeed = &cli.Int64Flag{
		Name:    "randseed",
		Value:   -1,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RANDSEED"),
		Usage:   "Seed for the random test order; implies --randomize. Negative draws a fresh seed.",
	}
	SingleStep = &cli.BoolFlag{
		Name:    "single",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SINGLE"),
		Usage:   "Run a single test and record the next one in a pointer file",
	}
	SingleStepFile = &cli.StringFlag{
		Name:    "single-file",
		Value:   "pynexttest",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SINGLE_FILE"),
		Usage:   "Pointer file used by --single to track the next test",
	}
	FailFast = &cli.BoolFlag{
		Name:    "fail-fast",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FAIL_FAST"),
		Usage:   "Stop the run at the first test failure",
	}
	FailEnvChanged = &cli.BoolFlag{
		Name:    "fail-env-changed",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FAIL_ENV_CHANGED"),
		Usage:   "Treat tests that alter the execution environment as failures",
	}
	Rerun = &cli.BoolFlag{
		Name:    "rerun",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RERUN"),
		Usage:   "Re-run failed tests once in verbose mode",
	}
	FailRerun = &cli.BoolFlag{
		Name:    "fail-rerun",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FAIL_RERUN"),
		Usage:   "Exit with a distinct code when a test fails first and passes on rerun",
	}
	Forever = &cli.BoolFlag{
		Name:    "forever",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FOREVER"),
		Usage:   "Repeat the selected tests until a failure occurs; implies --fail-fast",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Per-test timeout (e.g. '10m'). Set to 0 or omit for no timeout.",
	}
	Workers = &cli.IntFlag{
		Name:    "workers",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKERS"),
		Usage:   "Number of parallel workers. 0 runs sequentially, negative uses NumCPU+2.",
	}
	Verbose = &cli.BoolFlag{
		Name:    "verbose",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "VERBOSE"),
		Usage:   "Run tests in verbose mode and print output as it happens",
	}
	OutputOnFailure = &cli.BoolFlag{
		Name:    "output-on-failure",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OUTPUT_ON_FAILURE"),
		Usage:   "Print captured output only for failing tests",
	}
	Match = &cli.StringSliceFlag{
		Name:    "match",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MATCH"),
		Usage:   "Only run sub-cases matching this pattern. May be repeated.",
	}
	MatchFile = &cli.StringFlag{
		Name:    "matchfile",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MATCHFILE"),
		Usage:   "Read sub-case match patterns from this file, one per line",
	}
	Ignore = &cli.StringSliceFlag{
		Name:    "ignore",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "IGNORE"),
		Usage:   "Skip sub-cases matching this pattern. May be repeated.",
	}
	IgnoreFile = &cli.StringFlag{
		Name:    "ignorefile",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "IGNOREFILE"),
		Usage:   "Read sub-case ignore patterns from this file, one per line",
	}
	Use = &cli.StringSliceFlag{
		Name:    "use",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "USE"),
		Usage:   "Enable optional test resources (eg. 'network', or 'all'). May be repeated.",
	}
	JUnitXML = &cli.StringFlag{
		Name:    "junit-xml",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "JUNIT_XML"),
		Usage:   "Write an aggregated JUnit XML report to this file",
	}
	Slowest = &cli.BoolFlag{
		Name:    "slowest",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SLOWEST"),
		Usage:   "Print the 10 slowest tests after the run",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOGDIR"),
		Usage:   "Directory for per-run failure logs",
	}
)

var requiredFlags = []cli.Flag{
	TestDir,
}

var optionalFlags = []cli.Flag{
	Manifest,
	GoBinary,
	FromFile,
	Start,
	Exclude,
	Randomize,
	RandSeed,
	SingleStep,
	SingleStepFile,
	FailFast,
	FailEnvChanged,
	Rerun,
	FailRerun,
	Forever,
	Timeout,
	Workers,
	Verbose,
	OutputOnFailure,
	Match,
	MatchFile,
	Ignore,
	IgnoreFile,
	Use,
	JUnitXML,
	Slowest,
	LogDir,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
