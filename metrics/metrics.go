package metrics

import (
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-regress/types"
)

const (
	MetricsNamespace = "regress"
)

var (
	Debug bool = true

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "outcomes_total",
		Help:      "Count of per-test outcomes",
	}, []string{
		"run_id",
		"state",
		"rerun",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Verdict of test runs",
	}, []string{
		"run_id",
		"verdict",
	})

	runTestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests_total",
		Help:      "Total number of tests in a run",
	}, []string{
		"run_id",
	})

	runTestsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests_failed",
		Help:      "Number of failed tests in a run",
	}, []string{
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of a test run",
	}, []string{
		"run_id",
	})
)

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label.
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	RecordError(label + "." + err.Error())
}

func RecordOutcome(runID string, state types.OutcomeState, rerun bool) {
	rerunLabel := "false"
	if rerun {
		rerunLabel = "true"
	}
	if Debug {
		log.Debug("metric inc",
			"m", "outcomes_total",
			"run_id", runID,
			"state", state,
			"rerun", rerunLabel)
	}
	outcomesTotal.WithLabelValues(runID, state.String(), rerunLabel).Inc()
}

func RecordRun(runID string, verdict string, total int, failed int, duration time.Duration) {
	runResults.WithLabelValues(runID, verdict).Set(1)
	runTestsTotal.WithLabelValues(runID).Add(float64(total))
	runTestsFailed.WithLabelValues(runID).Add(float64(failed))
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}
