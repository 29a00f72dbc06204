package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-regress/types"
)

func TestRecordError(t *testing.T) {
	// just test that it doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("RecordError panic'd")
		}
	}()

	RecordError("test_error")
}

func TestRecordErrorDetails(t *testing.T) {
	// Test with nil error
	RecordErrorDetails("test", nil)

	// Test with actual error
	RecordErrorDetails("test", errors.New("sample error"))
}

func TestRecordOutcome(t *testing.T) {
	RecordOutcome("run1", types.StatePassed, false)
	RecordOutcome("run1", types.StateFailed, false)
	RecordOutcome("run1", types.StateFailed, true)
	RecordOutcome("run1", types.StateTimeout, false)
}

func TestRecordRun(t *testing.T) {
	RecordRun("run1", "SUCCESS", 10, 0, time.Second)
	RecordRun("run2", "FAILURE", 10, 3, time.Minute)
}
