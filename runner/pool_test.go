package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-regress/types"
)

// slowExecutor blocks each execution until released, to make dispatch
// ordering observable in tests.
type slowExecutor struct {
	mu      sync.Mutex
	started map[string]bool
	delay   time.Duration
	fail    map[string]bool
}

func newSlowExecutor(delay time.Duration, fail map[string]bool) *slowExecutor {
	return &slowExecutor{
		started: make(map[string]bool),
		delay:   delay,
		fail:    fail,
	}
}

func (s *slowExecutor) Execute(ctx context.Context, name string, cfg *types.RunConfig) *types.TestOutcome {
	s.mu.Lock()
	s.started[name] = true
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return &types.TestOutcome{Name: name, State: types.StateInterrupted, Err: ctx.Err()}
	case <-time.After(s.delay):
	}

	if s.fail[name] {
		return &types.TestOutcome{Name: name, State: types.StateFailed}
	}
	return &types.TestOutcome{Name: name, State: types.StatePassed}
}

func collectOutcomes(t *testing.T, pool *WorkerPool, ctx context.Context, cfg *types.RunConfig) map[string]types.OutcomeState {
	t.Helper()
	outcomes := make(map[string]types.OutcomeState)
	err := pool.Run(ctx, cfg, func(outcome *types.TestOutcome) error {
		_, dup := outcomes[outcome.Name]
		require.False(t, dup, "test %s reported more than once", outcome.Name)
		outcomes[outcome.Name] = outcome.State
		return nil
	})
	require.NoError(t, err)
	return outcomes
}

func TestPoolExactlyOneOutcomePerTest(t *testing.T) {
	pool := NewWorkerPool(newSlowExecutor(time.Millisecond, nil), log.New())
	cfg := &types.RunConfig{
		Tests:   []string{"TestA", "TestB", "TestC", "TestD", "TestE"},
		Workers: 3,
	}

	outcomes := collectOutcomes(t, pool, context.Background(), cfg)

	require.Len(t, outcomes, 5)
	for name, state := range outcomes {
		assert.Equal(t, types.StatePassed, state, "test %s", name)
	}
}

func TestPoolEmptySelection(t *testing.T) {
	pool := NewWorkerPool(newSlowExecutor(0, nil), log.New())
	cfg := &types.RunConfig{Workers: 4}

	called := false
	err := pool.Run(context.Background(), cfg, func(*types.TestOutcome) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestPoolFailFastCeasesDispatch(t *testing.T) {
	// One worker and a long tail: the failure must stop the rest of the
	// selection from being dispatched.
	tests := []string{"TestFail", "TestB", "TestC", "TestD", "TestE", "TestF", "TestG", "TestH"}

	pool := NewWorkerPool(newSlowExecutor(5*time.Millisecond, map[string]bool{"TestFail": true}), log.New())
	cfg := &types.RunConfig{
		Tests:    tests,
		Workers:  1,
		FailFast: true,
	}

	outcomes := collectOutcomes(t, pool, context.Background(), cfg)

	require.Len(t, outcomes, len(tests), "every selected test gets exactly one outcome")
	assert.Equal(t, types.StateFailed, outcomes["TestFail"])

	var didNotRun int
	for _, state := range outcomes {
		if state == types.StateDidNotRun {
			didNotRun++
		}
	}
	assert.Greater(t, didNotRun, 0, "the undispatched tail is recorded as DID_NOT_RUN")
}

func TestPoolCancellation(t *testing.T) {
	pool := NewWorkerPool(newSlowExecutor(50*time.Millisecond, nil), log.New())
	cfg := &types.RunConfig{
		Tests:   []string{"TestA", "TestB", "TestC", "TestD", "TestE", "TestF"},
		Workers: 2,
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	outcomes := collectOutcomes(t, pool, ctx, cfg)

	require.Len(t, outcomes, len(cfg.Tests))
	var interrupted, didNotRun int
	for _, state := range outcomes {
		switch state {
		case types.StateInterrupted:
			interrupted++
		case types.StateDidNotRun:
			didNotRun++
		}
	}
	assert.Greater(t, interrupted, 0, "in-flight work reports interruption")
	assert.Greater(t, didNotRun, 0, "never-started work reports DID_NOT_RUN")
}

func TestPoolSinkErrorAborts(t *testing.T) {
	pool := NewWorkerPool(newSlowExecutor(time.Millisecond, nil), log.New())
	cfg := &types.RunConfig{
		Tests:   []string{"TestA", "TestB", "TestC", "TestD"},
		Workers: 2,
	}

	sinkErr := assert.AnError
	err := pool.Run(context.Background(), cfg, func(*types.TestOutcome) error {
		return sinkErr
	})
	require.ErrorIs(t, err, sinkErr)
}

func TestPoolWorkersCappedAtSelection(t *testing.T) {
	executor := newSlowExecutor(time.Millisecond, nil)
	pool := NewWorkerPool(executor, log.New())
	cfg := &types.RunConfig{
		Tests:   []string{"TestA"},
		Workers: 16,
	}

	outcomes := collectOutcomes(t, pool, context.Background(), cfg)
	require.Len(t, outcomes, 1)
	assert.Equal(t, types.StatePassed, outcomes["TestA"])
}
