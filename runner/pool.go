package runner

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-regress/types"
)

var _ Pool = (*WorkerPool)(nil)

// WorkerPool executes a pass's tests across worker goroutines. Outcomes are
// funneled through a single result channel and handed to the sink one at a
// time, so the caller's aggregation stays single-threaded no matter how many
// workers run.
type WorkerPool struct {
	executor Executor
	log      log.Logger
}

// NewWorkerPool creates a pool around the given executor.
func NewWorkerPool(executor Executor, logger log.Logger) *WorkerPool {
	if executor == nil {
		panic("executor cannot be nil")
	}
	return &WorkerPool{
		executor: executor,
		log:      logger.New("component", "worker-pool"),
	}
}

// Run executes every test in cfg, delivering exactly one outcome per test to
// the sink. Dispatch ceases once a qualifying failure is observed under
// fail-fast, or when the context is cancelled; tests never dispatched are
// reported as DID_NOT_RUN so the caller can account for the whole selection.
func (p *WorkerPool) Run(ctx context.Context, cfg *types.RunConfig, sink func(*types.TestOutcome) error) error {
	if len(cfg.Tests) == 0 {
		p.log.Debug("No tests to dispatch")
		return nil
	}

	workers := cfg.Workers
	if workers > len(cfg.Tests) {
		workers = len(cfg.Tests)
	}
	if workers > 32 {
		p.log.Warn("Very high worker count requested", "workers", workers)
	}

	bufferSize := min(workers*2, 100)
	workChan := make(chan string, bufferSize)
	resultChan := make(chan *types.TestOutcome, bufferSize)

	// stopDispatch is closed by the collector when fail-fast triggers.
	stopDispatch := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(stopDispatch) }) }

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, cfg, &wg, workChan, resultChan)
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(workChan)
		defer close(dispatchDone)
		for i, name := range cfg.Tests {
			select {
			case workChan <- name:
			case <-stopDispatch:
				p.reportUndispatched(cfg.Tests[i:], resultChan)
				return
			case <-ctx.Done():
				p.log.Debug("Context cancelled while dispatching")
				p.reportUndispatched(cfg.Tests[i:], resultChan)
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		<-dispatchDone
		close(resultChan)
	}()

	// Collect: the sink is invoked from this goroutine only, preserving the
	// single accumulation point.
	var sinkErr error
	for outcome := range resultChan {
		if sinkErr != nil {
			// Drain remaining outcomes so the workers can exit.
			continue
		}
		if err := sink(outcome); err != nil {
			sinkErr = err
			stop()
			continue
		}
		if outcome.State == types.StateInterrupted {
			stop()
			continue
		}
		if cfg.FailFast && outcome.IsFailed(cfg.FailEnvChanged) {
			p.log.Info("Ceasing dispatch after failure", "test", outcome.Name)
			stop()
		}
	}
	return sinkErr
}

// reportUndispatched records a DID_NOT_RUN outcome for every test the pool
// never handed to a worker.
func (p *WorkerPool) reportUndispatched(names []string, resultChan chan<- *types.TestOutcome) {
	for _, name := range names {
		resultChan <- &types.TestOutcome{Name: name, State: types.StateDidNotRun}
	}
}

func (p *WorkerPool) worker(ctx context.Context, cfg *types.RunConfig, wg *sync.WaitGroup, workChan <-chan string, resultChan chan<- *types.TestOutcome) {
	defer wg.Done()
	for name := range workChan {
		if ctx.Err() != nil {
			// Buffered but never started: record it as never having run.
			resultChan <- &types.TestOutcome{Name: name, State: types.StateDidNotRun}
			continue
		}
		// Execute reports cancellation of in-flight work as an INTERRUPTED
		// outcome, so every dispatched test yields exactly one report.
		resultChan <- p.executor.Execute(ctx, name, cfg)
	}
}
