package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/unlockbench/fetch"
	"github.com/pithecene-io/unlockbench/log"
	"github.com/pithecene-io/unlockbench/types"
)

// runSequential executes instances in order with req.Delay seconds between
// them. The stop flag and ctx are checked only at instance boundaries.
// Reports whether the run was stopped early.
func (o *Orchestrator) runSequential(ctx context.Context, logger *log.Logger, runID string, base fetch.Request, req types.RunRequest) bool {
	delay := time.Duration(req.Delay) * time.Second

	for n := 1; n <= req.Instances; n++ {
		if o.registry.IsStopped(runID) || ctx.Err() != nil {
			logger.Info("run stopped", map[string]any{"completed": n - 1})
			if err := o.registry.MarkStopped(runID); err != nil {
				logger.Warn("registry stop failed", map[string]any{"error": err.Error()})
			}
			return true
		}

		o.record(logger, runID, types.RunningInstance(n, o.now()))
		o.record(logger, runID, o.fetchInstance(ctx, base, n))

		if n < req.Instances {
			// A canceled sleep falls through to the boundary check above.
			_ = o.sleep(ctx, delay)
		}
	}
	return false
}

// runParallel launches every instance at once and waits for all of them.
// A stop request has no effect on instances already launched.
func (o *Orchestrator) runParallel(ctx context.Context, logger *log.Logger, runID string, base fetch.Request, req types.RunRequest) {
	var wg sync.WaitGroup
	for n := 1; n <= req.Instances; n++ {
		started := o.now()
		o.record(logger, runID, types.RunningInstance(n, started))

		wg.Add(1)
		go func() {
			defer wg.Done()
			o.record(logger, runID, o.safeFetch(ctx, logger, base, n, started))
		}()
	}
	wg.Wait()
}

// safeFetch converts a panic inside one instance into its failed result
// so siblings and finalization still run.
func (o *Orchestrator) safeFetch(ctx context.Context, logger *log.Logger, base fetch.Request, n int, started time.Time) (inst types.InstanceResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("instance panicked", map[string]any{
				"instance_num": n,
				"panic":        fmt.Sprint(r),
			})
			inst = types.FailedInstance(n, started, o.now().Sub(started), fmt.Sprintf("Unexpected error: %v", r))
		}
	}()
	return o.fetchInstance(ctx, base, n)
}
