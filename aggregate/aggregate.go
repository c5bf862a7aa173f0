// Package aggregate accumulates per-instance results for a run.
//
// Functions here are not synchronized. Callers that share an aggregate
// across goroutines must serialize Record calls (the registry holds a
// per-run lock around them).
package aggregate

import (
	"fmt"
	"math"
	"time"

	"github.com/pithecene-io/unlockbench/types"
)

// SuccessRate renders "<success>/<total> (<percent>%)" with the percent
// rounded half away from zero. A zero total renders "0/0 (0%)".
func SuccessRate(success, total int) string {
	pct := 0
	if total > 0 {
		pct = int(math.Round(float64(success) / float64(total) * 100))
	}
	return fmt.Sprintf("%d/%d (%d%%)", success, total, pct)
}

// CountSuccess returns the successful and terminal counts of results.
func CountSuccess(results []types.InstanceResult) (success, total int) {
	for _, r := range results {
		if !r.Terminal() {
			continue
		}
		total++
		if r.Success {
			success++
		}
	}
	return success, total
}

// RateOf renders the success rate over the terminal results of a list.
func RateOf(results []types.InstanceResult) string {
	return SuccessRate(CountSuccess(results))
}

// Record inserts or overwrites the instance by number and recomputes
// the success rate over terminal instances.
func Record(agg *types.RunAggregate, r types.InstanceResult, now time.Time) {
	agg.Instances[r.InstanceNum] = r
	agg.UpdatedAt = now

	success, total := 0, 0
	for _, inst := range agg.Instances {
		if !inst.Terminal() {
			continue
		}
		total++
		if inst.Success {
			success++
		}
	}
	agg.SuccessRate = SuccessRate(success, total)
	agg.Success = success > 0
}

// TerminalCount returns the number of completed instances.
func TerminalCount(agg *types.RunAggregate) int {
	n := 0
	for _, inst := range agg.Instances {
		if inst.Terminal() {
			n++
		}
	}
	return n
}

// IsComplete reports whether every requested instance is terminal or the
// run was stopped.
func IsComplete(agg *types.RunAggregate, requested int) bool {
	return agg.Stopped || TerminalCount(agg) == requested
}

// Finish stamps the final timing and state on the aggregate.
func Finish(agg *types.RunAggregate, state types.RunState, now time.Time) {
	agg.State = state
	agg.Stopped = agg.Stopped || state == types.RunStopped
	agg.Complete = true
	agg.ResponseTime = types.FormatSeconds(now.Sub(agg.StartedAt))
	agg.UpdatedAt = now
}
