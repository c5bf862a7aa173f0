// Package adapter defines the downstream notification boundary.
//
// Adapters announce finished unlocker runs to external systems. The
// progress publisher owns adapter lifecycle through an observer; users
// provide configuration only.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// EventTypeRunCompleted is the only event type adapters publish.
const EventTypeRunCompleted = "unlocker_run_completed"

// RunCompletedEvent is the payload published when a run finishes,
// whether it completed or was stopped.
type RunCompletedEvent struct {
	Version            string `json:"version"`
	EventType          string `json:"event_type"`
	RequestID          string `json:"request_id"`
	URL                string `json:"url"`
	State              string `json:"state"` // completed or stopped
	Instances          int    `json:"instances"`
	CompletedInstances int    `json:"completed_instances"`
	SuccessRate        string `json:"success_rate"`
	ResponseTime       string `json:"response_time"`
	Timestamp          string `json:"timestamp"`
}

// Adapter publishes run completion events to a downstream system.
type Adapter interface {
	// Publish sends a run completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Backoff returns the wait before retry attempt i (1-based):
// 500ms, 1s, 2s, ...
func Backoff(i int) time.Duration {
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
}

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. A non-nil error for which fatal returns true stops retrying.
// name prefixes returned errors.
func Retry(ctx context.Context, name string, retries int, fn func(context.Context) error, fatal func(error) bool) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(Backoff(i)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if fatal != nil && fatal(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
