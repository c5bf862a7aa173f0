package progress

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/unlockbench/adapter"
	"github.com/pithecene-io/unlockbench/log"
	"github.com/pithecene-io/unlockbench/metrics"
	"github.com/pithecene-io/unlockbench/types"
)

// DefaultAdapterTimeout bounds one downstream publish including retries.
const DefaultAdapterTimeout = 30 * time.Second

// AdapterObserver forwards final run-level events to a downstream adapter.
// Publishes run on their own goroutine so the progress stream never waits
// on the network.
type AdapterObserver struct {
	adapter   adapter.Adapter
	logger    *log.Logger
	collector *metrics.Collector
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewAdapterObserver wraps a. timeout <= 0 uses DefaultAdapterTimeout.
func NewAdapterObserver(a adapter.Adapter, timeout time.Duration, logger *log.Logger, collector *metrics.Collector) *AdapterObserver {
	if timeout <= 0 {
		timeout = DefaultAdapterTimeout
	}
	return &AdapterObserver{
		adapter:   a,
		logger:    logger.WithComponent("adapter"),
		collector: collector,
		timeout:   timeout,
	}
}

// Observe publishes a RunCompletedEvent for completed and stopped runs.
func (o *AdapterObserver) Observe(ev Event) {
	event, ok := CompletionEvent(ev)
	if !ok {
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()

		err := o.adapter.Publish(ctx, event)
		o.collector.IncAdapterPublish(err == nil)
		if err != nil {
			o.logger.Warn("adapter publish failed", map[string]any{
				"request_id": event.RequestID,
				"error":      err.Error(),
			})
			return
		}
		o.logger.Debug("adapter publish ok", map[string]any{"request_id": event.RequestID})
	}()
}

// Close waits for in-flight publishes and closes the adapter.
func (o *AdapterObserver) Close() error {
	o.wg.Wait()
	return o.adapter.Close()
}

// CompletionEvent converts a final run-level progress event into the
// downstream payload. It reports false for any other event.
func CompletionEvent(ev Event) (*adapter.RunCompletedEvent, bool) {
	if ev.Type != EventTypeUpdate || ev.InstanceNum != RunLevel || !ev.IsComplete {
		return nil, false
	}
	status, ok := ev.Result.(types.RunStatus)
	if !ok {
		return nil, false
	}

	var state types.RunState
	switch status.Status {
	case types.PhaseCompleted:
		state = types.RunCompleted
	case types.PhaseStopped:
		state = types.RunStopped
	default:
		return nil, false
	}

	completed := status.Instances
	if status.CompletedInstances != nil {
		completed = *status.CompletedInstances
	}

	return &adapter.RunCompletedEvent{
		Version:            types.Version,
		EventType:          adapter.EventTypeRunCompleted,
		RequestID:          status.RequestID,
		URL:                status.URL,
		State:              string(state),
		Instances:          status.Instances,
		CompletedInstances: completed,
		SuccessRate:        status.SuccessRate,
		ResponseTime:       status.ResponseTime,
		Timestamp:          ev.Timestamp,
	}, true
}

var _ Observer = (*AdapterObserver)(nil)
