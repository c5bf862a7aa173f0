package store

import (
	"context"
	"errors"

	"github.com/pithecene-io/unlockbench/metrics"
)

// Instrumented wraps a Store and records write metrics. Each mutating
// call increments store_write_success or store_write_failure. A missing
// record on delete is not counted as a failure.
type Instrumented struct {
	inner     Store
	collector *metrics.Collector
}

// NewInstrumented wraps a store with metrics instrumentation.
func NewInstrumented(inner Store, collector *metrics.Collector) *Instrumented {
	return &Instrumented{inner: inner, collector: collector}
}

func (s *Instrumented) observe(err error) error {
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.collector.IncStoreWrite(false)
	} else if err == nil {
		s.collector.IncStoreWrite(true)
	}
	return err
}

// CreateTest implements Store.
func (s *Instrumented) CreateTest(ctx context.Context, rec *Record) (int64, error) {
	id, err := s.inner.CreateTest(ctx, rec)
	return id, s.observe(err)
}

// ListTests implements Store.
func (s *Instrumented) ListTests(ctx context.Context) ([]Record, error) {
	return s.inner.ListTests(ctx)
}

// GetTest implements Store.
func (s *Instrumented) GetTest(ctx context.Context, id int64) (*Record, error) {
	return s.inner.GetTest(ctx, id)
}

// DeleteTest implements Store.
func (s *Instrumented) DeleteTest(ctx context.Context, id int64, instanceNum *int) error {
	return s.observe(s.inner.DeleteTest(ctx, id, instanceNum))
}

// DeleteAllTests implements Store.
func (s *Instrumented) DeleteAllTests(ctx context.Context) error {
	return s.observe(s.inner.DeleteAllTests(ctx))
}

// GetSettings implements Store.
func (s *Instrumented) GetSettings(ctx context.Context) (*Settings, error) {
	return s.inner.GetSettings(ctx)
}

// UpdateSettings implements Store.
func (s *Instrumented) UpdateSettings(ctx context.Context, st Settings) (*Settings, error) {
	out, err := s.inner.UpdateSettings(ctx, st)
	return out, s.observe(err)
}

// Close delegates to the inner store.
func (s *Instrumented) Close() error {
	return s.inner.Close()
}

var _ Store = (*Instrumented)(nil)
