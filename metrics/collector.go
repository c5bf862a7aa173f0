// Package metrics provides in-process counters for unlocker runs.
//
// The Collector accumulates counters across the life of the process. It is
// a leaf package with no internal dependencies; callers pass error classes
// as plain strings.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Run lifecycle
	RunsStarted   int64 `json:"runs_started"`
	RunsCompleted int64 `json:"runs_completed"`
	RunsStopped   int64 `json:"runs_stopped"`
	RunsFailed    int64 `json:"runs_failed"`

	// Instances
	InstancesSucceeded int64            `json:"instances_succeeded"`
	InstancesFailed    int64            `json:"instances_failed"`
	FailuresByClass    map[string]int64 `json:"failures_by_class"`

	// Progress stream
	EventsPublished int64 `json:"events_published"`
	EventsDropped   int64 `json:"events_dropped"`

	// Proxy verification
	ProxyChecksOK     int64 `json:"proxy_checks_ok"`
	ProxyChecksFailed int64 `json:"proxy_checks_failed"`

	// Downstream
	AdapterPublishSuccess int64 `json:"adapter_publish_success"`
	AdapterPublishFailure int64 `json:"adapter_publish_failure"`
	StoreWriteSuccess     int64 `json:"store_write_success"`
	StoreWriteFailure     int64 `json:"store_write_failure"`
	ArchiveWriteSuccess   int64 `json:"archive_write_success"`
	ArchiveWriteFailure   int64 `json:"archive_write_failure"`

	// Dimensions (informational, set at construction)
	StorageBackend string `json:"storage_backend"`
	ArchiveBackend string `json:"archive_backend"`
}

// Collector accumulates counters.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(storageBackend, archiveBackend string) *Collector {
	return &Collector{s: Snapshot{
		FailuresByClass: make(map[string]int64),
		StorageBackend:  storageBackend,
		ArchiveBackend:  archiveBackend,
	}}
}

func (c *Collector) add(fn func(s *Snapshot)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn(&c.s)
	c.mu.Unlock()
}

// IncRunStarted records a run start.
func (c *Collector) IncRunStarted() { c.add(func(s *Snapshot) { s.RunsStarted++ }) }

// IncRunCompleted records a run that finished every instance.
func (c *Collector) IncRunCompleted() { c.add(func(s *Snapshot) { s.RunsCompleted++ }) }

// IncRunStopped records a run ended by a stop request.
func (c *Collector) IncRunStopped() { c.add(func(s *Snapshot) { s.RunsStopped++ }) }

// IncRunFailed records a run ended by an unexpected error.
func (c *Collector) IncRunFailed() { c.add(func(s *Snapshot) { s.RunsFailed++ }) }

// RecordInstance records one terminal instance. class is ignored on success.
func (c *Collector) RecordInstance(success bool, class string) {
	c.add(func(s *Snapshot) {
		if success {
			s.InstancesSucceeded++
			return
		}
		s.InstancesFailed++
		if class == "" {
			class = "other"
		}
		s.FailuresByClass[class]++
	})
}

// IncProxyCheck records a proxy verification outcome.
func (c *Collector) IncProxyCheck(ok bool) {
	c.add(func(s *Snapshot) {
		if ok {
			s.ProxyChecksOK++
		} else {
			s.ProxyChecksFailed++
		}
	})
}

// IncEventPublished records a progress event delivered to a subscriber.
func (c *Collector) IncEventPublished() { c.add(func(s *Snapshot) { s.EventsPublished++ }) }

// IncEventDropped records a progress event dropped for a slow subscriber.
func (c *Collector) IncEventDropped() { c.add(func(s *Snapshot) { s.EventsDropped++ }) }

// IncAdapterPublish records an adapter publish outcome.
func (c *Collector) IncAdapterPublish(ok bool) {
	c.add(func(s *Snapshot) {
		if ok {
			s.AdapterPublishSuccess++
		} else {
			s.AdapterPublishFailure++
		}
	})
}

// IncStoreWrite records a result store write outcome.
func (c *Collector) IncStoreWrite(ok bool) {
	c.add(func(s *Snapshot) {
		if ok {
			s.StoreWriteSuccess++
		} else {
			s.StoreWriteFailure++
		}
	})
}

// IncArchiveWrite records an archive write outcome.
func (c *Collector) IncArchiveWrite(ok bool) {
	c.add(func(s *Snapshot) {
		if ok {
			s.ArchiveWriteSuccess++
		} else {
			s.ArchiveWriteFailure++
		}
	})
}

// Snapshot returns an immutable copy of the current counters.
// A nil collector returns an empty snapshot.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{FailuresByClass: map[string]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.s
	snap.FailuresByClass = maps.Clone(c.s.FailuresByClass)
	return snap
}
