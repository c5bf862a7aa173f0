// Package lode archives finished runs and proxy checks to a Lode dataset.
//
// Records are JSONL, Hive-partitioned by kind/day/run_id. Fetched bodies
// are written next to the run as sidecar files so the record stream stays
// small.
package lode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/unlockbench/metrics"
	"github.com/pithecene-io/unlockbench/types"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "unlockbench"

// ErrInvalidFilename is returned for sidecar names containing path parts.
var ErrInvalidFilename = errors.New("invalid sidecar filename")

// Archive writes run and proxy-check records to Lode.
type Archive struct {
	dataset   lode.Dataset
	datasetID string
	collector *metrics.Collector
	now       func() time.Time

	mu sync.Mutex // serializes dataset writes

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error
}

// NewArchive creates an archive over the given store factory.
// Use lode.NewMemoryFactory() for testing.
func NewArchive(datasetID string, factory lode.StoreFactory, collector *metrics.Collector) (*Archive, error) {
	if datasetID == "" {
		datasetID = DefaultDataset
	}
	ds, err := NewReadDataset(datasetID, factory)
	if err != nil {
		return nil, WrapInitError(err, datasetID)
	}
	return &Archive{
		dataset:      ds,
		datasetID:    datasetID,
		collector:    collector,
		now:          time.Now,
		storeFactory: factory,
	}, nil
}

// NewReadDataset opens a dataset with the archive layout and codec.
func NewReadDataset(datasetID string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(datasetID),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// Dataset exposes the underlying dataset for queries.
func (a *Archive) Dataset() lode.Dataset {
	return a.dataset
}

// WriteRun archives a finished run. Instance bodies are written as
// sidecar files named instance-<n>.body.
// A nil archive discards the run.
func (a *Archive) WriteRun(ctx context.Context, runID string, req types.RunRequest, result *types.RunResult) error {
	if a == nil {
		return nil
	}
	at := a.now()
	if err := a.write(ctx, toRunRecordMap(runID, at, req, result), runID); err != nil {
		return err
	}
	for _, r := range result.InstanceResults {
		if r.Content == "" {
			continue
		}
		name := fmt.Sprintf("instance-%d.body", r.InstanceNum)
		if err := a.PutFile(ctx, RecordKindRun, DeriveDay(at), runID, name, []byte(r.Content)); err != nil {
			return err
		}
	}
	if result.Content != "" {
		if err := a.PutFile(ctx, RecordKindRun, DeriveDay(at), runID, "result.body", []byte(result.Content)); err != nil {
			return err
		}
	}
	return nil
}

// WriteProxyCheck archives a proxy verification outcome.
func (a *Archive) WriteProxyCheck(ctx context.Context, check ProxyCheck) error {
	if a == nil {
		return nil
	}
	return a.write(ctx, toProxyCheckRecordMap(check, a.now()), check.CheckID)
}

func (a *Archive) write(ctx context.Context, record map[string]any, runID string) error {
	a.mu.Lock()
	_, err := a.dataset.Write(ctx, []any{record}, lode.Metadata{})
	a.mu.Unlock()

	if err != nil {
		a.collector.IncArchiveWrite(false)
		return WrapWriteError(err, fmt.Sprintf("%s/%s", a.datasetID, runID))
	}
	a.collector.IncArchiveWrite(true)
	return nil
}

// PutFile writes a sidecar file under the run's partition directory.
// The filename must not contain path separators or "..".
func (a *Archive) PutFile(ctx context.Context, kind, day, runID, filename string, data []byte) error {
	if filename == "" || strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}

	a.storeOnce.Do(func() {
		a.store, a.storeErr = a.storeFactory()
	})
	if a.storeErr != nil {
		return WrapInitError(a.storeErr, a.datasetID)
	}

	path := a.filePath(kind, day, runID, filename)
	if err := a.store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		a.collector.IncArchiveWrite(false)
		return WrapWriteError(err, path)
	}
	a.collector.IncArchiveWrite(true)
	return nil
}

// filePath computes the Hive-partitioned path for a sidecar file.
// Format: datasets/<dataset>/partitions/kind=<k>/day=<d>/run_id=<r>/files/<filename>
func (a *Archive) filePath(kind, day, runID, filename string) string {
	return fmt.Sprintf("datasets/%s/partitions/kind=%s/day=%s/run_id=%s/files/%s",
		a.datasetID, kind, day, runID, filename)
}

// Close releases archive resources.
func (a *Archive) Close() error {
	return nil
}
