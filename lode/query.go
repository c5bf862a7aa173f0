package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoRunFound is returned when no archived record matches a run id.
var ErrNoRunFound = errors.New("no archived run found")

// QueryLatestRun finds the most recent archived record for runID.
// kind filters on the record kind; empty matches any kind.
func QueryLatestRun(ctx context.Context, ds lode.Dataset, runID, kind string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "snapshots")
	}

	// Snapshots are ordered by creation time; walk newest first.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "run_id", runID) || !snapshotMatchesFilter(snap, "kind", kind) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}

		// Manifest paths are a coarse pre-filter; record fields decide.
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if toString(record["run_id"]) != runID {
				continue
			}
			if kind != "" && toString(record["record_kind"]) != kind {
				continue
			}
			return record, nil
		}
	}
	return nil, ErrNoRunFound
}

// snapshotMatchesFilter checks whether any file path in the snapshot
// carries the key=value partition. An empty value matches everything.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks for an exact key=value path segment, so
// run_id=a does not match run_id=ab.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for part := range strings.SplitSeq(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
