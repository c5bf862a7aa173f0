package lode

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/unlockbench/metrics"
	"github.com/pithecene-io/unlockbench/types"
)

// sharedFactory returns a StoreFactory that always returns the given store,
// so writes and reads share the same in-memory state.
func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

// failingStore is a lode.Store whose writes fail with putErr.
type failingStore struct {
	putErr   error
	putCalls int
}

func (s *failingStore) Put(context.Context, string, io.Reader) error {
	s.putCalls++
	return s.putErr
}

func (s *failingStore) Get(context.Context, string) (io.ReadCloser, error) { return nil, nil }

func (s *failingStore) Exists(context.Context, string) (bool, error) { return false, nil }

func (s *failingStore) List(context.Context, string) ([]string, error) { return nil, nil }

func (s *failingStore) Delete(context.Context, string) error { return nil }

func (s *failingStore) ReadRange(context.Context, string, int64, int64) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *failingStore) ReaderAt(context.Context, string) (io.ReaderAt, error) {
	return nil, errors.New("not implemented")
}

var _ lode.Store = (*failingStore)(nil)

var fixedTime = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

func newTestArchive(t *testing.T, store lode.Store, c *metrics.Collector) *Archive {
	t.Helper()
	a, err := NewArchive("", sharedFactory(store), c)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	a.now = func() time.Time { return fixedTime }
	return a
}

func sampleRun() *types.RunResult {
	return &types.RunResult{
		Success:      true,
		URL:          "https://example.com",
		TestType:     types.TestTypeUnlocker,
		ResponseTime: "0.80",
		Instances:    2,
		SuccessRate:  "1/2 (50%)",
		InstanceResults: []types.InstanceResult{
			{InstanceNum: 1, Status: types.InstanceCompleted, Success: true, StatusCode: types.IntPtr(200), ResponseTime: "0.50", Content: "<html>ok</html>"},
			{InstanceNum: 2, Status: types.InstanceCompleted, ResponseTime: "0.80", Error: "Connection refused"},
		},
	}
}

func TestArchive_WriteRunAndQuery(t *testing.T) {
	store := lode.NewMemory()
	c := metrics.NewCollector("memory", BackendMemory)
	a := newTestArchive(t, store, c)

	req := types.RunRequest{URL: "https://example.com", Instances: 2, Delay: 1, Country: "de"}
	if err := a.WriteRun(t.Context(), "test-1-aaa", req, sampleRun()); err != nil {
		t.Fatalf("WriteRun: %v", err)
	}
	if err := a.WriteRun(t.Context(), "test-2-bbb", req, &types.RunResult{URL: "https://other.example", Instances: 1}); err != nil {
		t.Fatalf("WriteRun: %v", err)
	}

	record, err := QueryLatestRun(t.Context(), a.Dataset(), "test-1-aaa", RecordKindRun)
	if err != nil {
		t.Fatalf("QueryLatestRun: %v", err)
	}
	if record["url"] != "https://example.com" || record["success_rate"] != "1/2 (50%)" {
		t.Errorf("record = %v", record)
	}
	if record["day"] != "2026-02-03" || record["country"] != "de" {
		t.Errorf("partition fields = %v %v", record["day"], record["country"])
	}
	instances, ok := record["instance_results"].([]any)
	if !ok || len(instances) != 2 {
		t.Fatalf("instance_results = %#v", record["instance_results"])
	}

	path := "datasets/unlockbench/partitions/kind=run/day=2026-02-03/run_id=test-1-aaa/files/instance-1.body"
	exists, err := store.Exists(t.Context(), path)
	if err != nil || !exists {
		t.Errorf("sidecar %s exists = %v, err = %v", path, exists, err)
	}

	snap := c.Snapshot()
	// two records plus one sidecar body
	if snap.ArchiveWriteSuccess != 3 || snap.ArchiveWriteFailure != 0 {
		t.Errorf("archive writes = %d ok / %d failed", snap.ArchiveWriteSuccess, snap.ArchiveWriteFailure)
	}
}

func TestArchive_WriteProxyCheck(t *testing.T) {
	a := newTestArchive(t, lode.NewMemory(), nil)
	check := ProxyCheck{
		CheckID:      "check-1",
		Credentials:  types.Credentials{Username: "user", Password: "secret"},
		Port:         "33335",
		Success:      true,
		ResponseTime: "1.10",
		Geo:          &types.GeoData{Country: "DE", City: "Berlin"},
	}
	if err := a.WriteProxyCheck(t.Context(), check); err != nil {
		t.Fatalf("WriteProxyCheck: %v", err)
	}

	record, err := QueryLatestRun(t.Context(), a.Dataset(), "check-1", "")
	if err != nil {
		t.Fatalf("QueryLatestRun: %v", err)
	}
	if record["record_kind"] != RecordKindProxyCheck || record["credentials"] != "user:****" || record["country"] != "DE" {
		t.Errorf("record = %v", record)
	}
}

func TestQueryLatestRun_NotFound(t *testing.T) {
	a := newTestArchive(t, lode.NewMemory(), nil)
	if err := a.WriteRun(t.Context(), "run-10", types.RunRequest{}, &types.RunResult{Instances: 1}); err != nil {
		t.Fatalf("WriteRun: %v", err)
	}

	tests := []struct {
		name, runID, kind string
	}{
		{"prefix of existing id", "run-1", ""},
		{"unknown id", "run-99", ""},
		{"wrong kind", "run-10", RecordKindProxyCheck},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := QueryLatestRun(t.Context(), a.Dataset(), tt.runID, tt.kind)
			if !errors.Is(err, ErrNoRunFound) {
				t.Errorf("err = %v, want ErrNoRunFound", err)
			}
		})
	}
}

func TestArchive_WriteFailure(t *testing.T) {
	store := &failingStore{putErr: errors.New("write /data/unlockbench: no space left on device")}
	c := metrics.NewCollector("memory", BackendFS)
	a := newTestArchive(t, store, c)

	err := a.WriteRun(t.Context(), "run-1", types.RunRequest{}, sampleRun())
	if !errors.Is(err, ErrDiskFull) {
		t.Fatalf("err = %v, want ErrDiskFull", err)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "write" {
		t.Errorf("expected write StorageError, got %v", err)
	}
	if store.putCalls == 0 {
		t.Error("write was not attempted")
	}
	if got := c.Snapshot().ArchiveWriteFailure; got != 1 {
		t.Errorf("ArchiveWriteFailure = %d, want 1", got)
	}
}

func TestArchive_PutFileRejectsPaths(t *testing.T) {
	a := newTestArchive(t, lode.NewMemory(), nil)
	for _, name := range []string{"", "../escape", "a/b", `a\b`} {
		err := a.PutFile(t.Context(), RecordKindRun, "2026-02-03", "run-1", name, []byte("x"))
		if !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("PutFile(%q) err = %v, want ErrInvalidFilename", name, err)
		}
	}
}

func TestArchive_NilDiscards(t *testing.T) {
	var a *Archive
	if err := a.WriteRun(t.Context(), "r", types.RunRequest{}, sampleRun()); err != nil {
		t.Errorf("WriteRun on nil archive: %v", err)
	}
	if err := a.WriteProxyCheck(t.Context(), ProxyCheck{}); err != nil {
		t.Errorf("WriteProxyCheck on nil archive: %v", err)
	}
}

func TestOpen(t *testing.T) {
	a, err := Open(t.Context(), Config{}, nil)
	if err != nil || a != nil {
		t.Errorf("disabled Open = %v, %v", a, err)
	}

	a, err = Open(t.Context(), Config{Backend: BackendFS, Path: t.TempDir()}, nil)
	if err != nil || a == nil {
		t.Fatalf("fs Open = %v, %v", a, err)
	}
	if err := a.WriteRun(t.Context(), "run-fs", types.RunRequest{}, sampleRun()); err != nil {
		t.Errorf("WriteRun on fs archive: %v", err)
	}

	bad := []Config{
		{Backend: BackendFS},
		{Backend: BackendS3},
		{Backend: "ftp"},
	}
	for _, cfg := range bad {
		if _, err := Open(t.Context(), cfg, nil); err == nil {
			t.Errorf("Open(%+v) expected error", cfg)
		}
	}
}

func TestOpen_FSCreatesMissingPath(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive", "nested")
	a, err := Open(t.Context(), Config{Backend: BackendFS, Path: root}, nil)
	if err != nil {
		t.Fatalf("Open on missing path: %v", err)
	}
	defer a.Close()
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Fatalf("archive root not created: %v", err)
	}
	if err := a.WriteRun(t.Context(), "test-1-new", types.RunRequest{}, sampleRun()); err != nil {
		t.Fatalf("WriteRun: %v", err)
	}
	if _, err := QueryLatestRun(t.Context(), a.Dataset(), "test-1-new", RecordKindRun); err != nil {
		t.Errorf("QueryLatestRun: %v", err)
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/prefix", "bucket", "prefix"},
		{"bucket/a/b", "bucket", "a/b"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q %q", tt.in, b, p)
		}
	}
}

func TestMatchesPartitionValue(t *testing.T) {
	path := "datasets/unlockbench/partitions/kind=run/day=2026-02-03/run_id=run-10/data.jsonl"
	if !matchesPartitionValue(path, "run_id", "run-10") {
		t.Error("exact segment not matched")
	}
	if matchesPartitionValue(path, "run_id", "run-1") {
		t.Error("prefix matched as a segment")
	}
}
