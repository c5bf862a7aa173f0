package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/unlockbench/types"
)

func done(n int, ok bool) types.InstanceResult {
	return types.InstanceResult{InstanceNum: n, Status: types.InstanceCompleted, Success: ok}
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := New()
	if err := r.Create("run-1", "https://example.com", 2); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := r.Create("run-1", "https://example.com", 2); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Create = %v, want ErrExists", err)
	}

	snap, ok := r.Get("run-1")
	if !ok {
		t.Fatal("Get returned not found")
	}
	if snap.State != types.RunStarting || snap.SuccessRate != "0/0 (0%)" {
		t.Errorf("initial snapshot = %+v", snap)
	}

	if err := r.SetState("run-1", types.RunRunningSequential); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	if err := r.Record("run-1", done(1, true)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := r.Record("run-1", done(2, false)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	final, err := r.Finish("run-1", types.RunCompleted)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if final.SuccessRate != "1/2 (50%)" || !final.Complete || final.State != types.RunCompleted {
		t.Errorf("final = %+v", final)
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := New()
	_ = r.Create("run-1", "u", 1)
	snap, _ := r.Get("run-1")
	snap.Instances[9] = done(9, true)

	again, _ := r.Get("run-1")
	if len(again.Instances) != 0 {
		t.Error("mutating a snapshot changed registry state")
	}
}

func TestRegistry_Stop(t *testing.T) {
	r := New()
	if r.IsStopped("missing") {
		t.Error("unknown run reported stopped")
	}
	if err := r.MarkStopped("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkStopped(missing) = %v, want ErrNotFound", err)
	}

	_ = r.Create("run-1", "u", 3)
	if r.IsStopped("run-1") {
		t.Error("new run reported stopped")
	}
	if err := r.MarkStopped("run-1"); err != nil {
		t.Fatalf("MarkStopped failed: %v", err)
	}
	if !r.IsStopped("run-1") {
		t.Error("IsStopped = false after MarkStopped")
	}
	snap, _ := r.Get("run-1")
	if !snap.Stopped {
		t.Error("snapshot Stopped = false")
	}
}

func TestRegistry_UnknownRun(t *testing.T) {
	r := New()
	if _, ok := r.Get("nope"); ok {
		t.Error("Get(nope) found")
	}
	if err := r.Record("nope", done(1, true)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Record = %v", err)
	}
	if err := r.SetState("nope", types.RunRunningParallel); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetState = %v", err)
	}
	if _, err := r.Finish("nope", types.RunCompleted); !errors.Is(err, ErrNotFound) {
		t.Errorf("Finish = %v", err)
	}
}

func TestRegistry_ConcurrentRecord(t *testing.T) {
	r := New()
	_ = r.Create("run-1", "u", types.MaxInstances)

	var wg sync.WaitGroup
	for i := 1; i <= types.MaxInstances; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = r.Record("run-1", done(n, n%2 == 0))
			_ = r.IsStopped("run-1")
			_, _ = r.Get("run-1")
		}(i)
	}
	wg.Wait()

	snap, _ := r.Get("run-1")
	if len(snap.Instances) != types.MaxInstances {
		t.Errorf("Instances = %d, want %d", len(snap.Instances), types.MaxInstances)
	}
	if snap.SuccessRate != "5/10 (50%)" {
		t.Errorf("SuccessRate = %q, want 5/10 (50%%)", snap.SuccessRate)
	}
}

func TestRegistry_Evict(t *testing.T) {
	r := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	r.now = func() time.Time { return clock }

	_ = r.Create("old", "u", 1)
	_, _ = r.Finish("old", types.RunCompleted)
	_ = r.Create("running", "u", 1)

	clock = base.Add(2 * time.Hour)
	_ = r.Create("new", "u", 1)
	_, _ = r.Finish("new", types.RunCompleted)

	if n := r.Evict(base.Add(time.Hour)); n != 1 {
		t.Errorf("Evict removed %d, want 1", n)
	}
	if _, ok := r.Get("old"); ok {
		t.Error("old run not evicted")
	}
	if _, ok := r.Get("running"); !ok {
		t.Error("in-flight run evicted")
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}
}
