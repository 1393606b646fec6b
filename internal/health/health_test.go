package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

var t0 = time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func testMonitor(status *Status) (*Monitor, *fakePinger, *fakePinger) {
	store := &fakePinger{}
	api := &fakePinger{}
	m := &Monitor{
		Status:          status,
		Store:           store,
		API:             api,
		RegistryCount:   func() int { return 10 },
		StoreCount:      func(ctx context.Context) (int, error) { return 10, nil },
		ForceSync:       func(ctx context.Context) {},
		PollingInterval: func() time.Duration { return time.Minute },
		Log:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:             func() time.Time { return t0 },
	}
	return m, store, api
}

func TestConsecutiveCycleErrors(t *testing.T) {
	status := NewStatus(t0)
	failure := errors.New("cycle failed")
	status.RecordCycle(t0, failure)
	status.RecordCycle(t0, failure)
	if !status.Snapshot().Healthy {
		t.Fatalf("unhealthy before third consecutive failure")
	}
	status.RecordCycle(t0, failure)
	snap := status.Snapshot()
	if snap.Healthy || snap.ConsecutiveErrors != 3 {
		t.Fatalf("expected unhealthy after 3 failures got %+v", snap)
	}
	status.RecordCycle(t0, nil)
	snap = status.Snapshot()
	if !snap.Healthy || snap.ConsecutiveErrors != 0 || snap.LastError != "" {
		t.Fatalf("success did not reset error state %+v", snap)
	}
}

func TestCheckStaleCycle(t *testing.T) {
	status := NewStatus(t0)
	m, _, _ := testMonitor(status)
	status.RecordCycle(t0.Add(-3*time.Minute), nil) // older than 2x interval
	m.Check(context.Background())
	if status.Snapshot().Healthy {
		t.Fatalf("expected unhealthy for stale cycles")
	}
	// Cycles resume: the unhealthy state auto-clears.
	status.RecordCycle(t0.Add(-time.Minute), nil)
	m.Check(context.Background())
	if !status.Snapshot().Healthy {
		t.Fatalf("expected healthy after cycles resumed")
	}
}

func TestCheckProbeFailures(t *testing.T) {
	status := NewStatus(t0)
	m, store, api := testMonitor(status)
	status.RecordCycle(t0, nil)

	store.err = errors.New("store down")
	m.Check(context.Background())
	snap := status.Snapshot()
	if snap.Healthy || snap.StoreOk {
		t.Fatalf("expected store check failure %+v", snap)
	}

	store.err = nil
	api.err = errors.New("api down")
	m.Check(context.Background())
	snap = status.Snapshot()
	if snap.Healthy || snap.APIOk || !snap.StoreOk {
		t.Fatalf("expected api check failure %+v", snap)
	}

	api.err = nil
	m.Check(context.Background())
	if !status.Snapshot().Healthy {
		t.Fatalf("expected all-clear to restore healthy")
	}
}

func TestCheckDriftForcesSync(t *testing.T) {
	status := NewStatus(t0)
	m, _, _ := testMonitor(status)
	status.RecordCycle(t0, nil)

	synced := 0
	m.ForceSync = func(ctx context.Context) { synced++ }
	m.StoreCount = func(ctx context.Context) (int, error) { return 20, nil }
	m.Check(context.Background())
	if synced != 1 {
		t.Fatalf("expected forced sync on drift got %d", synced)
	}

	// Within tolerance: no sync.
	m.StoreCount = func(ctx context.Context) (int, error) { return 14, nil }
	m.Check(context.Background())
	if synced != 1 {
		t.Fatalf("unexpected sync within tolerance")
	}
}
