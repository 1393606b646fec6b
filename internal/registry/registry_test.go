package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"headwatch/internal/config"
	"headwatch/internal/storage"
)

type fakeSource struct {
	records []storage.MonitoredHeaderRecord
	err     error
}

func (f *fakeSource) ListMonitoredHeaders(ctx context.Context) ([]storage.MonitoredHeaderRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakePruner struct {
	dropped []string
}

func (f *fakePruner) DropHeaderState(headerID string) {
	f.dropped = append(f.dropped, headerID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(id, name, stage string) storage.MonitoredHeaderRecord {
	return storage.MonitoredHeaderRecord{
		HeaderID:   id,
		ProjectID:  "p-1",
		CompanyID:  "c-1",
		StageID:    stage,
		HeaderName: name,
	}
}

func TestSyncAddUpdateRemove(t *testing.T) {
	source := &fakeSource{records: []storage.MonitoredHeaderRecord{
		record("h-1", "Casing Pressure A1", "s-1"),
		record("h-2", "Battery Voltage", "s-1"),
	}}
	pruner := &fakePruner{}
	reg := NewRegistry(source, pruner, testLogger())
	cfg := config.Default()

	stats, err := reg.Sync(context.Background(), cfg)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if stats.Added != 2 || stats.Removed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	item, ok := reg.Get("h-1")
	if !ok || item.Category != "pressure" || item.Threshold != 20 {
		t.Fatalf("unexpected item %+v", item)
	}

	// Override h-1's threshold, drop h-2.
	threshold := 35.0
	source.records = []storage.MonitoredHeaderRecord{
		{HeaderID: "h-1", ProjectID: "p-1", CompanyID: "c-1", StageID: "s-1",
			HeaderName: "Casing Pressure A1", Threshold: &threshold},
	}
	stats, err = reg.Sync(context.Background(), cfg)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if stats.Updated != 1 || stats.Removed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(pruner.dropped) != 1 || pruner.dropped[0] != "h-2" {
		t.Fatalf("expected h-2 state dropped got %v", pruner.dropped)
	}
	item, _ = reg.Get("h-1")
	if item.Threshold != 35 {
		t.Fatalf("expected overridden threshold got %v", item.Threshold)
	}
}

func TestSyncIdempotent(t *testing.T) {
	source := &fakeSource{records: []storage.MonitoredHeaderRecord{
		record("h-1", "Casing Pressure A1", "s-1"),
	}}
	reg := NewRegistry(source, &fakePruner{}, testLogger())
	cfg := config.Default()
	if _, err := reg.Sync(context.Background(), cfg); err != nil {
		t.Fatalf("sync: %v", err)
	}
	stats, err := reg.Sync(context.Background(), cfg)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if stats.Added != 0 || stats.Removed != 0 || stats.Updated != 0 || stats.Unchanged != 1 {
		t.Fatalf("second sync not idempotent: %+v", stats)
	}
}

func TestSyncStoreErrorLeavesRegistryIntact(t *testing.T) {
	source := &fakeSource{records: []storage.MonitoredHeaderRecord{
		record("h-1", "Casing Pressure A1", "s-1"),
	}}
	reg := NewRegistry(source, &fakePruner{}, testLogger())
	if _, err := reg.Sync(context.Background(), config.Default()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	source.err = errors.New("connection refused")
	if _, err := reg.Sync(context.Background(), config.Default()); err == nil {
		t.Fatalf("expected sync error")
	}
	if reg.Count() != 1 {
		t.Fatalf("registry mutated on failed sync, count=%d", reg.Count())
	}
}

func TestSyncStageTransitionDropsState(t *testing.T) {
	source := &fakeSource{records: []storage.MonitoredHeaderRecord{
		record("h-1", "Casing Pressure A1", "s-1"),
	}}
	pruner := &fakePruner{}
	reg := NewRegistry(source, pruner, testLogger())
	if _, err := reg.Sync(context.Background(), config.Default()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	source.records = []storage.MonitoredHeaderRecord{record("h-1", "Casing Pressure A1", "s-2")}
	stats, err := reg.Sync(context.Background(), config.Default())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if stats.StageTransitions != 1 {
		t.Fatalf("expected stage transition got %+v", stats)
	}
	if len(pruner.dropped) != 1 || pruner.dropped[0] != "h-1" {
		t.Fatalf("expected h-1 state dropped got %v", pruner.dropped)
	}
}

func TestSyncUnclassifiedHeaderUsesOverridesOnly(t *testing.T) {
	threshold := 5.0
	duration := int64(10000)
	source := &fakeSource{records: []storage.MonitoredHeaderRecord{
		{HeaderID: "h-9", ProjectID: "p-1", CompanyID: "c-1", StageID: "s-1",
			HeaderName: "Chem Rate", Threshold: &threshold, AlertDurationMs: &duration},
	}}
	reg := NewRegistry(source, &fakePruner{}, testLogger())
	if _, err := reg.Sync(context.Background(), config.Default()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	item, _ := reg.Get("h-9")
	if item.Category != "" || item.Threshold != 5 || item.AlertDurationMs != 10000 {
		t.Fatalf("unexpected item %+v", item)
	}
}

func TestCleanupDuplicates(t *testing.T) {
	source := &fakeSource{records: []storage.MonitoredHeaderRecord{
		record("h-1", "Casing Pressure A1", "s-1"),
		record("h-2", "Casing Pressure A1", "s-1"),
		record("h-3", "Casing Pressure A1", "s-2"),
	}}
	pruner := &fakePruner{}
	reg := NewRegistry(source, pruner, testLogger())
	if _, err := reg.Sync(context.Background(), config.Default()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	removed := reg.CleanupDuplicates()
	if removed != 1 {
		t.Fatalf("expected 1 duplicate removed got %d", removed)
	}
	if _, ok := reg.Get("h-1"); ok {
		t.Fatalf("expected older duplicate h-1 removed")
	}
	if _, ok := reg.Get("h-2"); !ok {
		t.Fatalf("expected newest duplicate h-2 kept")
	}
	// Different stage is not a duplicate.
	if _, ok := reg.Get("h-3"); !ok {
		t.Fatalf("expected h-3 kept")
	}
}
