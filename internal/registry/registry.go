package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"headwatch/internal/classify"
	"headwatch/internal/config"
	"headwatch/internal/storage"
)

// Item is one header under observation with its effective alerting values
// (per-header override, else category default). The Registry is the only
// writer; the alert engine reads items during a cycle.
type Item struct {
	HeaderID          string  `json:"headerId"`
	ProjectID         string  `json:"projectId"`
	CompanyID         string  `json:"companyId"`
	StageID           string  `json:"stageId"`
	HeaderName        string  `json:"headerName"`
	Category          string  `json:"category,omitempty"`
	Threshold         float64 `json:"threshold"`
	AlertDurationMs   int64   `json:"alertDurationMs"`
	FrozenThresholdMs int64   `json:"frozenThresholdMs"`
}

type SyncStats struct {
	Added            int `json:"added"`
	Removed          int `json:"removed"`
	Updated          int `json:"updated"`
	Unchanged        int `json:"unchanged"`
	StageTransitions int `json:"stageTransitions"`
}

type Source interface {
	ListMonitoredHeaders(ctx context.Context) ([]storage.MonitoredHeaderRecord, error)
}

// StatePruner removes per-header alert state when a header leaves the
// registry or changes stage.
type StatePruner interface {
	DropHeaderState(headerID string)
}

type Registry struct {
	mu     sync.RWMutex
	items  map[string]Item
	source Source
	pruner StatePruner
	log    *slog.Logger
}

func NewRegistry(source Source, pruner StatePruner, log *slog.Logger) *Registry {
	return &Registry{
		items:  map[string]Item{},
		source: source,
		pruner: pruner,
		log:    log,
	}
}

// Sync reconciles the in-memory registry against the store's authoritative
// monitored-header set. Removals apply first so stale alert state cannot
// outlive its item, then additions, then updates. A store error aborts with
// no registry mutation; the engine keeps operating on last-known state.
func (r *Registry) Sync(ctx context.Context, cfg *config.Config) (SyncStats, error) {
	records, err := r.source.ListMonitoredHeaders(ctx)
	if err != nil {
		return SyncStats{}, fmt.Errorf("list monitored headers: %w", err)
	}
	desired := make(map[string]Item, len(records))
	for _, rec := range records {
		desired[rec.HeaderID] = resolveItem(rec, cfg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	stats := SyncStats{}

	for id := range r.items {
		if _, ok := desired[id]; !ok {
			delete(r.items, id)
			if r.pruner != nil {
				r.pruner.DropHeaderState(id)
			}
			stats.Removed++
		}
	}
	for id, want := range desired {
		have, ok := r.items[id]
		if !ok {
			r.items[id] = want
			stats.Added++
			continue
		}
		if have.StageID != want.StageID {
			// Debounce accumulated on the previous stage must not leak
			// into the new one.
			if r.pruner != nil {
				r.pruner.DropHeaderState(id)
			}
			stats.StageTransitions++
		}
		if have == want {
			stats.Unchanged++
			continue
		}
		r.items[id] = want
		stats.Updated++
	}
	return stats, nil
}

func resolveItem(rec storage.MonitoredHeaderRecord, cfg *config.Config) Item {
	item := Item{
		HeaderID:   rec.HeaderID,
		ProjectID:  rec.ProjectID,
		CompanyID:  rec.CompanyID,
		StageID:    rec.StageID,
		HeaderName: rec.HeaderName,
	}
	if category, ok := classify.Classify(rec.HeaderName, cfg.Rules()); ok {
		item.Category = category
		if cat, found := cfg.Category(category); found {
			item.Threshold = cat.Threshold
			item.AlertDurationMs = cat.AlertDurationMs
			item.FrozenThresholdMs = cat.FrozenThresholdMs
		}
	}
	if rec.Threshold != nil {
		item.Threshold = *rec.Threshold
	}
	if rec.AlertDurationMs != nil {
		item.AlertDurationMs = *rec.AlertDurationMs
	}
	if rec.FrozenThresholdMs != nil {
		item.FrozenThresholdMs = *rec.FrozenThresholdMs
	}
	if override, ok := cfg.HeaderOverrides[rec.HeaderID]; ok {
		if override.Threshold != nil {
			item.Threshold = *override.Threshold
		}
		if override.AlertDurationMs != nil {
			item.AlertDurationMs = *override.AlertDurationMs
		}
		if override.FrozenThresholdMs != nil {
			item.FrozenThresholdMs = *override.FrozenThresholdMs
		}
	}
	return item
}

// CleanupDuplicates drops all but one item when several headerIds share a
// name within the same project and stage. The lexically greatest id (newest
// in the source system) survives; the losers' alert state goes with them.
func (r *Registry) CleanupDuplicates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKey := map[string][]string{}
	for id, item := range r.items {
		key := item.ProjectID + "|" + item.StageID + "|" + item.HeaderName
		byKey[key] = append(byKey[key], id)
	}
	removed := 0
	for _, ids := range byKey {
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		for _, id := range ids[:len(ids)-1] {
			delete(r.items, id)
			if r.pruner != nil {
				r.pruner.DropHeaderState(id)
			}
			removed++
		}
	}
	if removed > 0 {
		r.log.Info("removed duplicate headers", slog.Int("count", removed))
	}
	return removed
}

func (r *Registry) Get(headerID string) (Item, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[headerID]
	return item, ok
}

// Items returns a snapshot ordered by headerId for stable iteration.
func (r *Registry) Items() []Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Item, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].HeaderID < items[j].HeaderID })
	return items
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
