package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"headwatch/internal/registry"
)

const defaultMaxAge = 24 * time.Hour

// TimerState tracks one header's threshold debounce. Active means the value
// is currently below threshold and StartTime is the moment of the most recent
// transition below it.
type TimerState struct {
	StartTime time.Time
	LastValue *float64
	Active    bool
	Category  string
	lastSeen  time.Time
}

// FrozenState tracks one header's last value change. LastChangeTime moves
// only when the observed raw value differs from LastRaw.
type FrozenState struct {
	LastRaw        string
	LastValue      *float64
	LastChangeTime time.Time
	Category       string
	lastSeen       time.Time
}

// cachedValue survives a scheduler stop so frozen tracking keeps continuity
// across a restart.
type cachedValue struct {
	Raw       string
	ChangedAt time.Time
}

// Observation is one fetched header value, or the per-header fetch error.
type Observation struct {
	HeaderID string
	Raw      string
	Value    *float64
	Err      error
}

type Engine struct {
	mu       sync.Mutex
	timers   map[string]*TimerState
	frozen   map[string]*FrozenState
	lastSeen map[string]cachedValue
	events   []Event
	maxAge   time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func NewEngine(log *slog.Logger) *Engine {
	return &Engine{
		timers:   map[string]*TimerState{},
		frozen:   map[string]*FrozenState{},
		lastSeen: map[string]cachedValue{},
		maxAge:   defaultMaxAge,
		log:      log,
		now:      time.Now,
	}
}

// Evaluate runs the threshold and frozen state machines for one monitored
// header and returns the events this observation produced. A firing threshold
// condition is re-emitted on every evaluated tick while it persists; timer
// state is not reset by a fire. Callers wanting latched behavior dedup by
// headerId+type.
func (e *Engine) Evaluate(item registry.Item, obs Observation) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UTC()
	if obs.Err != nil {
		event := newEvent(TypeError, item, nil,
			fmt.Sprintf("fetch failed for %s: %v", item.HeaderName, obs.Err), now)
		e.events = append(e.events, event)
		return []Event{event}
	}

	events := []Event{}
	if event, ok := e.evaluateThreshold(item, obs, now); ok {
		events = append(events, event)
	}
	if event, ok := e.evaluateFrozen(item, obs, now); ok {
		events = append(events, event)
	}
	e.events = append(e.events, events...)
	return events
}

// evaluateThreshold is skipped entirely for non-numeric values; they carry no
// threshold semantics but still feed frozen tracking.
func (e *Engine) evaluateThreshold(item registry.Item, obs Observation, now time.Time) (Event, bool) {
	if obs.Value == nil {
		return Event{}, false
	}
	state, ok := e.timers[item.HeaderID]
	if !ok {
		// First observation never fires, transient first-read noise must
		// not produce alerts.
		e.timers[item.HeaderID] = &TimerState{
			LastValue: obs.Value,
			Category:  item.Category,
			lastSeen:  now,
		}
		return Event{}, false
	}
	state.LastValue = obs.Value
	state.Category = item.Category
	state.lastSeen = now

	if *obs.Value >= item.Threshold {
		state.Active = false
		return Event{}, false
	}
	if !state.Active {
		state.Active = true
		state.StartTime = now
		return Event{}, false
	}
	elapsed := now.Sub(state.StartTime)
	duration := time.Duration(item.AlertDurationMs) * time.Millisecond
	if elapsed < duration {
		return Event{}, false
	}
	message := fmt.Sprintf("%s below threshold %.2f for %s (value %.2f)",
		item.HeaderName, item.Threshold, elapsed.Truncate(time.Second), *obs.Value)
	return newEvent(TypeThreshold, item, obs.Value, message, now), true
}

func (e *Engine) evaluateFrozen(item registry.Item, obs Observation, now time.Time) (Event, bool) {
	state, ok := e.frozen[item.HeaderID]
	if !ok {
		changedAt := now
		if cached, seen := e.lastSeen[item.HeaderID]; seen && cached.Raw == obs.Raw {
			changedAt = cached.ChangedAt
		}
		e.frozen[item.HeaderID] = &FrozenState{
			LastRaw:        obs.Raw,
			LastValue:      obs.Value,
			LastChangeTime: changedAt,
			Category:       item.Category,
			lastSeen:       now,
		}
		e.lastSeen[item.HeaderID] = cachedValue{Raw: obs.Raw, ChangedAt: changedAt}
		return Event{}, false
	}
	state.Category = item.Category
	state.lastSeen = now

	if obs.Raw != state.LastRaw {
		state.LastRaw = obs.Raw
		state.LastValue = obs.Value
		state.LastChangeTime = now
		e.lastSeen[item.HeaderID] = cachedValue{Raw: obs.Raw, ChangedAt: now}
		return Event{}, false
	}
	e.lastSeen[item.HeaderID] = cachedValue{Raw: obs.Raw, ChangedAt: state.LastChangeTime}
	threshold := time.Duration(item.FrozenThresholdMs) * time.Millisecond
	if threshold <= 0 {
		return Event{}, false
	}
	elapsed := now.Sub(state.LastChangeTime)
	if elapsed < threshold {
		return Event{}, false
	}
	message := fmt.Sprintf("%s frozen at %s for %s",
		item.HeaderName, obs.Raw, elapsed.Truncate(time.Second))
	return newEvent(TypeFrozen, item, obs.Value, message, now), true
}

// RecentEvents returns up to limit events, newest first.
func (e *Engine) RecentEvents(limit int) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.events[i])
	}
	return out
}

// PruneState drops timer, frozen and last-value entries not touched within
// the max age, bounding memory independent of monitored-item churn.
func (e *Engine) PruneState() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := e.now().UTC().Add(-e.maxAge)
	removed := 0
	for id, state := range e.timers {
		if state.lastSeen.Before(cutoff) {
			delete(e.timers, id)
			removed++
		}
	}
	for id, state := range e.frozen {
		if state.lastSeen.Before(cutoff) {
			delete(e.frozen, id)
			removed++
		}
	}
	for id, cached := range e.lastSeen {
		if _, active := e.frozen[id]; !active && cached.ChangedAt.Before(cutoff) {
			delete(e.lastSeen, id)
		}
	}
	kept := e.events[:0]
	for _, event := range e.events {
		if !event.Timestamp.Before(cutoff) {
			kept = append(kept, event)
		}
	}
	e.events = kept
	if removed > 0 {
		e.log.Info("pruned stale alert state", slog.Int("entries", removed))
	}
	return removed
}

// DropHeaderState removes every trace of a header. Used when the reconciler
// unmonitors a header so stale alerts cannot leak.
func (e *Engine) DropHeaderState(headerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.timers, headerID)
	delete(e.frozen, headerID)
	delete(e.lastSeen, headerID)
}

// ResetVolatileState clears alert and frozen state on shutdown but keeps the
// last-observed-value cache so frozen comparisons stay continuous across a
// restart.
func (e *Engine) ResetVolatileState() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timers = map[string]*TimerState{}
	e.frozen = map[string]*FrozenState{}
}

func (e *Engine) StateCounts() (timers, frozen int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers), len(e.frozen)
}
