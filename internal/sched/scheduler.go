package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"headwatch/internal/config"
	"headwatch/internal/engine"
	"headwatch/internal/health"
	"headwatch/internal/registry"
	"headwatch/internal/storage"
	"headwatch/internal/telemetry"
)

type State int

const (
	StateIdle State = iota
	StatePending
	StateRunning
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

type Fetcher interface {
	FetchValue(ctx context.Context, headerID string) (telemetry.Sample, error)
}

type Notifier interface {
	Dispatch(ctx context.Context, events []engine.Event) error
}

// AlertSink persists fired events. Inserts are best effort; a failed insert
// is logged and never fails the cycle.
type AlertSink interface {
	InsertAlert(ctx context.Context, rec storage.AlertRecord) error
}

// Scheduler drives one monitoring cycle at a time off a repeating timer.
// All state transitions go through the single mutex; cycles never overlap.
type Scheduler struct {
	mu         sync.Mutex
	state      State
	cycleDone  chan struct{}
	tickerStop chan struct{}

	cfg      *config.Manager
	reg      *registry.Registry
	eng      *engine.Engine
	fetcher  Fetcher
	notifier Notifier
	sink     AlertSink
	status   *health.Status
	log      *slog.Logger
	now      func() time.Time

	fanout         int
	stopTimeout    time.Duration
	lastPruneHour  time.Time
	lastDupCleanup time.Time
	dupInterval    time.Duration
}

func NewScheduler(cfg *config.Manager, reg *registry.Registry, eng *engine.Engine,
	fetcher Fetcher, notifier Notifier, sink AlertSink, status *health.Status, log *slog.Logger) *Scheduler {
	now := time.Now().UTC()
	return &Scheduler{
		cfg:            cfg,
		reg:            reg,
		eng:            eng,
		fetcher:        fetcher,
		notifier:       notifier,
		sink:           sink,
		status:         status,
		log:            log,
		now:            time.Now,
		fanout:         8,
		stopTimeout:    30 * time.Second,
		lastPruneHour:  now.Truncate(time.Hour),
		lastDupCleanup: now,
		dupInterval:    5 * time.Minute,
	}
}

// Start arms the recurring timer. If the scheduler is already running it
// restarts. One synchronous cycle runs before the timer so live data exists
// ahead of the first scheduled tick; its failure is logged, not fatal.
func (s *Scheduler) Start() {
	s.mu.Lock()
	running := s.tickerStop != nil
	s.mu.Unlock()
	if running {
		s.Stop()
	}

	if err := s.RunCycle(context.Background()); err != nil {
		s.log.Error("initial cycle failed", slog.String("error", err.Error()))
	}

	interval := s.cfg.Current().PollingInterval()
	stop := make(chan struct{})
	s.mu.Lock()
	s.tickerStop = stop
	s.mu.Unlock()
	go s.loop(stop, interval)
	s.log.Info("scheduler started", slog.Duration("interval", interval))
}

// Restart re-arms the timer with the current polling interval. Unlike Stop,
// in-flight alert state survives; this is the interval-change path.
func (s *Scheduler) Restart() {
	s.mu.Lock()
	if s.tickerStop == nil {
		s.mu.Unlock()
		return
	}
	close(s.tickerStop)
	stop := make(chan struct{})
	s.tickerStop = stop
	s.mu.Unlock()

	interval := s.cfg.Current().PollingInterval()
	go s.loop(stop, interval)
	s.log.Info("scheduler restarted", slog.Duration("interval", interval))
}

// Stop cancels the timer and waits for a running cycle to signal completion,
// up to the hard deadline. Alert and frozen state is cleared; the
// last-observed-value cache survives for frozen continuity on the next Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.tickerStop != nil {
		close(s.tickerStop)
		s.tickerStop = nil
	}
	s.state = StateShuttingDown
	done := s.cycleDone
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(s.stopTimeout):
			s.log.Error("cycle did not complete before shutdown deadline, forcing stop",
				slog.Duration("deadline", s.stopTimeout))
		}
	}
	s.eng.ResetVolatileState()

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) loop(stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.RunCycle(context.Background())
		case <-stop:
			return
		}
	}
}

// RunCycle executes one monitoring cycle. Ticks arriving while a cycle is
// pending, running, or shutting down are skipped, never queued.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		s.log.Info("skipping cycle", slog.String("state", state.String()))
		return nil
	}
	s.state = StatePending
	done := make(chan struct{})
	s.cycleDone = done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.state != StateShuttingDown {
			s.state = StateIdle
		}
		s.cycleDone = nil
		s.mu.Unlock()
		close(done)
	}()

	s.mu.Lock()
	if s.state == StateShuttingDown {
		s.mu.Unlock()
		return nil
	}
	s.state = StateRunning
	s.mu.Unlock()

	err := s.runBody(ctx)
	s.status.RecordCycle(s.now().UTC(), err)
	if err != nil {
		s.log.Error("monitoring cycle failed", slog.String("error", err.Error()))
	}
	return err
}

func (s *Scheduler) runBody(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return s.cycle(ctx)
}

func (s *Scheduler) cycle(ctx context.Context) error {
	cfg := s.cfg.Current()
	now := s.now().UTC()

	var syncErr error
	stats, err := s.reg.Sync(ctx, cfg)
	if err != nil {
		// Keep evaluating on last-known registry state; the store failure
		// is surfaced through health and the cycle result.
		syncErr = fmt.Errorf("registry sync: %w", err)
		s.log.Error("registry sync failed", slog.String("error", err.Error()))
	} else if stats.Added > 0 || stats.Removed > 0 || stats.Updated > 0 || stats.StageTransitions > 0 {
		s.log.Info("registry reconciled",
			slog.Int("added", stats.Added),
			slog.Int("removed", stats.Removed),
			slog.Int("updated", stats.Updated),
			slog.Int("stage_transitions", stats.StageTransitions))
	}

	s.maintenance(now)

	items := s.reg.Items()
	observations := s.fetchAll(ctx, items)
	events := make([]engine.Event, 0)
	for _, item := range items {
		events = append(events, s.eng.Evaluate(item, observations[item.HeaderID])...)
	}
	if len(events) > 0 {
		s.log.Info("cycle produced alerts", slog.Int("count", len(events)))
		s.persist(ctx, events)
	}

	if s.notifier != nil && cfg.Webhook.Enabled && len(events) > 0 {
		if err := s.notifier.Dispatch(ctx, events); err != nil {
			s.log.Warn("notification dispatch failed", slog.String("error", err.Error()))
		}
	}
	return syncErr
}

func (s *Scheduler) persist(ctx context.Context, events []engine.Event) {
	if s.sink == nil {
		return
	}
	for _, evt := range events {
		rec := storage.AlertRecord{
			EventID:    evt.ID,
			HeaderID:   evt.HeaderID,
			HeaderName: evt.HeaderName,
			AlertType:  evt.Type,
			Value:      evt.Value,
			Threshold:  evt.Threshold,
			CompanyID:  evt.CompanyID,
			StageID:    evt.StageID,
			Message:    evt.Message,
			TSUTC:      evt.Timestamp,
		}
		if err := s.sink.InsertAlert(ctx, rec); err != nil {
			s.log.Warn("alert insert failed",
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()))
		}
	}
}

// fetchAll fans the per-header fetches out concurrently and merges results
// before any shared state is touched, preserving the single-writer cycle.
func (s *Scheduler) fetchAll(ctx context.Context, items []registry.Item) map[string]engine.Observation {
	results := make([]engine.Observation, len(items))
	sem := make(chan struct{}, s.fanout)
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, headerID string) {
			defer wg.Done()
			defer func() { <-sem }()
			sample, err := s.fetcher.FetchValue(ctx, headerID)
			if err != nil {
				results[i] = engine.Observation{HeaderID: headerID, Err: err}
				return
			}
			results[i] = engine.Observation{HeaderID: headerID, Raw: sample.Raw, Value: sample.Value}
		}(i, item.HeaderID)
	}
	wg.Wait()

	merged := make(map[string]engine.Observation, len(results))
	for _, obs := range results {
		merged[obs.HeaderID] = obs
	}
	return merged
}

func (s *Scheduler) maintenance(now time.Time) {
	hour := now.Truncate(time.Hour)
	if hour.After(s.lastPruneHour) {
		s.lastPruneHour = hour
		s.eng.PruneState()
	}
	if now.Sub(s.lastDupCleanup) >= s.dupInterval {
		s.lastDupCleanup = now
		s.reg.CleanupDuplicates()
	}
}
