package health

import (
	"context"
	"log/slog"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor runs the periodic self-check, independent of the cycle scheduler.
type Monitor struct {
	Status          *Status
	Store           Pinger
	API             Pinger
	RegistryCount   func() int
	StoreCount      func(ctx context.Context) (int, error)
	ForceSync       func(ctx context.Context)
	PollingInterval func() time.Duration
	Interval        time.Duration
	DriftTolerance  int
	Log             *slog.Logger

	now func() time.Time
}

const (
	defaultCheckInterval  = 5 * time.Minute
	defaultDriftTolerance = 5
	probeTimeout          = 10 * time.Second
)

func (m *Monitor) Run(ctx context.Context) {
	interval := m.Interval
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check runs one pass of all health checks, each recorded independently.
func (m *Monitor) Check(ctx context.Context) {
	now := m.clock()

	fresh := true
	lastCycle := m.Status.LastCycleAt()
	if !lastCycle.IsZero() {
		stale := 2 * m.PollingInterval()
		if age := now.Sub(lastCycle); age > stale {
			fresh = false
			m.Log.Warn("monitoring cycles appear stalled",
				slog.Duration("since_last_cycle", age),
				slog.Duration("stale_after", stale))
		}
	}
	m.Status.SetCycleFresh(fresh)

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	storeErr := m.Store.Ping(probeCtx)
	cancel()
	if storeErr != nil {
		m.Log.Warn("store probe failed", slog.String("error", storeErr.Error()))
	}
	m.Status.SetStoreOk(storeErr == nil)

	probeCtx, cancel = context.WithTimeout(ctx, probeTimeout)
	apiErr := m.API.Ping(probeCtx)
	cancel()
	if apiErr != nil {
		m.Log.Warn("telemetry api probe failed", slog.String("error", apiErr.Error()))
	}
	m.Status.SetAPIOk(apiErr == nil)

	if storeErr == nil {
		m.checkDrift(ctx)
	}
}

func (m *Monitor) checkDrift(ctx context.Context) {
	tolerance := m.DriftTolerance
	if tolerance <= 0 {
		tolerance = defaultDriftTolerance
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	storeCount, err := m.StoreCount(probeCtx)
	if err != nil {
		m.Log.Warn("monitored count probe failed", slog.String("error", err.Error()))
		return
	}
	memoryCount := m.RegistryCount()
	drift := storeCount - memoryCount
	if drift < 0 {
		drift = -drift
	}
	if drift > tolerance {
		m.Log.Warn("registry drift detected, forcing sync",
			slog.Int("store", storeCount),
			slog.Int("memory", memoryCount))
		m.ForceSync(ctx)
	}
}

func (m *Monitor) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now().UTC()
}
