package health

import (
	"sync"
	"time"
)

// Status is the process-wide health singleton. The cycle scheduler and the
// health monitor both write it; the admin API reads snapshots.
type Status struct {
	mu                sync.Mutex
	startedAt         time.Time
	lastCycleAt       time.Time
	lastSuccessAt     time.Time
	consecutiveErrors int
	storeOk           bool
	apiOk             bool
	configOk          bool
	cycleFresh        bool
	lastError         string
	healthy           bool
}

type Snapshot struct {
	StartedAt         time.Time `json:"startedAt"`
	LastCycleAt       time.Time `json:"lastCycleAt"`
	LastSuccessAt     time.Time `json:"lastSuccessAt"`
	ConsecutiveErrors int       `json:"consecutiveErrorCount"`
	StoreOk           bool      `json:"storeOk"`
	APIOk             bool      `json:"apiOk"`
	ConfigOk          bool      `json:"configOk"`
	Healthy           bool      `json:"isHealthy"`
	LastError         string    `json:"lastError,omitempty"`
}

const maxConsecutiveErrors = 3

func NewStatus(startedAt time.Time) *Status {
	return &Status{
		startedAt:  startedAt,
		storeOk:    true,
		apiOk:      true,
		configOk:   true,
		cycleFresh: true,
		healthy:    true,
	}
}

// RecordCycle records the outcome of one monitoring cycle. Success resets the
// consecutive error count; the third consecutive failure flips unhealthy.
func (s *Status) RecordCycle(at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCycleAt = at
	if err == nil {
		s.lastSuccessAt = at
		s.consecutiveErrors = 0
		s.lastError = ""
	} else {
		s.consecutiveErrors++
		s.lastError = err.Error()
	}
	s.recompute()
}

func (s *Status) SetStoreOk(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeOk = ok
	s.recompute()
}

func (s *Status) SetAPIOk(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiOk = ok
	s.recompute()
}

func (s *Status) SetConfigOk(ok bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configOk = ok
	if !ok && reason != "" {
		s.lastError = reason
	}
	s.recompute()
}

func (s *Status) SetCycleFresh(fresh bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycleFresh = fresh
	s.recompute()
}

// recompute holds the mutex. Healthy is the AND of all checks, so a prior
// unhealthy state auto-clears once every check passes again.
func (s *Status) recompute() {
	s.healthy = s.storeOk && s.apiOk && s.configOk && s.cycleFresh &&
		s.consecutiveErrors < maxConsecutiveErrors
}

func (s *Status) LastCycleAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCycleAt
}

func (s *Status) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		StartedAt:         s.startedAt,
		LastCycleAt:       s.lastCycleAt,
		LastSuccessAt:     s.lastSuccessAt,
		ConsecutiveErrors: s.consecutiveErrors,
		StoreOk:           s.storeOk,
		APIOk:             s.apiOk,
		ConfigOk:          s.configOk,
		Healthy:           s.healthy,
		LastError:         s.lastError,
	}
}
