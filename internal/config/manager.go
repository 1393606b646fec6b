package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"headwatch/internal/storage"
)

const (
	SettingPollingInterval   = "monitoring.polling_interval_ms"
	SettingPatternCategories = "monitoring.pattern_categories"
	SettingWebhook           = "monitoring.webhook"
)

var ErrValidation = errors.New("config validation failed")

type Source interface {
	GetSetting(ctx context.Context, key string) (string, error)
	ListHeaderThresholds(ctx context.Context) ([]storage.HeaderThresholdRecord, error)
}

// Manager owns the active Config. Readers take the current pointer and never
// see a partially applied reload; replacement happens only after every
// validation step has passed.
type Manager struct {
	source  Source
	log     *slog.Logger
	current atomic.Pointer[Config]
	mu      sync.Mutex

	onIntervalChange func(intervalMs int64)
}

func NewManager(source Source, log *slog.Logger) *Manager {
	m := &Manager{source: source, log: log}
	m.current.Store(Default())
	return m
}

// OnIntervalChange registers the scheduler-restart signal. It fires after the
// new config is visible, with the new interval.
func (m *Manager) OnIntervalChange(fn func(intervalMs int64)) {
	m.onIntervalChange = fn
}

func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Reload loads settings and threshold records from the store and swaps the
// active config atomically. A store failure leaves the previous config in
// place and is returned to the caller; malformed interval or category
// payloads are recovered locally (default interval, previous categories).
func (m *Manager) Reload(ctx context.Context) (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.Current()
	next := &Config{
		PollingIntervalMs: DefaultPollingIntervalMs,
		Categories:        prev.Categories,
		Webhook:           prev.Webhook,
		HeaderOverrides:   map[string]HeaderOverride{},
		LastUpdated:       time.Now().UTC(),
	}

	interval, err := m.loadInterval(ctx)
	if err != nil {
		return nil, err
	}
	next.PollingIntervalMs = interval

	categories, err := m.loadCategories(ctx, prev)
	if err != nil {
		return nil, err
	}
	next.Categories = categories

	webhook, err := m.loadWebhook(ctx, prev)
	if err != nil {
		return nil, err
	}
	next.Webhook = webhook

	thresholds, err := m.source.ListHeaderThresholds(ctx)
	if err != nil {
		return nil, fmt.Errorf("load header thresholds: %w", err)
	}
	for _, rec := range thresholds {
		next.HeaderOverrides[rec.HeaderID] = HeaderOverride{
			Threshold:         rec.Threshold,
			AlertDurationMs:   rec.AlertDurationMs,
			FrozenThresholdMs: rec.FrozenThresholdMs,
		}
	}

	m.current.Store(next)
	if next.PollingIntervalMs != prev.PollingIntervalMs && m.onIntervalChange != nil {
		m.log.Info("polling interval changed, restarting scheduler",
			slog.Int64("previous_ms", prev.PollingIntervalMs),
			slog.Int64("current_ms", next.PollingIntervalMs))
		m.onIntervalChange(next.PollingIntervalMs)
	}
	return next, nil
}

func (m *Manager) loadInterval(ctx context.Context) (int64, error) {
	raw, err := m.source.GetSetting(ctx, SettingPollingInterval)
	if errors.Is(err, storage.ErrNotFound) {
		m.log.Warn("polling interval not configured, using default",
			slog.Int64("default_ms", DefaultPollingIntervalMs))
		return DefaultPollingIntervalMs, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load polling interval: %w", err)
	}
	interval, parseErr := strconv.ParseInt(raw, 10, 64)
	if parseErr != nil || interval < MinPollingIntervalMs {
		m.log.Warn("invalid polling interval, using default",
			slog.String("value", raw),
			slog.Int64("default_ms", DefaultPollingIntervalMs))
		return DefaultPollingIntervalMs, nil
	}
	return interval, nil
}

func (m *Manager) loadCategories(ctx context.Context, prev *Config) ([]PatternCategory, error) {
	raw, err := m.source.GetSetting(ctx, SettingPatternCategories)
	if errors.Is(err, storage.ErrNotFound) {
		return prev.Categories, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pattern categories: %w", err)
	}
	var categories []PatternCategory
	if err := json.Unmarshal([]byte(raw), &categories); err != nil {
		m.log.Warn("malformed pattern categories, keeping previous",
			slog.String("error", err.Error()))
		return prev.Categories, nil
	}
	valid := categories[:0]
	for _, cat := range categories {
		if cat.Name == "" || len(cat.Patterns) == 0 {
			m.log.Warn("dropping malformed pattern category", slog.String("name", cat.Name))
			continue
		}
		valid = append(valid, cat)
	}
	if len(valid) == 0 {
		m.log.Warn("no usable pattern categories, keeping previous")
		return prev.Categories, nil
	}
	return valid, nil
}

func (m *Manager) loadWebhook(ctx context.Context, prev *Config) (WebhookPolicy, error) {
	raw, err := m.source.GetSetting(ctx, SettingWebhook)
	if errors.Is(err, storage.ErrNotFound) {
		return prev.Webhook, nil
	}
	if err != nil {
		return WebhookPolicy{}, fmt.Errorf("load webhook policy: %w", err)
	}
	var policy WebhookPolicy
	if err := json.Unmarshal([]byte(raw), &policy); err != nil {
		m.log.Warn("malformed webhook policy, keeping previous",
			slog.String("error", err.Error()))
		return prev.Webhook, nil
	}
	return policy, nil
}
