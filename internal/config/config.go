package config

import (
	"time"

	"headwatch/internal/classify"
)

const (
	MinPollingIntervalMs     = 5000
	DefaultPollingIntervalMs = 60000
)

// PatternCategory drives classification and default alerting values for every
// header it matches. Categories are kept in priority order.
type PatternCategory struct {
	Name              string   `json:"name"`
	Patterns          []string `json:"patterns"`
	NegativePatterns  []string `json:"negativePatterns"`
	Threshold         float64  `json:"threshold"`
	AlertDurationMs   int64    `json:"alertDurationMs"`
	FrozenThresholdMs int64    `json:"frozenThresholdMs"`
}

type WebhookPolicy struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

type HeaderOverride struct {
	Threshold         *float64
	AlertDurationMs   *int64
	FrozenThresholdMs *int64
}

// Config is the process-wide monitoring configuration. Instances are
// immutable after load; the Manager replaces the whole instance on reload.
type Config struct {
	PollingIntervalMs int64
	Categories        []PatternCategory
	HeaderOverrides   map[string]HeaderOverride
	Webhook           WebhookPolicy
	LastUpdated       time.Time
}

func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalMs) * time.Millisecond
}

func (c *Config) Rules() []classify.Rule {
	rules := make([]classify.Rule, 0, len(c.Categories))
	for _, cat := range c.Categories {
		rules = append(rules, classify.Rule{
			Category:         cat.Name,
			Patterns:         cat.Patterns,
			NegativePatterns: cat.NegativePatterns,
		})
	}
	return rules
}

func (c *Config) Category(name string) (PatternCategory, bool) {
	for _, cat := range c.Categories {
		if cat.Name == name {
			return cat, true
		}
	}
	return PatternCategory{}, false
}

// Default is the built-in configuration used before the first successful
// reload and as the fallback source for malformed category payloads.
func Default() *Config {
	return &Config{
		PollingIntervalMs: DefaultPollingIntervalMs,
		Categories: []PatternCategory{
			{
				Name:              "pressure",
				Patterns:          []string{"pressure", "psi"},
				NegativePatterns:  []string{"pressure switch"},
				Threshold:         20,
				AlertDurationMs:   120000,
				FrozenThresholdMs: 600000,
			},
			{
				Name:              "temperature",
				Patterns:          []string{"temp"},
				Threshold:         0,
				AlertDurationMs:   300000,
				FrozenThresholdMs: 900000,
			},
			{
				Name:              "battery",
				Patterns:          []string{"battery", "batt", "voltage"},
				Threshold:         11.5,
				AlertDurationMs:   600000,
				FrozenThresholdMs: 1800000,
			},
		},
		HeaderOverrides: map[string]HeaderOverride{},
		LastUpdated:     time.Now().UTC(),
	}
}
