package storage

import "time"

// MonitoredHeaderRecord is one row of the monitored-header listing, joined
// with active project metadata. Override fields are nil when the header has
// no explicit override and inherits its category defaults.
type MonitoredHeaderRecord struct {
	HeaderID          string
	ProjectID         string
	CompanyID         string
	StageID           string
	HeaderName        string
	Threshold         *float64
	AlertDurationMs   *int64
	FrozenThresholdMs *int64
}

type HeaderThresholdRecord struct {
	HeaderID          string
	Threshold         *float64
	AlertDurationMs   *int64
	FrozenThresholdMs *int64
}

type ProjectRecord struct {
	ProjectID string
	CompanyID string
	StageID   string
	Name      string
	Deleted   bool
}

type AlertRecord struct {
	EventID    string
	HeaderID   string
	HeaderName string
	AlertType  string
	Value      *float64
	Threshold  float64
	CompanyID  string
	StageID    string
	Message    string
	TSUTC      time.Time
}
