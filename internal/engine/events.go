package engine

import (
	"time"

	"github.com/google/uuid"

	"headwatch/internal/registry"
)

const (
	TypeThreshold = "threshold"
	TypeFrozen    = "frozen"
	TypeError     = "error"
)

// Event is one alert firing. Immutable once created; the engine keeps a
// bounded time-ordered copy for the dashboard and health surface.
type Event struct {
	ID         string    `json:"id"`
	HeaderID   string    `json:"headerId"`
	HeaderName string    `json:"headerName"`
	Type       string    `json:"type"`
	Value      *float64  `json:"value"`
	Threshold  float64   `json:"threshold"`
	Timestamp  time.Time `json:"timestamp"`
	CompanyID  string    `json:"companyId"`
	StageID    string    `json:"stageId"`
	Message    string    `json:"message"`
}

func newEvent(eventType string, item registry.Item, value *float64, message string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		HeaderID:   item.HeaderID,
		HeaderName: item.HeaderName,
		Type:       eventType,
		Value:      value,
		Threshold:  item.Threshold,
		Timestamp:  at,
		CompanyID:  item.CompanyID,
		StageID:    item.StageID,
		Message:    message,
	}
}
