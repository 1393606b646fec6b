package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"headwatch/internal/engine"
)

const maxAttempts = 3

// Webhook posts alert batches to the configured endpoint. Events are deduped
// by headerId+type within a batch so a re-firing condition produces one
// notification per cycle.
type Webhook struct {
	URL    func() string
	Log    *slog.Logger
	Client *http.Client
}

func NewWebhook(url func() string, log *slog.Logger) *Webhook {
	return &Webhook{
		URL:    url,
		Log:    log,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

type payload struct {
	Alerts []engine.Event `json:"alerts"`
	SentAt time.Time      `json:"sentAt"`
}

func (w *Webhook) Dispatch(ctx context.Context, events []engine.Event) error {
	url := w.URL()
	if url == "" || len(events) == 0 {
		return nil
	}
	deduped := dedup(events)
	body, err := json.Marshal(payload{Alerts: deduped, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = w.post(ctx, url, body)
		if lastErr == nil {
			w.Log.Info("dispatched alerts",
				slog.Int("count", len(deduped)),
				slog.Int("attempt", attempt))
			return nil
		}
		time.Sleep(time.Duration(attempt) * 300 * time.Millisecond)
	}
	w.Log.Warn("alert dispatch failed", slog.String("error", lastErr.Error()))
	return lastErr
}

func (w *Webhook) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

func dedup(events []engine.Event) []engine.Event {
	seen := map[string]bool{}
	out := make([]engine.Event, 0, len(events))
	for _, event := range events {
		key := event.HeaderID + "|" + event.Type
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, event)
	}
	return out
}
