package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

var (
	ErrStatus    = errors.New("telemetry status error")
	ErrNoContent = errors.New("telemetry empty response")
	ErrMalformed = errors.New("telemetry malformed payload")
)

// Sample is one observed header value. Raw carries the value as received so
// frozen-data tracking works for non-numeric payloads; Value is nil when the
// payload is not parseable as a number.
type Sample struct {
	HeaderID  string
	Raw       string
	Value     *float64
	Timestamp time.Time
}

type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.AuthToken,
		client:  &http.Client{Timeout: timeout},
	}
}

type valuePayload struct {
	Value     any    `json:"value"`
	Timestamp string `json:"timestamp"`
}

// FetchValue reads the latest value for one header. The request carries the
// client timeout so a hung API call is surfaced as a per-header error rather
// than stalling the caller.
func (c *Client) FetchValue(ctx context.Context, headerID string) (Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/headers/"+headerID+"/latest", nil)
	if err != nil {
		return Sample{}, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Sample{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return Sample{}, fmt.Errorf("%w: header %s", ErrNoContent, headerID)
	}
	if resp.StatusCode >= 300 {
		return Sample{}, fmt.Errorf("%w: header %s status %d", ErrStatus, headerID, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Sample{}, err
	}
	if len(body) == 0 {
		return Sample{}, fmt.Errorf("%w: header %s", ErrNoContent, headerID)
	}
	var payload valuePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Sample{}, fmt.Errorf("%w: header %s: %v", ErrMalformed, headerID, err)
	}
	sample := Sample{HeaderID: headerID, Timestamp: time.Now().UTC()}
	if payload.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			sample.Timestamp = ts
		}
	}
	sample.Raw, sample.Value = normalizeValue(payload.Value)
	return sample, nil
}

func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrStatus, resp.StatusCode)
	}
	return nil
}

func normalizeValue(value any) (string, *float64) {
	switch v := value.(type) {
	case nil:
		return "null", nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), &v
	case bool:
		return strconv.FormatBool(v), nil
	case string:
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return strconv.FormatFloat(parsed, 'f', -1, 64), &parsed
		}
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}
