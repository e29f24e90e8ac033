package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// WebhookChannel posts alerts as JSON to an operator webhook (chat bridge,
// incident tool). Delivery failures are the sink's problem, not ours.
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhookChannel builds a webhook channel. The sink applies the delivery
// timeout through the context.
func NewWebhookChannel(name, url string) *WebhookChannel {
	return &WebhookChannel{name: name, url: url, client: &http.Client{}}
}

func (c *WebhookChannel) Name() string { return c.name }

func (c *WebhookChannel) Deliver(ctx context.Context, a Alert) error {
	body, err := json.Marshal(map[string]interface{}{
		"type":     a.Type,
		"message":  a.Message,
		"metadata": a.Metadata,
		"fired_at": a.FiredAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook %s returned %d", c.name, resp.StatusCode)
	}
	return nil
}

// CaptureChannel records alerts in memory; the test double for Channel.
type CaptureChannel struct {
	mu       sync.Mutex
	name     string
	alerts   []Alert
	FailNext int // fail the next N deliveries
}

func NewCaptureChannel(name string) *CaptureChannel {
	return &CaptureChannel{name: name}
}

func (c *CaptureChannel) Name() string { return c.name }

func (c *CaptureChannel) Deliver(ctx context.Context, a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailNext > 0 {
		c.FailNext--
		return fmt.Errorf("capture channel %s: scripted failure", c.name)
	}
	c.alerts = append(c.alerts, a)
	return nil
}

// Alerts returns delivered alerts so far.
func (c *CaptureChannel) Alerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}
