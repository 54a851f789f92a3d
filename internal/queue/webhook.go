// Package queue publishes pipeline events to an external webhook so other
// systems can react to stage transitions without polling.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Event is the wire format posted to the webhook endpoint.
type Event struct {
	RoutingKey  string    `json:"routing_key"`
	PublishedAt time.Time `json:"published_at"`
	Payload     any       `json:"payload"`
}

// Option configures the publisher.
type Option func(*WebhookPublisher)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *WebhookPublisher) {
		p.http = hc
	}
}

// WebhookPublisher POSTs events as JSON to a single configured endpoint.
// A nil publisher or an empty URL makes Publish a no-op, so callers never
// need to guard on whether eventing is configured.
type WebhookPublisher struct {
	url     string
	http    *http.Client
	nowFunc func() time.Time
}

// NewWebhookPublisher creates a publisher for the given endpoint. An empty
// url yields a publisher that discards events.
func NewWebhookPublisher(url string, opts ...Option) *WebhookPublisher {
	p := &WebhookPublisher{
		url: url,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Publish posts the payload under the given routing key. Delivery is
// best-effort: the caller decides whether a failure matters.
func (p *WebhookPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	if p == nil || p.url == "" {
		return nil
	}

	body, err := json.Marshal(Event{
		RoutingKey:  routingKey,
		PublishedAt: p.nowFunc().UTC(),
		Payload:     payload,
	})
	if err != nil {
		return eris.Wrap(err, "queue: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "queue: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "queue: send event")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return eris.Errorf("queue: webhook status %d", resp.StatusCode)
	}
	return nil
}
