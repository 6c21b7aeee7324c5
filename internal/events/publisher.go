package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parlakisik/aex-negotiation/internal/httpclient"
)

// Publisher delivers events to webhooks registered per event type. Delivery is
// at-most-once: there are no retries and failures are only logged.
type Publisher struct {
	source     string
	httpClient *httpclient.Client

	mu        sync.RWMutex
	endpoints map[string]string // eventType -> webhook URL
}

func NewPublisher(source string) *Publisher {
	return &Publisher{
		source: source,
		httpClient: httpclient.NewClient(source+"-events", 5*time.Second,
			httpclient.WithRetry(httpclient.RetryConfig{MaxRetries: 0})),
		endpoints: make(map[string]string),
	}
}

// RegisterEndpoint registers a webhook endpoint for an event type
func (p *Publisher) RegisterEndpoint(eventType, webhookURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints[eventType] = webhookURL
}

// Publish builds the envelope and sends it to the registered webhook, if any.
// It returns an error only when the envelope cannot be built.
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	key := e.Key
	if key == "" {
		key = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	envelope := Envelope{
		EventID:        "evt_" + uuid.NewString(),
		EventType:      e.Type,
		SchemaVersion:  "1.0",
		IdempotencyKey: fmt.Sprintf("%s_%s_%s", e.Type, e.TenantID, key),
		Timestamp:      time.Now().UTC(),
		Source:         p.source,
		TenantID:       e.TenantID,
		Data:           e.Data,
	}

	slog.InfoContext(ctx, "event_published",
		"event_id", envelope.EventID,
		"event_type", envelope.EventType,
		"tenant_id", envelope.TenantID,
	)

	p.mu.RLock()
	webhookURL, ok := p.endpoints[e.Type]
	p.mu.RUnlock()
	if ok {
		p.sendWebhook(ctx, webhookURL, envelope)
	}
	return nil
}

func (p *Publisher) sendWebhook(ctx context.Context, url string, envelope Envelope) {
	headers := map[string]string{
		"X-Event-ID":   envelope.EventID,
		"X-Event-Type": envelope.EventType,
	}
	err := p.httpClient.PostJSON(ctx, url, headers, envelope, nil)
	if status := httpclient.StatusCode(err); status != 0 {
		slog.WarnContext(ctx, "webhook_error",
			"url", url,
			"event_type", envelope.EventType,
			"status", status,
		)
		return
	}
	if err != nil {
		slog.WarnContext(ctx, "webhook_failed",
			"url", url,
			"event_type", envelope.EventType,
			"error", err,
		)
	}
}
