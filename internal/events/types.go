package events

import "time"

// Event envelope for all events
type Envelope struct {
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	SchemaVersion  string         `json:"schema_version"`
	IdempotencyKey string         `json:"idempotency_key"`
	Timestamp      time.Time      `json:"timestamp"`
	Source         string         `json:"source"`
	TenantID       string         `json:"tenant_id,omitempty"`
	Data           map[string]any `json:"data"`
}

// Event is what the negotiation engine emits. TenantID is the publisher id;
// Key makes the idempotency key unique per transition.
type Event struct {
	Type     string
	TenantID string
	Key      string
	Data     map[string]any
}

// Negotiation events
const (
	EventNegotiationInitiated = "negotiation.initiated"
	EventNegotiationRound     = "negotiation.round"
	EventNegotiationAccepted  = "negotiation.accepted"
	EventNegotiationRejected  = "negotiation.rejected"
	EventNegotiationTimeout   = "negotiation.timeout"
)

// License events
const (
	EventLicenseGenerated = "license.generated"
)

// AllEventTypes lists every event the service can emit.
var AllEventTypes = []string{
	EventNegotiationInitiated,
	EventNegotiationRound,
	EventNegotiationAccepted,
	EventNegotiationRejected,
	EventNegotiationTimeout,
	EventLicenseGenerated,
}
