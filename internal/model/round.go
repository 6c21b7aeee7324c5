package model

import "time"

// TerminalRound marks accept/reject entries that sit outside the back-and-forth count.
const TerminalRound = -1

type Actor string

const (
	ActorPublisher Actor = "publisher"
	ActorClient    Actor = "client"
)

type Action string

const (
	ActionPropose Action = "propose"
	ActionCounter Action = "counter"
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
)

type Round struct {
	ID            string `json:"id" bson:"_id" firestore:"id"`
	NegotiationID string `json:"negotiation_id" bson:"negotiation_id" firestore:"negotiation_id"`
	RoundNumber   int    `json:"round_number" bson:"round_number" firestore:"round_number"`
	Actor         Actor  `json:"actor" bson:"actor" firestore:"actor"`
	Action        Action `json:"action" bson:"action" firestore:"action"`
	Terms         Terms  `json:"terms" bson:"terms" firestore:"terms"`
	Reasoning     string `json:"reasoning,omitempty" bson:"reasoning,omitempty" firestore:"reasoning,omitempty"`

	// Set on publisher rounds produced by the counter-offer generator.
	Model      string `json:"model,omitempty" bson:"model,omitempty" firestore:"model,omitempty"`
	TokensUsed int    `json:"tokens_used,omitempty" bson:"tokens_used,omitempty" firestore:"tokens_used,omitempty"`
	LatencyMs  int64  `json:"latency_ms,omitempty" bson:"latency_ms,omitempty" firestore:"latency_ms,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at" firestore:"created_at"`
}
