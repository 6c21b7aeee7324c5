package model

import "time"

type NegotiationStatus string

const (
	StatusNegotiating NegotiationStatus = "negotiating"
	StatusAccepted    NegotiationStatus = "accepted"
	StatusRejected    NegotiationStatus = "rejected"
	StatusTimeout     NegotiationStatus = "timeout"
)

func (s NegotiationStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusTimeout
}

type Negotiation struct {
	ID          string            `json:"id" bson:"_id" firestore:"id"`
	PublisherID string            `json:"publisher_id" bson:"publisher_id" firestore:"publisher_id"`
	ClientName  string            `json:"client_name" bson:"client_name" firestore:"client_name"`
	StrategyID  string            `json:"strategy_id" bson:"strategy_id" firestore:"strategy_id"`
	Status      NegotiationStatus `json:"status" bson:"status" firestore:"status"`

	CurrentRound    int    `json:"current_round" bson:"current_round" firestore:"current_round"`
	InitialProposal Terms  `json:"initial_proposal" bson:"initial_proposal" firestore:"initial_proposal"`
	CurrentTerms    Terms  `json:"current_terms" bson:"current_terms" firestore:"current_terms"`
	FinalTerms      *Terms `json:"final_terms,omitempty" bson:"final_terms,omitempty" firestore:"final_terms,omitempty"`
	// LastOffer is the publisher's most recent counter-offer.
	LastOffer       *Terms `json:"last_offer,omitempty" bson:"last_offer,omitempty" firestore:"last_offer,omitempty"`

	PartnerType PartnerType    `json:"partner_type" bson:"partner_type" firestore:"partner_type"`
	PartnerName *string        `json:"partner_name,omitempty" bson:"partner_name,omitempty" firestore:"partner_name,omitempty"`
	LicenseType string         `json:"license_type" bson:"license_type" firestore:"license_type"`
	UseCase     string         `json:"use_case" bson:"use_case" firestore:"use_case"`
	Context     map[string]any `json:"context,omitempty" bson:"context,omitempty" firestore:"context,omitempty"`

	RejectionReason string  `json:"rejection_reason,omitempty" bson:"rejection_reason,omitempty" firestore:"rejection_reason,omitempty"`
	PolicyID        *string `json:"policy_id,omitempty" bson:"policy_id,omitempty" firestore:"policy_id,omitempty"`

	InitiatedAt    time.Time  `json:"initiated_at" bson:"initiated_at" firestore:"initiated_at"`
	LastActivityAt time.Time  `json:"last_activity_at" bson:"last_activity_at" firestore:"last_activity_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty" firestore:"completed_at,omitempty"`

	// Version is bumped by the store on every successful update.
	Version int64 `json:"version" bson:"version" firestore:"version"`
}

// PartnerInfo is what the counter-offer prompt knows about the counterpart.
type PartnerInfo struct {
	Type       PartnerType
	Name       string
	ClientName string
	UseCase    string
	Context    map[string]any
}

func (n Negotiation) PartnerInfo() PartnerInfo {
	info := PartnerInfo{
		Type:       n.PartnerType,
		ClientName: n.ClientName,
		UseCase:    n.UseCase,
		Context:    n.Context,
	}
	if n.PartnerName != nil {
		info.Name = *n.PartnerName
	}
	return info
}
