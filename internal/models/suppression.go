package models

import "time"

// Intent is the classified meaning of an inbound reply. Only opt-out is
// meaningful to the dispatch core; other values pass through untouched.
type Intent string

const (
	IntentOptOut  Intent = "opt_out"
	IntentUnknown Intent = "unknown"
)

// Suppression entry sources recorded for audit.
const (
	SuppressionSourceIntent   = "classified_intent"
	SuppressionSourceOperator = "operator"
)

// SuppressionEntry is a permanent do-not-contact record. CampaignID is
// empty for global entries. The core never deletes entries.
type SuppressionEntry struct {
	ID           string    `json:"id"`
	CampaignID   string    `json:"campaignId,omitempty"`
	RecipientKey string    `json:"recipientKey"`
	Source       string    `json:"source"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// InboundReply is a message received from a recipient, fed to the
// classifier to drive opt-out suppression.
type InboundReply struct {
	Channel      Channel   `json:"channel"`
	RecipientKey string    `json:"recipientKey"`
	Text         string    `json:"text"`
	ReceivedAt   time.Time `json:"receivedAt"`
}
