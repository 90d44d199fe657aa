package models

import "time"

// Channel identifies the provider network a message is sent on.
type Channel string

const (
	ChannelWhatsApp    Channel = "whatsapp"
	ChannelInstagramDM Channel = "instagram_dm"
)

// Channels lists every channel the dispatcher serves.
var Channels = []Channel{ChannelWhatsApp, ChannelInstagramDM}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelInstagramDM:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a message job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusInFlight  JobStatus = "in_flight"
	JobStatusRetryWait JobStatus = "retry_wait"
	JobStatusSent      JobStatus = "sent"
	JobStatusDead      JobStatus = "dead"
)

// Terminal reports whether the status is immutable.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSent || s == JobStatusDead
}

// Dead-letter reason codes recorded in LastError for non-sender failures.
const (
	DeadReasonOptOut = "opted_out"
)

// MessageJob is one unit of outbound work. Only the dispatcher mutates
// Status, Attempts, NextAttemptAt and LastError after creation.
type MessageJob struct {
	ID            string     `json:"id"`
	Channel       Channel    `json:"channel"`
	CampaignID    string     `json:"campaignId"`
	RecipientKey  string     `json:"recipientKey"`
	Payload       Payload    `json:"payload"`
	Priority      int        `json:"priority"`
	Status        JobStatus  `json:"status"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"maxAttempts"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	SessionID     string     `json:"sessionId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// JobDraft is the producer-facing request to enqueue a job.
type JobDraft struct {
	Channel      Channel `json:"channel"`
	CampaignID   string  `json:"campaignId"`
	RecipientKey string  `json:"recipientKey"`
	Payload      Payload `json:"payload"`
	Priority     int     `json:"priority"`
	MaxAttempts  int     `json:"maxAttempts,omitempty"`
}

// EnqueueResult reports the outcome of an enqueue request.
type EnqueueResult struct {
	JobID   string `json:"jobId"`
	Created bool   `json:"created"`
	Reason  string `json:"reason,omitempty"`
}

// Enqueue result reasons for created=false responses.
const (
	EnqueueReasonDuplicate  = "duplicate"
	EnqueueReasonSuppressed = "suppressed"
)

// JobFilter narrows operational job listings.
type JobFilter struct {
	Status     JobStatus
	CampaignID string
	Channel    Channel
	Limit      int
}
