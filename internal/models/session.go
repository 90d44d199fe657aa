package models

import "time"

// SessionStatus is the operational state of a sending account.
type SessionStatus string

const (
	SessionStatusActive      SessionStatus = "active"
	SessionStatusCoolingDown SessionStatus = "cooling_down"
	SessionStatusSuspended   SessionStatus = "suspended"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusActive, SessionStatusCoolingDown, SessionStatusSuspended:
		return true
	}
	return false
}

// SendingSession is a provider account capable of sending on one channel.
// Counters are mutated only through the registry's atomic reservation path.
type SendingSession struct {
	ID                string        `json:"id"`
	Channel           Channel       `json:"channel"`
	AccountIdentifier string        `json:"accountIdentifier"`
	Status            SessionStatus `json:"status"`
	HourlyCount       int           `json:"hourlyCount"`
	DailyCount        int           `json:"dailyCount"`
	HourlyLimit       int           `json:"hourlyLimit"`
	DailyLimit        int           `json:"dailyLimit"`
	WindowHourStart   time.Time     `json:"windowHourStart"`
	WindowDayStart    time.Time     `json:"windowDayStart"`
	WarmupStartedAt   time.Time     `json:"warmupStartedAt"`
	WarmupCurve       WarmupCurve   `json:"warmupCurve"`
	AssignedCampaigns []string      `json:"assignedCampaigns,omitempty"`
	CooldownUntil     *time.Time    `json:"cooldownUntil,omitempty"`
	LastSentAt        *time.Time    `json:"lastSentAt,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// AllowsCampaign reports whether the session may serve the given campaign.
// An empty assignment set means the session belongs to the shared pool.
func (s *SendingSession) AllowsCampaign(campaignID string) bool {
	if len(s.AssignedCampaigns) == 0 {
		return true
	}
	for _, id := range s.AssignedCampaigns {
		if id == campaignID {
			return true
		}
	}
	return false
}

// SessionDraft is the operator-facing request to onboard a session.
type SessionDraft struct {
	Channel           Channel     `json:"channel"`
	AccountIdentifier string      `json:"accountIdentifier"`
	HourlyLimit       int         `json:"hourlyLimit,omitempty"`
	DailyLimit        int         `json:"dailyLimit,omitempty"`
	WarmupCurve       WarmupCurve `json:"warmupCurve,omitempty"`
	AssignedCampaigns []string    `json:"assignedCampaigns,omitempty"`
}

// SessionView is a session with its live effective caps, for operational
// queries.
type SessionView struct {
	SendingSession
	EffectiveHourlyCap int `json:"effectiveHourlyCap"`
	EffectiveDailyCap  int `json:"effectiveDailyCap"`
}
