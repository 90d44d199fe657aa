// Package registry selects sending sessions for dispatch and guards their
// quotas. Eligibility is computed from live counters and warm-up caps; the
// actual quota consumption happens through the store's conditional update,
// so concurrent workers can never push a counter past its ceiling.
package registry

import (
	"context"
	"sort"
	"time"

	"herald/internal/database"
	"herald/internal/models"
	"herald/internal/warmup"

	"github.com/sirupsen/logrus"
)

// Store is the slice of the database the registry needs.
type Store interface {
	ListSendableSessions(ctx context.Context, channel models.Channel, now time.Time) ([]models.SendingSession, error)
	ReserveSend(ctx context.Context, sessionID string, hourlyCap, dailyCap int, now time.Time) (bool, error)
	SetSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, cooldownUntil *time.Time) error
}

var _ Store = (*database.Database)(nil)

type Registry struct {
	store    Store
	logger   *logrus.Logger
	cooldown time.Duration
}

func New(store Store, logger *logrus.Logger, cooldown time.Duration) *Registry {
	return &Registry{store: store, logger: logger, cooldown: cooldown}
}

// AcquireEligibleSession returns the best session with spare quota for the
// channel and campaign, or nil when none qualifies. Preference goes to the
// session with the greatest remaining daily quota fraction; ties fall to
// the least recently used.
func (r *Registry) AcquireEligibleSession(ctx context.Context, channel models.Channel, campaignID string, now time.Time) (*models.SendingSession, error) {
	sessions, err := r.store.ListSendableSessions(ctx, channel, now)
	if err != nil {
		return nil, err
	}

	eligible := make([]models.SendingSession, 0, len(sessions))
	for _, session := range sessions {
		if !session.AllowsCampaign(campaignID) {
			continue
		}
		hourly, daily := warmup.EffectiveCaps(&session, now)
		if session.HourlyCount >= hourly || session.DailyCount >= daily {
			continue
		}
		eligible = append(eligible, session)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		fi := warmup.RemainingDailyFraction(&eligible[i], now)
		fj := warmup.RemainingDailyFraction(&eligible[j], now)
		if fi != fj {
			return fi > fj
		}
		return lastSentBefore(&eligible[i], &eligible[j])
	})

	best := eligible[0]
	return &best, nil
}

// Reserve consumes one unit of quota on the session under its current
// effective caps. A false return means the race between eligibility check
// and reservation was lost and the caller should re-select.
func (r *Registry) Reserve(ctx context.Context, session *models.SendingSession, now time.Time) (bool, error) {
	hourly, daily := warmup.EffectiveCaps(session, now)
	return r.store.ReserveSend(ctx, session.ID, hourly, daily, now)
}

// Suspend excludes a session from eligibility until an operator
// re-activates it. Triggered by provider authentication failures.
func (r *Registry) Suspend(ctx context.Context, sessionID string) error {
	r.logger.WithField("session_id", sessionID).Warn("Suspending session after auth failure")
	return r.store.SetSessionStatus(ctx, sessionID, models.SessionStatusSuspended, nil)
}

// StartCooldown parks a session after the provider reported rate limiting.
// The session re-activates lazily once the cool-down lapses.
func (r *Registry) StartCooldown(ctx context.Context, sessionID string, now time.Time) error {
	until := now.UTC().Add(r.cooldown)
	r.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"until":      until,
	}).Warn("Cooling down session after provider rate limit")
	return r.store.SetSessionStatus(ctx, sessionID, models.SessionStatusCoolingDown, &until)
}

// lastSentBefore orders sessions for the LRU tie-break; never-used
// sessions sort first.
func lastSentBefore(a, b *models.SendingSession) bool {
	switch {
	case a.LastSentAt == nil:
		return true
	case b.LastSentAt == nil:
		return false
	}
	return a.LastSentAt.Before(*b.LastSentAt)
}
