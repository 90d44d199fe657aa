// Package warmup computes the quota caps a sending session is allowed
// under its ramp-up curve. New accounts start at low volume and climb over
// days to avoid provider anti-spam penalties; the functions here are pure
// and consulted on every eligibility check and reservation.
package warmup

import (
	"time"

	"herald/internal/models"
)

// DefaultCurve is applied to sessions onboarded without an explicit curve.
// It doubles roughly every other day and plateaus after four weeks.
var DefaultCurve = models.WarmupCurve{
	{Day: 0, Volume: 20},
	{Day: 2, Volume: 40},
	{Day: 4, Volume: 80},
	{Day: 7, Volume: 150},
	{Day: 11, Volume: 300},
	{Day: 15, Volume: 600},
	{Day: 21, Volume: 1000},
	{Day: 28, Volume: 2000},
}

// AgeDays returns the whole days elapsed since the warm-up started.
// Clamped at zero for clock skew.
func AgeDays(warmupStartedAt, now time.Time) int {
	age := int(now.Sub(warmupStartedAt).Hours() / 24)
	if age < 0 {
		age = 0
	}
	return age
}

// EffectiveCaps returns the hourly and daily quota ceilings for the session
// at the given instant: the configured limit bounded by the warm-up curve
// value for the session's age. Sessions without a curve use only their
// configured limits.
func EffectiveCaps(session *models.SendingSession, now time.Time) (hourly, daily int) {
	hourly = session.HourlyLimit
	daily = session.DailyLimit

	if len(session.WarmupCurve) == 0 {
		return hourly, daily
	}

	curveValue := session.WarmupCurve.VolumeForDay(AgeDays(session.WarmupStartedAt, now))
	if curveValue < daily {
		daily = curveValue
	}
	if curveValue < hourly {
		hourly = curveValue
	}
	return hourly, daily
}

// RemainingDailyFraction is the session's unused share of its effective
// daily cap. Used for load balancing across eligible sessions.
func RemainingDailyFraction(session *models.SendingSession, now time.Time) float64 {
	_, daily := EffectiveCaps(session, now)
	if daily <= 0 {
		return 0
	}
	remaining := daily - session.DailyCount
	if remaining < 0 {
		remaining = 0
	}
	return float64(remaining) / float64(daily)
}
