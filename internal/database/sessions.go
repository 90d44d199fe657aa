package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"herald/internal/constants"
	"herald/internal/models"
	"herald/internal/warmup"

	"github.com/google/uuid"
)

// CreateSession onboards a new sending account. The warm-up clock starts
// at creation time.
func (d *Database) CreateSession(ctx context.Context, draft models.SessionDraft) (*models.SendingSession, error) {
	if draft.HourlyLimit <= 0 {
		draft.HourlyLimit = constants.DefaultHourlyLimit
	}
	if draft.DailyLimit <= 0 {
		draft.DailyLimit = constants.DefaultDailyLimit
	}
	if len(draft.WarmupCurve) == 0 {
		draft.WarmupCurve = warmup.DefaultCurve
	}
	if err := draft.WarmupCurve.Validate(); err != nil {
		return nil, err
	}

	encryptedAccount, err := d.encryptor.EncryptIfEnabled(draft.AccountIdentifier)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt account identifier: %w", err)
	}
	accountHash := d.encryptor.LookupHash(draft.AccountIdentifier)

	curve, err := draft.WarmupCurve.Encode()
	if err != nil {
		return nil, err
	}
	campaigns, err := json.Marshal(draft.AssignedCampaigns)
	if err != nil {
		return nil, fmt.Errorf("failed to encode assigned campaigns: %w", err)
	}

	now := d.now()
	session := &models.SendingSession{
		ID:                uuid.New().String(),
		Channel:           draft.Channel,
		AccountIdentifier: draft.AccountIdentifier,
		Status:            models.SessionStatusActive,
		HourlyLimit:       draft.HourlyLimit,
		DailyLimit:        draft.DailyLimit,
		WindowHourStart:   now.Truncate(time.Hour),
		WindowDayStart:    dayStart(now),
		WarmupStartedAt:   now,
		WarmupCurve:       draft.WarmupCurve,
		AssignedCampaigns: draft.AssignedCampaigns,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, insertSessionQuery,
			session.ID, session.Channel, encryptedAccount, accountHash,
			session.HourlyLimit, session.DailyLimit,
			session.WindowHourStart, session.WindowDayStart,
			session.WarmupStartedAt, curve, string(campaigns), now, now)
		return execErr
	}, "create session")
	if err != nil {
		return nil, err
	}

	return session, nil
}

// GetSession retrieves a session by ID. Returns nil when not found.
func (d *Database) GetSession(ctx context.Context, sessionID string) (*models.SendingSession, error) {
	row := d.db.QueryRowContext(ctx, selectSessionColumns+" WHERE id = ?", sessionID)
	session, err := d.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// ListSessions returns every session, optionally filtered by channel.
func (d *Database) ListSessions(ctx context.Context, channel models.Channel) ([]models.SendingSession, error) {
	query := selectSessionColumns
	args := []interface{}{}
	if channel != "" {
		query += " WHERE channel = ?"
		args = append(args, channel)
	}
	query += " ORDER BY created_at ASC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.SendingSession
	for rows.Next() {
		session, err := d.scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// ListSendableSessions returns sessions on the channel that are active, or
// cooling down with a lapsed cool-down (which is cleared in passing).
// Counter windows are rolled over lazily before the rows are read, so a
// missed scheduled reset can never cause overshoot.
func (d *Database) ListSendableSessions(ctx context.Context, channel models.Channel, now time.Time) ([]models.SendingSession, error) {
	now = now.UTC()

	rows, err := d.db.QueryContext(ctx,
		"SELECT id FROM sending_sessions WHERE channel = ? AND status IN ('active', 'cooling_down')", channel)
	if err != nil {
		return nil, fmt.Errorf("failed to list session ids: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, id := range ids {
		if err := d.rolloverWindows(ctx, id, now); err != nil {
			return nil, err
		}
	}

	sessionRows, err := d.db.QueryContext(ctx,
		selectSessionColumns+" WHERE channel = ? AND status = 'active'", channel)
	if err != nil {
		return nil, fmt.Errorf("failed to list sendable sessions: %w", err)
	}
	defer sessionRows.Close()

	var sessions []models.SendingSession
	for sessionRows.Next() {
		session, err := d.scanSession(sessionRows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, sessionRows.Err()
}

// rolloverWindows resets counters whose window has been crossed and clears
// lapsed cool-downs. Each statement is conditional on the window marker, so
// repeated calls are idempotent.
func (d *Database) rolloverWindows(ctx context.Context, sessionID string, now time.Time) error {
	hourStart := now.Truncate(time.Hour)
	if _, err := d.db.ExecContext(ctx, rolloverHourWindowQuery, hourStart, now, sessionID, hourStart); err != nil {
		return fmt.Errorf("failed to roll hour window: %w", err)
	}

	day := dayStart(now)
	if _, err := d.db.ExecContext(ctx, rolloverDayWindowQuery, day, now, sessionID, day); err != nil {
		return fmt.Errorf("failed to roll day window: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, clearLapsedCooldownQuery, now, sessionID, now); err != nil {
		return fmt.Errorf("failed to clear cooldown: %w", err)
	}
	return nil
}

// ReserveSend atomically consumes one unit of quota against the given
// effective caps. Returns false when no quota remains, which callers treat
// as losing the race between eligibility check and reservation.
func (d *Database) ReserveSend(ctx context.Context, sessionID string, hourlyCap, dailyCap int, now time.Time) (bool, error) {
	now = now.UTC()
	if err := d.rolloverWindows(ctx, sessionID, now); err != nil {
		return false, err
	}

	var reserved bool
	err := retryableDBOperation(ctx, func() error {
		result, execErr := d.db.ExecContext(ctx, reserveSendQuery, now, now, sessionID, hourlyCap, dailyCap)
		if execErr != nil {
			return execErr
		}
		rows, execErr := result.RowsAffected()
		if execErr != nil {
			return execErr
		}
		reserved = rows == 1
		return nil
	}, "reserve send")
	if err != nil {
		return false, err
	}
	return reserved, nil
}

// SetSessionStatus transitions a session's operational state. cooldownUntil
// is only meaningful for cooling_down.
func (d *Database) SetSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, cooldownUntil *time.Time) error {
	var until interface{}
	if cooldownUntil != nil {
		until = cooldownUntil.UTC()
	}
	return retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, updateSessionStatusQuery, status, until, d.now(), sessionID)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("no session found with ID: %s", sessionID)
		}
		return nil
	}, "set session status")
}

// ResetSessionCounters zeroes both counters and restarts the windows at
// now. Exposed for the operational API and the optional scheduled sweep.
func (d *Database) ResetSessionCounters(ctx context.Context, sessionID string) error {
	now := d.now()
	return retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, resetSessionCountersQuery,
			now.Truncate(time.Hour), dayStart(now), now, sessionID)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("no session found with ID: %s", sessionID)
		}
		return nil
	}, "reset session counters")
}

func (d *Database) scanSession(row rowScanner) (*models.SendingSession, error) {
	var session models.SendingSession
	var encryptedAccount, rawCurve, rawCampaigns string
	var cooldownUntil, lastSentAt sql.NullTime

	err := row.Scan(
		&session.ID,
		&session.Channel,
		&encryptedAccount,
		&session.Status,
		&session.HourlyCount,
		&session.DailyCount,
		&session.HourlyLimit,
		&session.DailyLimit,
		&session.WindowHourStart,
		&session.WindowDayStart,
		&session.WarmupStartedAt,
		&rawCurve,
		&rawCampaigns,
		&cooldownUntil,
		&lastSentAt,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.AccountIdentifier, err = d.encryptor.DecryptIfEnabled(encryptedAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt account identifier: %w", err)
	}

	session.WarmupCurve, err = models.DecodeWarmupCurve(rawCurve)
	if err != nil {
		return nil, err
	}

	if rawCampaigns != "" {
		if err := json.Unmarshal([]byte(rawCampaigns), &session.AssignedCampaigns); err != nil {
			return nil, fmt.Errorf("failed to decode assigned campaigns: %w", err)
		}
	}

	if cooldownUntil.Valid {
		t := cooldownUntil.Time
		session.CooldownUntil = &t
	}
	if lastSentAt.Valid {
		t := lastSentAt.Time
		session.LastSentAt = &t
	}

	return &session, nil
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
