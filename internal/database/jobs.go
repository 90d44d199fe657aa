package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"herald/internal/models"

	"github.com/google/uuid"
)

// EnqueueJob inserts a new job unless an active job already exists for the
// same (channel, campaign, recipient) tuple. The partial unique index on
// active statuses makes the dedupe atomic even when two producers race.
func (d *Database) EnqueueJob(ctx context.Context, draft models.JobDraft) (models.EnqueueResult, error) {
	payload, err := draft.Payload.Encode()
	if err != nil {
		return models.EnqueueResult{}, err
	}

	encryptedRecipient, err := d.encryptor.EncryptIfEnabled(draft.RecipientKey)
	if err != nil {
		return models.EnqueueResult{}, fmt.Errorf("failed to encrypt recipient key: %w", err)
	}
	recipientHash := d.encryptor.LookupHash(draft.RecipientKey)

	if existing, err := d.activeJobID(ctx, draft.Channel, draft.CampaignID, recipientHash); err != nil {
		return models.EnqueueResult{}, err
	} else if existing != "" {
		return models.EnqueueResult{JobID: existing, Created: false, Reason: models.EnqueueReasonDuplicate}, nil
	}

	id := uuid.New().String()
	now := d.now()

	err = retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, insertJobQuery,
			id, draft.Channel, draft.CampaignID, encryptedRecipient, recipientHash,
			payload, draft.Priority, draft.MaxAttempts, now, now)
		return execErr
	}, "enqueue job")

	if err != nil {
		if isUniqueConstraintError(err) {
			// Lost the race against a concurrent enqueue of the same tuple.
			existing, selErr := d.activeJobID(ctx, draft.Channel, draft.CampaignID, recipientHash)
			if selErr != nil {
				return models.EnqueueResult{}, selErr
			}
			if existing != "" {
				return models.EnqueueResult{JobID: existing, Created: false, Reason: models.EnqueueReasonDuplicate}, nil
			}
		}
		return models.EnqueueResult{}, err
	}

	return models.EnqueueResult{JobID: id, Created: true}, nil
}

func (d *Database) activeJobID(ctx context.Context, channel models.Channel, campaignID, recipientHash string) (string, error) {
	var id string
	err := d.db.QueryRowContext(ctx, selectActiveJobIDQuery, channel, campaignID, recipientHash).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up active job: %w", err)
	}
	return id, nil
}

// ClaimNextReady atomically selects the highest-priority ready job for the
// channel and transitions it to in_flight. Paused campaigns are skipped.
// Returns nil when no job is ready.
func (d *Database) ClaimNextReady(ctx context.Context, channel models.Channel, now time.Time) (*models.MessageJob, error) {
	now = now.UTC()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, selectClaimCandidateQuery, channel, now)
	job, err := d.scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select claim candidate: %w", err)
	}

	result, err := tx.ExecContext(ctx, claimJobQuery, now, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		// Another worker claimed it between select and update.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job.Status = models.JobStatusInFlight
	job.UpdatedAt = now
	return job, nil
}

// MarkJobSent finalizes a successful delivery attempt.
func (d *Database) MarkJobSent(ctx context.Context, jobID, sessionID string) error {
	return d.transitionInFlight(ctx, "mark job sent", markJobSentQuery, sessionID, d.now(), jobID)
}

// ScheduleJobRetry records a failed attempt and schedules the next one.
func (d *Database) ScheduleJobRetry(ctx context.Context, jobID, lastError string, nextAttemptAt time.Time) error {
	return d.transitionInFlight(ctx, "schedule job retry", scheduleJobRetryQuery, nextAttemptAt.UTC(), lastError, d.now(), jobID)
}

// ReleaseJob returns an in-flight job to retry_wait without consuming an
// attempt. Used when no session currently has quota.
func (d *Database) ReleaseJob(ctx context.Context, jobID string, nextAttemptAt time.Time) error {
	return d.transitionInFlight(ctx, "release job", releaseJobQuery, nextAttemptAt.UTC(), d.now(), jobID)
}

// DeadLetterJob moves an in-flight job to its terminal failure state.
// countAttempt is false for suppression hits dead-lettered before a send
// was ever attempted.
func (d *Database) DeadLetterJob(ctx context.Context, jobID, reason string, countAttempt bool) error {
	attemptDelta := 0
	if countAttempt {
		attemptDelta = 1
	}
	return d.transitionInFlight(ctx, "dead-letter job", deadLetterJobQuery, attemptDelta, reason, d.now(), jobID)
}

func (d *Database) transitionInFlight(ctx context.Context, name, query string, args ...interface{}) error {
	return retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("job is not in_flight")
		}
		return nil
	}, name)
}

// RecoverInFlightJobs requeues jobs left in_flight by a previous process.
// They re-enter the normal retry path rather than being re-sent directly.
func (d *Database) RecoverInFlightJobs(ctx context.Context) (int64, error) {
	now := d.now()
	result, err := d.db.ExecContext(ctx, recoverInFlightJobsQuery, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to recover in-flight jobs: %w", err)
	}
	return result.RowsAffected()
}

// GetJob retrieves a single job by ID. Returns nil when not found.
func (d *Database) GetJob(ctx context.Context, jobID string) (*models.MessageJob, error) {
	row := d.db.QueryRowContext(ctx, selectJobByIDQuery, jobID)
	job, err := d.scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (d *Database) ListJobs(ctx context.Context, filter models.JobFilter) ([]models.MessageJob, error) {
	query := `
		SELECT id, channel, campaign_id, recipient_key, payload, priority,
		       status, attempts, max_attempts, next_attempt_at, last_error,
		       session_id, created_at, updated_at
		FROM message_jobs WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.CampaignID != "" {
		query += " AND campaign_id = ?"
		args = append(args, filter.CampaignID)
	}
	if filter.Channel != "" {
		query += " AND channel = ?"
		args = append(args, filter.Channel)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.MessageJob
	for rows.Next() {
		job, err := d.scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// JobCounts returns the number of jobs per status.
func (d *Database) JobCounts(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := d.db.QueryContext(ctx, countJobsByStatusQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status models.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// CleanupTerminalJobs deletes sent and dead jobs older than the retention
// window. Active jobs are never touched.
func (d *Database) CleanupTerminalJobs(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := d.now().AddDate(0, 0, -retentionDays)
	result, err := d.db.ExecContext(ctx, deleteOldTerminalJobsQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup terminal jobs: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanJob(row rowScanner) (*models.MessageJob, error) {
	var job models.MessageJob
	var encryptedRecipient, rawPayload string
	var nextAttemptAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.Channel,
		&job.CampaignID,
		&encryptedRecipient,
		&rawPayload,
		&job.Priority,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&nextAttemptAt,
		&job.LastError,
		&job.SessionID,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.RecipientKey, err = d.encryptor.DecryptIfEnabled(encryptedRecipient)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt recipient key: %w", err)
	}

	job.Payload, err = models.DecodePayload(rawPayload)
	if err != nil {
		return nil, err
	}

	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		job.NextAttemptAt = &t
	}

	return &job, nil
}
