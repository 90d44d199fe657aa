package database

// Job queries
const (
	insertJobQuery = `
		INSERT INTO message_jobs (
			id, channel, campaign_id, recipient_key, recipient_key_hash,
			payload, priority, status, attempts, max_attempts,
			next_attempt_at, last_error, session_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?, NULL, '', '', ?, ?)
	`

	selectActiveJobIDQuery = `
		SELECT id FROM message_jobs
		WHERE channel = ? AND campaign_id = ? AND recipient_key_hash = ?
		  AND status IN ('pending', 'in_flight', 'retry_wait')
	`

	selectClaimCandidateQuery = `
		SELECT id, channel, campaign_id, recipient_key, payload, priority,
		       status, attempts, max_attempts, next_attempt_at, last_error,
		       session_id, created_at, updated_at
		FROM message_jobs
		WHERE channel = ?
		  AND (status = 'pending' OR (status = 'retry_wait' AND next_attempt_at <= ?))
		  AND campaign_id NOT IN (SELECT campaign_id FROM campaign_flags WHERE paused = 1)
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT 1
	`

	claimJobQuery = `
		UPDATE message_jobs
		SET status = 'in_flight', updated_at = ?
		WHERE id = ? AND status IN ('pending', 'retry_wait')
	`

	markJobSentQuery = `
		UPDATE message_jobs
		SET status = 'sent', attempts = attempts + 1, session_id = ?,
		    last_error = '', updated_at = ?
		WHERE id = ? AND status = 'in_flight'
	`

	scheduleJobRetryQuery = `
		UPDATE message_jobs
		SET status = 'retry_wait', attempts = attempts + 1,
		    next_attempt_at = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'in_flight'
	`

	releaseJobQuery = `
		UPDATE message_jobs
		SET status = 'retry_wait', next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND status = 'in_flight'
	`

	deadLetterJobQuery = `
		UPDATE message_jobs
		SET status = 'dead', attempts = attempts + ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'in_flight'
	`

	recoverInFlightJobsQuery = `
		UPDATE message_jobs
		SET status = 'retry_wait', next_attempt_at = ?, updated_at = ?
		WHERE status = 'in_flight'
	`

	selectJobByIDQuery = `
		SELECT id, channel, campaign_id, recipient_key, payload, priority,
		       status, attempts, max_attempts, next_attempt_at, last_error,
		       session_id, created_at, updated_at
		FROM message_jobs
		WHERE id = ?
	`

	countJobsByStatusQuery = `
		SELECT status, COUNT(*) FROM message_jobs GROUP BY status
	`

	deleteOldTerminalJobsQuery = `
		DELETE FROM message_jobs
		WHERE status IN ('sent', 'dead') AND updated_at < ?
	`
)

// Session queries
const (
	insertSessionQuery = `
		INSERT INTO sending_sessions (
			id, channel, account_identifier, account_identifier_hash,
			status, hourly_count, daily_count, hourly_limit, daily_limit,
			window_hour_start, window_day_start, warmup_started_at,
			warmup_curve, assigned_campaigns, cooldown_until, last_sent_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, 'active', 0, 0, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)
	`

	selectSessionColumns = `
		SELECT id, channel, account_identifier, status, hourly_count,
		       daily_count, hourly_limit, daily_limit, window_hour_start,
		       window_day_start, warmup_started_at, warmup_curve,
		       assigned_campaigns, cooldown_until, last_sent_at,
		       created_at, updated_at
		FROM sending_sessions
	`

	rolloverHourWindowQuery = `
		UPDATE sending_sessions
		SET hourly_count = 0, window_hour_start = ?, updated_at = ?
		WHERE id = ? AND window_hour_start < ?
	`

	rolloverDayWindowQuery = `
		UPDATE sending_sessions
		SET daily_count = 0, window_day_start = ?, updated_at = ?
		WHERE id = ? AND window_day_start < ?
	`

	clearLapsedCooldownQuery = `
		UPDATE sending_sessions
		SET status = 'active', cooldown_until = NULL, updated_at = ?
		WHERE id = ? AND status = 'cooling_down' AND cooldown_until <= ?
	`

	reserveSendQuery = `
		UPDATE sending_sessions
		SET hourly_count = hourly_count + 1, daily_count = daily_count + 1,
		    last_sent_at = ?, updated_at = ?
		WHERE id = ? AND status = 'active'
		  AND hourly_count < ? AND daily_count < ?
	`

	updateSessionStatusQuery = `
		UPDATE sending_sessions
		SET status = ?, cooldown_until = ?, updated_at = ?
		WHERE id = ?
	`

	resetSessionCountersQuery = `
		UPDATE sending_sessions
		SET hourly_count = 0, daily_count = 0,
		    window_hour_start = ?, window_day_start = ?, updated_at = ?
		WHERE id = ?
	`
)

// Suppression queries
const (
	insertSuppressionQuery = `
		INSERT OR IGNORE INTO suppressions (
			id, campaign_id, recipient_key, recipient_key_hash,
			source, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	countSuppressionQuery = `
		SELECT COUNT(*) FROM suppressions
		WHERE recipient_key_hash = ? AND campaign_id IN ('', ?)
	`
)

// Campaign flag queries
const (
	upsertCampaignFlagQuery = `
		INSERT INTO campaign_flags (campaign_id, paused, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(campaign_id) DO UPDATE SET paused = excluded.paused,
			updated_at = excluded.updated_at
	`

	selectCampaignPausedQuery = `
		SELECT paused FROM campaign_flags WHERE campaign_id = ?
	`
)
