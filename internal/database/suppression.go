package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"herald/internal/models"

	"github.com/google/uuid"
)

// AddSuppression records a do-not-contact entry. An empty campaign ID makes
// the entry global. Re-adding an existing entry is a no-op; entries are
// never deleted by the engine.
func (d *Database) AddSuppression(ctx context.Context, campaignID, recipientKey, source, reason string) error {
	encryptedRecipient, err := d.encryptor.EncryptIfEnabled(recipientKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt recipient key: %w", err)
	}
	recipientHash := d.encryptor.LookupHash(recipientKey)

	return retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, insertSuppressionQuery,
			uuid.New().String(), campaignID, encryptedRecipient, recipientHash,
			source, reason, d.now())
		return execErr
	}, "add suppression")
}

// IsSuppressed reports whether the recipient is blocked for the campaign,
// either by a campaign-scoped entry or a global one.
func (d *Database) IsSuppressed(ctx context.Context, campaignID, recipientKey string) (bool, error) {
	recipientHash := d.encryptor.LookupHash(recipientKey)

	var count int
	err := d.db.QueryRowContext(ctx, countSuppressionQuery, recipientHash, campaignID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check suppression: %w", err)
	}
	return count > 0, nil
}

// ListSuppressions returns suppression entries, newest first.
func (d *Database) ListSuppressions(ctx context.Context, limit int) ([]models.SuppressionEntry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, campaign_id, recipient_key, source, reason, created_at
		FROM suppressions
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list suppressions: %w", err)
	}
	defer rows.Close()

	var entries []models.SuppressionEntry
	for rows.Next() {
		var entry models.SuppressionEntry
		var encryptedRecipient string
		var createdAt time.Time
		if err := rows.Scan(&entry.ID, &entry.CampaignID, &encryptedRecipient,
			&entry.Source, &entry.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan suppression: %w", err)
		}
		entry.RecipientKey, err = d.encryptor.DecryptIfEnabled(encryptedRecipient)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt recipient key: %w", err)
		}
		entry.CreatedAt = createdAt
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SetCampaignPaused flips the pause flag consulted by the claim query.
func (d *Database) SetCampaignPaused(ctx context.Context, campaignID string, paused bool) error {
	flag := 0
	if paused {
		flag = 1
	}
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, upsertCampaignFlagQuery, campaignID, flag, d.now())
		return err
	}, "set campaign paused")
}

// IsCampaignPaused reports the current pause flag for a campaign.
func (d *Database) IsCampaignPaused(ctx context.Context, campaignID string) (bool, error) {
	var paused int
	err := d.db.QueryRowContext(ctx, selectCampaignPausedQuery, campaignID).Scan(&paused)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check campaign flag: %w", err)
	}
	return paused == 1, nil
}
