package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEncryptionSecret = "test-secret-that-is-at-least-32-chars-long"

func TestEncryptorDisabledPassesThrough(t *testing.T) {
	enc, err := NewEncryptor()
	require.NoError(t, err)

	out, err := enc.EncryptIfEnabled("15551234567")
	require.NoError(t, err)
	assert.Equal(t, "15551234567", out)
	assert.Equal(t, "15551234567", enc.LookupHash("15551234567"))
}

func TestEncryptorRoundTrip(t *testing.T) {
	t.Setenv("HERALD_ENABLE_ENCRYPTION", "true")
	t.Setenv("HERALD_ENCRYPTION_SECRET", testEncryptionSecret)

	enc, err := NewEncryptor()
	require.NoError(t, err)

	ciphertext, err := enc.EncryptIfEnabled("15551234567")
	require.NoError(t, err)
	assert.NotEqual(t, "15551234567", ciphertext)

	plaintext, err := enc.DecryptIfEnabled(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "15551234567", plaintext)
}

func TestEncryptorLookupHashDeterministic(t *testing.T) {
	t.Setenv("HERALD_ENABLE_ENCRYPTION", "true")
	t.Setenv("HERALD_ENCRYPTION_SECRET", testEncryptionSecret)

	enc, err := NewEncryptor()
	require.NoError(t, err)

	first := enc.LookupHash("15551234567")
	second := enc.LookupHash("15551234567")
	assert.Equal(t, first, second)
	assert.NotEqual(t, "15551234567", first)
	assert.NotEqual(t, enc.LookupHash("15557654321"), first)
}

func TestEncryptorRequiresSecret(t *testing.T) {
	t.Setenv("HERALD_ENABLE_ENCRYPTION", "true")
	t.Setenv("HERALD_ENCRYPTION_SECRET", "")

	_, err := NewEncryptor()
	assert.Error(t, err)
}

func TestEncryptorRejectsShortSecret(t *testing.T) {
	t.Setenv("HERALD_ENABLE_ENCRYPTION", "true")
	t.Setenv("HERALD_ENCRYPTION_SECRET", "too-short")

	_, err := NewEncryptor()
	assert.Error(t, err)
}

func TestEnqueueWithEncryptionEnabled(t *testing.T) {
	t.Setenv("HERALD_ENABLE_ENCRYPTION", "true")
	t.Setenv("HERALD_ENCRYPTION_SECRET", testEncryptionSecret)

	db := setupTestDatabase(t)
	ctx := context.Background()

	result, err := db.EnqueueJob(ctx, testDraft("camp-1", "15551234567"))
	require.NoError(t, err)
	require.True(t, result.Created)

	// Dedupe still works through the lookup hash.
	dup, err := db.EnqueueJob(ctx, testDraft("camp-1", "15551234567"))
	require.NoError(t, err)
	assert.False(t, dup.Created)

	// Reads transparently decrypt.
	job, err := db.GetJob(ctx, result.JobID)
	require.NoError(t, err)
	assert.Equal(t, "15551234567", job.RecipientKey)

	// The stored column is not the plaintext.
	var stored string
	err = db.db.QueryRow("SELECT recipient_key FROM message_jobs WHERE id = ?", result.JobID).Scan(&stored)
	require.NoError(t, err)
	assert.NotEqual(t, "15551234567", stored)
}
