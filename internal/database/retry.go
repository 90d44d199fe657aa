package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"herald/internal/constants"
)

// retryableDBOperation retries an operation that failed with a transient
// sqlite error (lock contention under WAL, brief I/O hiccups). Logic
// errors like constraint violations return immediately.
func retryableDBOperation(ctx context.Context, operation func() error, operationName string) error {
	maxAttempts := constants.DefaultDatabaseRetryAttempts
	step := time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond
	ceiling := time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !isRetryableDBError(lastErr) {
			return fmt.Errorf("%s failed (non-retryable): %w", operationName, lastErr)
		}
		if attempt == maxAttempts {
			break
		}

		backoff := time.Duration(attempt) * step
		if backoff > ceiling {
			backoff = ceiling
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxAttempts, lastErr)
}

func isRetryableDBError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "disk I/O error")
}

// isUniqueConstraintError reports whether err is a sqlite uniqueness
// violation, used to detect duplicate-enqueue races.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
