package dispatch

import (
	"context"
	"fmt"
	"time"

	"herald/internal/metrics"
	"herald/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// HousekeeperStore is the slice of the database the housekeeper maintains.
type HousekeeperStore interface {
	CleanupTerminalJobs(ctx context.Context, retentionDays int) (int64, error)
	ListSendableSessions(ctx context.Context, channel models.Channel, now time.Time) ([]models.SendingSession, error)
	JobCounts(ctx context.Context) (map[models.JobStatus]int, error)
}

// Housekeeper runs scheduled maintenance: retention cleanup of terminal
// jobs, a periodic sweep that forces counter-window rollovers, and queue
// depth gauges. The sweep is an optimization only; the lazy rollover on
// access remains the correctness mechanism, so a missed schedule cannot
// cause overshoot.
type Housekeeper struct {
	store         HousekeeperStore
	logger        *logrus.Logger
	cron          *cron.Cron
	retentionDays int
	resetSpec     string
}

func NewHousekeeper(store HousekeeperStore, logger *logrus.Logger, retentionDays int, resetSpec string) *Housekeeper {
	return &Housekeeper{
		store:         store,
		logger:        logger,
		cron:          cron.New(),
		retentionDays: retentionDays,
		resetSpec:     resetSpec,
	}
}

func (h *Housekeeper) Start(ctx context.Context) error {
	if _, err := h.cron.AddFunc("@daily", func() { h.runCleanup(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}

	if h.resetSpec != "" {
		if _, err := h.cron.AddFunc(h.resetSpec, func() { h.runResetSweep(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule reset sweep: %w", err)
		}
	}

	if _, err := h.cron.AddFunc("@every 30s", func() { h.refreshGauges(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule gauge refresh: %w", err)
	}

	h.cron.Start()
	h.logger.WithField("retentionDays", h.retentionDays).Info("Housekeeper started")
	return nil
}

func (h *Housekeeper) Stop() {
	stopCtx := h.cron.Stop()
	<-stopCtx.Done()
}

func (h *Housekeeper) runCleanup(ctx context.Context) {
	deleted, err := h.store.CleanupTerminalJobs(ctx, h.retentionDays)
	if err != nil {
		h.logger.WithError(err).Error("Failed to cleanup terminal jobs")
		return
	}
	h.logger.WithField("deleted", deleted).Info("Terminal job cleanup completed")
}

// runResetSweep touches every sendable session so counters whose windows
// have been crossed reset ahead of the next claim.
func (h *Housekeeper) runResetSweep(ctx context.Context) {
	now := time.Now()
	for _, channel := range models.Channels {
		if _, err := h.store.ListSendableSessions(ctx, channel, now); err != nil {
			h.logger.WithError(err).WithField("channel", channel).Error("Reset sweep failed")
		}
	}
}

func (h *Housekeeper) refreshGauges(ctx context.Context) {
	counts, err := h.store.JobCounts(ctx)
	if err != nil {
		h.logger.WithError(err).Debug("Failed to refresh job gauges")
		return
	}
	for status, count := range counts {
		metrics.SetGauge("dispatch_jobs", float64(count),
			map[string]string{"status": string(status)}, "Jobs by status")
	}
}
