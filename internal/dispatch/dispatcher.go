// Package dispatch runs the worker pool that drains the job store. Each
// worker polls one channel, matches claimed jobs to sessions with spare
// quota, invokes the channel's sender and applies the outcome to the job.
// The store's conditional claim and the registry's conditional reservation
// are the only synchronization points; everything else here is stateless.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"herald/internal/metrics"
	"herald/internal/models"
	"herald/pkg/sender"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// JobStore is the slice of the database the dispatcher drives.
type JobStore interface {
	ClaimNextReady(ctx context.Context, channel models.Channel, now time.Time) (*models.MessageJob, error)
	MarkJobSent(ctx context.Context, jobID, sessionID string) error
	ScheduleJobRetry(ctx context.Context, jobID, lastError string, nextAttemptAt time.Time) error
	ReleaseJob(ctx context.Context, jobID string, nextAttemptAt time.Time) error
	DeadLetterJob(ctx context.Context, jobID, reason string, countAttempt bool) error
	IsSuppressed(ctx context.Context, campaignID, recipientKey string) (bool, error)
}

// SessionRegistry selects and reserves sending sessions.
type SessionRegistry interface {
	AcquireEligibleSession(ctx context.Context, channel models.Channel, campaignID string, now time.Time) (*models.SendingSession, error)
	Reserve(ctx context.Context, session *models.SendingSession, now time.Time) (bool, error)
	Suspend(ctx context.Context, sessionID string) error
	StartCooldown(ctx context.Context, sessionID string, now time.Time) error
}

// Config tunes the worker pool.
type Config struct {
	Workers        int
	PollInterval   time.Duration
	NoSessionDelay time.Duration
	SendTimeout    time.Duration
	SendsPerSecond int
	Backoff        BackoffPolicy
}

const maxAcquireAttempts = 3

// consecutive store failures before the pool halts rather than spinning
// against an unreachable database
const fatalStoreErrorThreshold = 3

type Dispatcher struct {
	store    JobStore
	registry SessionRegistry
	senders  map[models.Channel]sender.Sender
	cfg      Config
	logger   *logrus.Logger
	clock    func() time.Time

	pacers map[models.Channel]*rate.Limiter

	// poll interval is read on every idle sleep and may be retuned at
	// runtime, so it lives outside cfg
	pollIntervalNs atomic.Int64

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	fatalCh chan error
	doneCh  chan struct{}
}

func New(store JobStore, registry SessionRegistry, senders map[models.Channel]sender.Sender, cfg Config, logger *logrus.Logger) *Dispatcher {
	pacers := make(map[models.Channel]*rate.Limiter, len(senders))
	for channel := range senders {
		pacers[channel] = rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), 1)
	}

	d := &Dispatcher{
		store:    store,
		registry: registry,
		senders:  senders,
		cfg:      cfg,
		logger:   logger,
		clock:    time.Now,
		pacers:   pacers,
		fatalCh:  make(chan error, 1),
		doneCh:   make(chan struct{}),
	}
	d.pollIntervalNs.Store(int64(cfg.PollInterval))
	return d
}

// UpdateTuning applies the worker settings that can change without a
// restart. The poll interval takes effect on each worker's next idle
// sleep; the pacer limit applies to the next send. Zero or negative
// values leave the current setting in place.
func (d *Dispatcher) UpdateTuning(pollInterval time.Duration, sendsPerSecond int) {
	if pollInterval > 0 {
		d.pollIntervalNs.Store(int64(pollInterval))
	}
	if sendsPerSecond > 0 {
		for _, pacer := range d.pacers {
			pacer.SetLimit(rate.Limit(sendsPerSecond))
		}
	}
}

func (d *Dispatcher) pollInterval() time.Duration {
	return time.Duration(d.pollIntervalNs.Load())
}

// SetClock overrides the time source for tests.
func (d *Dispatcher) SetClock(clock func() time.Time) {
	d.clock = clock
}

// Start launches the worker pool. Workers are spread round-robin across the
// configured channels, with at least one worker per channel so no channel's
// queue goes unpolled.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	channels := make([]models.Channel, 0, len(d.senders))
	for channel := range d.senders {
		channels = append(channels, channel)
	}
	if len(channels) == 0 {
		d.logger.Warn("No senders configured, dispatch worker pool not started")
		close(d.doneCh)
		return
	}

	workers := d.cfg.Workers
	if workers < len(channels) {
		d.logger.WithFields(logrus.Fields{
			"configured": workers,
			"channels":   len(channels),
		}).Warn("Worker count below channel count, raising so every channel gets a poller")
		workers = len(channels)
	}

	d.logger.WithFields(logrus.Fields{
		"workers":  workers,
		"channels": len(channels),
	}).Info("Starting dispatch worker pool")

	for i := 0; i < workers; i++ {
		channel := channels[i%len(channels)]
		d.wg.Add(1)
		go d.runWorker(ctx, i, channel)
	}

	go func() {
		d.wg.Wait()
		close(d.doneCh)
	}()
}

// Stop signals the workers and waits for in-flight sends to finish.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	<-d.doneCh
}

// Fatal reports an unrecoverable store failure, if one halted the pool.
func (d *Dispatcher) Fatal() <-chan error {
	return d.fatalCh
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, channel models.Channel) {
	defer d.wg.Done()

	workerLog := d.logger.WithFields(logrus.Fields{
		"worker":  id,
		"channel": channel,
	})
	workerLog.Info("Dispatch worker started")

	storeErrors := 0
	for {
		select {
		case <-ctx.Done():
			workerLog.Info("Dispatch worker stopping")
			return
		default:
		}

		job, err := d.store.ClaimNextReady(ctx, channel, d.clock())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			storeErrors++
			workerLog.WithError(err).Error("Failed to claim job")
			if storeErrors >= fatalStoreErrorThreshold {
				d.halt(fmt.Errorf("job store unreachable: %w", err))
				return
			}
			d.sleep(ctx, d.pollInterval())
			continue
		}
		storeErrors = 0

		if job == nil {
			d.sleep(ctx, d.pollInterval())
			continue
		}

		d.processJob(ctx, workerLog, job)
	}
}

// halt cancels the whole pool after an unrecoverable failure. Partial
// progress must never be assumed, so no worker keeps claiming.
func (d *Dispatcher) halt(err error) {
	select {
	case d.fatalCh <- err:
	default:
	}
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) processJob(ctx context.Context, workerLog *logrus.Entry, job *models.MessageJob) {
	jobLog := workerLog.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"campaign_id": job.CampaignID,
		"attempts":    job.Attempts,
	})

	suppressed, err := d.store.IsSuppressed(ctx, job.CampaignID, job.RecipientKey)
	if err != nil {
		jobLog.WithError(err).Error("Suppression check failed")
		d.applyStoreOp(jobLog, func() error {
			return d.store.ReleaseJob(ctx, job.ID, d.clock().Add(d.pollInterval()))
		})
		return
	}
	if suppressed {
		jobLog.Info("Recipient suppressed, dead-lettering job")
		metrics.IncrementCounter("dispatch_jobs_suppressed", counterLabels(job), "Jobs dead-lettered by suppression")
		d.applyStoreOp(jobLog, func() error {
			return d.store.DeadLetterJob(ctx, job.ID, models.DeadReasonOptOut, false)
		})
		return
	}

	session, ok := d.acquireSession(ctx, jobLog, job)
	if !ok {
		return
	}

	result := d.invokeSender(ctx, jobLog, job, session)
	d.applyOutcome(ctx, jobLog, job, session, result)
}

// acquireSession finds a session with quota and consumes one unit of it.
// Losing the reservation race causes re-selection; running out of sessions
// parks the job without consuming an attempt.
func (d *Dispatcher) acquireSession(ctx context.Context, jobLog *logrus.Entry, job *models.MessageJob) (*models.SendingSession, bool) {
	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		now := d.clock()
		session, err := d.registry.AcquireEligibleSession(ctx, job.Channel, job.CampaignID, now)
		if err != nil {
			jobLog.WithError(err).Error("Session selection failed")
			break
		}
		if session == nil {
			break
		}

		reserved, err := d.registry.Reserve(ctx, session, now)
		if err != nil {
			jobLog.WithError(err).Error("Quota reservation failed")
			break
		}
		if reserved {
			return session, true
		}
		// Race lost to a concurrent worker; pick again.
	}

	jobLog.Debug("No session with available quota, releasing job")
	metrics.IncrementCounter("dispatch_quota_exhausted", counterLabels(job), "Claims released for lack of session quota")
	d.applyStoreOp(jobLog, func() error {
		return d.store.ReleaseJob(ctx, job.ID, d.clock().Add(d.cfg.NoSessionDelay))
	})
	return nil, false
}

func (d *Dispatcher) invokeSender(ctx context.Context, jobLog *logrus.Entry, job *models.MessageJob, session *models.SendingSession) *sender.Result {
	snd := d.senders[job.Channel]

	if pacer := d.pacers[job.Channel]; pacer != nil {
		if err := pacer.Wait(ctx); err != nil {
			return &sender.Result{Category: sender.CategoryTransient, Message: "dispatch interrupted"}
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	result, err := snd.Send(sendCtx, session.AccountIdentifier, job.RecipientKey, job.Payload)
	if err != nil {
		jobLog.WithError(err).Warn("Sender call failed")
		return &sender.Result{Category: sender.CategoryTransient, Message: err.Error()}
	}
	return result
}

// applyOutcome updates the job and session per the send result. The quota
// reservation is never rolled back: the provider-side attempt already
// counted against the account's real-world limit.
func (d *Dispatcher) applyOutcome(ctx context.Context, jobLog *logrus.Entry, job *models.MessageJob, session *models.SendingSession, result *sender.Result) {
	metrics.IncrementCounter("dispatch_send_outcomes", map[string]string{
		"channel":  string(job.Channel),
		"category": string(result.Category),
	}, "Send outcomes by category")

	switch result.Category {
	case sender.CategorySuccess:
		jobLog.WithField("session_id", session.ID).Info("Message sent")
		d.applyStoreOp(jobLog, func() error {
			return d.store.MarkJobSent(ctx, job.ID, session.ID)
		})

	case sender.CategoryRateLimited:
		if err := d.registry.StartCooldown(ctx, session.ID, d.clock()); err != nil {
			jobLog.WithError(err).Error("Failed to start session cooldown")
		}
		d.retryOrDead(ctx, jobLog, job, result.Message)

	case sender.CategoryTransient:
		d.retryOrDead(ctx, jobLog, job, result.Message)

	case sender.CategoryPermanent:
		jobLog.WithField("error", result.Message).Warn("Permanent send failure, dead-lettering job")
		d.applyStoreOp(jobLog, func() error {
			return d.store.DeadLetterJob(ctx, job.ID, result.Message, true)
		})

	case sender.CategoryAuth:
		jobLog.WithField("session_id", session.ID).Error("Authentication failure, suspending session")
		if err := d.registry.Suspend(ctx, session.ID); err != nil {
			jobLog.WithError(err).Error("Failed to suspend session")
		}
		d.applyStoreOp(jobLog, func() error {
			return d.store.DeadLetterJob(ctx, job.ID, result.Message, true)
		})

	default:
		jobLog.WithField("category", result.Category).Error("Unknown outcome category")
		d.retryOrDead(ctx, jobLog, job, result.Message)
	}
}

func (d *Dispatcher) retryOrDead(ctx context.Context, jobLog *logrus.Entry, job *models.MessageJob, errMsg string) {
	attemptsMade := job.Attempts + 1
	if attemptsMade >= job.MaxAttempts {
		jobLog.WithField("attempts", attemptsMade).Warn("Attempt budget exhausted, dead-lettering job")
		d.applyStoreOp(jobLog, func() error {
			return d.store.DeadLetterJob(ctx, job.ID, errMsg, true)
		})
		return
	}

	delay := d.cfg.Backoff.DelayForAttempt(attemptsMade)
	jobLog.WithFields(logrus.Fields{
		"delay": delay,
		"error": errMsg,
	}).Info("Scheduling retry")
	d.applyStoreOp(jobLog, func() error {
		return d.store.ScheduleJobRetry(ctx, job.ID, errMsg, d.clock().Add(delay))
	})
}

func (d *Dispatcher) applyStoreOp(jobLog *logrus.Entry, op func() error) {
	if err := op(); err != nil {
		jobLog.WithError(err).Error("Failed to persist job transition")
	}
}

func (d *Dispatcher) sleep(ctx context.Context, duration time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}
}

func counterLabels(job *models.MessageJob) map[string]string {
	return map[string]string{"channel": string(job.Channel)}
}
