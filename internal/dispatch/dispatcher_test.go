package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"herald/internal/models"
	"herald/pkg/sender"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type retryCall struct {
	jobID   string
	lastErr string
	at      time.Time
}

type releaseCall struct {
	jobID string
	at    time.Time
}

type deadCall struct {
	jobID   string
	reason  string
	counted bool
}

type fakeStore struct {
	mu sync.Mutex

	queue         []*models.MessageJob
	claimErr      error
	suppressed    bool
	suppressedErr error

	sent     map[string]string // jobID -> sessionID
	retries  []retryCall
	released []releaseCall
	dead     []deadCall
}

func newFakeStore() *fakeStore {
	return &fakeStore{sent: make(map[string]string)}
}

func (s *fakeStore) ClaimNextReady(_ context.Context, channel models.Channel, _ time.Time) (*models.MessageJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	for i, job := range s.queue {
		if job.Channel == channel {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return job, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) MarkJobSent(_ context.Context, jobID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[jobID] = sessionID
	return nil
}

func (s *fakeStore) ScheduleJobRetry(_ context.Context, jobID, lastError string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries = append(s.retries, retryCall{jobID: jobID, lastErr: lastError, at: nextAttemptAt})
	return nil
}

func (s *fakeStore) ReleaseJob(_ context.Context, jobID string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, releaseCall{jobID: jobID, at: nextAttemptAt})
	return nil
}

func (s *fakeStore) DeadLetterJob(_ context.Context, jobID, reason string, countAttempt bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead = append(s.dead, deadCall{jobID: jobID, reason: reason, counted: countAttempt})
	return nil
}

func (s *fakeStore) IsSuppressed(_ context.Context, _, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed, s.suppressedErr
}

func (s *fakeStore) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeRegistry struct {
	mu sync.Mutex

	session        *models.SendingSession
	acquireErr     error
	reserveResults []bool // consumed in order; empty means always true

	acquires  int
	reserves  int
	suspended []string
	cooldowns map[string]time.Time
}

func newFakeRegistry(session *models.SendingSession) *fakeRegistry {
	return &fakeRegistry{session: session, cooldowns: make(map[string]time.Time)}
}

func (r *fakeRegistry) AcquireEligibleSession(_ context.Context, _ models.Channel, _ string, _ time.Time) (*models.SendingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acquires++
	if r.acquireErr != nil {
		return nil, r.acquireErr
	}
	return r.session, nil
}

func (r *fakeRegistry) Reserve(_ context.Context, _ *models.SendingSession, _ time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserves++
	if len(r.reserveResults) > 0 {
		granted := r.reserveResults[0]
		r.reserveResults = r.reserveResults[1:]
		return granted, nil
	}
	return true, nil
}

func (r *fakeRegistry) Suspend(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suspended = append(r.suspended, sessionID)
	return nil
}

func (r *fakeRegistry) StartCooldown(_ context.Context, sessionID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldowns[sessionID] = now
	return nil
}

type fakeSender struct {
	mu      sync.Mutex
	channel models.Channel
	result  *sender.Result
	err     error
	calls   int
}

func (s *fakeSender) Channel() models.Channel { return s.channel }

func (s *fakeSender) Send(_ context.Context, _, _ string, _ models.Payload) (*sender.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testConfig() Config {
	return Config{
		Workers:        1,
		PollInterval:   10 * time.Millisecond,
		NoSessionDelay: time.Minute,
		SendTimeout:    5 * time.Second,
		SendsPerSecond: 100,
		Backoff: BackoffPolicy{
			Base:     30 * time.Second,
			MaxDelay: time.Hour,
		},
	}
}

func testJob() *models.MessageJob {
	return &models.MessageJob{
		ID:           "job-1",
		Channel:      models.ChannelWhatsApp,
		CampaignID:   "spring-sale",
		RecipientKey: "+15551230001",
		Status:       models.JobStatusInFlight,
		MaxAttempts:  5,
	}
}

func newTestDispatcher(t *testing.T, store *fakeStore, registry *fakeRegistry, snd *fakeSender) *Dispatcher {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	d := New(store, registry, map[models.Channel]sender.Sender{snd.channel: snd}, testConfig(), logger)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	d.SetClock(func() time.Time { return now })
	return d
}

func testWorkerLog(d *Dispatcher) *logrus.Entry {
	return d.logger.WithField("worker", 0)
}

func TestProcessJobSuccess(t *testing.T) {
	store := newFakeStore()
	registry := newFakeRegistry(&models.SendingSession{ID: "sess-1", AccountIdentifier: "acct-1"})
	snd := &fakeSender{channel: models.ChannelWhatsApp, result: &sender.Result{Category: sender.CategorySuccess, MessageID: "wamid.1"}}
	d := newTestDispatcher(t, store, registry, snd)

	d.processJob(context.Background(), testWorkerLog(d), testJob())

	assert.Equal(t, 1, snd.callCount())
	assert.Equal(t, "sess-1", store.sent["job-1"])
	assert.Empty(t, store.retries)
	assert.Empty(t, store.dead)
}

func TestProcessJobSuppressedDeadLettersWithoutAttempt(t *testing.T) {
	store := newFakeStore()
	store.suppressed = true
	registry := newFakeRegistry(&models.SendingSession{ID: "sess-1"})
	snd := &fakeSender{channel: models.ChannelWhatsApp, result: &sender.Result{Category: sender.CategorySuccess}}
	d := newTestDispatcher(t, store, registry, snd)

	d.processJob(context.Background(), testWorkerLog(d), testJob())

	assert.Zero(t, snd.callCount())
	assert.Zero(t, registry.acquires)
	require.Len(t, store.dead, 1)
	assert.Equal(t, models.DeadReasonOptOut, store.dead[0].reason)
	assert.False(t, store.dead[0].counted)
}

func TestProcessJobSuppressionCheckErrorReleases(t *testing.T) {
	store := newFakeStore()
	store.suppressedErr = errors.New("database is locked")
	registry := newFakeRegistry(&models.SendingSession{ID: "sess-1"})
	snd := &fakeSender{channel: models.ChannelWhatsApp, result: &sender.Result{Category: sender.CategorySuccess}}
	d := newTestDispatcher(t, store, registry, snd)

	d.processJob(context.Background(), testWorkerLog(d), testJob())

	assert.Zero(t, snd.callCount())
	assert.Empty(t, store.dead)
	require.Len(t, store.released, 1)
	assert.Equal(t, d.clock().Add(d.pollInterval()), store.released[0].at)
}

func TestProcessJobNoSessionReleasesWithDelay(t *testing.T) {
	store := newFakeStore()
	registry := newFakeRegistry(nil)
	snd := &fakeSender{channel: models.ChannelWhatsApp, result: &sender.Result{Category: sender.CategorySuccess}}
	d := newTestDispatcher(t, store, registry, snd)

	d.processJob(context.Background(), testWorkerLog(d), testJob())

	assert.Zero(t, snd.callCount())
	require.Len(t, store.released, 1)
	assert.Equal(t, d.clock().Add(d.cfg.NoSessionDelay), store.released[0].at)
}

func TestProcessJobReservationRaceRetriesSelection(t *testing.T) {
	store := newFakeStore()
	registry := newFakeRegistry(&models.SendingSession{ID: "sess-1"})
	registry.reserveResults = []bool{false, true}
	snd := &fakeSender{channel: models.ChannelWhatsApp, result: &sender.Result{Category: sender.CategorySuccess}}
	d := newTestDispatcher(t, store, registry, snd)

	d.processJob(context.Background(), testWorkerLog(d), testJob())

	assert.Equal(t, 2, registry.reserves)
	assert.Equal(t, "sess-1", store.sent["job-1"])
	assert.Empty(t, store.released)
}

func TestProcessJobReservationAlwaysLostReleases(t *testing.T) {
	store := newFakeStore()
	registry := newFakeRegistry(&models.SendingSession{ID: "sess-1"})
	registry.reserveResults = []bool{false, false, false}
	snd := &fakeSender{channel: models.ChannelWhatsApp, result: &sender.Result{Category: sender.CategorySuccess}}
	d := newTestDispatcher(t, store, registry, snd)

	d.processJob(context.Background(), testWorkerLog(d), testJob())

	assert.Equal(t, maxAcquireAttempts, registry.reserves)
	assert.Zero(t, snd.callCount())
	require.Len(t, store.released, 1)
}

func TestProcessJobTransientSchedulesRetry(t *testing.T) {
	store := newFakeStore()
	registry := newFakeRegistry(&models.SendingSession{ID: "sess-1"})
	snd := &fakeSender{channel: models.ChannelWhatsApp, result: &sender.Result{Category: sender.CategoryTransient, Message: "gateway timeout"}}
	d := newTestDispatcher(t, store, registry, snd)

	d.processJob(context.Background(), testWorkerLog(d), testJob())

	require.Len(t, store.retries, 1)
	assert.Equal(t, "gateway timeout", store.retries[0].lastErr)
	// One attempt made: base doubled once.
	assert.Equal(t, d.clock().Add(time.Minute), store.retries[0].at)
	assert.Empty(t, store.dead)
}

func TestProcessJobTransientExhaustsAttempts(t *testing.T) {
	store := newFakeStore()
	registry := newFakeRegistry(&models.SendingSession{ID: "sess-1"})
	snd := &fakeSender{channel: models.ChannelWhatsApp, result: &sender.Result{Category: sender.CategoryTransient, Message: "gateway timeout"}}
	d := newTestDispatcher(t, store, registry, snd)

	job := testJob()
	job.Attempts = job.MaxAttempts - 1

	d.processJob(context.Background(), testWorkerLog(d), job)

	assert.Empty(t, store.retries)
	require.Len(t, store.dead, 1)
	assert.Equal(t, "gateway timeout", store.dead[0].reason)
	assert.True(t, store.dead[0].counted)
}

func TestProcessJobPermanentDeadLetters(t *testing.T) {
	store := newFakeStore()
	registry := newFakeRegistry(&models.SendingSession{ID: "sess-1"})
	snd := &fakeSender{channel: models.ChannelWhatsApp, result: &sender.Result{Category: sender.CategoryPermanent, Message: "recipient not on whatsapp"}}
	d := newTestDispatcher(t, store, registry, snd)

	d.processJob(context.Background(), testWorkerLog(d), testJob())

	assert.Empty(t, store.retries)
	require.Len(t, store.dead, 1)
	assert.Equal(t, "recipient not on whatsapp", store.dead[0].reason)
	assert.True(t, store.dead[0].counted)
}

func TestProcessJobAuthSuspendsSession(t *testing.T) {
	store := newFakeStore()
	registry := newFakeRegistry(&models.SendingSession{ID: "sess-1"})
	snd := &fakeSender{channel: models.ChannelWhatsApp, result: &sender.Result{Category: sender.CategoryAuth, Message: "token revoked"}}
	d := newTestDispatcher(t, store, registry, snd)

	d.processJob(context.Background(), testWorkerLog(d), testJob())

	assert.Equal(t, []string{"sess-1"}, registry.suspended)
	require.Len(t, store.dead, 1)
	assert.True(t, store.dead[0].counted)
}

func TestProcessJobRateLimitedCoolsDownAndRetries(t *testing.T) {
	store := newFakeStore()
	registry := newFakeRegistry(&models.SendingSession{ID: "sess-1"})
	snd := &fakeSender{channel: models.ChannelWhatsApp, result: &sender.Result{Category: sender.CategoryRateLimited, Message: "too many requests"}}
	d := newTestDispatcher(t, store, registry, snd)

	d.processJob(context.Background(), testWorkerLog(d), testJob())

	assert.Contains(t, registry.cooldowns, "sess-1")
	require.Len(t, store.retries, 1)
	assert.Equal(t, "too many requests", store.retries[0].lastErr)
}

func TestProcessJobTransportErrorTreatedTransient(t *testing.T) {
	store := newFakeStore()
	registry := newFakeRegistry(&models.SendingSession{ID: "sess-1"})
	snd := &fakeSender{channel: models.ChannelWhatsApp, err: errors.New("connection refused")}
	d := newTestDispatcher(t, store, registry, snd)

	d.processJob(context.Background(), testWorkerLog(d), testJob())

	require.Len(t, store.retries, 1)
	assert.Equal(t, "connection refused", store.retries[0].lastErr)
}

func TestWorkerPoolDrainsQueue(t *testing.T) {
	store := newFakeStore()
	for _, id := range []string{"job-1", "job-2", "job-3"} {
		job := testJob()
		job.ID = id
		store.queue = append(store.queue, job)
	}
	registry := newFakeRegistry(&models.SendingSession{ID: "sess-1"})
	snd := &fakeSender{channel: models.ChannelWhatsApp, result: &sender.Result{Category: sender.CategorySuccess}}
	d := newTestDispatcher(t, store, registry, snd)

	d.Start(context.Background())
	defer d.Stop()

	require.Eventually(t, func() bool {
		return store.sentCount() == 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorkerPoolHaltsOnRepeatedStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.claimErr = errors.New("disk I/O error")
	registry := newFakeRegistry(nil)
	snd := &fakeSender{channel: models.ChannelWhatsApp}
	d := newTestDispatcher(t, store, registry, snd)

	d.Start(context.Background())
	defer d.Stop()

	select {
	case err := <-d.Fatal():
		assert.Contains(t, err.Error(), "job store unreachable")
	case <-time.After(5 * time.Second):
		t.Fatal("expected fatal store error")
	}
}

func TestUpdateTuningAppliesAtRuntime(t *testing.T) {
	store := newFakeStore()
	registry := newFakeRegistry(nil)
	snd := &fakeSender{channel: models.ChannelWhatsApp}
	d := newTestDispatcher(t, store, registry, snd)

	assert.Equal(t, 10*time.Millisecond, d.pollInterval())
	assert.Equal(t, rate.Limit(100), d.pacers[models.ChannelWhatsApp].Limit())

	d.UpdateTuning(250*time.Millisecond, 7)

	assert.Equal(t, 250*time.Millisecond, d.pollInterval())
	assert.Equal(t, rate.Limit(7), d.pacers[models.ChannelWhatsApp].Limit())
}

func TestUpdateTuningIgnoresZeroValues(t *testing.T) {
	store := newFakeStore()
	registry := newFakeRegistry(nil)
	snd := &fakeSender{channel: models.ChannelWhatsApp}
	d := newTestDispatcher(t, store, registry, snd)

	d.UpdateTuning(0, 0)

	assert.Equal(t, 10*time.Millisecond, d.pollInterval())
	assert.Equal(t, rate.Limit(100), d.pacers[models.ChannelWhatsApp].Limit())
}

func TestStartGivesEveryChannelAWorker(t *testing.T) {
	store := newFakeStore()
	waJob := testJob()
	igJob := testJob()
	igJob.ID = "job-2"
	igJob.Channel = models.ChannelInstagramDM
	store.queue = []*models.MessageJob{waJob, igJob}

	registry := newFakeRegistry(&models.SendingSession{ID: "sess-1"})
	waSender := &fakeSender{channel: models.ChannelWhatsApp, result: &sender.Result{Category: sender.CategorySuccess}}
	igSender := &fakeSender{channel: models.ChannelInstagramDM, result: &sender.Result{Category: sender.CategorySuccess}}

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	senders := map[models.Channel]sender.Sender{
		models.ChannelWhatsApp:    waSender,
		models.ChannelInstagramDM: igSender,
	}
	// One worker for two channels: the pool must raise the count so the
	// second channel's queue is still polled.
	d := New(store, registry, senders, testConfig(), logger)

	d.Start(context.Background())
	defer d.Stop()

	require.Eventually(t, func() bool {
		return store.sentCount() == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, waSender.callCount())
	assert.Equal(t, 1, igSender.callCount())
}

func TestStartWithoutSendersIsSafe(t *testing.T) {
	store := newFakeStore()
	registry := newFakeRegistry(nil)

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	d := New(store, registry, map[models.Channel]sender.Sender{}, testConfig(), logger)

	d.Start(context.Background())
	d.Stop()
}

func TestStopWaitsForWorkers(t *testing.T) {
	store := newFakeStore()
	registry := newFakeRegistry(nil)
	snd := &fakeSender{channel: models.ChannelWhatsApp}
	d := newTestDispatcher(t, store, registry, snd)

	d.Start(context.Background())
	d.Stop()

	// A second Stop must not block or panic once the pool is drained.
	d.Stop()
}
