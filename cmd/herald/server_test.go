package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"herald/internal/classify"
	"herald/internal/constants"
	"herald/internal/database"
	"herald/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "test-webhook-secret-for-replies-123456"

func newTestServer(t *testing.T) (*Server, *database.Database) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "herald.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cfg := &models.Config{
		Server: models.ServerConfig{
			Port:          constants.DefaultServerPort,
			WebhookSecret: testWebhookSecret,
		},
		Dispatch: models.DispatchConfig{MaxAttempts: constants.DefaultMaxAttempts},
	}

	recorder := classify.NewRecorder(classify.NewKeywordClassifier(), db, logger)
	return NewServer(cfg, db, recorder, logger), db
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func enqueueBody(campaignID, recipient string) models.JobDraft {
	return models.JobDraft{
		Channel:      models.ChannelWhatsApp,
		CampaignID:   campaignID,
		RecipientKey: recipient,
		Payload:      models.Payload{WhatsApp: &models.WhatsAppPayload{Text: "hello"}},
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestEnqueueJobEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", enqueueBody("spring-sale", "+15551230001"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var result models.EnqueueResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Created)
	assert.NotEmpty(t, result.JobID)

	// Same active tuple comes back 200 with the original job ID.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/jobs", enqueueBody("spring-sale", "+15551230001"))
	require.Equal(t, http.StatusOK, rec.Code)

	var dup models.EnqueueResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dup))
	assert.False(t, dup.Created)
	assert.Equal(t, result.JobID, dup.JobID)
	assert.Equal(t, models.EnqueueReasonDuplicate, dup.Reason)
}

func TestEnqueueJobRejectsInvalidDraft(t *testing.T) {
	s, _ := newTestServer(t)

	draft := enqueueBody("spring-sale", "not-a-phone")
	rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", draft)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnqueueJobSuppressedRecipient(t *testing.T) {
	s, db := newTestServer(t)
	require.NoError(t, db.AddSuppression(context.Background(), "", "+15551230001",
		models.SuppressionSourceOperator, "manual"))

	rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", enqueueBody("spring-sale", "+15551230001"))
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.EnqueueResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Created)
	assert.Equal(t, models.EnqueueReasonSuppressed, result.Reason)
}

func TestGetJobEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", enqueueBody("spring-sale", "+15551230001"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var result models.EnqueueResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	rec = doJSON(t, s, http.MethodGet, "/api/v1/jobs/"+result.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var job models.MessageJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "spring-sale", job.CampaignID)
	assert.Equal(t, models.JobStatusPending, job.Status)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/jobs/missing-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	for _, recipient := range []string{"+15551230001", "+15551230002"} {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", enqueueBody("spring-sale", recipient))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, s, http.MethodGet, "/api/v1/jobs?campaignId=spring-sale", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Jobs []models.MessageJob `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed.Jobs, 2)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/jobs?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSessionEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	draft := models.SessionDraft{
		Channel:           models.ChannelWhatsApp,
		AccountIdentifier: "+15559990001",
		HourlyLimit:       10,
		DailyLimit:        100,
	}
	rec := doJSON(t, s, http.MethodPost, "/api/v1/sessions", draft)
	require.Equal(t, http.StatusCreated, rec.Code)

	var view models.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, models.SessionStatusActive, view.Status)
	// A brand new session sits on the first warm-up step.
	assert.LessOrEqual(t, view.EffectiveDailyCap, 100)
}

func TestSessionStatusEndpoints(t *testing.T) {
	s, db := newTestServer(t)

	session, err := db.CreateSession(context.Background(), models.SessionDraft{
		Channel:           models.ChannelWhatsApp,
		AccountIdentifier: "+15559990001",
	})
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/sessions/"+session.ID+"/suspend", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := db.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusSuspended, updated.Status)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/sessions/"+session.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/sessions/missing-id/suspend", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCampaignPauseEndpoints(t *testing.T) {
	s, db := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/campaigns/spring-sale/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	paused, err := db.IsCampaignPaused(context.Background(), "spring-sale")
	require.NoError(t, err)
	assert.True(t, paused)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/campaigns/spring-sale/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	paused, err = db.IsCampaignPaused(context.Background(), "spring-sale")
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestSuppressionEndpoints(t *testing.T) {
	s, db := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/suppressions", suppressionRequest{
		CampaignID:   "spring-sale",
		RecipientKey: "+15551230001",
		Reason:       "complaint",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	suppressed, err := db.IsSuppressed(context.Background(), "spring-sale", "+15551230001")
	require.NoError(t, err)
	assert.True(t, suppressed)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/suppressions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Suppressions []models.SuppressionEntry `json:"suppressions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Suppressions, 1)
	assert.Equal(t, models.SuppressionSourceOperator, listed.Suppressions[0].Source)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/suppressions", suppressionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func signWebhookBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestReplyWebhookRecordsOptOut(t *testing.T) {
	s, db := newTestServer(t)

	body, err := json.Marshal(models.InboundReply{
		Channel:      models.ChannelWhatsApp,
		RecipientKey: "+15551230001",
		Text:         "STOP",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/replies", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signWebhookBody(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, string(models.IntentOptOut), decoded["intent"])

	// The opt-out is global: it blocks every campaign.
	suppressed, err := db.IsSuppressed(context.Background(), "any-campaign", "+15551230001")
	require.NoError(t, err)
	assert.True(t, suppressed)
}

func TestReplyWebhookRejectsBadSignature(t *testing.T) {
	s, _ := newTestServer(t)

	body := []byte(`{"recipientKey":"+15551230001","text":"STOP"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/replies", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReplyWebhookRejectsMissingFields(t *testing.T) {
	s, _ := newTestServer(t)

	body := []byte(`{"recipientKey":"","text":""}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/replies", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signWebhookBody(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"recipientKey":"+15551230001","text":"stop"}`)

	t.Run("valid signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhook/replies", bytes.NewReader(body))
		req.Header.Set("X-Webhook-Signature", signWebhookBody(body))

		got, err := verifySignature(req, testWebhookSecret, "X-Webhook-Signature")
		require.NoError(t, err)
		assert.Equal(t, body, got)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhook/replies", bytes.NewReader(body))
		_, err := verifySignature(req, testWebhookSecret, "X-Webhook-Signature")
		assert.Error(t, err)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhook/replies", bytes.NewReader(body))
		req.Header.Set("X-Webhook-Signature", "md5=abc")
		_, err := verifySignature(req, testWebhookSecret, "X-Webhook-Signature")
		assert.Error(t, err)
	})

	t.Run("no secret outside production passes through", func(t *testing.T) {
		t.Setenv("HERALD_ENV", "")
		req := httptest.NewRequest(http.MethodPost, "/webhook/replies", bytes.NewReader(body))
		got, err := verifySignature(req, "", "X-Webhook-Signature")
		require.NoError(t, err)
		assert.Equal(t, body, got)
	})

	t.Run("no secret in production rejected", func(t *testing.T) {
		t.Setenv("HERALD_ENV", "production")
		req := httptest.NewRequest(http.MethodPost, "/webhook/replies", bytes.NewReader(body))
		_, err := verifySignature(req, "", "X-Webhook-Signature")
		assert.Error(t, err)
	})
}
