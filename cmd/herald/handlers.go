package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"herald/internal/constants"
	"herald/internal/errors"
	"herald/internal/models"
	"herald/internal/validation"
	"herald/internal/warmup"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	// Internal failures are wrapped so the response carries a stable code
	// without leaking store details.
	if status == http.StatusInternalServerError {
		if _, ok := err.(*errors.AppError); !ok {
			err = errors.Wrap(err, errors.ErrCodeInternalError, "operation failed")
		}
	}
	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(errors.GetCode(err)),
	})
}

func (s *Server) handleEnqueueJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var draft models.JobDraft
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			s.writeError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "invalid JSON body"))
			return
		}

		if err := validation.ValidateJobDraft(draft); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}

		if draft.MaxAttempts <= 0 {
			draft.MaxAttempts = s.cfg.Dispatch.MaxAttempts
		}

		// Suppressed recipients are rejected up front so the job never
		// enters the queue.
		suppressed, err := s.db.IsSuppressed(r.Context(), draft.CampaignID, draft.RecipientKey)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		if suppressed {
			s.writeJSON(w, http.StatusOK, models.EnqueueResult{
				Created: false,
				Reason:  models.EnqueueReasonSuppressed,
			})
			return
		}

		result, err := s.db.EnqueueJob(r.Context(), draft)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}

		status := http.StatusOK
		if result.Created {
			status = http.StatusCreated
		}
		s.writeJSON(w, status, result)
	}
}

func (s *Server) handleGetJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := mux.Vars(r)["id"]

		job, err := s.db.GetJob(r.Context(), jobID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		if job == nil {
			s.writeError(w, http.StatusNotFound, errors.New(errors.ErrCodeNotFound, "job not found"))
			return
		}
		s.writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) handleListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filter := models.JobFilter{
			Status:     models.JobStatus(q.Get("status")),
			CampaignID: q.Get("campaignId"),
			Channel:    models.Channel(q.Get("channel")),
			Limit:      constants.DefaultListLimit,
		}
		if raw := q.Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit <= 0 || limit > constants.MaxListLimit {
				s.writeError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "invalid limit"))
				return
			}
			filter.Limit = limit
		}

		jobs, err := s.db.ListJobs(r.Context(), filter)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
	}
}

func (s *Server) handleCreateSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var draft models.SessionDraft
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			s.writeError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "invalid JSON body"))
			return
		}

		if err := validation.ValidateSessionDraft(draft); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}

		session, err := s.db.CreateSession(r.Context(), draft)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, s.sessionView(session))
	}
}

func (s *Server) handleListSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel := models.Channel(r.URL.Query().Get("channel"))
		if channel != "" && !channel.Valid() {
			s.writeError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "unknown channel"))
			return
		}

		sessions, err := s.db.ListSessions(r.Context(), channel)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}

		views := make([]models.SessionView, 0, len(sessions))
		for i := range sessions {
			views = append(views, s.sessionView(&sessions[i]))
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": views})
	}
}

func (s *Server) sessionView(session *models.SendingSession) models.SessionView {
	hourly, daily := warmup.EffectiveCaps(session, time.Now().UTC())
	return models.SessionView{
		SendingSession:     *session,
		EffectiveHourlyCap: hourly,
		EffectiveDailyCap:  daily,
	}
}

func (s *Server) handleSessionStatus(status models.SessionStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["id"]

		session, err := s.db.GetSession(r.Context(), sessionID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		if session == nil {
			s.writeError(w, http.StatusNotFound, errors.New(errors.ErrCodeNotFound, "session not found"))
			return
		}

		if err := s.db.SetSessionStatus(r.Context(), sessionID, status, nil); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}

		s.logger.WithFields(logrus.Fields{
			"session": sessionID,
			"status":  status,
		}).Info("Session status changed by operator")
		s.writeJSON(w, http.StatusOK, map[string]string{"id": sessionID, "status": string(status)})
	}
}

func (s *Server) handleResetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["id"]

		session, err := s.db.GetSession(r.Context(), sessionID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		if session == nil {
			s.writeError(w, http.StatusNotFound, errors.New(errors.ErrCodeNotFound, "session not found"))
			return
		}

		if err := s.db.ResetSessionCounters(r.Context(), sessionID); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}

		s.logger.WithField("session", sessionID).Warn("Session counters reset by operator")
		s.writeJSON(w, http.StatusOK, map[string]string{"id": sessionID, "status": "reset"})
	}
}

func (s *Server) handleCampaignPause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID := mux.Vars(r)["id"]
		if campaignID == "" || len(campaignID) > constants.MaxCampaignIDLength {
			s.writeError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "invalid campaign ID"))
			return
		}

		if err := s.db.SetCampaignPaused(r.Context(), campaignID, paused); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}

		s.logger.WithFields(logrus.Fields{
			"campaign": campaignID,
			"paused":   paused,
		}).Info("Campaign pause flag changed")
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"campaignId": campaignID, "paused": paused})
	}
}

type suppressionRequest struct {
	CampaignID   string `json:"campaignId,omitempty"`
	RecipientKey string `json:"recipientKey"`
	Reason       string `json:"reason,omitempty"`
}

func (s *Server) handleAddSuppression() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req suppressionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "invalid JSON body"))
			return
		}
		if req.RecipientKey == "" {
			s.writeError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "recipient key cannot be empty"))
			return
		}

		err := s.db.AddSuppression(r.Context(), req.CampaignID, req.RecipientKey,
			models.SuppressionSourceOperator, req.Reason)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]string{"status": "suppressed"})
	}
}

func (s *Server) handleListSuppressions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := constants.DefaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 || parsed > constants.MaxListLimit {
				s.writeError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "invalid limit"))
				return
			}
			limit = parsed
		}

		entries, err := s.db.ListSuppressions(r.Context(), limit)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"suppressions": entries})
	}
}

func (s *Server) handleReplyWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := verifySignature(r, s.cfg.Server.WebhookSecret, "X-Webhook-Signature")
		if err != nil {
			s.logger.WithError(err).Warn("Rejected reply webhook")
			s.writeError(w, http.StatusUnauthorized, errors.New(errors.ErrCodeAuth, "signature verification failed"))
			return
		}

		var reply models.InboundReply
		if err := json.Unmarshal(body, &reply); err != nil {
			s.writeError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "invalid JSON body"))
			return
		}
		if reply.RecipientKey == "" || reply.Text == "" {
			s.writeError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "recipientKey and text are required"))
			return
		}
		if reply.ReceivedAt.IsZero() {
			reply.ReceivedAt = time.Now().UTC()
		}

		intent, err := s.recorder.HandleReply(r.Context(), reply)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"intent": string(intent)})
	}
}
