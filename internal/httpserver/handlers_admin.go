package httpserver

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cardflow/gateway/internal/merchant"
	"github.com/cardflow/gateway/internal/storage"
	"github.com/cardflow/gateway/pkg/responders"
)

func adminError(w http.ResponseWriter, status int, msg string) {
	responders.JSON(w, status, map[string]string{"error": msg})
}

var adminWebhookStatuses = map[string]storage.WebhookStatus{
	string(storage.WebhookStatusPending):    storage.WebhookStatusPending,
	string(storage.WebhookStatusProcessing): storage.WebhookStatusProcessing,
	string(storage.WebhookStatusFailed):     storage.WebhookStatusFailed,
	string(storage.WebhookStatusSuccess):    storage.WebhookStatusSuccess,
}

// adminListWebhooks handles GET /admin/webhooks?status=failed&limit=50.
func (s *Server) adminListWebhooks(w http.ResponseWriter, r *http.Request) {
	status, ok := adminWebhookStatuses[r.URL.Query().Get("status")]
	if !ok {
		adminError(w, http.StatusBadRequest, "status must be one of pending, processing, failed, success")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			adminError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	webhooks, err := s.store.ListWebhooks(r.Context(), status, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("admin list webhooks failed")
		adminError(w, http.StatusInternalServerError, "internal error")
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"webhooks": webhooks,
		"count":    len(webhooks),
	})
}

// adminGetWebhook handles GET /admin/webhooks/{id}.
func (s *Server) adminGetWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	webhook, err := s.store.GetWebhook(r.Context(), id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			adminError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.logger.Error().Err(err).Str("webhook_id", id).Msg("admin get webhook failed")
		adminError(w, http.StatusInternalServerError, "internal error")
		return
	}
	responders.JSON(w, http.StatusOK, webhook)
}

// adminRetryWebhook handles POST /admin/webhooks/{id}/retry: puts a DLQ'd
// webhook back in the queue.
func (s *Server) adminRetryWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.RetryWebhook(r.Context(), id); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			adminError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.logger.Error().Err(err).Str("webhook_id", id).Msg("admin retry webhook failed")
		adminError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info().Str("webhook_id", id).Msg("webhook queued for manual retry")
	responders.JSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

// adminDeleteWebhook handles DELETE /admin/webhooks/{id}.
func (s *Server) adminDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteWebhook(r.Context(), id); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			adminError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.logger.Error().Err(err).Str("webhook_id", id).Msg("admin delete webhook failed")
		adminError(w, http.StatusInternalServerError, "internal error")
		return
	}
	responders.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type adminMerchantRequest struct {
	TeamID              string   `json:"teamId"`
	TeamSlug            string   `json:"teamSlug"`
	Secret              string   `json:"secret"`
	IsActive            *bool    `json:"isActive"`
	SupportedCurrencies []string `json:"supportedCurrencies"`
	MinPerPayment       int64    `json:"minPerPayment"`
	MaxPerPayment       int64    `json:"maxPerPayment"`
	DailyTotal          int64    `json:"dailyTotal"`
	DailyCount          int      `json:"dailyCount"`
	MinExpiryMinutes    int      `json:"minExpiryMinutes"`
	MaxExpiryMinutes    int      `json:"maxExpiryMinutes"`
	SuccessURL          string   `json:"successURL"`
	FailURL             string   `json:"failURL"`
	NotificationURL     string   `json:"notificationURL"`
}

// adminUpsertMerchant handles POST /admin/merchants.
func (s *Server) adminUpsertMerchant(w http.ResponseWriter, r *http.Request) {
	var req adminMerchantRequest
	if derr := decodeJSON(r, &req); derr != nil {
		adminError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.TeamID == "" || req.TeamSlug == "" || req.Secret == "" {
		adminError(w, http.StatusBadRequest, "teamId, teamSlug, and secret are required")
		return
	}
	if len(req.SupportedCurrencies) == 0 {
		adminError(w, http.StatusBadRequest, "supportedCurrencies must not be empty")
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	m := merchant.Merchant{
		TeamID:              req.TeamID,
		TeamSlug:            req.TeamSlug,
		Secret:              req.Secret,
		IsActive:            active,
		SupportedCurrencies: req.SupportedCurrencies,
		MinPerPayment:       req.MinPerPayment,
		MaxPerPayment:       req.MaxPerPayment,
		DailyTotal:          req.DailyTotal,
		DailyCount:          req.DailyCount,
		MinExpiryMinutes:    req.MinExpiryMinutes,
		MaxExpiryMinutes:    req.MaxExpiryMinutes,
		SuccessURL:          req.SuccessURL,
		FailURL:             req.FailURL,
		NotificationURL:     req.NotificationURL,
	}
	if err := s.directory.Upsert(r.Context(), m); err != nil {
		s.logger.Error().Err(err).Str("team_slug", req.TeamSlug).Msg("admin upsert merchant failed")
		adminError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info().Str("team_slug", req.TeamSlug).Msg("merchant upserted")
	responders.JSON(w, http.StatusOK, map[string]string{"status": "ok", "teamSlug": req.TeamSlug})
}
