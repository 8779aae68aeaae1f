package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/dex/internal/domain"
	"github.com/efreitasn/dex/internal/service"
)

// WebhookHandler handles HTTP requests for webhook endpoints.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// upsertWebhookRequest is the JSON request body for POST /webhooks.
type upsertWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// webhookResponse is a single webhook in the response.
type webhookResponse struct {
	WebhookID string `json:"webhook_id"`
	Trader    string `json:"trader"`
	Event     string `json:"event"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// webhookListResponse is the JSON response for POST and GET /webhooks.
type webhookListResponse struct {
	Webhooks []webhookResponse `json:"webhooks"`
}

// Upsert handles POST /webhooks. The subscription belongs to the caller.
func (h *WebhookHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	trader, err := callerAddress(r)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	var req upsertWebhookRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	webhooks, anyCreated, err := h.webhookSvc.Upsert(service.UpsertWebhookRequest{
		Trader: trader,
		URL:    req.URL,
		Events: req.Events,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	status := http.StatusOK
	if anyCreated {
		status = http.StatusCreated
	}

	WriteJSON(w, status, webhookListResponse{
		Webhooks: buildWebhookResponses(webhooks),
	})
}

// List handles GET /webhooks?trader=.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("trader")
	if q == "" {
		WriteError(w, http.StatusBadRequest, domain.KindValidation, "trader query parameter is required")
		return
	}
	trader, err := parseAddress("trader", q)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, webhookListResponse{
		Webhooks: buildWebhookResponses(h.webhookSvc.List(trader)),
	})
}

// Delete handles DELETE /webhooks/{webhook_id}. Only the owner may delete.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	if err := h.webhookSvc.Delete(caller, chi.URLParam(r, "webhook_id")); err != nil {
		WriteDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// buildWebhookResponses converts domain webhooks to response webhooks.
func buildWebhookResponses(webhooks []*domain.Webhook) []webhookResponse {
	result := make([]webhookResponse, len(webhooks))
	for i, wh := range webhooks {
		result[i] = webhookResponse{
			WebhookID: wh.WebhookID,
			Trader:    wh.Trader.Hex(),
			Event:     wh.Event,
			URL:       wh.URL,
			CreatedAt: wh.CreatedAt.UTC().Format(timeFormat),
			UpdatedAt: wh.UpdatedAt.UTC().Format(timeFormat),
		}
	}
	return result
}
