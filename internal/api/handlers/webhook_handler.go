package handlers

import (
	"encoding/json"
	"errors"
	"gw-settlement/internal/api/middlew"
	"gw-settlement/internal/custom_err"
	"gw-settlement/internal/models"
	"gw-settlement/internal/service"
	"gw-settlement/pkg/response"
	"log/slog"
	"net/http"
)

type WebhookHandler struct {
	service service.Settlements
}

func NewWebhookHandler(service service.Settlements) *WebhookHandler {
	return &WebhookHandler{
		service: service,
	}
}

// ProviderWebhook godoc
// @Summary      Вебхук внешнего провайдера
// @Description  Применяет исход отложенного расчета. Идемпотентен: повтор по завершенной транзакции ничего не делает.
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        X-Signature header string true "HMAC-SHA256 подпись строки timestamp.body"
// @Param        X-Timestamp header string true "Unix-время подписи в секундах"
// @Param        request body models.ProviderWebhook true "Уведомление провайдера"
// @Success      200 {object} map[string]string
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Router       /webhooks/provider [post]
func (h *WebhookHandler) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	const op = "handler.ProviderWebhook"
	log := middlew.GetLogger(r.Context())

	defer r.Body.Close()

	var hook models.ProviderWebhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		log.Warn("invalid JSON", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}
	if hook.Reference == "" {
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_field", "reference is required")
		return
	}

	log.Info("вебхук провайдера",
		slog.String("op", op),
		slog.String("reference", hook.Reference),
		slog.String("status", hook.Status))

	if err := h.service.HandleProviderWebhook(r.Context(), hook); err != nil {
		switch {
		case errors.Is(err, custom_err.ErrNotFound):
			log.Warn("webhook for unknown reference", slog.String("op", op), slog.String("reference", hook.Reference))
			response.WriteJSONError(w, log, http.StatusNotFound, "not_found", "Unknown transaction reference")
		case errors.Is(err, custom_err.ErrInvalidInput):
			log.Warn("webhook rejected", slog.String("op", op), slog.String("error", err.Error()))
			response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_input", "Webhook payload rejected")
		case errors.Is(err, custom_err.ErrInvalidStateTransition):
			response.WriteJSONError(w, log, http.StatusConflict, "invalid_state", "Transaction is not awaiting provider outcome")
		default:
			log.Error("failed to apply webhook", slog.String("op", op), slog.String("error", err.Error()))
			response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "An internal error occurred")
		}
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, map[string]string{"status": "accepted"})
}
