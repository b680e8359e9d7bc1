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

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type QuoteHandler struct {
	service service.Quotes
}

func NewQuoteHandler(service service.Quotes) *QuoteHandler {
	return &QuoteHandler{
		service: service,
	}
}

// GenerateQuote godoc
// @Summary      Получить котировку
// @Description  Строит индикативную котировку для валютной пары со сроком жизни 15 минут
// @Tags         quotes
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request body models.QuoteRequest true "Параметры котировки"
// @Success      200 {object} models.Quote
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Router       /quotes [post]
func (h *QuoteHandler) GenerateQuote(w http.ResponseWriter, r *http.Request) {
	const op = "handler.GenerateQuote"
	log := middlew.GetLogger(r.Context())

	defer r.Body.Close()

	var req models.QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("invalid JSON", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}

	quote, err := h.service.GenerateQuote(r.Context(), req)
	if err != nil {
		h.writeQuoteError(w, log, op, err)
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, quote)
}

// GeneratePersonalizedQuote godoc
// @Summary      Получить персональную котировку
// @Description  Котировка с учетом способа оплаты и истории переводов получателю
// @Tags         quotes
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request body models.PersonalizedQuoteRequest true "Параметры котировки"
// @Success      200 {object} models.Quote
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Router       /quotes/personalized [post]
func (h *QuoteHandler) GeneratePersonalizedQuote(w http.ResponseWriter, r *http.Request) {
	const op = "handler.GeneratePersonalizedQuote"
	log := middlew.GetLogger(r.Context())

	defer r.Body.Close()

	userID := middlew.GetUserID(r.Context())

	var req models.PersonalizedQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("invalid JSON", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}
	if req.RecipientID == uuid.Nil {
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_field", "recipient_id is required")
		return
	}

	quote, err := h.service.GeneratePersonalizedQuote(r.Context(), userID, req)
	if err != nil {
		h.writeQuoteError(w, log, op, err)
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, quote)
}

// GetQuote godoc
// @Summary      Получить котировку по ID
// @Tags         quotes
// @Security     BearerAuth
// @Produce      json
// @Param        quoteID path string true "ID котировки"
// @Success      200 {object} models.Quote
// @Failure      404 {object} response.ErrorResponse
// @Router       /quotes/{quoteID} [get]
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	const op = "handler.GetQuote"
	log := middlew.GetLogger(r.Context())

	idStr := chi.URLParam(r, "quoteID")
	id, err := uuid.Parse(idStr)
	if err != nil {
		log.Warn("invalid UUID", slog.String("op", op), slog.String("uuid", idStr))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_request", "Invalid quote ID format")
		return
	}

	quote, err := h.service.GetQuote(r.Context(), id)
	if err != nil {
		if errors.Is(err, custom_err.ErrNotFound) {
			response.WriteJSONError(w, log, http.StatusNotFound, "not_found", "Quote not found or expired")
			return
		}
		log.Error("failed to get quote", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "Failed to retrieve quote")
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, quote)
}

// LockRate godoc
// @Summary      Зафиксировать курс
// @Description  Превращает живую котировку в обязательство со сроком 15-300 секунд
// @Tags         quotes
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request body models.RateLockRequest true "Параметры фиксации"
// @Success      200 {object} models.RateLock
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /quotes/lock [post]
func (h *QuoteHandler) LockRate(w http.ResponseWriter, r *http.Request) {
	const op = "handler.LockRate"
	log := middlew.GetLogger(r.Context())

	defer r.Body.Close()

	var req models.RateLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("invalid JSON", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}
	if req.QuoteID == uuid.Nil {
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_field", "quote_id is required")
		return
	}

	lock, err := h.service.LockRate(r.Context(), req)
	if err != nil {
		if errors.Is(err, custom_err.ErrNotFound) {
			response.WriteJSONError(w, log, http.StatusNotFound, "not_found", "Quote not found or expired")
			return
		}
		log.Error("failed to lock rate", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "Failed to lock rate")
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, lock)
}

// VerifyRateLock godoc
// @Summary      Проверить фиксацию курса
// @Description  Проверка повторяема и не потребляет фиксацию
// @Tags         quotes
// @Security     BearerAuth
// @Produce      json
// @Param        lockID path string true "ID фиксации"
// @Success      200 {object} models.RateLock
// @Failure      404 {object} response.ErrorResponse
// @Router       /quotes/lock/{lockID} [get]
func (h *QuoteHandler) VerifyRateLock(w http.ResponseWriter, r *http.Request) {
	const op = "handler.VerifyRateLock"
	log := middlew.GetLogger(r.Context())

	idStr := chi.URLParam(r, "lockID")
	id, err := uuid.Parse(idStr)
	if err != nil {
		log.Warn("invalid UUID", slog.String("op", op), slog.String("uuid", idStr))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_request", "Invalid lock ID format")
		return
	}

	lock, err := h.service.VerifyRateLock(r.Context(), id)
	if err != nil {
		if errors.Is(err, custom_err.ErrNotFound) {
			response.WriteJSONError(w, log, http.StatusNotFound, "not_found", "Rate lock not found or expired")
			return
		}
		log.Error("failed to verify rate lock", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "Failed to verify rate lock")
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, lock)
}

func (h *QuoteHandler) writeQuoteError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, custom_err.ErrInvalidCurrency):
		log.Warn("invalid currency", slog.String("op", op))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_currency", "Invalid currency pair")
	case errors.Is(err, custom_err.ErrInvalidAmount):
		log.Warn("invalid amount", slog.String("op", op))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_amount", "Invalid amount")
	case errors.Is(err, custom_err.ErrInvalidInput):
		log.Warn("invalid input", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_input", "Invalid request")
	case errors.Is(err, custom_err.ErrNotFound):
		response.WriteJSONError(w, log, http.StatusNotFound, "not_found", "Rate not found for currency")
	default:
		log.Error("failed to generate quote", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "An internal error occurred")
	}
}
