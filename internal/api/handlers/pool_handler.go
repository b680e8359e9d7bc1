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
	"strconv"

	"github.com/go-chi/chi/v5"
)

type PoolHandler struct {
	service service.Rebalancer
}

func NewPoolHandler(service service.Rebalancer) *PoolHandler {
	return &PoolHandler{
		service: service,
	}
}

// GetPools godoc
// @Summary      Состояние всех пулов ликвидности
// @Tags         pools
// @Security     BearerAuth
// @Produce      json
// @Success      200 {array} models.PoolStatusResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /pools [get]
func (h *PoolHandler) GetPools(w http.ResponseWriter, r *http.Request) {
	const op = "handler.GetPools"
	log := middlew.GetLogger(r.Context())

	statuses, err := h.service.AllPoolStatuses(r.Context())
	if err != nil {
		log.Error("failed to get pools", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "Failed to retrieve pools")
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, statuses)
}

// GetPool godoc
// @Summary      Состояние пула по валюте
// @Tags         pools
// @Security     BearerAuth
// @Produce      json
// @Param        currency path string true "Валюта пула"
// @Success      200 {object} models.PoolStatusResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /pools/{currency} [get]
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	const op = "handler.GetPool"
	log := middlew.GetLogger(r.Context())

	currency := models.Currency(chi.URLParam(r, "currency"))

	status, err := h.service.PoolStatus(r.Context(), currency)
	if err != nil {
		switch {
		case errors.Is(err, custom_err.ErrInvalidCurrency):
			response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_currency", "Invalid currency")
		case errors.Is(err, custom_err.ErrNotFound):
			response.WriteJSONError(w, log, http.StatusNotFound, "not_found", "Pool not found")
		default:
			log.Error("failed to get pool", slog.String("op", op), slog.String("error", err.Error()))
			response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "Failed to retrieve pool")
		}
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, status)
}

// GetMovements godoc
// @Summary      Журнал движений пула
// @Tags         pools
// @Security     BearerAuth
// @Produce      json
// @Param        currency path string true "Валюта пула"
// @Param        limit query int false "Максимум записей (по умолчанию 100)"
// @Success      200 {array} models.LiquidityMovement
// @Failure      400 {object} response.ErrorResponse
// @Router       /pools/{currency}/movements [get]
func (h *PoolHandler) GetMovements(w http.ResponseWriter, r *http.Request) {
	const op = "handler.GetMovements"
	log := middlew.GetLogger(r.Context())

	currency := models.Currency(chi.URLParam(r, "currency"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	movements, err := h.service.ListMovements(r.Context(), currency, limit)
	if err != nil {
		if errors.Is(err, custom_err.ErrInvalidCurrency) {
			response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_currency", "Invalid currency")
			return
		}
		log.Error("failed to list movements", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "Failed to retrieve movements")
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, movements)
}

// Recommend godoc
// @Summary      Рекомендации по ребалансировке
// @Description  Внутренние переводы между пулами и внешние пополнения/снятия по приоритету
// @Tags         pools
// @Security     BearerAuth
// @Produce      json
// @Success      200 {object} models.RebalanceRecommendations
// @Failure      500 {object} response.ErrorResponse
// @Router       /pools/rebalance/recommendations [get]
func (h *PoolHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	const op = "handler.Recommend"
	log := middlew.GetLogger(r.Context())

	rec, err := h.service.Recommend(r.Context())
	if err != nil {
		log.Error("failed to build recommendations", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "Failed to build recommendations")
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, rec)
}

// ExecuteRebalance godoc
// @Summary      Исполнить действие ребалансировки
// @Tags         pools
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request body models.RebalanceAction true "Действие"
// @Success      200 {object} models.RebalanceAction
// @Failure      400 {object} response.ErrorResponse
// @Failure      422 {object} response.ErrorResponse
// @Router       /pools/rebalance [post]
func (h *PoolHandler) ExecuteRebalance(w http.ResponseWriter, r *http.Request) {
	const op = "handler.ExecuteRebalance"
	log := middlew.GetLogger(r.Context())

	defer r.Body.Close()

	var action models.RebalanceAction
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		log.Warn("invalid JSON", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}

	executed, err := h.service.Execute(r.Context(), action)
	if err != nil {
		switch {
		case errors.Is(err, custom_err.ErrInvalidAmount), errors.Is(err, custom_err.ErrInvalidInput), errors.Is(err, custom_err.ErrInvalidCurrency):
			log.Warn("invalid rebalance action", slog.String("op", op), slog.String("error", err.Error()))
			response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_input", "Invalid rebalance action")
		case errors.Is(err, custom_err.ErrInsufficientLiquidity):
			response.WriteJSONError(w, log, http.StatusUnprocessableEntity, "insufficient_liquidity", "Source pool cannot cover the transfer")
		case errors.Is(err, custom_err.ErrNotFound):
			response.WriteJSONError(w, log, http.StatusNotFound, "not_found", "Pool not found")
		default:
			log.Error("failed to execute rebalance", slog.String("op", op), slog.String("error", err.Error()))
			response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "An internal error occurred")
		}
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, executed)
}
