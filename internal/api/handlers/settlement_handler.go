package handlers

import (
	"context"
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
	"github.com/google/uuid"
)

type SettlementHandler struct {
	service     service.Settlements
	eligibility service.Eligibility
}

func NewSettlementHandler(service service.Settlements, eligibility service.Eligibility) *SettlementHandler {
	return &SettlementHandler{
		service:     service,
		eligibility: eligibility,
	}
}

// Deposit godoc
// @Summary      Провести депозит
// @Description  Мгновенный расчет из пула при допуске, иначе отложенный через внешний рельс
// @Tags         settlements
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request body models.DeferredSettlementRequest true "Параметры расчета"
// @Success      200 {object} models.SettlementResult
// @Failure      400 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /settlements/deposit [post]
func (h *SettlementHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, "handler.Deposit", h.service.SettleDeposit)
}

// Withdraw godoc
// @Summary      Провести выплату
// @Description  Мгновенная выплата из пула при допуске, иначе отложенная через внешний рельс
// @Tags         settlements
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request body models.DeferredSettlementRequest true "Параметры расчета"
// @Success      200 {object} models.SettlementResult
// @Failure      400 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /settlements/withdraw [post]
func (h *SettlementHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, "handler.Withdraw", h.service.SettleWithdrawal)
}

// InstantDeposit godoc
// @Summary      Провести строго мгновенный депозит
// @Description  Без переключения на отложенный путь: отказ в допуске возвращает ошибку
// @Tags         settlements
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request body models.SettlementRequest true "Параметры расчета"
// @Success      200 {object} models.SettlementResult
// @Failure      400 {object} response.ErrorResponse
// @Failure      422 {object} response.ErrorResponse
// @Router       /settlements/deposit/instant [post]
func (h *SettlementHandler) InstantDeposit(w http.ResponseWriter, r *http.Request) {
	h.settleInstant(w, r, "handler.InstantDeposit", h.service.InstantDeposit)
}

// InstantWithdraw godoc
// @Summary      Провести строго мгновенную выплату
// @Tags         settlements
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request body models.SettlementRequest true "Параметры расчета"
// @Success      200 {object} models.SettlementResult
// @Failure      400 {object} response.ErrorResponse
// @Failure      422 {object} response.ErrorResponse
// @Router       /settlements/withdraw/instant [post]
func (h *SettlementHandler) InstantWithdraw(w http.ResponseWriter, r *http.Request) {
	h.settleInstant(w, r, "handler.InstantWithdraw", h.service.InstantWithdrawal)
}

func (h *SettlementHandler) settle(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(ctx context.Context, userID uuid.UUID, tier models.UserTier, req models.DeferredSettlementRequest) (*models.SettlementResult, error),
) {
	log := middlew.GetLogger(r.Context())

	defer r.Body.Close()

	userID := middlew.GetUserID(r.Context())
	tier := middlew.GetUserTier(r.Context())

	var req models.DeferredSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("invalid JSON", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}

	log.Info("запрос на расчет",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
		slog.String("currency", string(req.Currency)),
		slog.Float64("amount", req.Amount))

	result, err := fn(r.Context(), userID, tier, req)
	if err != nil {
		h.writeSettlementError(w, log, op, err)
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, result)
}

func (h *SettlementHandler) settleInstant(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(ctx context.Context, userID uuid.UUID, tier models.UserTier, req models.SettlementRequest) (*models.SettlementResult, error),
) {
	log := middlew.GetLogger(r.Context())

	defer r.Body.Close()

	userID := middlew.GetUserID(r.Context())
	tier := middlew.GetUserTier(r.Context())

	var req models.SettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("invalid JSON", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}

	result, err := fn(r.Context(), userID, tier, req)
	if err != nil {
		h.writeSettlementError(w, log, op, err)
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, result)
}

// GetTransaction godoc
// @Summary      Получить транзакцию расчета
// @Tags         settlements
// @Security     BearerAuth
// @Produce      json
// @Param        transactionID path string true "ID транзакции"
// @Success      200 {object} models.Transaction
// @Failure      404 {object} response.ErrorResponse
// @Router       /settlements/{transactionID} [get]
func (h *SettlementHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	const op = "handler.GetTransaction"
	log := middlew.GetLogger(r.Context())

	id, ok := h.parseTransactionID(w, r, log, op)
	if !ok {
		return
	}

	txn, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, custom_err.ErrNotFound) {
			response.WriteJSONError(w, log, http.StatusNotFound, "not_found", "Transaction not found")
			return
		}
		log.Error("failed to get transaction", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "Failed to retrieve transaction")
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, txn)
}

// CancelTransaction godoc
// @Summary      Отменить транзакцию
// @Description  Допустима только из initiated или processing; резерв выплаты возвращается
// @Tags         settlements
// @Security     BearerAuth
// @Produce      json
// @Param        transactionID path string true "ID транзакции"
// @Success      200 {object} models.Transaction
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /settlements/{transactionID}/cancel [post]
func (h *SettlementHandler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	const op = "handler.CancelTransaction"
	log := middlew.GetLogger(r.Context())

	id, ok := h.parseTransactionID(w, r, log, op)
	if !ok {
		return
	}

	txn, err := h.service.CancelTransaction(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, custom_err.ErrNotFound):
			response.WriteJSONError(w, log, http.StatusNotFound, "not_found", "Transaction not found")
		case errors.Is(err, custom_err.ErrInvalidStateTransition):
			log.Warn("cancel rejected by state machine", slog.String("op", op), slog.String("transaction_id", id.String()))
			response.WriteJSONError(w, log, http.StatusConflict, "invalid_state", "Transaction can no longer be cancelled")
		case errors.Is(err, custom_err.ErrConcurrencyConflict):
			response.WriteJSONError(w, log, http.StatusConflict, "conflict", "Transaction was modified concurrently")
		default:
			log.Error("failed to cancel transaction", slog.String("op", op), slog.String("error", err.Error()))
			response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "An internal error occurred")
		}
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, txn)
}

// RetryTransaction godoc
// @Summary      Запустить ручной повтор
// @Description  Сбрасывает счетчик попыток и планирует немедленный повтор транзакции в failed
// @Tags         settlements
// @Security     BearerAuth
// @Produce      json
// @Param        transactionID path string true "ID транзакции"
// @Success      200 {object} models.RetryRecord
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /settlements/{transactionID}/retry [post]
func (h *SettlementHandler) RetryTransaction(w http.ResponseWriter, r *http.Request) {
	const op = "handler.RetryTransaction"
	log := middlew.GetLogger(r.Context())

	id, ok := h.parseTransactionID(w, r, log, op)
	if !ok {
		return
	}

	rec, err := h.service.ScheduleRetry(r.Context(), id, "manual retry", models.TriggerManual)
	if err != nil {
		switch {
		case errors.Is(err, custom_err.ErrNotFound):
			response.WriteJSONError(w, log, http.StatusNotFound, "not_found", "Transaction not found")
		case errors.Is(err, custom_err.ErrInvalidStateTransition):
			response.WriteJSONError(w, log, http.StatusConflict, "invalid_state", "Retry is allowed only for failed or retry-scheduled transactions")
		default:
			log.Error("failed to schedule retry", slog.String("op", op), slog.String("error", err.Error()))
			response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "An internal error occurred")
		}
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, rec)
}

// CheckEligibility godoc
// @Summary      Проверить допуск к мгновенному расчету
// @Description  Консультативный вердикт; лимиты перепроверяются при самом расчете
// @Tags         settlements
// @Security     BearerAuth
// @Produce      json
// @Param        currency query string true "Валюта коридора"
// @Param        direction query string true "deposit или withdrawal"
// @Param        amount query number true "Сумма в основных единицах"
// @Success      200 {object} models.EligibilityResult
// @Failure      400 {object} response.ErrorResponse
// @Router       /settlements/eligibility [get]
func (h *SettlementHandler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	const op = "handler.CheckEligibility"
	log := middlew.GetLogger(r.Context())

	userID := middlew.GetUserID(r.Context())
	tier := middlew.GetUserTier(r.Context())

	currency := models.Currency(r.URL.Query().Get("currency"))
	direction := models.Direction(r.URL.Query().Get("direction"))
	amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
	if err != nil {
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_field", "amount must be a number")
		return
	}

	verdict, err := h.eligibility.CheckInstant(r.Context(), userID, tier, currency, direction, amount)
	if err != nil {
		switch {
		case errors.Is(err, custom_err.ErrInvalidCurrency):
			response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_currency", "Invalid currency")
		case errors.Is(err, custom_err.ErrInvalidAmount):
			response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_amount", "Invalid amount")
		case errors.Is(err, custom_err.ErrInvalidInput):
			response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_input", "Invalid direction")
		default:
			log.Error("failed to check eligibility", slog.String("op", op), slog.String("error", err.Error()))
			response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "An internal error occurred")
		}
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, verdict)
}

func (h *SettlementHandler) parseTransactionID(w http.ResponseWriter, r *http.Request, log *slog.Logger, op string) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "transactionID")
	id, err := uuid.Parse(idStr)
	if err != nil {
		log.Warn("invalid UUID", slog.String("op", op), slog.String("uuid", idStr))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_request", "Invalid transaction ID format")
		return uuid.Nil, false
	}
	return id, true
}

func (h *SettlementHandler) writeSettlementError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, custom_err.ErrNotFound):
		response.WriteJSONError(w, log, http.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, custom_err.ErrDuplicateRequest):
		response.WriteJSONError(w, log, http.StatusConflict, "duplicate_request", "Operation with this requestID already processed")
	case errors.Is(err, custom_err.ErrIneligibleForInstant):
		log.Info("instant settlement rejected", slog.String("op", op), slog.String("reason", err.Error()))
		response.WriteJSONError(w, log, http.StatusUnprocessableEntity, "ineligible", "Not eligible for instant settlement")
	case errors.Is(err, custom_err.ErrInsufficientLiquidity):
		log.Warn("insufficient pool liquidity", slog.String("op", op))
		response.WriteJSONError(w, log, http.StatusUnprocessableEntity, "insufficient_liquidity", "Insufficient pool liquidity")
	case errors.Is(err, custom_err.ErrInsufficientFunds):
		log.Warn("insufficient funds", slog.String("op", op))
		response.WriteJSONError(w, log, http.StatusBadRequest, "insufficient_funds", "Insufficient funds in the wallet")
	case errors.Is(err, custom_err.ErrInvalidCurrency):
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_currency", "Invalid currency")
	case errors.Is(err, custom_err.ErrInvalidAmount):
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_amount", "Invalid amount")
	case errors.Is(err, custom_err.ErrInvalidInput):
		log.Warn("invalid input", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_input", "Invalid request")
	default:
		log.Error("settlement failed", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusInternalServerError, "internal_error", "An internal error occurred")
	}
}
