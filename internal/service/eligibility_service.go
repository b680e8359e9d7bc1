package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gw-settlement/internal/config"
	"gw-settlement/internal/custom_err"
	"gw-settlement/internal/models"
	"gw-settlement/internal/storage/postgres"

	"github.com/google/uuid"
)

type Eligibility interface {
	CheckInstant(ctx context.Context, userID uuid.UUID, tier models.UserTier, currency models.Currency, direction models.Direction, amount float64) (*models.EligibilityResult, error)
}

// EligibilityService движок допуска к мгновенному расчету. Вердикт
// консультативный и нигде не сохраняется: оркестратор перепроверяет
// лимиты под блокировкой внутри транзакции расчета.
type EligibilityService struct {
	poolRepo postgres.PoolRepository
	usage    postgres.EligibilityRepository
	policies *config.Policies
	log      *slog.Logger
}

func NewEligibilityService(
	poolRepo postgres.PoolRepository,
	usage postgres.EligibilityRepository,
	policies *config.Policies,
	log *slog.Logger,
) *EligibilityService {
	return &EligibilityService{
		poolRepo: poolRepo,
		usage:    usage,
		policies: policies,
		log:      log,
	}
}

// CheckInstant выполняет три проверки строго по порядку: порог суммы с
// множителем уровня, покрытие пулом, дневной лимит. Возвращается первая
// причина отказа.
func (s *EligibilityService) CheckInstant(ctx context.Context, userID uuid.UUID, tier models.UserTier, currency models.Currency, direction models.Direction, amount float64) (*models.EligibilityResult, error) {
	const op = "service.CheckInstant"

	if !currency.IsValid() {
		return nil, custom_err.ErrInvalidCurrency
	}
	if amount <= 0 {
		return nil, custom_err.ErrInvalidAmount
	}
	if !direction.IsValid() {
		return nil, fmt.Errorf("%w: unknown direction", custom_err.ErrInvalidInput)
	}

	// 1. Порог суммы
	threshold := s.policies.InstantThresholds[currency] * tier.Multiplier()
	if amount > threshold {
		return &models.EligibilityResult{
			Eligible: false,
			Reason:   models.ReasonAmountAboveThreshold,
			Diagnostics: map[string]float64{
				"amount":    amount,
				"threshold": threshold,
			},
		}, nil
	}

	// 2. Покрытие пулом. Пул фронтирует средства в валюте коридора в обоих
	// направлениях: при депозите до прихода банковского расчета, при
	// выплате на саму выплату.
	required := amount
	pool, err := s.poolRepo.GetByCurrency(ctx, currency)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to load pool: %w", op, err)
	}
	available := models.AmountFromMinorUnits(pool.AvailableBalance)
	if required > available {
		return &models.EligibilityResult{
			Eligible: false,
			Reason:   models.ReasonInsufficientPool,
			Diagnostics: map[string]float64{
				"required":  required,
				"available": available,
			},
		}, nil
	}

	// 3. Дневной лимит. Счетчик со вчерашней датой сброса считается
	// нулевым: использование обнуляется на границе календарного дня.
	limit := s.policies.DailyLimits[currency]
	used := 0.0
	u, err := s.usage.GetUsage(ctx, userID, currency, direction)
	if err != nil && !errors.Is(err, custom_err.ErrNotFound) {
		return nil, fmt.Errorf("%s: failed to load usage: %w", op, err)
	}
	if u != nil && !u.ResetDate.Before(truncateToDay(time.Now().UTC())) {
		used = models.AmountFromMinorUnits(u.DailyUsed)
	}
	if used+amount > limit {
		return &models.EligibilityResult{
			Eligible: false,
			Reason:   models.ReasonDailyLimitExceeded,
			Diagnostics: map[string]float64{
				"daily_limit": limit,
				"daily_used":  used,
				"amount":      amount,
			},
		}, nil
	}

	feeRate := s.policies.InstantDepositFeeRate
	if direction == models.DirectionWithdrawal {
		feeRate = s.policies.InstantWithdrawalFeeRate
	}

	return &models.EligibilityResult{
		Eligible: true,
		FeeRate:  feeRate,
	}, nil
}
