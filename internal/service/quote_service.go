package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gw-settlement/internal/cache"
	"gw-settlement/internal/config"
	"gw-settlement/internal/custom_err"
	"gw-settlement/internal/models"
	"gw-settlement/internal/storage/postgres"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CachedRate кэшированный курс валюты к USD
type CachedRate struct {
	Rate      float64
	Timestamp time.Time
}

type Quotes interface {
	GenerateQuote(ctx context.Context, req models.QuoteRequest) (*models.Quote, error)
	GeneratePersonalizedQuote(ctx context.Context, senderID uuid.UUID, req models.PersonalizedQuoteRequest) (*models.Quote, error)
	GetQuote(ctx context.Context, id uuid.UUID) (*models.Quote, error)

	LockRate(ctx context.Context, req models.RateLockRequest) (*models.RateLock, error)
	VerifyRateLock(ctx context.Context, id uuid.UUID) (*models.RateLock, error)
	ConsumeRateLock(ctx context.Context, id uuid.UUID) (*models.RateLock, error)
}

type QuoteService struct {
	rateRepo postgres.RateRepository
	txRepo   postgres.TransactionRepository
	store    cache.QuoteStore
	policies *config.Policies

	rateCache       map[string]CachedRate
	cacheMutex      sync.RWMutex
	cacheExpiration time.Duration

	log *slog.Logger
}

func NewQuoteService(
	rateRepo postgres.RateRepository,
	txRepo postgres.TransactionRepository,
	store cache.QuoteStore,
	policies *config.Policies,
	cacheExpiration time.Duration,
	log *slog.Logger,
) *QuoteService {
	return &QuoteService{
		rateRepo:        rateRepo,
		txRepo:          txRepo,
		store:           store,
		policies:        policies,
		rateCache:       make(map[string]CachedRate),
		cacheExpiration: cacheExpiration,
		log:             log,
	}
}

// GenerateQuote строит индикативную котировку: fee = amount*feePct,
// converted = (amount-fee)*rate, срок жизни ровно 900с.
func (s *QuoteService) GenerateQuote(ctx context.Context, req models.QuoteRequest) (*models.Quote, error) {
	const op = "service.GenerateQuote"

	if !req.FromCurrency.IsValid() || !req.ToCurrency.IsValid() {
		return nil, custom_err.ErrInvalidCurrency
	}
	if req.Amount <= 0 {
		return nil, custom_err.ErrInvalidAmount
	}

	feeRate := s.policies.BaseFeeRate(req.FromCurrency, req.ToCurrency, req.Amount)

	quote, err := s.buildQuote(ctx, req.FromCurrency, req.ToCurrency, req.Amount, feeRate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.store.PutQuote(ctx, quote); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("котировка создана",
		slog.String("quote_id", quote.ID.String()),
		slog.String("from", string(req.FromCurrency)),
		slog.String("to", string(req.ToCurrency)),
		slog.Float64("amount", req.Amount),
		slog.Float64("rate", quote.Rate),
		slog.Float64("fee", quote.FeeAmount))

	return quote, nil
}

// GeneratePersonalizedQuote корректирует базовую комиссию по способу
// оплаты и применяет скидку за лояльность, когда число завершенных
// транзакций между отправителем и получателем превышает порог.
func (s *QuoteService) GeneratePersonalizedQuote(ctx context.Context, senderID uuid.UUID, req models.PersonalizedQuoteRequest) (*models.Quote, error) {
	const op = "service.GeneratePersonalizedQuote"

	if !req.FromCurrency.IsValid() || !req.ToCurrency.IsValid() {
		return nil, custom_err.ErrInvalidCurrency
	}
	if req.Amount <= 0 {
		return nil, custom_err.ErrInvalidAmount
	}
	if !req.PaymentMethod.IsValid() {
		return nil, fmt.Errorf("%w: unknown payment method", custom_err.ErrInvalidInput)
	}

	feeRate := s.policies.BaseFeeRate(req.FromCurrency, req.ToCurrency, req.Amount)
	feeRate += s.policies.PaymentMethodAdjustments[req.PaymentMethod]
	if feeRate < 0 {
		feeRate = 0
	}

	completed, err := s.txRepo.CountCompletedBetween(ctx, senderID, req.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to count completed transactions: %w", op, err)
	}
	if completed > s.policies.LoyaltyThreshold {
		feeRate *= 1 - s.policies.LoyaltyDiscount
		s.log.Debug("применена скидка за лояльность",
			slog.String("sender_id", senderID.String()),
			slog.String("recipient_id", req.RecipientID.String()),
			slog.Int("completed", completed))
	}

	quote, err := s.buildQuote(ctx, req.FromCurrency, req.ToCurrency, req.Amount, feeRate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.store.PutQuote(ctx, quote); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return quote, nil
}

func (s *QuoteService) buildQuote(ctx context.Context, from, to models.Currency, amount, feeRate float64) (*models.Quote, error) {
	rate, err := s.getCrossRate(ctx, from, to)
	if err != nil {
		return nil, err
	}

	amountDec := decimal.NewFromFloat(amount)
	feeDec := amountDec.Mul(decimal.NewFromFloat(feeRate))
	convertedDec := amountDec.Sub(feeDec).Mul(decimal.NewFromFloat(rate))

	now := time.Now().UTC()
	return &models.Quote{
		ID:              uuid.New(),
		FromCurrency:    from,
		ToCurrency:      to,
		Amount:          amount,
		Rate:            rate,
		FeePercentage:   feeRate,
		FeeAmount:       feeDec.InexactFloat64(),
		ConvertedAmount: convertedDec.InexactFloat64(),
		CreatedAt:       now,
		ExpiresAt:       now.Add(models.QuoteTTL),
	}, nil
}

func (s *QuoteService) GetQuote(ctx context.Context, id uuid.UUID) (*models.Quote, error) {
	return s.store.GetQuote(ctx, id)
}

// LockRate превращает живую котировку в обязательство с собственным TTL.
// Котировка при этом потребляется (GETDEL): две конкурентные фиксации не
// могут опереться на одну котировку. Длительность зажимается в [15,300]
// секунд.
func (s *QuoteService) LockRate(ctx context.Context, req models.RateLockRequest) (*models.RateLock, error) {
	const op = "service.LockRate"

	quote, err := s.store.ConsumeQuote(ctx, req.QuoteID)
	if err != nil {
		if errors.Is(err, custom_err.ErrNotFound) {
			return nil, custom_err.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	duration := time.Duration(req.DurationSeconds) * time.Second
	if duration < models.RateLockMinDuration {
		duration = models.RateLockMinDuration
	}
	if duration > models.RateLockMaxDuration {
		duration = models.RateLockMaxDuration
	}

	now := time.Now().UTC()
	lock := &models.RateLock{
		ID:              uuid.New(),
		QuoteID:         quote.ID,
		FromCurrency:    quote.FromCurrency,
		ToCurrency:      quote.ToCurrency,
		Amount:          quote.Amount,
		LockedRate:      quote.Rate,
		LockedFeeAmount: quote.FeeAmount,
		DurationSeconds: int(duration.Seconds()),
		CreatedAt:       now,
		ExpiresAt:       now.Add(duration),
	}

	if err := s.store.PutRateLock(ctx, lock, duration); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("курс зафиксирован",
		slog.String("lock_id", lock.ID.String()),
		slog.String("quote_id", quote.ID.String()),
		slog.Int("duration_seconds", lock.DurationSeconds))

	return lock, nil
}

// VerifyRateLock read-only проверка, повторяема до истечения TTL фиксации
func (s *QuoteService) VerifyRateLock(ctx context.Context, id uuid.UUID) (*models.RateLock, error) {
	return s.store.GetRateLock(ctx, id)
}

// ConsumeRateLock забирает фиксацию безвозвратно; вызывается только
// оркестратором при применении к реальному расчету
func (s *QuoteService) ConsumeRateLock(ctx context.Context, id uuid.UUID) (*models.RateLock, error) {
	return s.store.ConsumeRateLock(ctx, id)
}

// getCrossRate кросс-курс через хранимые курсы к USD
func (s *QuoteService) getCrossRate(ctx context.Context, from, to models.Currency) (float64, error) {
	if from == to {
		return 1, nil
	}

	fromRate, err := s.getUSDRate(ctx, from)
	if err != nil {
		return 0, err
	}
	toRate, err := s.getUSDRate(ctx, to)
	if err != nil {
		return 0, err
	}
	if toRate == 0 {
		return 0, fmt.Errorf("zero stored rate for %s", to)
	}

	return fromRate / toRate, nil
}

func (s *QuoteService) getUSDRate(ctx context.Context, currency models.Currency) (float64, error) {
	const op = "service.getUSDRate"

	key := string(currency)

	s.cacheMutex.RLock()
	if cached, ok := s.rateCache[key]; ok {
		if time.Since(cached.Timestamp) < s.cacheExpiration {
			rate := cached.Rate
			s.cacheMutex.RUnlock()
			return rate, nil
		}
	}
	s.cacheMutex.RUnlock()

	stored, err := s.rateRepo.GetByCurrency(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.cacheMutex.Lock()
	s.rateCache[key] = CachedRate{
		Rate:      stored.Rate,
		Timestamp: time.Now(),
	}
	s.cacheMutex.Unlock()

	s.log.Debug("курс обновлен в кэше",
		slog.String("currency", key),
		slog.Float64("rate", stored.Rate))

	return stored.Rate, nil
}
