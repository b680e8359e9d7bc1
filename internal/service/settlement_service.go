package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gw-settlement/internal/cache"
	"gw-settlement/internal/config"
	"gw-settlement/internal/custom_err"
	"gw-settlement/internal/metrics"
	"gw-settlement/internal/models"
	"gw-settlement/internal/provider"
	"gw-settlement/internal/storage/postgres"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Статусы, которые внешний провайдер присылает в вебхуке
const (
	providerStatusCompleted = "completed"
	providerStatusFailed    = "failed"
)

// EventPublisher асинхронная публикация событий. Сбой публикации никогда
// не влияет на исход расчета.
type EventPublisher interface {
	Publish(event models.NotificationEvent)
}

type Settlements interface {
	InstantDeposit(ctx context.Context, userID uuid.UUID, tier models.UserTier, req models.SettlementRequest) (*models.SettlementResult, error)
	InstantWithdrawal(ctx context.Context, userID uuid.UUID, tier models.UserTier, req models.SettlementRequest) (*models.SettlementResult, error)
	DeferredDeposit(ctx context.Context, userID uuid.UUID, req models.DeferredSettlementRequest) (*models.SettlementResult, error)
	DeferredWithdrawal(ctx context.Context, userID uuid.UUID, req models.DeferredSettlementRequest) (*models.SettlementResult, error)
	SettleDeposit(ctx context.Context, userID uuid.UUID, tier models.UserTier, req models.DeferredSettlementRequest) (*models.SettlementResult, error)
	SettleWithdrawal(ctx context.Context, userID uuid.UUID, tier models.UserTier, req models.DeferredSettlementRequest) (*models.SettlementResult, error)

	HandleProviderWebhook(ctx context.Context, hook models.ProviderWebhook) error
	CancelTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)

	ScheduleRetry(ctx context.Context, txID uuid.UUID, reason string, trigger models.TriggerType) (*models.RetryRecord, error)
	RetryDeferred(ctx context.Context, txID uuid.UUID) error
}

// SettlementService оркестратор расчетов. Мгновенный путь выполняется
// одной транзакцией БД; отложенный разбивает работу на шаги до и после
// вызова провайдера, который никогда не выполняется под блокировками.
type SettlementService struct {
	txManager   TxManager
	walletRepo  postgres.WalletRepository
	poolRepo    postgres.PoolRepository
	txRepo      postgres.TransactionRepository
	usageRepo   postgres.EligibilityRepository
	retryRepo   postgres.RetryRepository
	eligibility Eligibility
	locks       cache.QuoteStore
	adapter     provider.Adapter
	notifier    EventPublisher
	metrics     *metrics.Metrics
	policies    *config.Policies

	providerTimeout time.Duration

	log *slog.Logger
}

func NewSettlementService(
	txManager TxManager,
	walletRepo postgres.WalletRepository,
	poolRepo postgres.PoolRepository,
	txRepo postgres.TransactionRepository,
	usageRepo postgres.EligibilityRepository,
	retryRepo postgres.RetryRepository,
	eligibility Eligibility,
	locks cache.QuoteStore,
	adapter provider.Adapter,
	notifier EventPublisher,
	m *metrics.Metrics,
	policies *config.Policies,
	providerTimeout time.Duration,
	log *slog.Logger,
) *SettlementService {
	return &SettlementService{
		txManager:       txManager,
		walletRepo:      walletRepo,
		poolRepo:        poolRepo,
		txRepo:          txRepo,
		usageRepo:       usageRepo,
		retryRepo:       retryRepo,
		eligibility:     eligibility,
		locks:           locks,
		adapter:         adapter,
		notifier:        notifier,
		metrics:         m,
		policies:        policies,
		providerTimeout: providerTimeout,
		log:             log,
	}
}

// SettleDeposit пробует мгновенный путь и при отказе по допуску или
// ликвидности прозрачно уходит на отложенный через внешний рельс.
func (s *SettlementService) SettleDeposit(ctx context.Context, userID uuid.UUID, tier models.UserTier, req models.DeferredSettlementRequest) (*models.SettlementResult, error) {
	instant := models.SettlementRequest{
		Amount:     req.Amount,
		Currency:   req.Currency,
		RateLockID: req.RateLockID,
		RequestID:  req.RequestID,
	}

	result, err := s.InstantDeposit(ctx, userID, tier, instant)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, custom_err.ErrIneligibleForInstant) || errors.Is(err, custom_err.ErrInsufficientLiquidity) {
		s.log.Info("мгновенный депозит недоступен, переключение на отложенный",
			slog.String("user_id", userID.String()),
			slog.String("reason", err.Error()))
		return s.DeferredDeposit(ctx, userID, req)
	}
	return nil, err
}

// SettleWithdrawal то же, что SettleDeposit, для выплат
func (s *SettlementService) SettleWithdrawal(ctx context.Context, userID uuid.UUID, tier models.UserTier, req models.DeferredSettlementRequest) (*models.SettlementResult, error) {
	instant := models.SettlementRequest{
		Amount:     req.Amount,
		Currency:   req.Currency,
		RateLockID: req.RateLockID,
		RequestID:  req.RequestID,
	}

	result, err := s.InstantWithdrawal(ctx, userID, tier, instant)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, custom_err.ErrIneligibleForInstant) || errors.Is(err, custom_err.ErrInsufficientLiquidity) {
		s.log.Info("мгновенная выплата недоступна, переключение на отложенную",
			slog.String("user_id", userID.String()),
			slog.String("reason", err.Error()))
		return s.DeferredWithdrawal(ctx, userID, req)
	}
	return nil, err
}

// InstantDeposit мгновенный депозит из пула ликвидности. Повторная
// проверка лимита, списание с пула, зачисление на кошелек и запись
// транзакции выполняются одной транзакцией БД: либо все, либо ничего.
func (s *SettlementService) InstantDeposit(ctx context.Context, userID uuid.UUID, tier models.UserTier, req models.SettlementRequest) (*models.SettlementResult, error) {
	return s.instant(ctx, userID, tier, req, models.DirectionDeposit)
}

// InstantWithdrawal мгновенная выплата из пула ликвидности
func (s *SettlementService) InstantWithdrawal(ctx context.Context, userID uuid.UUID, tier models.UserTier, req models.SettlementRequest) (*models.SettlementResult, error) {
	return s.instant(ctx, userID, tier, req, models.DirectionWithdrawal)
}

func (s *SettlementService) instant(ctx context.Context, userID uuid.UUID, tier models.UserTier, req models.SettlementRequest, direction models.Direction) (*models.SettlementResult, error) {
	const op = "service.InstantSettle"

	if err := s.validateRequest(req.Amount, req.Currency, req.RequestID); err != nil {
		return nil, err
	}

	// Консультативная проверка допуска. Лимит перепроверяется ниже под
	// блокировкой, эта проверка лишь позволяет отказать дешево.
	verdict, err := s.eligibility.CheckInstant(ctx, userID, tier, req.Currency, direction, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !verdict.Eligible {
		return nil, fmt.Errorf("%w: %s", custom_err.ErrIneligibleForInstant, verdict.Reason)
	}

	rate, err := s.resolveRate(ctx, req.Currency, req.RateLockID)
	if err != nil {
		return nil, err
	}

	wallet, err := s.walletRepo.GetByUserAndCurrency(ctx, userID, models.CurrencySettlement)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to load wallet: %w", op, err)
	}

	amountDec := decimal.NewFromFloat(req.Amount)
	feeDec := amountDec.Mul(decimal.NewFromFloat(verdict.FeeRate))
	rateDec := decimal.NewFromFloat(rate)

	amountMinor := models.AmountToMinorUnits(req.Amount)
	feeMinor := models.AmountToMinorUnits(feeDec.InexactFloat64())

	txn := &models.Transaction{
		ID:             uuid.New(),
		Amount:         amountMinor,
		ExchangeRate:   rate,
		Fee:            feeMinor,
		Status:         models.StatusCompleted,
		SourceCurrency: req.Currency,
		TargetCurrency: models.CurrencySettlement,
	}
	now := time.Now().UTC()
	txn.CompletedAt = &now

	var walletDeltaMinor int64
	if direction == models.DirectionDeposit {
		// Кошелек получает сумму за вычетом комиссии, после конвертации
		txn.TransactionType = models.TypeInstantDeposit
		txn.RecipientID = &userID
		credited := amountDec.Sub(feeDec).Mul(rateDec)
		txn.ConvertedAmount = models.AmountToMinorUnits(credited.InexactFloat64())
		walletDeltaMinor = txn.ConvertedAmount
	} else {
		// Кошелек платит за выплату и комиссию, после конвертации
		txn.TransactionType = models.TypeInstantWithdrawal
		txn.SenderID = &userID
		txn.SourceCurrency = models.CurrencySettlement
		txn.TargetCurrency = req.Currency
		cost := amountDec.Add(feeDec).Mul(rateDec)
		txn.ConvertedAmount = models.AmountToMinorUnits(cost.InexactFloat64())
		walletDeltaMinor = -txn.ConvertedAmount
	}

	dailyLimitMinor := models.AmountToMinorUnits(s.policies.DailyLimits[req.Currency])

	err = s.txManager.WithTx(ctx, func(tx pgx.Tx) error {
		// Перепроверка дневного лимита под блокировкой строки
		used := int64(0)
		usage, err := s.usageRepo.GetUsageForUpdateTx(ctx, tx, userID, req.Currency, direction)
		if err != nil && !errors.Is(err, custom_err.ErrNotFound) {
			return err
		}
		if usage != nil {
			if usage.ResetDate.Equal(truncateToDay(now)) || usage.ResetDate.After(truncateToDay(now)) {
				used = usage.DailyUsed
			}
		}
		if used+amountMinor > dailyLimitMinor {
			return fmt.Errorf("%w: %s", custom_err.ErrIneligibleForInstant, models.ReasonDailyLimitExceeded)
		}
		if err := s.usageRepo.AddUsageTx(ctx, tx, userID, req.Currency, direction, dailyLimitMinor, amountMinor); err != nil {
			return err
		}

		// Пул фронтирует средства в валюте коридора
		poolBalance, err := s.poolRepo.DebitTx(ctx, tx, req.Currency, amountMinor, string(txn.TransactionType), txn.ID.String())
		if err != nil {
			return err
		}
		s.metrics.PoolBalance.WithLabelValues(string(req.Currency)).Set(float64(poolBalance))

		if err := s.applyWalletDeltaTx(ctx, tx, wallet.ID, walletDeltaMinor); err != nil {
			return err
		}

		return s.txRepo.InsertTx(ctx, tx, txn, req.RequestID)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.consumeRateLock(ctx, req.RateLockID)

	s.metrics.SettlementsTotal.WithLabelValues(string(txn.TransactionType), string(models.StatusCompleted)).Inc()
	s.notifier.Publish(models.NotificationEvent{
		Kind:          models.NotificationSettlementCompleted,
		TransactionID: txn.ID.String(),
		UserID:        userID,
		Currency:      string(req.Currency),
		Amount:        req.Amount,
		Message:       "instant settlement completed",
		Timestamp:     now,
	})

	s.log.Info("мгновенный расчет завершен",
		slog.String("transaction_id", txn.ID.String()),
		slog.String("type", string(txn.TransactionType)),
		slog.String("currency", string(req.Currency)),
		slog.Float64("amount", req.Amount))

	return &models.SettlementResult{
		TransactionID:   txn.ID,
		Status:          models.StatusCompleted,
		Message:         "instant settlement completed",
		ConvertedAmount: models.AmountFromMinorUnits(txn.ConvertedAmount),
		Fee:             models.AmountFromMinorUnits(feeMinor),
	}, nil
}

// DeferredDeposit отложенный депозит через внешний рельс. Транзакция
// создается до вызова провайдера; зачисление происходит только по
// вебхуку завершения.
func (s *SettlementService) DeferredDeposit(ctx context.Context, userID uuid.UUID, req models.DeferredSettlementRequest) (*models.SettlementResult, error) {
	const op = "service.DeferredDeposit"

	if err := s.validateRequest(req.Amount, req.Currency, req.RequestID); err != nil {
		return nil, err
	}

	rate, err := s.resolveRate(ctx, req.Currency, req.RateLockID)
	if err != nil {
		return nil, err
	}

	txn := s.buildDeferredTransaction(userID, req, rate, models.DirectionDeposit)

	err = s.txManager.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.txRepo.InsertTx(ctx, tx, txn, req.RequestID); err != nil {
			return err
		}
		return s.txRepo.UpdateStatusTx(ctx, tx, txn.ID, models.StatusInitiated, models.StatusProcessing, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.consumeRateLock(ctx, req.RateLockID)

	intent, err := s.callProviderDeposit(ctx, txn, req)
	if err != nil {
		s.failAndScheduleRetry(ctx, txn, err)
		return &models.SettlementResult{
			TransactionID: txn.ID,
			Status:        models.StatusFailed,
			Message:       "provider unavailable, retry scheduled",
		}, nil
	}

	err = s.txManager.WithTx(ctx, func(tx pgx.Tx) error {
		return s.txRepo.SetReferenceTx(ctx, tx, txn.ID, intent.Reference)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to store provider reference: %w", op, err)
	}

	s.log.Info("отложенный депозит инициирован",
		slog.String("transaction_id", txn.ID.String()),
		slog.String("provider", s.adapter.Name()),
		slog.String("reference", intent.Reference))

	return &models.SettlementResult{
		TransactionID:   txn.ID,
		Status:          models.StatusProcessing,
		Message:         "deferred settlement initiated",
		ConvertedAmount: models.AmountFromMinorUnits(txn.ConvertedAmount),
		Fee:             models.AmountFromMinorUnits(txn.Fee),
		RedirectURL:     intent.RedirectURL,
	}, nil
}

// DeferredWithdrawal отложенная выплата. Средства кошелька резервируются
// при создании; компенсирующее зачисление выполняется только при отмене.
func (s *SettlementService) DeferredWithdrawal(ctx context.Context, userID uuid.UUID, req models.DeferredSettlementRequest) (*models.SettlementResult, error) {
	const op = "service.DeferredWithdrawal"

	if err := s.validateRequest(req.Amount, req.Currency, req.RequestID); err != nil {
		return nil, err
	}

	rate, err := s.resolveRate(ctx, req.Currency, req.RateLockID)
	if err != nil {
		return nil, err
	}

	wallet, err := s.walletRepo.GetByUserAndCurrency(ctx, userID, models.CurrencySettlement)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to load wallet: %w", op, err)
	}

	txn := s.buildDeferredTransaction(userID, req, rate, models.DirectionWithdrawal)

	err = s.txManager.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.applyWalletDeltaTx(ctx, tx, wallet.ID, -txn.ConvertedAmount); err != nil {
			return err
		}
		if err := s.txRepo.InsertTx(ctx, tx, txn, req.RequestID); err != nil {
			return err
		}
		return s.txRepo.UpdateStatusTx(ctx, tx, txn.ID, models.StatusInitiated, models.StatusProcessing, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.consumeRateLock(ctx, req.RateLockID)

	intent, err := s.callProviderWithdrawal(ctx, txn, req)
	if err != nil {
		s.failAndScheduleRetry(ctx, txn, err)
		return &models.SettlementResult{
			TransactionID: txn.ID,
			Status:        models.StatusFailed,
			Message:       "provider unavailable, retry scheduled",
		}, nil
	}

	err = s.txManager.WithTx(ctx, func(tx pgx.Tx) error {
		return s.txRepo.SetReferenceTx(ctx, tx, txn.ID, intent.Reference)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to store provider reference: %w", op, err)
	}

	s.log.Info("отложенная выплата инициирована",
		slog.String("transaction_id", txn.ID.String()),
		slog.String("provider", s.adapter.Name()),
		slog.String("reference", intent.Reference))

	return &models.SettlementResult{
		TransactionID:   txn.ID,
		Status:          models.StatusProcessing,
		Message:         "deferred settlement initiated",
		ConvertedAmount: models.AmountFromMinorUnits(txn.ConvertedAmount),
		Fee:             models.AmountFromMinorUnits(txn.Fee),
	}, nil
}

// HandleProviderWebhook применяет исход внешнего рельса. Идемпотентен:
// повтор вебхука по завершенной транзакции ничего не делает, средства
// двигаются не более одного раза.
func (s *SettlementService) HandleProviderWebhook(ctx context.Context, hook models.ProviderWebhook) error {
	const op = "service.HandleProviderWebhook"

	var completed *models.Transaction
	var failed *models.Transaction

	err := s.txManager.WithTx(ctx, func(tx pgx.Tx) error {
		txn, err := s.txRepo.GetByReferenceForUpdateTx(ctx, tx, hook.Reference)
		if err != nil {
			if errors.Is(err, custom_err.ErrNotFound) {
				s.metrics.WebhooksTotal.WithLabelValues("rejected").Inc()
			}
			return err
		}

		if txn.Status.IsTerminal() {
			s.metrics.WebhooksTotal.WithLabelValues("replay").Inc()
			s.log.Info("повторный вебхук по завершенной транзакции игнорируется",
				slog.String("transaction_id", txn.ID.String()),
				slog.String("reference", hook.Reference))
			return nil
		}

		// Гонка с планировщиком повторов: транзакция уже ушла из
		// processing. Доставка at-least-once, расхождение статуса не
		// ошибка, исход применит следующий прогон повтора.
		if txn.Status != models.StatusProcessing {
			s.metrics.WebhooksTotal.WithLabelValues("ignored").Inc()
			s.log.Info("вебхук в несовместимом статусе игнорируется",
				slog.String("transaction_id", txn.ID.String()),
				slog.String("status", string(txn.Status)),
				slog.String("reference", hook.Reference))
			return nil
		}

		if hook.Amount != 0 && models.AmountToMinorUnits(hook.Amount) != txn.Amount {
			s.metrics.WebhooksTotal.WithLabelValues("mismatch").Inc()
			return fmt.Errorf("%w: webhook amount mismatch for %s", custom_err.ErrInvalidInput, txn.ID)
		}

		switch hook.Status {
		case providerStatusCompleted:
			if err := s.completeDeferredTx(ctx, tx, txn); err != nil {
				return err
			}
			completed = txn
		case providerStatusFailed:
			reason := "provider reported failure"
			if err := s.txRepo.UpdateStatusTx(ctx, tx, txn.ID, txn.Status, models.StatusFailed, &reason); err != nil {
				return err
			}
			failed = txn
		default:
			s.metrics.WebhooksTotal.WithLabelValues("rejected").Inc()
			return fmt.Errorf("%w: unknown webhook status %q", custom_err.ErrInvalidInput, hook.Status)
		}

		s.metrics.WebhooksTotal.WithLabelValues("applied").Inc()
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if completed != nil {
		s.metrics.SettlementsTotal.WithLabelValues(string(completed.TransactionType), string(models.StatusCompleted)).Inc()
		s.notifier.Publish(models.NotificationEvent{
			Kind:          models.NotificationSettlementCompleted,
			TransactionID: completed.ID.String(),
			Currency:      string(hook.Currency),
			Amount:        hook.Amount,
			Message:       "deferred settlement completed",
			Timestamp:     time.Now().UTC(),
		})
	}
	if failed != nil {
		if _, err := s.ScheduleRetry(ctx, failed.ID, "provider reported failure", models.TriggerAuto); err != nil && !errors.Is(err, custom_err.ErrRetryExhausted) {
			s.log.Error("не удалось запланировать повтор после вебхука",
				slog.String("transaction_id", failed.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	return nil
}

// completeDeferredTx переводит отложенную транзакцию в completed и
// двигает средства: депозит пополняет пул коридора и кошелек получателя,
// выплата уже зарезервирована при создании.
func (s *SettlementService) completeDeferredTx(ctx context.Context, tx pgx.Tx, txn *models.Transaction) error {
	if err := s.txRepo.UpdateStatusTx(ctx, tx, txn.ID, txn.Status, models.StatusCompleted, nil); err != nil {
		return err
	}

	switch txn.TransactionType {
	case models.TypeDeferredDeposit:
		poolBalance, err := s.poolRepo.CreditTx(ctx, tx, txn.SourceCurrency, txn.Amount, string(txn.TransactionType), txn.ID.String())
		if err != nil {
			return err
		}
		s.metrics.PoolBalance.WithLabelValues(string(txn.SourceCurrency)).Set(float64(poolBalance))

		if txn.RecipientID == nil {
			return fmt.Errorf("deferred deposit %s has no recipient", txn.ID)
		}
		wallet, err := s.walletRepo.GetByUserAndCurrency(ctx, *txn.RecipientID, models.CurrencySettlement)
		if err != nil {
			return err
		}
		return s.applyWalletDeltaTx(ctx, tx, wallet.ID, txn.ConvertedAmount)

	case models.TypeDeferredWithdrawal:
		// Резерв уже списан с кошелька при создании
		return nil

	default:
		return fmt.Errorf("%w: webhook for non-deferred transaction %s", custom_err.ErrInvalidInput, txn.ID)
	}
}

// CancelTransaction отменяет транзакцию, если машина состояний это
// допускает. Для отложенной выплаты выполняется компенсирующее
// зачисление резерва. Гонка с конкурентным переходом отдает конфликт,
// а не молчаливую перезапись.
func (s *SettlementService) CancelTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	const op = "service.CancelTransaction"

	var cancelled *models.Transaction

	err := s.txManager.WithTx(ctx, func(tx pgx.Tx) error {
		txn, err := s.txRepo.GetByIDForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := s.txRepo.UpdateStatusTx(ctx, tx, txn.ID, txn.Status, models.StatusCancelled, nil); err != nil {
			return err
		}

		if txn.TransactionType == models.TypeDeferredWithdrawal && txn.SenderID != nil {
			wallet, err := s.walletRepo.GetByUserAndCurrency(ctx, *txn.SenderID, models.CurrencySettlement)
			if err != nil {
				return err
			}
			if err := s.applyWalletDeltaTx(ctx, tx, wallet.ID, txn.ConvertedAmount); err != nil {
				return err
			}
		}

		txn.Status = models.StatusCancelled
		cancelled = txn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.SettlementsTotal.WithLabelValues(string(cancelled.TransactionType), string(models.StatusCancelled)).Inc()
	s.log.Info("транзакция отменена", slog.String("transaction_id", id.String()))

	return cancelled, nil
}

func (s *SettlementService) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return s.txRepo.GetByID(ctx, id)
}

// ScheduleRetry планирует повтор для транзакции в статусе failed или
// retry_scheduled (ручной повтор поверх уже ожидающего автоматического).
// Автоматический триггер наращивает счетчик попыток с экспоненциальной
// задержкой; ручной сбрасывает счетчик и ставит немедленный повтор.
// Исчерпание попыток оставляет транзакцию в failed навсегда.
func (s *SettlementService) ScheduleRetry(ctx context.Context, txID uuid.UUID, reason string, trigger models.TriggerType) (*models.RetryRecord, error) {
	const op = "service.ScheduleRetry"

	txn, err := s.txRepo.GetByID(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if txn.Status != models.StatusFailed && txn.Status != models.StatusRetryScheduled {
		return nil, fmt.Errorf("%w: retry allowed only from failed or retry_scheduled, got %s", custom_err.ErrInvalidStateTransition, txn.Status)
	}

	attempt := 0
	if trigger == models.TriggerAuto {
		latest, err := s.retryRepo.GetLatest(ctx, txID)
		if err != nil && !errors.Is(err, custom_err.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if latest != nil {
			attempt = latest.AttemptCount
		}
		attempt++
		if attempt > s.policies.RetryMaxAttempts {
			s.log.Warn("попытки повтора исчерпаны",
				slog.String("transaction_id", txID.String()),
				slog.Int("attempts", attempt-1))
			return nil, custom_err.ErrRetryExhausted
		}
	}

	rec := &models.RetryRecord{
		ID:            uuid.New(),
		TransactionID: txID,
		Reason:        reason,
		AttemptCount:  attempt,
		MaxAttempts:   s.policies.RetryMaxAttempts,
		NextAttemptAt: time.Now().UTC().Add(s.backoffDelay(attempt, trigger)),
		TriggerType:   trigger,
	}

	err = s.txManager.WithTx(ctx, func(tx pgx.Tx) error {
		if txn.Status == models.StatusFailed {
			if err := s.txRepo.UpdateStatusTx(ctx, tx, txID, models.StatusFailed, models.StatusRetryScheduled, nil); err != nil {
				return err
			}
		}
		return s.retryRepo.InsertTx(ctx, tx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.RetriesTotal.WithLabelValues(string(trigger)).Inc()
	s.log.Info("повтор запланирован",
		slog.String("transaction_id", txID.String()),
		slog.Int("attempt", attempt),
		slog.Time("next_attempt_at", rec.NextAttemptAt))

	return rec, nil
}

// RetryDeferred повторно прогоняет отложенную транзакцию через провайдера.
// Вызывается циклом планировщика по наступлении next_attempt_at.
func (s *SettlementService) RetryDeferred(ctx context.Context, txID uuid.UUID) error {
	const op = "service.RetryDeferred"

	var txn *models.Transaction
	err := s.txManager.WithTx(ctx, func(tx pgx.Tx) error {
		t, err := s.txRepo.GetByIDForUpdateTx(ctx, tx, txID)
		if err != nil {
			return err
		}
		if err := s.txRepo.UpdateStatusTx(ctx, tx, t.ID, models.StatusRetryScheduled, models.StatusProcessing, nil); err != nil {
			return err
		}
		txn = t
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req := models.DeferredSettlementRequest{
		Amount:   models.AmountFromMinorUnits(txn.Amount),
		Currency: txn.SourceCurrency,
	}
	if txn.TransactionType == models.TypeDeferredWithdrawal {
		req.Currency = txn.TargetCurrency
		req.BankDetails = txn.BankDetails
	}

	var reference string
	if txn.TransactionType == models.TypeDeferredDeposit {
		intent, perr := s.callProviderDeposit(ctx, txn, req)
		if perr != nil {
			s.failAndScheduleRetry(ctx, txn, perr)
			return nil
		}
		reference = intent.Reference
	} else {
		intent, perr := s.callProviderWithdrawal(ctx, txn, req)
		if perr != nil {
			s.failAndScheduleRetry(ctx, txn, perr)
			return nil
		}
		reference = intent.Reference
	}

	err = s.txManager.WithTx(ctx, func(tx pgx.Tx) error {
		return s.txRepo.SetReferenceTx(ctx, tx, txn.ID, reference)
	})
	if err != nil {
		return fmt.Errorf("%s: failed to store provider reference: %w", op, err)
	}

	s.log.Info("повтор отложенного расчета инициирован",
		slog.String("transaction_id", txn.ID.String()),
		slog.String("reference", reference))
	return nil
}

func (s *SettlementService) buildDeferredTransaction(userID uuid.UUID, req models.DeferredSettlementRequest, rate float64, direction models.Direction) *models.Transaction {
	feeRate := s.policies.BaseFeeRate(req.Currency, models.CurrencyUSD, req.Amount)

	amountDec := decimal.NewFromFloat(req.Amount)
	feeDec := amountDec.Mul(decimal.NewFromFloat(feeRate))
	rateDec := decimal.NewFromFloat(rate)

	txn := &models.Transaction{
		ID:           uuid.New(),
		Amount:       models.AmountToMinorUnits(req.Amount),
		ExchangeRate: rate,
		Fee:          models.AmountToMinorUnits(feeDec.InexactFloat64()),
		Status:       models.StatusInitiated,
	}

	if direction == models.DirectionDeposit {
		txn.TransactionType = models.TypeDeferredDeposit
		txn.RecipientID = &userID
		txn.SourceCurrency = req.Currency
		txn.TargetCurrency = models.CurrencySettlement
		txn.ConvertedAmount = models.AmountToMinorUnits(amountDec.Sub(feeDec).Mul(rateDec).InexactFloat64())
	} else {
		txn.TransactionType = models.TypeDeferredWithdrawal
		txn.SenderID = &userID
		txn.SourceCurrency = models.CurrencySettlement
		txn.TargetCurrency = req.Currency
		txn.ConvertedAmount = models.AmountToMinorUnits(amountDec.Add(feeDec).Mul(rateDec).InexactFloat64())
		// Реквизиты выплаты сохраняются с транзакцией: повтор после сбоя
		// провайдера обязан уйти на тот же счет
		txn.BankDetails = req.BankDetails
	}
	return txn
}

// failAndScheduleRetry переводит транзакцию в failed и ставит
// автоматический повтор. Вызывается вне транзакций БД.
func (s *SettlementService) failAndScheduleRetry(ctx context.Context, txn *models.Transaction, cause error) {
	reason := cause.Error()

	err := s.txManager.WithTx(ctx, func(tx pgx.Tx) error {
		return s.txRepo.UpdateStatusTx(ctx, tx, txn.ID, models.StatusProcessing, models.StatusFailed, &reason)
	})
	if err != nil {
		s.log.Error("не удалось зафиксировать сбой провайдера",
			slog.String("transaction_id", txn.ID.String()),
			slog.String("error", err.Error()))
		return
	}

	s.metrics.SettlementsTotal.WithLabelValues(string(txn.TransactionType), string(models.StatusFailed)).Inc()
	s.notifier.Publish(models.NotificationEvent{
		Kind:          models.NotificationSettlementFailed,
		TransactionID: txn.ID.String(),
		Message:       "provider call failed",
		Timestamp:     time.Now().UTC(),
	})

	if _, err := s.ScheduleRetry(ctx, txn.ID, reason, models.TriggerAuto); err != nil {
		if errors.Is(err, custom_err.ErrRetryExhausted) {
			s.log.Warn("транзакция остается в failed: повторы исчерпаны",
				slog.String("transaction_id", txn.ID.String()))
			return
		}
		s.log.Error("не удалось запланировать повтор",
			slog.String("transaction_id", txn.ID.String()),
			slog.String("error", err.Error()))
	}
}

func (s *SettlementService) callProviderDeposit(ctx context.Context, txn *models.Transaction, req models.DeferredSettlementRequest) (*provider.DepositIntent, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	start := time.Now()
	intent, err := s.adapter.InitiateDeposit(callCtx, provider.DepositRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Metadata: map[string]string{"transaction_id": txn.ID.String()},
	})
	s.metrics.ProviderLatency.WithLabelValues("deposit").Observe(time.Since(start).Seconds())
	return intent, err
}

func (s *SettlementService) callProviderWithdrawal(ctx context.Context, txn *models.Transaction, req models.DeferredSettlementRequest) (*provider.WithdrawalIntent, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	start := time.Now()
	intent, err := s.adapter.InitiateWithdrawal(callCtx, provider.WithdrawalRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		BankDetails: req.BankDetails,
	})
	s.metrics.ProviderLatency.WithLabelValues("withdrawal").Observe(time.Since(start).Seconds())
	return intent, err
}

// resolveRate курс конвертации валюты коридора в расчетную единицу.
// Фиксация здесь только читается и обязана совпадать с валютой запроса;
// потребляется она отдельно после фиксации расчета в БД, чтобы сорванный
// расчет не сжигал еще живую фиксацию. Расчетная единица привязана к USD
// один к одному.
func (s *SettlementService) resolveRate(ctx context.Context, currency models.Currency, rateLockID *uuid.UUID) (float64, error) {
	if rateLockID == nil {
		return s.policies.StableRate(currency), nil
	}

	lock, err := s.locks.GetRateLock(ctx, *rateLockID)
	if err != nil {
		if errors.Is(err, custom_err.ErrNotFound) {
			return 0, fmt.Errorf("%w: rate lock expired or already used", custom_err.ErrNotFound)
		}
		return 0, err
	}
	if time.Now().UTC().After(lock.ExpiresAt) {
		return 0, fmt.Errorf("%w: rate lock expired", custom_err.ErrNotFound)
	}
	if lock.FromCurrency != currency || lock.ToCurrency != models.CurrencyUSD {
		return 0, fmt.Errorf("%w: rate lock pair does not match settlement", custom_err.ErrInvalidInput)
	}
	return lock.LockedRate, nil
}

// consumeRateLock безвозвратно забирает примененную фиксацию (GETDEL).
// Вызывается только после коммита транзакции с зафиксированным курсом.
func (s *SettlementService) consumeRateLock(ctx context.Context, rateLockID *uuid.UUID) {
	if rateLockID == nil {
		return
	}
	if _, err := s.locks.ConsumeRateLock(ctx, *rateLockID); err != nil && !errors.Is(err, custom_err.ErrNotFound) {
		s.log.Warn("не удалось потребить фиксацию курса",
			slog.String("rate_lock_id", rateLockID.String()),
			slog.String("error", err.Error()))
	}
}

// applyWalletDeltaTx изменяет баланс кошелька под блокировкой строки.
// Отрицательный итог отклоняется ограничением схемы.
func (s *SettlementService) applyWalletDeltaTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, deltaMinor int64) error {
	balance, err := s.walletRepo.GetWalletBalanceForUpdateTx(ctx, tx, walletID)
	if err != nil {
		return err
	}
	newBalance := balance + deltaMinor
	if newBalance < 0 {
		return custom_err.ErrInsufficientFunds
	}
	return s.walletRepo.UpdateBalanceTx(ctx, tx, walletID, newBalance)
}

func (s *SettlementService) validateRequest(amount float64, currency models.Currency, requestID string) error {
	if !currency.IsValid() {
		return custom_err.ErrInvalidCurrency
	}
	if amount <= 0 {
		return custom_err.ErrInvalidAmount
	}
	if requestID == "" {
		return fmt.Errorf("%w: requestID is required", custom_err.ErrInvalidInput)
	}
	return nil
}

// backoffDelay задержка перед попыткой: base*2^(attempt-1) с потолком.
// Ручной повтор выполняется немедленно.
func (s *SettlementService) backoffDelay(attempt int, trigger models.TriggerType) time.Duration {
	if trigger == models.TriggerManual {
		return 0
	}
	delay := s.policies.RetryBackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.policies.RetryBackoffCap {
			return s.policies.RetryBackoffCap
		}
	}
	if delay > s.policies.RetryBackoffCap {
		delay = s.policies.RetryBackoffCap
	}
	return delay
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
