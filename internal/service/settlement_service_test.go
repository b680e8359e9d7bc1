package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gw-settlement/internal/config"
	"gw-settlement/internal/custom_err"
	"gw-settlement/internal/metrics"
	"gw-settlement/internal/models"
	"gw-settlement/internal/provider"
)

type settlementFixture struct {
	service     *SettlementService
	txManager   *MockTxManager
	walletRepo  *MockWalletRepo
	poolRepo    *MockPoolRepo
	txRepo      *MockTransactionRepo
	usageRepo   *MockEligibilityRepo
	retryRepo   *MockRetryRepo
	eligibility *MockEligibilityEngine
	locks       *MockQuoteStore
	adapter     *MockAdapter
	notifier    *MockPublisher
}

func setupSettlementService() *settlementFixture {
	f := &settlementFixture{
		txManager:   new(MockTxManager),
		walletRepo:  new(MockWalletRepo),
		poolRepo:    new(MockPoolRepo),
		txRepo:      new(MockTransactionRepo),
		usageRepo:   new(MockEligibilityRepo),
		retryRepo:   new(MockRetryRepo),
		eligibility: new(MockEligibilityEngine),
		locks:       new(MockQuoteStore),
		adapter:     new(MockAdapter),
		notifier:    new(MockPublisher),
	}
	f.notifier.On("Publish", mock.Anything).Return()

	f.service = NewSettlementService(
		f.txManager,
		f.walletRepo,
		f.poolRepo,
		f.txRepo,
		f.usageRepo,
		f.retryRepo,
		f.eligibility,
		f.locks,
		f.adapter,
		f.notifier,
		metrics.New(prometheus.NewRegistry()),
		config.DefaultPolicies(),
		5*time.Second,
		testLogger(),
	)
	return f
}

func eligibleVerdict(feeRate float64) *models.EligibilityResult {
	return &models.EligibilityResult{Eligible: true, FeeRate: feeRate}
}

func TestSettlementService_InstantDeposit_Success(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	userID := uuid.New()
	walletID := uuid.New()

	f.eligibility.On("CheckInstant", ctx, userID, models.TierBasic, models.CurrencyUSD, models.DirectionDeposit, 400.0).
		Return(eligibleVerdict(0.001), nil)
	f.walletRepo.On("GetByUserAndCurrency", ctx, userID, models.CurrencySettlement).
		Return(&models.Wallet{ID: walletID, UserID: userID, Currency: string(models.CurrencySettlement), Balance: 0}, nil)

	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.usageRepo.On("GetUsageForUpdateTx", ctx, mock.Anything, userID, models.CurrencyUSD, models.DirectionDeposit).
		Return(nil, custom_err.ErrNotFound)
	f.usageRepo.On("AddUsageTx", ctx, mock.Anything, userID, models.CurrencyUSD, models.DirectionDeposit, int64(100000), int64(40000)).
		Return(nil)
	// Пул фронтирует полную сумму в валюте коридора
	f.poolRepo.On("DebitTx", ctx, mock.Anything, models.CurrencyUSD, int64(40000), "instant_deposit", mock.Anything).
		Return(int64(4960000), nil)
	// Кошелек получает (400 - 0.40) * 1.0 = 399.60
	f.walletRepo.On("GetWalletBalanceForUpdateTx", ctx, mock.Anything, walletID).Return(int64(0), nil)
	f.walletRepo.On("UpdateBalanceTx", ctx, mock.Anything, walletID, int64(39960)).Return(nil)
	f.txRepo.On("InsertTx", ctx, mock.Anything, mock.MatchedBy(func(txn *models.Transaction) bool {
		return txn.Status == models.StatusCompleted &&
			txn.TransactionType == models.TypeInstantDeposit &&
			txn.Amount == 40000 &&
			txn.Fee == 40 &&
			txn.ConvertedAmount == 39960
	}), "req-1").Return(nil)

	result, err := f.service.InstantDeposit(ctx, userID, models.TierBasic, models.SettlementRequest{
		Amount:    400,
		Currency:  models.CurrencyUSD,
		RequestID: "req-1",
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, 399.60, result.ConvertedAmount)
	assert.Equal(t, 0.40, result.Fee)

	f.poolRepo.AssertExpectations(t)
	f.walletRepo.AssertExpectations(t)
	f.txRepo.AssertExpectations(t)
	f.notifier.AssertCalled(t, "Publish", mock.MatchedBy(func(e models.NotificationEvent) bool {
		return e.Kind == models.NotificationSettlementCompleted
	}))
}

func TestSettlementService_InstantDeposit_Ineligible(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	userID := uuid.New()

	f.eligibility.On("CheckInstant", ctx, userID, models.TierBasic, models.CurrencyUSD, models.DirectionDeposit, 400.0).
		Return(&models.EligibilityResult{Eligible: false, Reason: models.ReasonInsufficientPool}, nil)

	result, err := f.service.InstantDeposit(ctx, userID, models.TierBasic, models.SettlementRequest{
		Amount:    400,
		Currency:  models.CurrencyUSD,
		RequestID: "req-2",
	})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, custom_err.ErrIneligibleForInstant)
}

func TestSettlementService_InstantDeposit_DailyLimitRecheckUnderLock(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	userID := uuid.New()
	walletID := uuid.New()

	// Консультативная проверка прошла, но под блокировкой лимит уже выбран
	f.eligibility.On("CheckInstant", ctx, userID, models.TierBasic, models.CurrencyUSD, models.DirectionDeposit, 400.0).
		Return(eligibleVerdict(0.001), nil)
	f.walletRepo.On("GetByUserAndCurrency", ctx, userID, models.CurrencySettlement).
		Return(&models.Wallet{ID: walletID}, nil)
	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.usageRepo.On("GetUsageForUpdateTx", ctx, mock.Anything, userID, models.CurrencyUSD, models.DirectionDeposit).
		Return(&models.InstantUsage{DailyUsed: 95000, ResetDate: time.Now().UTC()}, nil)

	result, err := f.service.InstantDeposit(ctx, userID, models.TierBasic, models.SettlementRequest{
		Amount:    400,
		Currency:  models.CurrencyUSD,
		RequestID: "req-3",
	})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, custom_err.ErrIneligibleForInstant)
	// Никакого движения средств при откате
	f.poolRepo.AssertNotCalled(t, "DebitTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettlementService_InstantWithdrawal_InsufficientFunds(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	userID := uuid.New()
	walletID := uuid.New()

	f.eligibility.On("CheckInstant", ctx, userID, models.TierBasic, models.CurrencyUSD, models.DirectionWithdrawal, 100.0).
		Return(eligibleVerdict(0.002), nil)
	f.walletRepo.On("GetByUserAndCurrency", ctx, userID, models.CurrencySettlement).
		Return(&models.Wallet{ID: walletID, Balance: 5000}, nil)
	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.usageRepo.On("GetUsageForUpdateTx", ctx, mock.Anything, userID, models.CurrencyUSD, models.DirectionWithdrawal).
		Return(nil, custom_err.ErrNotFound)
	f.usageRepo.On("AddUsageTx", ctx, mock.Anything, userID, models.CurrencyUSD, models.DirectionWithdrawal, int64(100000), int64(10000)).
		Return(nil)
	f.poolRepo.On("DebitTx", ctx, mock.Anything, models.CurrencyUSD, int64(10000), "instant_withdrawal", mock.Anything).
		Return(int64(4990000), nil)
	// На кошельке 50.00, выплата стоит 100.20
	f.walletRepo.On("GetWalletBalanceForUpdateTx", ctx, mock.Anything, walletID).Return(int64(5000), nil)

	result, err := f.service.InstantWithdrawal(ctx, userID, models.TierBasic, models.SettlementRequest{
		Amount:    100,
		Currency:  models.CurrencyUSD,
		RequestID: "req-4",
	})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, custom_err.ErrInsufficientFunds)
	f.walletRepo.AssertNotCalled(t, "UpdateBalanceTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettlementService_SettleDeposit_FallsBackToDeferred(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	userID := uuid.New()

	f.eligibility.On("CheckInstant", ctx, userID, models.TierBasic, models.CurrencyNGN, models.DirectionDeposit, 100000.0).
		Return(&models.EligibilityResult{Eligible: false, Reason: models.ReasonAmountAboveThreshold}, nil)

	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.txRepo.On("InsertTx", ctx, mock.Anything, mock.MatchedBy(func(txn *models.Transaction) bool {
		return txn.TransactionType == models.TypeDeferredDeposit && txn.Status == models.StatusInitiated
	}), "req-5").Return(nil)
	f.txRepo.On("UpdateStatusTx", ctx, mock.Anything, mock.Anything, models.StatusInitiated, models.StatusProcessing, (*string)(nil)).
		Return(nil)
	f.adapter.On("InitiateDeposit", mock.Anything, mock.Anything).
		Return(&provider.DepositIntent{Reference: "prov-ref-1", RedirectURL: "https://pay.example/1"}, nil)
	f.txRepo.On("SetReferenceTx", ctx, mock.Anything, mock.Anything, "prov-ref-1").Return(nil)

	result, err := f.service.SettleDeposit(ctx, userID, models.TierBasic, models.DeferredSettlementRequest{
		Amount:    100000,
		Currency:  models.CurrencyNGN,
		RequestID: "req-5",
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, result.Status)
	assert.Equal(t, "https://pay.example/1", result.RedirectURL)
}

func TestSettlementService_DeferredDeposit_ProviderFailureSchedulesRetry(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	userID := uuid.New()

	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.txRepo.On("InsertTx", ctx, mock.Anything, mock.Anything, "req-6").Return(nil)
	f.txRepo.On("UpdateStatusTx", ctx, mock.Anything, mock.Anything, models.StatusInitiated, models.StatusProcessing, (*string)(nil)).
		Return(nil)
	f.adapter.On("InitiateDeposit", mock.Anything, mock.Anything).
		Return(nil, custom_err.ErrProviderTimeout)

	// failAndScheduleRetry: processing -> failed, затем failed -> retry_scheduled
	f.txRepo.On("UpdateStatusTx", ctx, mock.Anything, mock.Anything, models.StatusProcessing, models.StatusFailed, mock.Anything).
		Return(nil)
	f.txRepo.On("GetByID", ctx, mock.Anything).
		Return(&models.Transaction{Status: models.StatusFailed, TransactionType: models.TypeDeferredDeposit}, nil)
	f.retryRepo.On("GetLatest", ctx, mock.Anything).Return(nil, custom_err.ErrNotFound)
	f.txRepo.On("UpdateStatusTx", ctx, mock.Anything, mock.Anything, models.StatusFailed, models.StatusRetryScheduled, (*string)(nil)).
		Return(nil)
	f.retryRepo.On("InsertTx", ctx, mock.Anything, mock.MatchedBy(func(r *models.RetryRecord) bool {
		return r.AttemptCount == 1 && r.TriggerType == models.TriggerAuto
	})).Return(nil)

	result, err := f.service.DeferredDeposit(ctx, userID, models.DeferredSettlementRequest{
		Amount:    500,
		Currency:  models.CurrencyNGN,
		RequestID: "req-6",
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, "provider unavailable, retry scheduled", result.Message)
	f.retryRepo.AssertExpectations(t)
}

func TestSettlementService_Webhook_CompletesDeferredDeposit(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	recipientID := uuid.New()
	walletID := uuid.New()
	txID := uuid.New()
	ref := "prov-ref-7"

	txn := &models.Transaction{
		ID:                txID,
		RecipientID:       &recipientID,
		Amount:            50000,
		SourceCurrency:    models.CurrencyKES,
		TargetCurrency:    models.CurrencySettlement,
		ConvertedAmount:   386,
		Status:            models.StatusProcessing,
		TransactionType:   models.TypeDeferredDeposit,
		ExternalReference: &ref,
	}

	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.txRepo.On("GetByReferenceForUpdateTx", ctx, mock.Anything, ref).Return(txn, nil)
	f.txRepo.On("UpdateStatusTx", ctx, mock.Anything, txID, models.StatusProcessing, models.StatusCompleted, (*string)(nil)).
		Return(nil)
	f.poolRepo.On("CreditTx", ctx, mock.Anything, models.CurrencyKES, int64(50000), "deferred_deposit", txID.String()).
		Return(int64(50050000), nil)
	f.walletRepo.On("GetByUserAndCurrency", ctx, recipientID, models.CurrencySettlement).
		Return(&models.Wallet{ID: walletID}, nil)
	f.walletRepo.On("GetWalletBalanceForUpdateTx", ctx, mock.Anything, walletID).Return(int64(100), nil)
	f.walletRepo.On("UpdateBalanceTx", ctx, mock.Anything, walletID, int64(486)).Return(nil)

	err := f.service.HandleProviderWebhook(ctx, models.ProviderWebhook{
		Reference: ref,
		Status:    "completed",
		Amount:    500,
		Currency:  models.CurrencyKES,
	})

	require.NoError(t, err)
	f.poolRepo.AssertExpectations(t)
	f.walletRepo.AssertExpectations(t)
}

func TestSettlementService_Webhook_ReplayIsNoOp(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	ref := "prov-ref-8"

	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.txRepo.On("GetByReferenceForUpdateTx", ctx, mock.Anything, ref).Return(&models.Transaction{
		ID:              uuid.New(),
		Status:          models.StatusCompleted,
		TransactionType: models.TypeDeferredDeposit,
	}, nil)

	err := f.service.HandleProviderWebhook(ctx, models.ProviderWebhook{Reference: ref, Status: "completed"})

	require.NoError(t, err)
	// Средства не двигаются второй раз
	f.poolRepo.AssertNotCalled(t, "CreditTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.txRepo.AssertNotCalled(t, "UpdateStatusTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettlementService_Webhook_AmountMismatchRejected(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	ref := "prov-ref-9"

	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.txRepo.On("GetByReferenceForUpdateTx", ctx, mock.Anything, ref).Return(&models.Transaction{
		ID:              uuid.New(),
		Amount:          50000,
		Status:          models.StatusProcessing,
		TransactionType: models.TypeDeferredDeposit,
	}, nil)

	err := f.service.HandleProviderWebhook(ctx, models.ProviderWebhook{
		Reference: ref,
		Status:    "completed",
		Amount:    400, // транзакция создана на 500
	})

	assert.ErrorIs(t, err, custom_err.ErrInvalidInput)
}

func TestSettlementService_Webhook_DuringRetryScheduledIsNoOp(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	ref := "prov-ref-11"

	// Провайдер прислал успех после того, как таймаут уже увел
	// транзакцию в retry_scheduled. Доставка at-least-once: вебхук
	// принимается молча, исход применит прогон планировщика.
	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.txRepo.On("GetByReferenceForUpdateTx", ctx, mock.Anything, ref).Return(&models.Transaction{
		ID:                uuid.New(),
		Amount:            50000,
		Status:            models.StatusRetryScheduled,
		TransactionType:   models.TypeDeferredDeposit,
		ExternalReference: &ref,
	}, nil)

	err := f.service.HandleProviderWebhook(ctx, models.ProviderWebhook{
		Reference: ref,
		Status:    "completed",
		Amount:    500,
		Currency:  models.CurrencyKES,
	})

	require.NoError(t, err)
	f.txRepo.AssertNotCalled(t, "UpdateStatusTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.poolRepo.AssertNotCalled(t, "CreditTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettlementService_Cancel_DeferredWithdrawalRefundsReserve(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	senderID := uuid.New()
	walletID := uuid.New()
	txID := uuid.New()

	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.txRepo.On("GetByIDForUpdateTx", ctx, mock.Anything, txID).Return(&models.Transaction{
		ID:              txID,
		SenderID:        &senderID,
		ConvertedAmount: 10020,
		Status:          models.StatusProcessing,
		TransactionType: models.TypeDeferredWithdrawal,
	}, nil)
	f.txRepo.On("UpdateStatusTx", ctx, mock.Anything, txID, models.StatusProcessing, models.StatusCancelled, (*string)(nil)).
		Return(nil)
	f.walletRepo.On("GetByUserAndCurrency", ctx, senderID, models.CurrencySettlement).
		Return(&models.Wallet{ID: walletID}, nil)
	f.walletRepo.On("GetWalletBalanceForUpdateTx", ctx, mock.Anything, walletID).Return(int64(0), nil)
	// Компенсирующее зачисление резерва
	f.walletRepo.On("UpdateBalanceTx", ctx, mock.Anything, walletID, int64(10020)).Return(nil)

	cancelled, err := f.service.CancelTransaction(ctx, txID)

	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	f.walletRepo.AssertExpectations(t)
}

func TestSettlementService_ScheduleRetry_RejectedWhileProcessing(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	txID := uuid.New()

	f.txRepo.On("GetByID", ctx, txID).Return(&models.Transaction{
		ID:     txID,
		Status: models.StatusProcessing,
	}, nil)

	rec, err := f.service.ScheduleRetry(ctx, txID, "boom", models.TriggerAuto)

	assert.Nil(t, rec)
	assert.ErrorIs(t, err, custom_err.ErrInvalidStateTransition)
}

func TestSettlementService_ScheduleRetry_AutoIncrementsAttempt(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	txID := uuid.New()

	f.txRepo.On("GetByID", ctx, txID).Return(&models.Transaction{ID: txID, Status: models.StatusFailed}, nil)
	f.retryRepo.On("GetLatest", ctx, txID).Return(&models.RetryRecord{AttemptCount: 2}, nil)
	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.txRepo.On("UpdateStatusTx", ctx, mock.Anything, txID, models.StatusFailed, models.StatusRetryScheduled, (*string)(nil)).
		Return(nil)
	f.retryRepo.On("InsertTx", ctx, mock.Anything, mock.Anything).Return(nil)

	rec, err := f.service.ScheduleRetry(ctx, txID, "provider down", models.TriggerAuto)

	require.NoError(t, err)
	assert.Equal(t, 3, rec.AttemptCount)
	// base 1m * 2^(3-1) = 4m
	assert.WithinDuration(t, time.Now().UTC().Add(4*time.Minute), rec.NextAttemptAt, 5*time.Second)
}

func TestSettlementService_ScheduleRetry_Exhausted(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	txID := uuid.New()

	f.txRepo.On("GetByID", ctx, txID).Return(&models.Transaction{ID: txID, Status: models.StatusFailed}, nil)
	f.retryRepo.On("GetLatest", ctx, txID).Return(&models.RetryRecord{AttemptCount: 5}, nil)

	rec, err := f.service.ScheduleRetry(ctx, txID, "provider down", models.TriggerAuto)

	assert.Nil(t, rec)
	assert.ErrorIs(t, err, custom_err.ErrRetryExhausted)
	// Транзакция остается в failed: никаких переходов
	f.txRepo.AssertNotCalled(t, "UpdateStatusTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettlementService_ScheduleRetry_ManualResetsAttempt(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	txID := uuid.New()

	f.txRepo.On("GetByID", ctx, txID).Return(&models.Transaction{ID: txID, Status: models.StatusFailed}, nil)
	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.txRepo.On("UpdateStatusTx", ctx, mock.Anything, txID, models.StatusFailed, models.StatusRetryScheduled, (*string)(nil)).
		Return(nil)
	f.retryRepo.On("InsertTx", ctx, mock.Anything, mock.Anything).Return(nil)

	rec, err := f.service.ScheduleRetry(ctx, txID, "operator retry", models.TriggerManual)

	require.NoError(t, err)
	assert.Equal(t, 0, rec.AttemptCount)
	assert.WithinDuration(t, time.Now().UTC(), rec.NextAttemptAt, 5*time.Second)
	// Счетчик прошлых попыток не читается вовсе
	f.retryRepo.AssertNotCalled(t, "GetLatest", mock.Anything, mock.Anything)
}

func TestSettlementService_ScheduleRetry_ManualOnPendingRetryResetsAttempt(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	txID := uuid.New()

	// Оператор перезапускает транзакцию, у которой уже есть ожидающий
	// автоматический повтор: переход failed -> retry_scheduled не нужен
	f.txRepo.On("GetByID", ctx, txID).Return(&models.Transaction{ID: txID, Status: models.StatusRetryScheduled}, nil)
	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.retryRepo.On("InsertTx", ctx, mock.Anything, mock.Anything).Return(nil)

	rec, err := f.service.ScheduleRetry(ctx, txID, "operator retry", models.TriggerManual)

	require.NoError(t, err)
	assert.Equal(t, 0, rec.AttemptCount)
	assert.WithinDuration(t, time.Now().UTC(), rec.NextAttemptAt, 5*time.Second)
	f.txRepo.AssertNotCalled(t, "UpdateStatusTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettlementService_RetryDeferred_WithdrawalCarriesBankDetails(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	senderID := uuid.New()
	txID := uuid.New()

	details := map[string]string{
		"bank_code":      "058",
		"account_number": "0123456789",
	}

	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.txRepo.On("GetByIDForUpdateTx", ctx, mock.Anything, txID).Return(&models.Transaction{
		ID:              txID,
		SenderID:        &senderID,
		Amount:          10000,
		SourceCurrency:  models.CurrencySettlement,
		TargetCurrency:  models.CurrencyNGN,
		Status:          models.StatusRetryScheduled,
		TransactionType: models.TypeDeferredWithdrawal,
		BankDetails:     details,
	}, nil)
	f.txRepo.On("UpdateStatusTx", ctx, mock.Anything, txID, models.StatusRetryScheduled, models.StatusProcessing, (*string)(nil)).
		Return(nil)
	// Повтор обязан уйти на те же реквизиты, что и исходная выплата
	f.adapter.On("InitiateWithdrawal", mock.Anything, mock.MatchedBy(func(req provider.WithdrawalRequest) bool {
		return req.Currency == models.CurrencyNGN &&
			req.BankDetails["bank_code"] == "058" &&
			req.BankDetails["account_number"] == "0123456789"
	})).Return(&provider.WithdrawalIntent{Reference: "prov-ref-12"}, nil)
	f.txRepo.On("SetReferenceTx", ctx, mock.Anything, txID, "prov-ref-12").Return(nil)

	err := f.service.RetryDeferred(ctx, txID)

	require.NoError(t, err)
	f.adapter.AssertExpectations(t)
}

func TestSettlementService_BackoffDelayCapped(t *testing.T) {
	f := setupSettlementService()

	cases := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{7, time.Hour},
		{20, time.Hour},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, f.service.backoffDelay(tc.attempt, models.TriggerAuto), "attempt %d", tc.attempt)
	}
	assert.Equal(t, time.Duration(0), f.service.backoffDelay(3, models.TriggerManual))
}

func TestSettlementService_ResolveRate_LockMustMatchCurrency(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	lockID := uuid.New()

	f.locks.On("GetRateLock", ctx, lockID).Return(&models.RateLock{
		ID:           lockID,
		FromCurrency: models.CurrencyKES,
		ToCurrency:   models.CurrencyUSD,
		LockedRate:   0.0078,
		ExpiresAt:    time.Now().UTC().Add(time.Minute),
	}, nil)

	_, err := f.service.resolveRate(ctx, models.CurrencyNGN, &lockID)

	assert.ErrorIs(t, err, custom_err.ErrInvalidInput)
}

func TestSettlementService_ResolveRate_ConsumedLockGone(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	lockID := uuid.New()

	f.locks.On("GetRateLock", ctx, lockID).Return(nil, custom_err.ErrNotFound)

	_, err := f.service.resolveRate(ctx, models.CurrencyNGN, &lockID)

	assert.ErrorIs(t, err, custom_err.ErrNotFound)
}

func TestSettlementService_ResolveRate_NoLockFallsBackToStable(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()

	rate, err := f.service.resolveRate(ctx, models.CurrencyNGN, nil)

	require.NoError(t, err)
	assert.Equal(t, 0.00067, rate)
}

func TestSettlementService_InstantDeposit_ConsumesRateLockAfterCommit(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	userID := uuid.New()
	walletID := uuid.New()
	lockID := uuid.New()

	lock := &models.RateLock{
		ID:           lockID,
		FromCurrency: models.CurrencyUSD,
		ToCurrency:   models.CurrencyUSD,
		LockedRate:   1.0,
		ExpiresAt:    time.Now().UTC().Add(time.Minute),
	}

	f.eligibility.On("CheckInstant", ctx, userID, models.TierBasic, models.CurrencyUSD, models.DirectionDeposit, 400.0).
		Return(eligibleVerdict(0.001), nil)
	f.locks.On("GetRateLock", ctx, lockID).Return(lock, nil)
	f.walletRepo.On("GetByUserAndCurrency", ctx, userID, models.CurrencySettlement).
		Return(&models.Wallet{ID: walletID}, nil)
	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.usageRepo.On("GetUsageForUpdateTx", ctx, mock.Anything, userID, models.CurrencyUSD, models.DirectionDeposit).
		Return(nil, custom_err.ErrNotFound)
	f.usageRepo.On("AddUsageTx", ctx, mock.Anything, userID, models.CurrencyUSD, models.DirectionDeposit, int64(100000), int64(40000)).
		Return(nil)
	f.poolRepo.On("DebitTx", ctx, mock.Anything, models.CurrencyUSD, int64(40000), "instant_deposit", mock.Anything).
		Return(int64(4960000), nil)
	f.walletRepo.On("GetWalletBalanceForUpdateTx", ctx, mock.Anything, walletID).Return(int64(0), nil)
	f.walletRepo.On("UpdateBalanceTx", ctx, mock.Anything, walletID, int64(39960)).Return(nil)
	f.txRepo.On("InsertTx", ctx, mock.Anything, mock.Anything, "req-13").Return(nil)
	f.locks.On("ConsumeRateLock", ctx, lockID).Return(lock, nil)

	_, err := f.service.InstantDeposit(ctx, userID, models.TierBasic, models.SettlementRequest{
		Amount:     400,
		Currency:   models.CurrencyUSD,
		RateLockID: &lockID,
		RequestID:  "req-13",
	})

	require.NoError(t, err)
	// Фиксация сжигается ровно один раз и только после коммита
	f.locks.AssertNumberOfCalls(t, "ConsumeRateLock", 1)
}

func TestSettlementService_FailedSettlementKeepsRateLock(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	userID := uuid.New()
	walletID := uuid.New()
	lockID := uuid.New()

	f.eligibility.On("CheckInstant", ctx, userID, models.TierBasic, models.CurrencyUSD, models.DirectionDeposit, 400.0).
		Return(eligibleVerdict(0.001), nil)
	f.locks.On("GetRateLock", ctx, lockID).Return(&models.RateLock{
		ID:           lockID,
		FromCurrency: models.CurrencyUSD,
		ToCurrency:   models.CurrencyUSD,
		LockedRate:   1.0,
		ExpiresAt:    time.Now().UTC().Add(time.Minute),
	}, nil)
	f.walletRepo.On("GetByUserAndCurrency", ctx, userID, models.CurrencySettlement).
		Return(&models.Wallet{ID: walletID}, nil)
	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	// Расчет срывается на перепроверке лимита под блокировкой
	f.usageRepo.On("GetUsageForUpdateTx", ctx, mock.Anything, userID, models.CurrencyUSD, models.DirectionDeposit).
		Return(&models.InstantUsage{DailyUsed: 95000, ResetDate: time.Now().UTC()}, nil)

	_, err := f.service.InstantDeposit(ctx, userID, models.TierBasic, models.SettlementRequest{
		Amount:     400,
		Currency:   models.CurrencyUSD,
		RateLockID: &lockID,
		RequestID:  "req-14",
	})

	require.Error(t, err)
	// Еще живая фиксация не сжигается сорванным расчетом
	f.locks.AssertNotCalled(t, "ConsumeRateLock", mock.Anything, mock.Anything)
}

func TestSettlementService_ValidateRequest(t *testing.T) {
	f := setupSettlementService()

	assert.ErrorIs(t, f.service.validateRequest(100, "XXX", "r"), custom_err.ErrInvalidCurrency)
	assert.ErrorIs(t, f.service.validateRequest(0, models.CurrencyUSD, "r"), custom_err.ErrInvalidAmount)
	assert.ErrorIs(t, f.service.validateRequest(100, models.CurrencyUSD, ""), custom_err.ErrInvalidInput)
	assert.NoError(t, f.service.validateRequest(100, models.CurrencyUSD, "r"))
}

func TestSettlementService_InstantDeposit_PropagatesUnexpectedErrors(t *testing.T) {
	f := setupSettlementService()
	ctx := context.Background()
	userID := uuid.New()

	f.eligibility.On("CheckInstant", ctx, userID, models.TierBasic, models.CurrencyUSD, models.DirectionDeposit, 100.0).
		Return(nil, errors.New("pool storage down"))

	_, err := f.service.InstantDeposit(ctx, userID, models.TierBasic, models.SettlementRequest{
		Amount:    100,
		Currency:  models.CurrencyUSD,
		RequestID: "req-10",
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, custom_err.ErrIneligibleForInstant)
}
