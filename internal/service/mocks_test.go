package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"

	"gw-settlement/internal/models"
	"gw-settlement/internal/provider"
	"gw-settlement/internal/storage/postgres"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) CreateTx(ctx context.Context, tx pgx.Tx, user *models.User) (*models.User, error) {
	args := m.Called(ctx, tx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type MockWalletRepo struct {
	mock.Mock
}

func (m *MockWalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockWalletRepo) GetByUserAndCurrency(ctx context.Context, userID uuid.UUID, currency models.Currency) (*models.Wallet, error) {
	args := m.Called(ctx, userID, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockWalletRepo) GetAllUserWallets(ctx context.Context, userID uuid.UUID) ([]*models.Wallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Wallet), args.Error(1)
}

func (m *MockWalletRepo) CreateWalletTx(ctx context.Context, tx pgx.Tx, wallet *models.Wallet) error {
	args := m.Called(ctx, tx, wallet)
	return args.Error(0)
}

func (m *MockWalletRepo) UpdateBalanceTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, newBalance int64) error {
	args := m.Called(ctx, tx, walletID, newBalance)
	return args.Error(0)
}

func (m *MockWalletRepo) GetWalletBalanceForUpdateTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (int64, error) {
	args := m.Called(ctx, tx, walletID)
	return args.Get(0).(int64), args.Error(1)
}

type MockTxManager struct {
	mock.Mock
}

func (m *MockTxManager) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(nil)
}

type MockPoolRepo struct {
	mock.Mock
}

func (m *MockPoolRepo) GetByCurrency(ctx context.Context, currency models.Currency) (*models.LiquidityPool, error) {
	args := m.Called(ctx, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LiquidityPool), args.Error(1)
}

func (m *MockPoolRepo) GetAll(ctx context.Context) ([]*models.LiquidityPool, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.LiquidityPool), args.Error(1)
}

func (m *MockPoolRepo) DebitTx(ctx context.Context, tx pgx.Tx, currency models.Currency, amount int64, reason, reference string) (int64, error) {
	args := m.Called(ctx, tx, currency, amount, reason, reference)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPoolRepo) CreditTx(ctx context.Context, tx pgx.Tx, currency models.Currency, amount int64, reason, reference string) (int64, error) {
	args := m.Called(ctx, tx, currency, amount, reason, reference)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPoolRepo) TouchRebalanceTx(ctx context.Context, tx pgx.Tx, currency models.Currency) error {
	args := m.Called(ctx, tx, currency)
	return args.Error(0)
}

func (m *MockPoolRepo) ListMovements(ctx context.Context, currency models.Currency, limit int) ([]*models.LiquidityMovement, error) {
	args := m.Called(ctx, currency, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.LiquidityMovement), args.Error(1)
}

type MockTransactionRepo struct {
	mock.Mock
}

func (m *MockTransactionRepo) InsertTx(ctx context.Context, tx pgx.Tx, t *models.Transaction, requestID string) error {
	args := m.Called(ctx, tx, t, requestID)
	return args.Error(0)
}

func (m *MockTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepo) GetByIDForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepo) GetByReferenceForUpdateTx(ctx context.Context, tx pgx.Tx, reference string) (*models.Transaction, error) {
	args := m.Called(ctx, tx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to models.TransactionStatus, failureReason *string) error {
	args := m.Called(ctx, tx, id, from, to, failureReason)
	return args.Error(0)
}

func (m *MockTransactionRepo) SetReferenceTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reference string) error {
	args := m.Called(ctx, tx, id, reference)
	return args.Error(0)
}

func (m *MockTransactionRepo) RequestExists(ctx context.Context, requestID string) (bool, error) {
	args := m.Called(ctx, requestID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionRepo) CountCompletedBetween(ctx context.Context, senderID, recipientID uuid.UUID) (int, error) {
	args := m.Called(ctx, senderID, recipientID)
	return args.Int(0), args.Error(1)
}

type MockEligibilityRepo struct {
	mock.Mock
}

func (m *MockEligibilityRepo) GetUsage(ctx context.Context, userID uuid.UUID, currency models.Currency, direction models.Direction) (*models.InstantUsage, error) {
	args := m.Called(ctx, userID, currency, direction)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InstantUsage), args.Error(1)
}

func (m *MockEligibilityRepo) GetUsageForUpdateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency models.Currency, direction models.Direction) (*models.InstantUsage, error) {
	args := m.Called(ctx, tx, userID, currency, direction)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InstantUsage), args.Error(1)
}

func (m *MockEligibilityRepo) AddUsageTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency models.Currency, direction models.Direction, dailyLimit, amount int64) error {
	args := m.Called(ctx, tx, userID, currency, direction, dailyLimit, amount)
	return args.Error(0)
}

type MockRetryRepo struct {
	mock.Mock
}

func (m *MockRetryRepo) InsertTx(ctx context.Context, tx pgx.Tx, r *models.RetryRecord) error {
	args := m.Called(ctx, tx, r)
	return args.Error(0)
}

func (m *MockRetryRepo) GetLatest(ctx context.Context, transactionID uuid.UUID) (*models.RetryRecord, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RetryRecord), args.Error(1)
}

func (m *MockRetryRepo) ListDue(ctx context.Context, limit int) ([]*models.RetryRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.RetryRecord), args.Error(1)
}

type MockRebalanceRepo struct {
	mock.Mock
}

func (m *MockRebalanceRepo) InsertTx(ctx context.Context, tx pgx.Tx, a *models.RebalanceAction) error {
	args := m.Called(ctx, tx, a)
	return args.Error(0)
}

func (m *MockRebalanceRepo) MarkTx(ctx context.Context, tx pgx.Tx, a *models.RebalanceAction, status models.RebalanceStatus) error {
	args := m.Called(ctx, tx, a, status)
	return args.Error(0)
}

func (m *MockRebalanceRepo) ListPending(ctx context.Context) ([]*models.RebalanceAction, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.RebalanceAction), args.Error(1)
}

type MockRateRepo struct {
	mock.Mock
}

func (m *MockRateRepo) GetAll(ctx context.Context) ([]postgres.ExchangeRate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]postgres.ExchangeRate), args.Error(1)
}

func (m *MockRateRepo) GetByCurrency(ctx context.Context, currency string) (*postgres.ExchangeRate, error) {
	args := m.Called(ctx, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*postgres.ExchangeRate), args.Error(1)
}

type MockQuoteStore struct {
	mock.Mock
}

func (m *MockQuoteStore) PutQuote(ctx context.Context, q *models.Quote) error {
	args := m.Called(ctx, q)
	return args.Error(0)
}

func (m *MockQuoteStore) GetQuote(ctx context.Context, id uuid.UUID) (*models.Quote, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Quote), args.Error(1)
}

func (m *MockQuoteStore) ConsumeQuote(ctx context.Context, id uuid.UUID) (*models.Quote, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Quote), args.Error(1)
}

func (m *MockQuoteStore) PutRateLock(ctx context.Context, l *models.RateLock, ttl time.Duration) error {
	args := m.Called(ctx, l, ttl)
	return args.Error(0)
}

func (m *MockQuoteStore) GetRateLock(ctx context.Context, id uuid.UUID) (*models.RateLock, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RateLock), args.Error(1)
}

func (m *MockQuoteStore) ConsumeRateLock(ctx context.Context, id uuid.UUID) (*models.RateLock, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RateLock), args.Error(1)
}

type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Name() string {
	return "mock"
}

func (m *MockAdapter) InitiateDeposit(ctx context.Context, req provider.DepositRequest) (*provider.DepositIntent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.DepositIntent), args.Error(1)
}

func (m *MockAdapter) InitiateWithdrawal(ctx context.Context, req provider.WithdrawalRequest) (*provider.WithdrawalIntent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.WithdrawalIntent), args.Error(1)
}

// MockPublisher собирает опубликованные события, чтобы тесты могли
// проверять факт и содержание уведомлений
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(event models.NotificationEvent) {
	m.Called(event)
}

type MockEligibilityEngine struct {
	mock.Mock
}

func (m *MockEligibilityEngine) CheckInstant(ctx context.Context, userID uuid.UUID, tier models.UserTier, currency models.Currency, direction models.Direction, amount float64) (*models.EligibilityResult, error) {
	args := m.Called(ctx, userID, tier, currency, direction, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EligibilityResult), args.Error(1)
}

type MockRetryExecutor struct {
	mock.Mock
}

func (m *MockRetryExecutor) RetryDeferred(ctx context.Context, txID uuid.UUID) error {
	args := m.Called(ctx, txID)
	return args.Error(0)
}

func (m *MockRetryExecutor) ScheduleRetry(ctx context.Context, txID uuid.UUID, reason string, trigger models.TriggerType) (*models.RetryRecord, error) {
	args := m.Called(ctx, txID, reason, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RetryRecord), args.Error(1)
}
