package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gw-settlement/internal/config"
	"gw-settlement/internal/custom_err"
	"gw-settlement/internal/metrics"
	"gw-settlement/internal/models"
)

type rebalanceFixture struct {
	service       *RebalanceService
	txManager     *MockTxManager
	poolRepo      *MockPoolRepo
	rebalanceRepo *MockRebalanceRepo
	notifier      *MockPublisher
}

func setupRebalanceService() *rebalanceFixture {
	f := &rebalanceFixture{
		txManager:     new(MockTxManager),
		poolRepo:      new(MockPoolRepo),
		rebalanceRepo: new(MockRebalanceRepo),
		notifier:      new(MockPublisher),
	}
	f.notifier.On("Publish", mock.Anything).Return()

	f.service = NewRebalanceService(
		f.txManager,
		f.poolRepo,
		f.rebalanceRepo,
		f.notifier,
		metrics.New(prometheus.NewRegistry()),
		config.DefaultPolicies(),
		time.Minute,
		testLogger(),
	)
	return f
}

func pool(currency models.Currency, available, target, min, max int64) *models.LiquidityPool {
	return &models.LiquidityPool{
		Currency:         currency,
		AvailableBalance: available,
		TargetBalance:    target,
		MinThreshold:     min,
		MaxThreshold:     max,
	}
}

func TestRebalanceService_Recommend_TransferFromSurplusToDeficit(t *testing.T) {
	f := setupRebalanceService()
	ctx := context.Background()

	// USD просел ниже min_threshold, EUR переполнен выше max_threshold
	f.poolRepo.On("GetAll", ctx).Return([]*models.LiquidityPool{
		pool(models.CurrencyUSD, 1000000, 5000000, 1500000, 4500000),
		pool(models.CurrencyEUR, 6000000, 5000000, 1500000, 4500000),
	}, nil)

	rec, err := f.service.Recommend(ctx)

	require.NoError(t, err)
	require.Len(t, rec.Transfers, 1)
	transfer := rec.Transfers[0]
	assert.Equal(t, models.RebalanceTransfer, transfer.Action)
	assert.Equal(t, models.CurrencyEUR, *transfer.FromCurrency)
	assert.Equal(t, models.CurrencyUSD, *transfer.ToCurrency)
	// Дефицит USD: 40000 USD; профицит EUR: 10000 EUR * 1.08 = 10800 USD.
	// Перевод закрывает min(40000, 10800) в валюте получателя.
	assert.Equal(t, int64(1080000), transfer.Amount)

	// Непокрытый дефицит уходит во внешнее пополнение
	require.Len(t, rec.External, 1)
	assert.Equal(t, models.RebalanceAdd, rec.External[0].Action)
	assert.Equal(t, models.CurrencyUSD, *rec.External[0].ToCurrency)
	assert.Equal(t, int64(2920000), rec.External[0].Amount)
}

func TestRebalanceService_Recommend_CriticalServedFirst(t *testing.T) {
	f := setupRebalanceService()
	ctx := context.Background()

	// KES на 5% от цели (critical), NGN на 25% (ниже min, но не critical),
	// EUR с небольшим профицитом, которого хватает не на всех
	f.poolRepo.On("GetAll", ctx).Return([]*models.LiquidityPool{
		pool(models.CurrencyNGN, 125000000, 500000000, 150000000, 450000000),
		pool(models.CurrencyKES, 2500000, 50000000, 15000000, 45000000),
		pool(models.CurrencyEUR, 4700000, 4000000, 1500000, 4500000),
	}, nil)

	rec, err := f.service.Recommend(ctx)

	require.NoError(t, err)
	require.NotEmpty(t, rec.Transfers)
	// Первый перевод закрывает критический пул
	assert.Equal(t, models.CurrencyKES, *rec.Transfers[0].ToCurrency)
	assert.Equal(t, models.PriorityCritical, rec.Transfers[0].Priority)
}

func TestRebalanceService_Recommend_HealthyPoolsUntouched(t *testing.T) {
	f := setupRebalanceService()
	ctx := context.Background()

	f.poolRepo.On("GetAll", ctx).Return([]*models.LiquidityPool{
		pool(models.CurrencyUSD, 5000000, 5000000, 1500000, 4500000),
		pool(models.CurrencyEUR, 4000000, 5000000, 1500000, 4500000),
	}, nil)

	rec, err := f.service.Recommend(ctx)

	require.NoError(t, err)
	assert.Empty(t, rec.Transfers)
	assert.Empty(t, rec.External)
}

func TestRebalanceService_Execute_Transfer(t *testing.T) {
	f := setupRebalanceService()
	ctx := context.Background()

	from := models.CurrencyEUR
	to := models.CurrencyUSD
	action := models.RebalanceAction{
		Action:       models.RebalanceTransfer,
		FromCurrency: &from,
		ToCurrency:   &to,
		Amount:       108000, // 1080 USD
		Priority:     models.PriorityWarning,
	}

	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	// 1080 USD / 1.08 = 1000 EUR списывается с источника
	f.poolRepo.On("DebitTx", ctx, mock.Anything, models.CurrencyEUR, int64(100000), "rebalance_transfer", mock.Anything).
		Return(int64(5900000), nil)
	f.poolRepo.On("CreditTx", ctx, mock.Anything, models.CurrencyUSD, int64(108000), "rebalance_transfer", mock.Anything).
		Return(int64(1108000), nil)
	f.poolRepo.On("TouchRebalanceTx", ctx, mock.Anything, models.CurrencyEUR).Return(nil)
	f.poolRepo.On("TouchRebalanceTx", ctx, mock.Anything, models.CurrencyUSD).Return(nil)
	f.rebalanceRepo.On("InsertTx", ctx, mock.Anything, mock.Anything).Return(nil)
	f.rebalanceRepo.On("MarkTx", ctx, mock.Anything, mock.Anything, models.RebalanceExecuted).Return(nil)

	executed, err := f.service.Execute(ctx, action)

	require.NoError(t, err)
	assert.Equal(t, models.RebalanceExecuted, executed.Status)
	f.poolRepo.AssertExpectations(t)
	f.rebalanceRepo.AssertExpectations(t)
}

func TestRebalanceService_Execute_RemoveInsufficientLiquidity(t *testing.T) {
	f := setupRebalanceService()
	ctx := context.Background()

	from := models.CurrencyUSD
	action := models.RebalanceAction{
		Action:       models.RebalanceRemove,
		FromCurrency: &from,
		Amount:       10000000,
		Priority:     models.PriorityNormal,
	}

	f.txManager.On("WithTx", ctx, mock.Anything).Return(nil)
	f.poolRepo.On("DebitTx", ctx, mock.Anything, models.CurrencyUSD, int64(10000000), "rebalance_remove", mock.Anything).
		Return(int64(0), custom_err.ErrInsufficientLiquidity)

	executed, err := f.service.Execute(ctx, action)

	assert.Nil(t, executed)
	assert.ErrorIs(t, err, custom_err.ErrInsufficientLiquidity)
	f.rebalanceRepo.AssertNotCalled(t, "InsertTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestRebalanceService_Execute_ValidatesAction(t *testing.T) {
	f := setupRebalanceService()
	ctx := context.Background()
	usd := models.CurrencyUSD

	cases := []struct {
		name   string
		action models.RebalanceAction
	}{
		{"zero amount", models.RebalanceAction{Action: models.RebalanceAdd, ToCurrency: &usd}},
		{"transfer missing currencies", models.RebalanceAction{Action: models.RebalanceTransfer, Amount: 100}},
		{"transfer within one pool", models.RebalanceAction{Action: models.RebalanceTransfer, FromCurrency: &usd, ToCurrency: &usd, Amount: 100}},
		{"add without target", models.RebalanceAction{Action: models.RebalanceAdd, Amount: 100}},
		{"remove without source", models.RebalanceAction{Action: models.RebalanceRemove, Amount: 100}},
		{"unknown action", models.RebalanceAction{Action: "shuffle", Amount: 100}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.Execute(ctx, tc.action)
			assert.Error(t, err)
		})
	}
}

func TestRebalanceService_Scan_AlertsOnceUntilHealthChanges(t *testing.T) {
	f := setupRebalanceService()
	ctx := context.Background()

	// KES на 5% от цели, critical
	f.poolRepo.On("GetAll", ctx).Return([]*models.LiquidityPool{
		pool(models.CurrencyKES, 2500000, 50000000, 15000000, 45000000),
	}, nil)

	f.service.Scan(ctx)
	f.service.Scan(ctx)

	// Повторный проход с тем же уровнем не дублирует алерт
	f.notifier.AssertNumberOfCalls(t, "Publish", 1)
}

func TestRebalanceService_PoolStatus(t *testing.T) {
	f := setupRebalanceService()
	ctx := context.Background()

	f.poolRepo.On("GetByCurrency", ctx, models.CurrencyNGN).Return(
		pool(models.CurrencyNGN, 100000000, 500000000, 150000000, 450000000), nil)

	status, err := f.service.PoolStatus(ctx, models.CurrencyNGN)

	require.NoError(t, err)
	assert.Equal(t, models.CurrencyNGN, status.Currency)
	assert.InDelta(t, 0.20, status.PercentOfTarget, 1e-9)
	assert.Equal(t, models.PoolHealthHealthy, status.Health)
	assert.True(t, status.NeedsRebalance)

	_, err = f.service.PoolStatus(ctx, "XXX")
	assert.ErrorIs(t, err, custom_err.ErrInvalidCurrency)
}
