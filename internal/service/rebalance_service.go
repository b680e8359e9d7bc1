package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gw-settlement/internal/config"
	"gw-settlement/internal/custom_err"
	"gw-settlement/internal/metrics"
	"gw-settlement/internal/models"
	"gw-settlement/internal/storage/postgres"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type Rebalancer interface {
	PoolStatus(ctx context.Context, currency models.Currency) (*models.PoolStatusResponse, error)
	AllPoolStatuses(ctx context.Context) ([]*models.PoolStatusResponse, error)
	Recommend(ctx context.Context) (*models.RebalanceRecommendations, error)
	Execute(ctx context.Context, action models.RebalanceAction) (*models.RebalanceAction, error)
	ListMovements(ctx context.Context, currency models.Currency, limit int) ([]*models.LiquidityMovement, error)
}

// RebalanceService советник и исполнитель ребалансировки пулов.
// Рекомендации консультативны и не персистятся; аудит-строка появляется
// только при исполнении действия.
type RebalanceService struct {
	txManager     TxManager
	poolRepo      postgres.PoolRepository
	rebalanceRepo postgres.RebalanceRepository
	notifier      EventPublisher
	metrics       *metrics.Metrics
	policies      *config.Policies

	scanInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup

	// Дедупликация алертов: повторный алерт по паре валюта+уровень не
	// отправляется, пока уровень не изменится
	alertMu   sync.Mutex
	lastAlert map[models.Currency]models.PoolHealth

	log *slog.Logger
}

func NewRebalanceService(
	txManager TxManager,
	poolRepo postgres.PoolRepository,
	rebalanceRepo postgres.RebalanceRepository,
	notifier EventPublisher,
	m *metrics.Metrics,
	policies *config.Policies,
	scanInterval time.Duration,
	log *slog.Logger,
) *RebalanceService {
	return &RebalanceService{
		txManager:     txManager,
		poolRepo:      poolRepo,
		rebalanceRepo: rebalanceRepo,
		notifier:      notifier,
		metrics:       m,
		policies:      policies,
		scanInterval:  scanInterval,
		stopCh:        make(chan struct{}),
		lastAlert:     make(map[models.Currency]models.PoolHealth),
		log:           log,
	}
}

func (s *RebalanceService) PoolStatus(ctx context.Context, currency models.Currency) (*models.PoolStatusResponse, error) {
	if !currency.IsValid() {
		return nil, custom_err.ErrInvalidCurrency
	}
	pool, err := s.poolRepo.GetByCurrency(ctx, currency)
	if err != nil {
		return nil, err
	}
	return poolStatus(pool), nil
}

func (s *RebalanceService) AllPoolStatuses(ctx context.Context) ([]*models.PoolStatusResponse, error) {
	pools, err := s.poolRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]*models.PoolStatusResponse, 0, len(pools))
	for _, pool := range pools {
		statuses = append(statuses, poolStatus(pool))
	}
	return statuses, nil
}

func (s *RebalanceService) ListMovements(ctx context.Context, currency models.Currency, limit int) ([]*models.LiquidityMovement, error) {
	if !currency.IsValid() {
		return nil, custom_err.ErrInvalidCurrency
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.poolRepo.ListMovements(ctx, currency, limit)
}

// deficit дефицитный пул: сколько нужно довнести до целевого баланса
type deficit struct {
	currency models.Currency
	needUSD  decimal.Decimal
	health   models.PoolHealth
	pct      float64
}

// surplus профицитный пул: сколько можно снять до целевого баланса
type surplus struct {
	currency models.Currency
	haveUSD  decimal.Decimal
}

// Recommend строит план восстановления ликвидности: сначала внутренние
// переводы из профицитных пулов в дефицитные (дефициты закрываются в
// порядке приоритета critical > warning > normal), остатки дефицита
// становятся внешними пополнениями, остатки профицита внешними снятиями.
func (s *RebalanceService) Recommend(ctx context.Context) (*models.RebalanceRecommendations, error) {
	const op = "service.Recommend"

	pools, err := s.poolRepo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var deficits []deficit
	var surpluses []surplus

	for _, pool := range pools {
		rate := decimal.NewFromFloat(s.policies.StableRate(pool.Currency))
		switch {
		case pool.AvailableBalance < pool.MinThreshold:
			need := decimal.NewFromInt(pool.TargetBalance - pool.AvailableBalance).Mul(rate)
			deficits = append(deficits, deficit{
				currency: pool.Currency,
				needUSD:  need,
				health:   pool.Health(),
				pct:      pool.PercentOfTarget(),
			})
		case pool.AvailableBalance > pool.MaxThreshold:
			have := decimal.NewFromInt(pool.AvailableBalance - pool.TargetBalance).Mul(rate)
			surpluses = append(surpluses, surplus{
				currency: pool.Currency,
				haveUSD:  have,
			})
		}
	}

	// Критические дефициты закрываются первыми; внутри уровня более
	// просевшие раньше
	sort.Slice(deficits, func(i, j int) bool {
		if deficits[i].health != deficits[j].health {
			return healthRank(deficits[i].health) < healthRank(deficits[j].health)
		}
		return deficits[i].pct < deficits[j].pct
	})
	sort.Slice(surpluses, func(i, j int) bool {
		return surpluses[i].haveUSD.GreaterThan(surpluses[j].haveUSD)
	})

	rec := &models.RebalanceRecommendations{
		Transfers: []models.RebalanceAction{},
		External:  []models.RebalanceAction{},
	}

	// Жадное покрытие: min(дефицит, профицит) в USD-эквиваленте
	for i := range deficits {
		for j := range surpluses {
			if deficits[i].needUSD.IsZero() || surpluses[j].haveUSD.IsZero() {
				continue
			}
			moveUSD := decimal.Min(deficits[i].needUSD, surpluses[j].haveUSD)

			from := surpluses[j].currency
			to := deficits[i].currency
			rec.Transfers = append(rec.Transfers, models.RebalanceAction{
				ID:           uuid.New(),
				Action:       models.RebalanceTransfer,
				FromCurrency: &from,
				ToCurrency:   &to,
				Amount:       s.usdToMinor(moveUSD, to),
				Priority:     priorityFor(deficits[i].health),
				Status:       models.RebalancePending,
			})

			deficits[i].needUSD = deficits[i].needUSD.Sub(moveUSD)
			surpluses[j].haveUSD = surpluses[j].haveUSD.Sub(moveUSD)
		}
	}

	for i := range deficits {
		if deficits[i].needUSD.IsZero() {
			continue
		}
		to := deficits[i].currency
		rec.External = append(rec.External, models.RebalanceAction{
			ID:         uuid.New(),
			Action:     models.RebalanceAdd,
			ToCurrency: &to,
			Amount:     s.usdToMinor(deficits[i].needUSD, to),
			Priority:   priorityFor(deficits[i].health),
			Status:     models.RebalancePending,
		})
	}
	for j := range surpluses {
		if surpluses[j].haveUSD.IsZero() {
			continue
		}
		from := surpluses[j].currency
		rec.External = append(rec.External, models.RebalanceAction{
			ID:           uuid.New(),
			Action:       models.RebalanceRemove,
			FromCurrency: &from,
			Amount:       s.usdToMinor(surpluses[j].haveUSD, from),
			Priority:     models.PriorityNormal,
			Status:       models.RebalancePending,
		})
	}

	return rec, nil
}

// Execute исполняет действие ребалансировки одной транзакцией БД с
// аудит-строкой. Для перевода пулы блокируются в алфавитном порядке
// валют, чтобы конкурентные исполнения не взаимоблокировались.
func (s *RebalanceService) Execute(ctx context.Context, action models.RebalanceAction) (*models.RebalanceAction, error) {
	const op = "service.ExecuteRebalance"

	if err := s.validateAction(&action); err != nil {
		return nil, err
	}
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}

	err := s.txManager.WithTx(ctx, func(tx pgx.Tx) error {
		switch action.Action {
		case models.RebalanceTransfer:
			if err := s.executeTransferTx(ctx, tx, &action); err != nil {
				return err
			}
		case models.RebalanceAdd:
			balance, err := s.poolRepo.CreditTx(ctx, tx, *action.ToCurrency, action.Amount, "rebalance_add", action.ID.String())
			if err != nil {
				return err
			}
			s.metrics.PoolBalance.WithLabelValues(string(*action.ToCurrency)).Set(float64(balance))
			if err := s.poolRepo.TouchRebalanceTx(ctx, tx, *action.ToCurrency); err != nil {
				return err
			}
		case models.RebalanceRemove:
			balance, err := s.poolRepo.DebitTx(ctx, tx, *action.FromCurrency, action.Amount, "rebalance_remove", action.ID.String())
			if err != nil {
				return err
			}
			s.metrics.PoolBalance.WithLabelValues(string(*action.FromCurrency)).Set(float64(balance))
			if err := s.poolRepo.TouchRebalanceTx(ctx, tx, *action.FromCurrency); err != nil {
				return err
			}
		}

		action.Status = models.RebalancePending
		if err := s.rebalanceRepo.InsertTx(ctx, tx, &action); err != nil {
			return err
		}
		if err := s.rebalanceRepo.MarkTx(ctx, tx, &action, models.RebalanceExecuted); err != nil {
			return err
		}
		action.Status = models.RebalanceExecuted
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.RebalancesTotal.WithLabelValues(string(action.Action)).Inc()
	s.log.Info("действие ребалансировки исполнено",
		slog.String("action_id", action.ID.String()),
		slog.String("action", string(action.Action)),
		slog.Int64("amount", action.Amount))

	return &action, nil
}

func (s *RebalanceService) executeTransferTx(ctx context.Context, tx pgx.Tx, action *models.RebalanceAction) error {
	from := *action.FromCurrency
	to := *action.ToCurrency

	// Сумма действия задана в валюте получателя; источник списывается
	// в эквиваленте через стабильные курсы
	toRate := decimal.NewFromFloat(s.policies.StableRate(to))
	fromRate := decimal.NewFromFloat(s.policies.StableRate(from))
	if fromRate.IsZero() {
		return fmt.Errorf("%w: no stable rate for %s", custom_err.ErrInvalidCurrency, from)
	}
	fromAmount := decimal.NewFromInt(action.Amount).Mul(toRate).Div(fromRate).Round(0).IntPart()

	type step struct {
		currency models.Currency
		debit    bool
		amount   int64
	}
	steps := []step{
		{currency: from, debit: true, amount: fromAmount},
		{currency: to, debit: false, amount: action.Amount},
	}
	if steps[1].currency < steps[0].currency {
		steps[0], steps[1] = steps[1], steps[0]
	}

	for _, st := range steps {
		var balance int64
		var err error
		if st.debit {
			balance, err = s.poolRepo.DebitTx(ctx, tx, st.currency, st.amount, "rebalance_transfer", action.ID.String())
		} else {
			balance, err = s.poolRepo.CreditTx(ctx, tx, st.currency, st.amount, "rebalance_transfer", action.ID.String())
		}
		if err != nil {
			return err
		}
		s.metrics.PoolBalance.WithLabelValues(string(st.currency)).Set(float64(balance))
		if err := s.poolRepo.TouchRebalanceTx(ctx, tx, st.currency); err != nil {
			return err
		}
	}
	return nil
}

// Start запускает фоновое сканирование здоровья пулов
func (s *RebalanceService) Start() {
	s.wg.Add(1)
	go s.loop()
	s.log.Info("сканер здоровья пулов запущен", slog.Duration("interval", s.scanInterval))
}

func (s *RebalanceService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.log.Info("сканер здоровья пулов остановлен")
}

func (s *RebalanceService) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Scan(context.Background())
		}
	}
}

// Scan один проход сканера: обновляет датчики балансов и отправляет
// алерты по пулам в critical/warning
func (s *RebalanceService) Scan(ctx context.Context) {
	pools, err := s.poolRepo.GetAll(ctx)
	if err != nil {
		s.log.Error("не удалось загрузить пулы для сканирования", slog.String("error", err.Error()))
		return
	}

	for _, pool := range pools {
		s.metrics.PoolBalance.WithLabelValues(string(pool.Currency)).Set(float64(pool.AvailableBalance))

		health := pool.Health()
		if health != models.PoolHealthCritical && health != models.PoolHealthWarning {
			s.clearAlert(pool.Currency)
			continue
		}
		if !s.shouldAlert(pool.Currency, health) {
			continue
		}

		s.notifier.Publish(models.NotificationEvent{
			Kind:       models.NotificationPoolAlert,
			Currency:   string(pool.Currency),
			Amount:     models.AmountFromMinorUnits(pool.AvailableBalance),
			PoolHealth: string(health),
			Message:    fmt.Sprintf("pool %s at %.1f%% of target", pool.Currency, pool.PercentOfTarget()*100),
			Timestamp:  time.Now().UTC(),
		})
		s.log.Warn("алерт по пулу ликвидности",
			slog.String("currency", string(pool.Currency)),
			slog.String("health", string(health)),
			slog.Int64("available", pool.AvailableBalance))
	}
}

func (s *RebalanceService) shouldAlert(currency models.Currency, health models.PoolHealth) bool {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	if s.lastAlert[currency] == health {
		return false
	}
	s.lastAlert[currency] = health
	return true
}

func (s *RebalanceService) clearAlert(currency models.Currency) {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	delete(s.lastAlert, currency)
}

func (s *RebalanceService) validateAction(action *models.RebalanceAction) error {
	if action.Amount <= 0 {
		return custom_err.ErrInvalidAmount
	}
	switch action.Action {
	case models.RebalanceTransfer:
		if action.FromCurrency == nil || action.ToCurrency == nil {
			return fmt.Errorf("%w: transfer requires both currencies", custom_err.ErrInvalidInput)
		}
		if *action.FromCurrency == *action.ToCurrency {
			return fmt.Errorf("%w: transfer within one pool", custom_err.ErrInvalidInput)
		}
	case models.RebalanceAdd:
		if action.ToCurrency == nil {
			return fmt.Errorf("%w: add requires target currency", custom_err.ErrInvalidInput)
		}
	case models.RebalanceRemove:
		if action.FromCurrency == nil {
			return fmt.Errorf("%w: remove requires source currency", custom_err.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", custom_err.ErrInvalidInput, action.Action)
	}
	return nil
}

func (s *RebalanceService) usdToMinor(usd decimal.Decimal, currency models.Currency) int64 {
	rate := decimal.NewFromFloat(s.policies.StableRate(currency))
	if rate.IsZero() {
		return 0
	}
	return usd.Div(rate).Round(0).IntPart()
}

func healthRank(h models.PoolHealth) int {
	switch h {
	case models.PoolHealthCritical:
		return 0
	case models.PoolHealthWarning:
		return 1
	default:
		return 2
	}
}

func priorityFor(h models.PoolHealth) models.RebalancePriority {
	switch h {
	case models.PoolHealthCritical:
		return models.PriorityCritical
	case models.PoolHealthWarning:
		return models.PriorityWarning
	default:
		return models.PriorityNormal
	}
}

func poolStatus(pool *models.LiquidityPool) *models.PoolStatusResponse {
	return &models.PoolStatusResponse{
		Currency:         pool.Currency,
		AvailableBalance: models.AmountFromMinorUnits(pool.AvailableBalance),
		TargetBalance:    models.AmountFromMinorUnits(pool.TargetBalance),
		PercentOfTarget:  pool.PercentOfTarget(),
		Health:           pool.Health(),
		NeedsRebalance:   pool.NeedsRebalance(),
		LastRebalanceAt:  pool.LastRebalanceAt,
	}
}
