package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gw-settlement/internal/models"
	"gw-settlement/internal/storage/postgres"

	"github.com/google/uuid"
)

const retrySweepBatchSize = 50

// RetryExecutor повторный прогон отложенной транзакции через провайдера
type RetryExecutor interface {
	RetryDeferred(ctx context.Context, txID uuid.UUID) error
	ScheduleRetry(ctx context.Context, txID uuid.UUID, reason string, trigger models.TriggerType) (*models.RetryRecord, error)
}

// RetryService фоновый планировщик повторов. Каждый тик выбирает записи
// с наступившим next_attempt_at, чьи транзакции еще в retry_scheduled,
// и передает их оркестратору. Конкурентные прогоны безопасны: переход
// retry_scheduled -> processing защищен предусловием.
type RetryService struct {
	retryRepo postgres.RetryRepository
	executor  RetryExecutor

	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	log *slog.Logger
}

func NewRetryService(retryRepo postgres.RetryRepository, executor RetryExecutor, interval time.Duration, log *slog.Logger) *RetryService {
	return &RetryService{
		retryRepo: retryRepo,
		executor:  executor,
		interval:  interval,
		stopCh:    make(chan struct{}),
		log:       log,
	}
}

// Start запускает цикл планировщика
func (s *RetryService) Start() {
	s.wg.Add(1)
	go s.loop()
	s.log.Info("планировщик повторов запущен", slog.Duration("interval", s.interval))
}

// Stop останавливает цикл и дожидается завершения текущего прохода
func (s *RetryService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.log.Info("планировщик повторов остановлен")
}

func (s *RetryService) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep один проход планировщика. Ошибки отдельных транзакций не
// прерывают проход.
func (s *RetryService) Sweep(ctx context.Context) {
	records, err := s.retryRepo.ListDue(ctx, retrySweepBatchSize)
	if err != nil {
		s.log.Error("не удалось выбрать записи повторов", slog.String("error", err.Error()))
		return
	}
	if len(records) == 0 {
		return
	}

	s.log.Info("найдены транзакции для повтора", slog.Int("count", len(records)))

	for _, rec := range records {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if err := s.executor.RetryDeferred(ctx, rec.TransactionID); err != nil {
			s.log.Error("повтор транзакции не удался",
				slog.String("transaction_id", rec.TransactionID.String()),
				slog.Int("attempt", rec.AttemptCount),
				slog.String("error", err.Error()))
		}
	}
}

// TriggerManual ручной повтор по запросу оператора: счетчик попыток
// сбрасывается, следующая попытка ставится немедленно.
func (s *RetryService) TriggerManual(ctx context.Context, txID uuid.UUID, reason string) (*models.RetryRecord, error) {
	return s.executor.ScheduleRetry(ctx, txID, reason, models.TriggerManual)
}
