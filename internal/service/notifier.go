package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gw-settlement/internal/kafka"
	"gw-settlement/internal/models"
)

// Notifier асинхронно доставляет уведомления в kafka через пул воркеров.
// Доставка fire-and-forget: переполненная очередь или сбой kafka никогда
// не влияют на исход расчета.
type Notifier struct {
	producer kafka.Producer
	log      *slog.Logger

	eventQueue chan models.NotificationEvent
	wg         sync.WaitGroup
	stopCh     chan struct{}
}

func NewNotifier(producer kafka.Producer, workers, queueSize int, log *slog.Logger) *Notifier {
	n := &Notifier{
		producer:   producer,
		log:        log,
		eventQueue: make(chan models.NotificationEvent, queueSize),
		stopCh:     make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker(i)
	}

	return n
}

// Publish ставит событие в очередь без блокировки
func (n *Notifier) Publish(event models.NotificationEvent) {
	select {
	case n.eventQueue <- event:
		n.log.Debug("событие добавлено в очередь уведомлений",
			slog.String("kind", string(event.Kind)),
			slog.String("key", event.Key()))
	default:
		n.log.Error("очередь уведомлений переполнена, событие отброшено",
			slog.String("kind", string(event.Kind)),
			slog.String("key", event.Key()))
	}
}

func (n *Notifier) worker(id int) {
	defer n.wg.Done()
	n.log.Info("notifier worker started", slog.Int("worker_id", id))

	for {
		select {
		case event := <-n.eventQueue:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := n.producer.SendNotificationEvent(ctx, event); err != nil {
				n.log.Error("kafka send failed",
					slog.Int("worker_id", id),
					slog.String("kind", string(event.Kind)),
					slog.String("error", err.Error()))
			}
			cancel()

		case <-n.stopCh:
			n.log.Info("notifier worker stopping", slog.Int("worker_id", id))
			return
		}
	}
}

func (n *Notifier) Shutdown(ctx context.Context) error {
	n.log.Info("shutting down notifier")

	close(n.stopCh)

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.log.Info("all notifier workers stopped")
		return nil
	case <-ctx.Done():
		n.log.Warn("notifier shutdown timeout exceeded")
		return ctx.Err()
	}
}
