package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// SimulatedAdapter локальный провайдер для стендов без внешнего рельса.
// Возвращает ссылки сразу; завершение имитируется вебхуком снаружи
// (скриптом или тестом), как и у реального провайдера. Внутрипроцессных
// отложенных колбэков здесь нет намеренно.
type SimulatedAdapter struct {
	log *slog.Logger
}

func NewSimulatedAdapter(log *slog.Logger) *SimulatedAdapter {
	return &SimulatedAdapter{log: log}
}

func (a *SimulatedAdapter) Name() string {
	return "simulated"
}

func (a *SimulatedAdapter) InitiateDeposit(ctx context.Context, req DepositRequest) (*DepositIntent, error) {
	ref := "sim-dep-" + uuid.New().String()

	a.log.Info("симуляция инициации депозита",
		slog.String("reference", ref),
		slog.String("currency", string(req.Currency)),
		slog.Float64("amount", req.Amount))

	return &DepositIntent{
		Reference:   ref,
		RedirectURL: fmt.Sprintf("https://sandbox.local/pay/%s", ref),
	}, nil
}

func (a *SimulatedAdapter) InitiateWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalIntent, error) {
	ref := "sim-wdr-" + uuid.New().String()

	a.log.Info("симуляция инициации выплаты",
		slog.String("reference", ref),
		slog.String("currency", string(req.Currency)),
		slog.Float64("amount", req.Amount))

	return &WithdrawalIntent{
		Reference: ref,
		Status:    "pending",
	}, nil
}
