package provider

import (
	"context"

	"gw-settlement/internal/models"
)

// DepositRequest запрос на инициацию депозита через внешний рельс
type DepositRequest struct {
	Amount   float64
	Currency models.Currency
	Metadata map[string]string
}

// DepositIntent результат инициации депозита
type DepositIntent struct {
	Reference   string
	RedirectURL string
}

// WithdrawalRequest запрос на выплату через внешний рельс
type WithdrawalRequest struct {
	Amount      float64
	Currency    models.Currency
	BankDetails map[string]string
}

// WithdrawalIntent результат инициации выплаты
type WithdrawalIntent struct {
	Reference string
	Status    string
}

// Adapter единственная абстракция внешнего платежного провайдера.
// Оркестратор зависит только от нее. Вызовы НИКОГДА не выполняются под
// блокировками БД; таймаут несет переданный контекст.
type Adapter interface {
	Name() string
	InitiateDeposit(ctx context.Context, req DepositRequest) (*DepositIntent, error)
	InitiateWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalIntent, error)
}
