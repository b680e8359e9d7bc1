package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet представляет расчетный кошелек пользователя в определенной валюте
type Wallet struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Currency  string    `json:"currency" db:"currency"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Currency типы
type Currency string

const (
	CurrencyNGN Currency = "NGN"
	CurrencyKES Currency = "KES"
	CurrencyGHS Currency = "GHS"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"

	// CurrencySettlement внутренняя расчетная единица (симулированный
	// стейбл-баланс). Кошельки пользователей ведутся в ней.
	CurrencySettlement Currency = "USDX"
)

// IsValid проверяет, поддерживается ли валюта коридора
func (c Currency) IsValid() bool {
	switch c {
	case CurrencyNGN, CurrencyKES, CurrencyGHS, CurrencyUSD, CurrencyEUR:
		return true
	}
	return false
}

// SupportedCurrencies возвращает список поддерживаемых валют коридоров
func SupportedCurrencies() []Currency {
	return []Currency{CurrencyNGN, CurrencyKES, CurrencyGHS, CurrencyUSD, CurrencyEUR}
}

// Direction направление операции относительно пользователя
type Direction string

const (
	DirectionDeposit    Direction = "deposit"
	DirectionWithdrawal Direction = "withdrawal"
)

func (d Direction) IsValid() bool {
	return d == DirectionDeposit || d == DirectionWithdrawal
}

// UserBalanceResponse ответ с балансом расчетного кошелька пользователя
type UserBalanceResponse struct {
	Currency string  `json:"currency"`
	Balance  float64 `json:"balance"`
}

// AmountToMinorUnits конвертирует сумму в основных единицах в минимальные единицы
func AmountToMinorUnits(amount float64) int64 {
	return int64(amount*100 + 0.5)
}

// AmountFromMinorUnits конвертирует минимальные единицы в основные
func AmountFromMinorUnits(amount int64) float64 {
	return float64(amount) / 100.0
}
