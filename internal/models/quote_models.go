package models

import (
	"time"

	"github.com/google/uuid"
)

// QuoteTTL время жизни котировки в кэше
const QuoteTTL = 900 * time.Second

// Границы срока действия фиксации курса
const (
	RateLockMinDuration = 15 * time.Second
	RateLockMaxDuration = 300 * time.Second
)

// Quote индикативная котировка для валютной пары. Живет только в кэше,
// неизменяема после создания, исчезает по TTL или при потреблении.
type Quote struct {
	ID              uuid.UUID `json:"id"`
	FromCurrency    Currency  `json:"from_currency"`
	ToCurrency      Currency  `json:"to_currency"`
	Amount          float64   `json:"amount"`
	Rate            float64   `json:"rate"`
	FeePercentage   float64   `json:"fee_percentage"`
	FeeAmount       float64   `json:"fee_amount"`
	ConvertedAmount float64   `json:"converted_amount"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Expired сообщает, истекла ли котировка
func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// RateLock временное обязательство исполнить по зафиксированному курсу.
// Собственный TTL, независимый от исходной котировки.
type RateLock struct {
	ID              uuid.UUID `json:"id"`
	QuoteID         uuid.UUID `json:"quote_id"`
	FromCurrency    Currency  `json:"from_currency"`
	ToCurrency      Currency  `json:"to_currency"`
	Amount          float64   `json:"amount"`
	LockedRate      float64   `json:"locked_rate"`
	LockedFeeAmount float64   `json:"locked_fee_amount"`
	DurationSeconds int       `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// PairClass классификация валютной пары для тарификации
type PairClass string

const (
	PairClassStable PairClass = "stable"
	PairClassMajor  PairClass = "major"
	PairClassExotic PairClass = "exotic"
)

// PaymentMethod способ оплаты, влияющий на персональную комиссию
type PaymentMethod string

const (
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodMobileMoney  PaymentMethod = "mobile_money"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodBankTransfer, PaymentMethodCard, PaymentMethodMobileMoney:
		return true
	}
	return false
}

// QuoteRequest запрос на котировку
type QuoteRequest struct {
	FromCurrency Currency `json:"from_currency"`
	ToCurrency   Currency `json:"to_currency"`
	Amount       float64  `json:"amount"`
}

// PersonalizedQuoteRequest запрос на персональную котировку
type PersonalizedQuoteRequest struct {
	FromCurrency  Currency      `json:"from_currency"`
	ToCurrency    Currency      `json:"to_currency"`
	Amount        float64       `json:"amount"`
	RecipientID   uuid.UUID     `json:"recipient_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
}

// RateLockRequest запрос на фиксацию курса
type RateLockRequest struct {
	QuoteID         uuid.UUID `json:"quote_id"`
	DurationSeconds int       `json:"duration_seconds"`
}
