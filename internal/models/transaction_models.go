package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionStatus статус транзакции в машине состояний
type TransactionStatus string

const (
	StatusInitiated      TransactionStatus = "initiated"
	StatusProcessing     TransactionStatus = "processing"
	StatusCompleted      TransactionStatus = "completed"
	StatusFailed         TransactionStatus = "failed"
	StatusRetryScheduled TransactionStatus = "retry_scheduled"
	StatusCancelled      TransactionStatus = "cancelled"
)

// allowedTransitions таблица переходов. Недопустимые переходы отклоняются,
// никогда не приводятся к допустимым.
var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	StatusInitiated:      {StatusProcessing, StatusCancelled},
	StatusProcessing:     {StatusCompleted, StatusFailed, StatusCancelled},
	StatusFailed:         {StatusRetryScheduled},
	StatusRetryScheduled: {StatusProcessing},
	StatusCompleted:      {},
	StatusCancelled:      {},
}

// CanTransitionTo проверяет допустимость перехода
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal сообщает, является ли статус конечным
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// TransactionType тип расчета
type TransactionType string

const (
	TypeInstantDeposit     TransactionType = "instant_deposit"
	TypeInstantWithdrawal  TransactionType = "instant_withdrawal"
	TypeDeferredDeposit    TransactionType = "deferred_deposit"
	TypeDeferredWithdrawal TransactionType = "deferred_withdrawal"
)

// Direction направление относительно пользователя
func (t TransactionType) Direction() Direction {
	if t == TypeInstantDeposit || t == TypeDeferredDeposit {
		return DirectionDeposit
	}
	return DirectionWithdrawal
}

// Transaction транзакция расчета. После терминального статуса неизменяема.
type Transaction struct {
	ID                uuid.UUID         `json:"id" db:"id"`
	SenderID          *uuid.UUID        `json:"sender_id,omitempty" db:"sender_id"`
	RecipientID       *uuid.UUID        `json:"recipient_id,omitempty" db:"recipient_id"`
	Amount            int64             `json:"amount" db:"amount"`
	SourceCurrency    Currency          `json:"source_currency" db:"source_currency"`
	TargetCurrency    Currency          `json:"target_currency" db:"target_currency"`
	ExchangeRate      float64           `json:"exchange_rate" db:"exchange_rate"`
	Fee               int64             `json:"fee" db:"fee"`
	ConvertedAmount   int64             `json:"converted_amount" db:"converted_amount"`
	Status            TransactionStatus `json:"status" db:"status"`
	TransactionType   TransactionType   `json:"transaction_type" db:"transaction_type"`
	ExternalReference *string           `json:"external_reference,omitempty" db:"external_reference"`
	BankDetails       map[string]string `json:"bank_details,omitempty" db:"bank_details"`
	FailureReason     *string           `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

// SettlementRequest запрос на расчет (мгновенный или отложенный)
type SettlementRequest struct {
	Amount     float64    `json:"amount"`
	Currency   Currency   `json:"currency"`
	RateLockID *uuid.UUID `json:"rate_lock_id,omitempty"`
	RequestID  string     `json:"requestID"`
}

// DeferredSettlementRequest запрос на отложенный расчет через внешний рельс
type DeferredSettlementRequest struct {
	Amount      float64            `json:"amount"`
	Currency    Currency           `json:"currency"`
	RateLockID  *uuid.UUID         `json:"rate_lock_id,omitempty"`
	RequestID   string             `json:"requestID"`
	BankDetails map[string]string  `json:"bank_details,omitempty"`
}

// SettlementResult ответ на запрос расчета. Пользователю всегда отдается
// стабильная ссылка на транзакцию и человекочитаемая причина, без
// внутренних деталей провайдера.
type SettlementResult struct {
	TransactionID   uuid.UUID         `json:"transaction_id"`
	Status          TransactionStatus `json:"status"`
	Message         string            `json:"message"`
	ConvertedAmount float64           `json:"converted_amount,omitempty"`
	Fee             float64           `json:"fee,omitempty"`
	RedirectURL     string            `json:"redirect_url,omitempty"`
}

// ProviderWebhook входящее уведомление внешнего провайдера
type ProviderWebhook struct {
	Reference string   `json:"reference"`
	Status    string   `json:"status"`
	Amount    float64  `json:"amount"`
	Currency  Currency `json:"currency"`
}
