package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind тип уведомления
type NotificationKind string

const (
	NotificationSettlementCompleted NotificationKind = "settlement_completed"
	NotificationSettlementFailed    NotificationKind = "settlement_failed"
	NotificationPoolAlert           NotificationKind = "pool_alert"
)

// NotificationEvent событие для kafka. Доставка fire-and-forget: сбой
// доставки никогда не влияет на исход расчета.
type NotificationEvent struct {
	Kind          NotificationKind `json:"kind"`
	TransactionID string           `json:"transaction_id,omitempty"` // Ссылка на транзакцию
	UserID        uuid.UUID        `json:"user_id,omitempty"`        // ID пользователя
	Currency      string           `json:"currency,omitempty"`       // Валюта операции/пула
	Amount        float64          `json:"amount,omitempty"`         // Сумма операции
	PoolHealth    string           `json:"pool_health,omitempty"`    // Уровень алерта пула
	Message       string           `json:"message,omitempty"`        // Человекочитаемое описание
	Timestamp     time.Time        `json:"timestamp"`                // Время события
}

// Key ключ партиционирования kafka-сообщения
func (e NotificationEvent) Key() string {
	if e.TransactionID != "" {
		return e.TransactionID
	}
	return e.Currency
}
