package models

import (
	"time"

	"github.com/google/uuid"
)

// TriggerType источник запроса на повтор
type TriggerType string

const (
	TriggerAuto   TriggerType = "auto"
	TriggerManual TriggerType = "manual"
)

// RetryRecord запись планировщика повторов для отложенной транзакции
type RetryRecord struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	TransactionID uuid.UUID   `json:"transaction_id" db:"transaction_id"`
	Reason        string      `json:"reason" db:"reason"`
	AttemptCount  int         `json:"attempt_count" db:"attempt_count"`
	MaxAttempts   int         `json:"max_attempts" db:"max_attempts"`
	NextAttemptAt time.Time   `json:"next_attempt_at" db:"next_attempt_at"`
	TriggerType   TriggerType `json:"trigger_type" db:"trigger_type"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}
