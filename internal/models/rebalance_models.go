package models

import (
	"time"

	"github.com/google/uuid"
)

// RebalanceActionType тип действия ребалансировки
type RebalanceActionType string

const (
	RebalanceAdd      RebalanceActionType = "add"
	RebalanceRemove   RebalanceActionType = "remove"
	RebalanceTransfer RebalanceActionType = "transfer"
)

// RebalancePriority приоритет действия: critical > warning > normal
type RebalancePriority string

const (
	PriorityCritical RebalancePriority = "critical"
	PriorityWarning  RebalancePriority = "warning"
	PriorityNormal   RebalancePriority = "normal"
)

// RebalanceStatus статус действия в очереди
type RebalanceStatus string

const (
	RebalancePending  RebalanceStatus = "pending"
	RebalanceExecuted RebalanceStatus = "executed"
	RebalanceFailed   RebalanceStatus = "failed"
)

// RebalanceAction рекомендация/действие по восстановлению ликвидности.
// Для transfer заполнены обе валюты, для add/remove только ToCurrency
// либо FromCurrency соответственно.
type RebalanceAction struct {
	ID           uuid.UUID           `json:"id" db:"id"`
	Action       RebalanceActionType `json:"action" db:"action"`
	FromCurrency *Currency           `json:"from_currency,omitempty" db:"from_currency"`
	ToCurrency   *Currency           `json:"to_currency,omitempty" db:"to_currency"`
	Amount       int64               `json:"amount" db:"amount"`
	Priority     RebalancePriority   `json:"priority" db:"priority"`
	Status       RebalanceStatus     `json:"status" db:"status"`
	CreatedAt    time.Time           `json:"created_at" db:"created_at"`
	ExecutedAt   *time.Time          `json:"executed_at,omitempty" db:"executed_at"`
}

// RebalanceRecommendations ответ советника ребалансировки
type RebalanceRecommendations struct {
	Transfers []RebalanceAction `json:"transfers"`
	External  []RebalanceAction `json:"external"`
}
