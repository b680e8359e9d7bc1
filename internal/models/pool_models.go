package models

import (
	"time"

	"github.com/google/uuid"
)

// LiquidityPool предзафондированный резерв ликвидности по валюте.
// Балансы в минимальных единицах. available_balance >= 0 всегда.
type LiquidityPool struct {
	Currency        Currency   `json:"currency" db:"currency"`
	AvailableBalance int64     `json:"available_balance" db:"available_balance"`
	TargetBalance   int64      `json:"target_balance" db:"target_balance"`
	MinThreshold    int64      `json:"min_threshold" db:"min_threshold"`
	MaxThreshold    int64      `json:"max_threshold" db:"max_threshold"`
	LastRebalanceAt *time.Time `json:"last_rebalance_at,omitempty" db:"last_rebalance_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// PercentOfTarget доля доступного баланса от целевого
func (p *LiquidityPool) PercentOfTarget() float64 {
	if p.TargetBalance <= 0 {
		return 0
	}
	return float64(p.AvailableBalance) / float64(p.TargetBalance)
}

// PoolHealth статус здоровья пула
type PoolHealth string

const (
	PoolHealthCritical PoolHealth = "critical"
	PoolHealthWarning  PoolHealth = "warning"
	PoolHealthHealthy  PoolHealth = "healthy"
	PoolHealthExcess   PoolHealth = "excess"
)

// Health классифицирует здоровье пула по доле от целевого баланса:
// <10% critical, <20% warning, >150% excess, иначе healthy.
func (p *LiquidityPool) Health() PoolHealth {
	pct := p.PercentOfTarget()
	switch {
	case pct < 0.10:
		return PoolHealthCritical
	case pct < 0.20:
		return PoolHealthWarning
	case pct > 1.50:
		return PoolHealthExcess
	default:
		return PoolHealthHealthy
	}
}

// NeedsRebalance отдельная полоса политики ребалансировки: <30% или >90%
// от целевого баланса.
func (p *LiquidityPool) NeedsRebalance() bool {
	pct := p.PercentOfTarget()
	return pct < 0.30 || pct > 0.90
}

// MovementType тип движения средств пула
type MovementType string

const (
	MovementDebit  MovementType = "debit"
	MovementCredit MovementType = "credit"
)

// LiquidityMovement запись в append-only журнале движений пула
type LiquidityMovement struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	Currency     Currency     `json:"currency" db:"currency"`
	MovementType MovementType `json:"movement_type" db:"movement_type"`
	Amount       int64        `json:"amount" db:"amount"`
	BalanceAfter int64        `json:"balance_after" db:"balance_after"`
	Reason       string       `json:"reason" db:"reason"`
	Reference    string       `json:"reference,omitempty" db:"reference"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

// PoolStatusResponse ответ API по состоянию пула
type PoolStatusResponse struct {
	Currency         Currency   `json:"currency"`
	AvailableBalance float64    `json:"available_balance"`
	TargetBalance    float64    `json:"target_balance"`
	PercentOfTarget  float64    `json:"percent_of_target"`
	Health           PoolHealth `json:"health"`
	NeedsRebalance   bool       `json:"needs_rebalance"`
	LastRebalanceAt  *time.Time `json:"last_rebalance_at,omitempty"`
}
