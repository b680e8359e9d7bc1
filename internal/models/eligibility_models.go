package models

import (
	"time"

	"github.com/google/uuid"
)

// UserTier уровень верификации пользователя (поставляется KYC-слоем)
type UserTier string

const (
	TierBasic    UserTier = "basic"
	TierVerified UserTier = "verified"
	TierPremium  UserTier = "premium"
)

func (t UserTier) IsValid() bool {
	return t == TierBasic || t == TierVerified || t == TierPremium
}

// Multiplier множитель порога мгновенного расчета для уровня
func (t UserTier) Multiplier() float64 {
	switch t {
	case TierVerified:
		return 2
	case TierPremium:
		return 5
	default:
		return 1
	}
}

// InstantUsage счетчик дневного использования мгновенных расчетов.
// daily_used сбрасывается на границе календарного дня и только растет внутри дня.
type InstantUsage struct {
	UserID     uuid.UUID `db:"user_id"`
	Currency   Currency  `db:"currency"`
	Direction  Direction `db:"direction"`
	DailyLimit int64     `db:"daily_limit"`
	DailyUsed  int64     `db:"daily_used"`
	ResetDate  time.Time `db:"reset_date"`
}

// Коды причин отказа в мгновенном расчете
const (
	ReasonAmountAboveThreshold = "amount_above_threshold"
	ReasonInsufficientPool     = "insufficient_pool_liquidity"
	ReasonDailyLimitExceeded   = "daily_limit_exceeded"
)

// EligibilityResult вердикт движка мгновенных расчетов. Никогда не кэшируется.
type EligibilityResult struct {
	Eligible    bool               `json:"eligible"`
	FeeRate     float64            `json:"fee_rate,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Diagnostics map[string]float64 `json:"diagnostics,omitempty"`
}
