package config

import (
	"time"

	"gw-settlement/internal/models"
)

// Policies неизменяемые тарифные и лимитные таблицы, собираемые один раз
// при старте. Авторитетного состояния здесь нет, только политика.
type Policies struct {
	// Классификация валютных пар для базовой комиссии
	PairClassFees map[models.PairClass]float64

	// Скидки по размеру суммы: от порога (в основных единицах) к скидке
	// с базовой комиссии. Проверяются от большего порога к меньшему.
	AmountTiers []AmountTier

	// Корректировка комиссии по способу оплаты (добавляется к базовой)
	PaymentMethodAdjustments map[models.PaymentMethod]float64

	// Скидка за лояльность и порог завершенных транзакций между парой
	// отправитель-получатель
	LoyaltyDiscount  float64
	LoyaltyThreshold int

	// Комиссии мгновенного пути (дешевле отложенного)
	InstantDepositFeeRate    float64
	InstantWithdrawalFeeRate float64

	// Порог суммы мгновенного расчета по валюте (основные единицы),
	// умножается на множитель уровня пользователя
	InstantThresholds map[models.Currency]float64

	// Дневные лимиты мгновенных расчетов по валюте (основные единицы)
	DailyLimits map[models.Currency]float64

	// Курс валюты к расчетной единице (симулированный стейбл)
	StableRates map[models.Currency]float64

	// Политика повторов отложенных расчетов
	RetryMaxAttempts int
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
}

// DefaultPolicies собирает таблицы политики по умолчанию
func DefaultPolicies() *Policies {
	return &Policies{
		PairClassFees: map[models.PairClass]float64{
			models.PairClassStable: 0.001,
			models.PairClassMajor:  0.003,
			models.PairClassExotic: 0.009,
		},
		AmountTiers: []AmountTier{
			{Threshold: 500000, Discount: 0.40},
			{Threshold: 100000, Discount: 0.25},
			{Threshold: 10000, Discount: 0.10},
		},
		PaymentMethodAdjustments: map[models.PaymentMethod]float64{
			models.PaymentMethodBankTransfer: -0.0005,
			models.PaymentMethodCard:         0.0015,
			models.PaymentMethodMobileMoney:  0.0005,
		},
		LoyaltyDiscount:  0.20,
		LoyaltyThreshold: 5,

		InstantDepositFeeRate:    0.001,
		InstantWithdrawalFeeRate: 0.002,

		InstantThresholds: map[models.Currency]float64{
			models.CurrencyNGN: 500000,
			models.CurrencyKES: 50000,
			models.CurrencyGHS: 5000,
			models.CurrencyUSD: 500,
			models.CurrencyEUR: 500,
		},
		DailyLimits: map[models.Currency]float64{
			models.CurrencyNGN: 1000000,
			models.CurrencyKES: 100000,
			models.CurrencyGHS: 10000,
			models.CurrencyUSD: 1000,
			models.CurrencyEUR: 1000,
		},
		StableRates: map[models.Currency]float64{
			models.CurrencyNGN: 0.00067,
			models.CurrencyKES: 0.0078,
			models.CurrencyGHS: 0.083,
			models.CurrencyUSD: 1.0,
			models.CurrencyEUR: 1.08,
		},

		RetryMaxAttempts: 5,
		RetryBackoffBase: 1 * time.Minute,
		RetryBackoffCap:  1 * time.Hour,
	}
}

// AmountTier скидка с базовой комиссии от порога суммы
type AmountTier struct {
	Threshold float64
	Discount  float64
}

// majors валюты, кроссы которых считаются мажорными
var majors = map[models.Currency]bool{
	models.CurrencyUSD: true,
	models.CurrencyEUR: true,
}

// ClassifyPair определяет класс валютной пары: пара с самой собой stable,
// кросс мажоров major, все, где участвует локальная валюта, exotic.
func (p *Policies) ClassifyPair(from, to models.Currency) models.PairClass {
	switch {
	case from == to:
		return models.PairClassStable
	case majors[from] && majors[to]:
		return models.PairClassMajor
	default:
		return models.PairClassExotic
	}
}

// BaseFeeRate базовая комиссия для пары и суммы с учетом скидки за объем
func (p *Policies) BaseFeeRate(from, to models.Currency, amount float64) float64 {
	rate := p.PairClassFees[p.ClassifyPair(from, to)]
	for _, tier := range p.AmountTiers {
		if amount >= tier.Threshold {
			rate *= 1 - tier.Discount
			break
		}
	}
	return rate
}

// StableRate курс валюты к расчетной единице
func (p *Policies) StableRate(c models.Currency) float64 {
	return p.StableRates[c]
}
