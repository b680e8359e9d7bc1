package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gw-settlement/internal/models"
)

func TestClassifyPair(t *testing.T) {
	p := DefaultPolicies()

	assert.Equal(t, models.PairClassStable, p.ClassifyPair(models.CurrencyUSD, models.CurrencyUSD))
	assert.Equal(t, models.PairClassMajor, p.ClassifyPair(models.CurrencyUSD, models.CurrencyEUR))
	assert.Equal(t, models.PairClassExotic, p.ClassifyPair(models.CurrencyNGN, models.CurrencyUSD))
	assert.Equal(t, models.PairClassExotic, p.ClassifyPair(models.CurrencyKES, models.CurrencyGHS))
}

func TestBaseFeeRate_VolumeDiscounts(t *testing.T) {
	p := DefaultPolicies()

	// Экзотическая пара: базовая 0.9%
	assert.InDelta(t, 0.009, p.BaseFeeRate(models.CurrencyNGN, models.CurrencyUSD, 100), 1e-9)
	// >= 10000: скидка 10%
	assert.InDelta(t, 0.009*0.90, p.BaseFeeRate(models.CurrencyNGN, models.CurrencyUSD, 10000), 1e-9)
	// >= 100000: скидка 25%
	assert.InDelta(t, 0.009*0.75, p.BaseFeeRate(models.CurrencyNGN, models.CurrencyUSD, 100000), 1e-9)
	// >= 500000: скидка 40%
	assert.InDelta(t, 0.009*0.60, p.BaseFeeRate(models.CurrencyNGN, models.CurrencyUSD, 500000), 1e-9)
	// Применяется только самая крупная достигнутая ступень
	assert.InDelta(t, 0.003*0.60, p.BaseFeeRate(models.CurrencyUSD, models.CurrencyEUR, 700000), 1e-9)
}

func TestStableRate(t *testing.T) {
	p := DefaultPolicies()

	assert.Equal(t, 0.00067, p.StableRate(models.CurrencyNGN))
	assert.Equal(t, 1.0, p.StableRate(models.CurrencyUSD))
	assert.Equal(t, 0.0, p.StableRate("XXX"))
}
