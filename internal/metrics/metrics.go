package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics счетчики и датчики движка расчетов
type Metrics struct {
	SettlementsTotal  *prometheus.CounterVec
	WebhooksTotal     *prometheus.CounterVec
	RetriesTotal      *prometheus.CounterVec
	RebalancesTotal   *prometheus.CounterVec
	QuotesTotal       prometheus.Counter
	PoolBalance       *prometheus.GaugeVec
	ProviderLatency   *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SettlementsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_transactions_total",
			Help: "Settlement transactions by type and final status.",
		}, []string{"type", "status"}),

		WebhooksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_webhooks_total",
			Help: "Provider webhooks by outcome (applied, replay, mismatch, rejected).",
		}, []string{"outcome"}),

		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_retries_total",
			Help: "Retry schedules by trigger type.",
		}, []string{"trigger"}),

		RebalancesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_rebalances_total",
			Help: "Executed rebalance actions by action type.",
		}, []string{"action"}),

		QuotesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "quotes_generated_total",
			Help: "Quotes generated.",
		}),

		PoolBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liquidity_pool_balance",
			Help: "Current available pool balance in minor units.",
		}, []string{"currency"}),

		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "External provider call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}
