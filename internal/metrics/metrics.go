package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebhooksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_webhooks_received_total",
			Help: "webhook deliveries received, by topic",
		},
		[]string{"topic"},
	)
	DeliveriesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_deliveries_processed_total",
			Help: "order deliveries processed, by outcome",
		},
		[]string{"outcome"},
	)
	BitrixRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bitrix_requests_total",
			Help: "CRM REST calls, by method and outcome",
		},
		[]string{"method", "outcome"},
	)
	SequencerActiveKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_sequencer_active_keys",
			Help: "correlation keys with in-flight or queued work",
		},
	)
)

func Init() {
	prometheus.MustRegister(
		WebhooksReceived,
		DeliveriesProcessed,
		BitrixRequests,
		SequencerActiveKeys,
	)
}
