package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pkrsettle"

var (
	Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chain_jobs_total",
		Help:      "Chain jobs created, by type and resulting status",
	}, []string{"type", "status"})

	Replays = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "idempotent_replays_total",
		Help:      "Requests answered from a previously stored result",
	}, []string{"scope"})

	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Inbound settlement events, by source and outcome",
	}, []string{"source", "outcome"})

	WebhookRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_rejections_total",
		Help:      "Webhook deliveries rejected before processing",
	}, []string{"source", "code"})

	Payouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payouts_total",
		Help:      "Fiat payouts by final status",
	}, []string{"status"})

	ReconciliationMatch = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reconciliation_match",
		Help:      "1 if the latest reconciliation matched, else 0",
	})

	TokenSupply = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "token_supply_units",
		Help:      "Net minted token units at the latest reconciliation",
	})
)
