package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_transactions_total",
		Help: "Ledger transactions by type and outcome",
	}, []string{"type", "outcome"})

	transactionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_transaction_retries_total",
		Help: "Apply retries after transient storage conflicts",
	})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_settlements_total",
		Help: "Settlement outcomes: settled, replayed, partial, error",
	}, []string{"outcome"})

	settlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "credits_settlement_duration_seconds",
		Help:    "Latency of session settlement",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 5},
	})

	settlementPayouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_settlement_payouts_total",
		Help: "Individual participant payouts committed",
	})

	milestonesAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_milestones_awarded_total",
		Help: "Milestone bonuses granted, by kind",
	}, []string{"kind"})
)
