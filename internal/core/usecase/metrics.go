package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cashbook_ledger_mutations_total",
			Help: "Committed ledger mutations partitioned by entity and action",
		},
		[]string{"entity", "action"},
	)

	ledgerRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cashbook_ledger_rejections_total",
			Help: "Rejected ledger mutations partitioned by entity and reason class",
		},
		[]string{"entity", "reason"},
	)

	reportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cashbook_report_duration_seconds",
			Help:    "Cashflow report computation time in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
