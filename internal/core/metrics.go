package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	rowOutcomeRejected = "rejected"
	rowOutcomeFailed   = "failed"
)

var (
	rowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "userimport",
		Name:      "rows_total",
		Help:      "Data rows processed, by outcome (created, updated, rejected, failed).",
	}, []string{"outcome"})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "userimport",
		Name:      "jobs_total",
		Help:      "Import jobs finished, by final phase.",
	}, []string{"phase"})

	jobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "userimport",
		Name:      "jobs_active",
		Help:      "Import jobs currently running.",
	})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "userimport",
		Name:      "job_duration_seconds",
		Help:      "Wall time of finished import jobs.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	reportsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "userimport",
		Name:      "reports_purged_total",
		Help:      "Failed-row reports removed by the retention scheduler.",
	})
)
