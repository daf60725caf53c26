package share

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "droplite_uploads_total",
		Help: "Files processed by the uploader, by category and outcome.",
	}, []string{"category", "result"})

	compensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "droplite_compensations_total",
		Help: "Compensating blob deletes after a failed metadata insert.",
	}, []string{"result"})

	retrievalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "droplite_retrievals_total",
		Help: "Resolve and verify calls, by outcome.",
	}, []string{"op", "result"})

	sweptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "droplite_swept_total",
		Help: "Items removed by the sweeper, by kind.",
	}, []string{"kind"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "droplite_sweep_duration_seconds",
		Help:    "Duration of one sweeper pass.",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "droplite_record_cache_lookups_total",
		Help: "Record cache lookups, by hit or miss.",
	}, []string{"result"})
)

// outcome maps a retrieval error to a metric label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidID), errors.Is(err, ErrMissingCode):
		return "bad_request"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	default:
		return "error"
	}
}
