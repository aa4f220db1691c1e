// Package metrics registers the prometheus collectors of the assessment
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "assessor"

var (
	// RecalcEntities counts bulk recalculation outcomes per entity.
	RecalcEntities = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recalc_entities_total",
		Help:      "Entities processed by bulk recalculation, by outcome.",
	}, []string{"kind", "outcome"})

	// RecalcJobs counts finished bulk recalculation jobs.
	RecalcJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recalc_jobs_total",
		Help:      "Bulk recalculation jobs by terminal status.",
	}, []string{"kind", "status"})

	RecalcJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "recalc_job_duration_seconds",
		Help:      "Wall time of bulk recalculation jobs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"kind"})

	// CowWrites counts engine writes: update (in place), branch (new year record), deactivate.
	CowWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cow_writes_total",
		Help:      "Copy-on-write engine writes by operation.",
	}, []string{"kind", "operation"})

	StoreConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_conflicts_total",
		Help:      "Write conflicts surfaced by the record store.",
	}, []string{"kind", "reason"})
)

// Outcome labels for RecalcEntities.
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeError     = "error"
)

// Operation labels for CowWrites.
const (
	OperationUpdate     = "update"
	OperationBranch     = "branch"
	OperationCreate     = "create"
	OperationDeactivate = "deactivate"
)
