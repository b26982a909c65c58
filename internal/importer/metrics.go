package importer

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crmimport",
		Name:      "imports_total",
		Help:      "Imports by entity, mode and outcome (ok, fatal, error).",
	}, []string{"entity", "dry_run", "outcome"})

	rowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crmimport",
		Name:      "rows_total",
		Help:      "Imported rows by entity, mode and outcome.",
	}, []string{"entity", "dry_run", "outcome"})

	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crmimport",
		Name:      "chunks_total",
		Help:      "Commit chunks by entity, kind and status.",
	}, []string{"entity", "kind", "dry_run", "status"})

	chunkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crmimport",
		Name:      "chunk_duration_seconds",
		Help:      "Duration of chunk commits.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 3, 9),
	}, []string{"entity", "kind"})

	stagesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crmimport",
		Name:      "stages_created_total",
		Help:      "Pipeline stages created by deal imports.",
	})
)

func observeChunk(entity Entity, kind string, dryRun bool, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	chunksTotal.WithLabelValues(string(entity), kind, strconv.FormatBool(dryRun), status).Inc()
	if !dryRun {
		chunkDuration.WithLabelValues(string(entity), kind).Observe(d.Seconds())
	}
}

func observeImport(entity Entity, dryRun bool, outcome string, s Summary) {
	mode := strconv.FormatBool(dryRun)
	importsTotal.WithLabelValues(string(entity), mode, outcome).Inc()
	rowsTotal.WithLabelValues(string(entity), mode, "created").Add(float64(s.Created))
	rowsTotal.WithLabelValues(string(entity), mode, "updated").Add(float64(s.Updated))
	rowsTotal.WithLabelValues(string(entity), mode, "failed").Add(float64(s.Failed))
	rowsTotal.WithLabelValues(string(entity), mode, "skipped").Add(float64(s.Skipped))
}
