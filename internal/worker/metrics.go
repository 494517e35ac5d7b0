package worker

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	workerMetricsOnce   sync.Once
	documentsProcessed  otelmetric.Int64Counter
	documentsFailed     otelmetric.Int64Counter
	staleDocumentsReset otelmetric.Int64Counter
	jobsSkipped         otelmetric.Int64Counter
)

func initWorkerMetrics() {
	meter := otel.Meter("quaero/worker")
	var err error
	documentsProcessed, err = meter.Int64Counter(
		"documents_processed_total",
		otelmetric.WithDescription("Documents that completed the ingestion pipeline"),
	)
	if err != nil {
		log.Printf("worker metrics init: documents_processed_total: %v", err)
	}
	documentsFailed, err = meter.Int64Counter(
		"documents_failed_total",
		otelmetric.WithDescription("Documents that ended the pipeline in a failed state"),
	)
	if err != nil {
		log.Printf("worker metrics init: documents_failed_total: %v", err)
	}
	staleDocumentsReset, err = meter.Int64Counter(
		"stale_documents_reset_total",
		otelmetric.WithDescription("Documents reset from a stale processing state at worker startup"),
	)
	if err != nil {
		log.Printf("worker metrics init: stale_documents_reset_total: %v", err)
	}
	jobsSkipped, err = meter.Int64Counter(
		"jobs_skipped_total",
		otelmetric.WithDescription("Jobs skipped because the document was already handled or gone"),
	)
	if err != nil {
		log.Printf("worker metrics init: jobs_skipped_total: %v", err)
	}
}

func recordProcessed(ctx context.Context) {
	workerMetricsOnce.Do(initWorkerMetrics)
	if documentsProcessed != nil {
		documentsProcessed.Add(ctx, 1)
	}
}

func recordFailed(ctx context.Context, kind string) {
	workerMetricsOnce.Do(initWorkerMetrics)
	if documentsFailed != nil {
		documentsFailed.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("kind", kind)))
	}
}

func recordStaleReset(ctx context.Context, count int64) {
	workerMetricsOnce.Do(initWorkerMetrics)
	if staleDocumentsReset != nil && count > 0 {
		staleDocumentsReset.Add(ctx, count)
	}
}

func recordSkipped(ctx context.Context) {
	workerMetricsOnce.Do(initWorkerMetrics)
	if jobsSkipped != nil {
		jobsSkipped.Add(ctx, 1)
	}
}
