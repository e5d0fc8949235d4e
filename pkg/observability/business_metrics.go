package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Batch run metrics
	batchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_batch_runs_total",
		Help: "Total batch runs by kind and final outcome",
	}, []string{
		"kind",    // print, eft
		"outcome", // all_confirmed, partially_confirmed, cancelled, accepted, rejected, failed
	})

	batchRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "payment_batch_compose_duration_seconds",
		Help: "Time to compose a print job or generate an EFT file",
		// Operator runs are small; rendering dominates
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{
		"kind",
	})

	// Sequence metrics
	paymentNumbersAllocated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_numbers_allocated_total",
		Help: "Payment numbers committed by the allocator",
	}, []string{
		"kind", // payment, continuation
	})

	sequenceConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_sequence_conflicts_total",
		Help: "Allocation failures caused by duplicate, stale or regressed numbers",
	}, []string{
		"code",
	})

	sequenceGapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_sequence_gaps_total",
		Help: "Payment numbers recorded as gaps after a cancelled run",
	})

	// Print metrics
	printPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_print_pages_total",
		Help: "Physical pages handed to the print pipeline",
	})

	paymentsFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_finalized_total",
		Help: "Payments marked printed and posted",
	}, []string{
		"source", // print, review, eft, api
	})

	paymentsNeedingReview = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_review_pending_total",
		Help: "Payments left printed but unconfirmed after a partial confirmation",
	})

	// EFT metrics
	eftBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eft_batches_total",
		Help: "EFT batches by formatter and outcome",
	}, []string{
		"formatter",
		"outcome", // generated, accepted, rejected, formatter_error, file_error
	})

	eftLinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eft_lines_written_total",
		Help: "Line records written to EFT files",
	}, []string{
		"formatter",
	})
)

// RecordBatchRun records a run reaching a terminal or review state
func RecordBatchRun(kind, outcome string) {
	batchRunsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordBatchDuration records how long composition or file generation took
func RecordBatchDuration(kind string, seconds float64) {
	batchRunDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordNumberAllocated records one committed payment number
func RecordNumberAllocated(continuation bool) {
	kind := "payment"
	if continuation {
		kind = "continuation"
	}
	paymentNumbersAllocated.WithLabelValues(kind).Inc()
}

// RecordSequenceConflict records an allocation refused by the allocator or the store
func RecordSequenceConflict(code string) {
	sequenceConflictsTotal.WithLabelValues(code).Inc()
}

// RecordSequenceGaps records numbers written off by a cancelled run
func RecordSequenceGaps(n int) {
	sequenceGapsTotal.Add(float64(n))
}

// RecordPrintPages records pages spooled for printing
func RecordPrintPages(n int) {
	printPagesTotal.Add(float64(n))
}

// RecordPaymentsFinalized records payments moved to printed and posted
func RecordPaymentsFinalized(source string, n int) {
	paymentsFinalizedTotal.WithLabelValues(source).Add(float64(n))
}

// RecordPaymentsNeedingReview records payments routed to manual review
func RecordPaymentsNeedingReview(n int) {
	paymentsNeedingReview.Add(float64(n))
}

// RecordEFTBatch records an EFT batch outcome
func RecordEFTBatch(formatter, outcome string) {
	eftBatchesTotal.WithLabelValues(formatter, outcome).Inc()
}

// RecordEFTLines records lines written to an EFT file
func RecordEFTLines(formatter string, n int) {
	eftLinesTotal.WithLabelValues(formatter).Add(float64(n))
}
