// Package metrics exposes the indexer's in-process Prometheus
// collectors (SPEC_FULL.md §6.5). There is no HTTP listener here —
// op-ufm's pattern of package-level registered collectors is followed,
// but scraping is left to an external embedder since spec.md's
// external-interfaces section names no metrics endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// BlocksIndexed counts blocks successfully committed.
	BlocksIndexed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Name:      "blocks_indexed_total",
		Help:      "Number of blocks committed to persistence.",
	})

	// TransfersIndexed counts transfer rows committed, native and ERC-20 combined.
	TransfersIndexed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Name:      "transfers_indexed_total",
		Help:      "Number of transfer rows committed to persistence.",
	})

	// TransactionsSkipped counts transactions skipped due to a missing,
	// unretrievable, or failed receipt.
	TransactionsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Name:      "transactions_skipped_total",
		Help:      "Number of transactions skipped during extraction.",
	})

	// ReorgsDetected counts parent-hash mismatches that halted a sync pass.
	ReorgsDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Name:      "reorgs_detected_total",
		Help:      "Number of chain reorgs detected by the sync engine.",
	})

	// SyncPassDuration observes the wall-clock duration of a sync pass.
	SyncPassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "indexer",
		Name:      "sync_pass_duration_seconds",
		Help:      "Duration of a single sync pass.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(BlocksIndexed, TransfersIndexed, TransactionsSkipped, ReorgsDetected, SyncPassDuration)
}
