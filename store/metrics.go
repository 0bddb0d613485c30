package store

import (
	metrics "github.com/docker/go-metrics"
)

var (
	ns = metrics.NewNamespace("nucache", "store", nil)

	// updateLatencyTimer samples the duration of write batches, from lock
	// acquisition to publish.
	updateLatencyTimer = ns.NewLabeledTimer("write_tx_latency", "Latency of store write batches", "tree")

	collectLatencyTimer = ns.NewLabeledTimer("collect_latency", "Latency of version collection", "tree")

	itemsGauge       = ns.NewLabeledGauge("items", "Number of live items", metrics.Total, "tree")
	generationGauge  = ns.NewLabeledGauge("generation", "Last published generation", metrics.Total, "tree")
	snapshotsGauge   = ns.NewLabeledGauge("snapshots", "Number of live snapshots", metrics.Total, "tree")
	collectedCounter = ns.NewLabeledCounter("collected_versions", "Number of versions discarded by collection", "tree")
)

func init() {
	metrics.Register(ns)
}
