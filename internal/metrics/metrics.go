// Package metrics exposes runtime counters via expvar.
package metrics

import "expvar"

var (
	SyncRuns            = expvar.NewInt("sync_runs_total")
	PartitionsSynced    = expvar.NewInt("partitions_synced_total")
	PartitionErrors     = expvar.NewInt("partition_errors_total")
	GapsDetected        = expvar.NewInt("gaps_detected_total")
	GapsFetched         = expvar.NewInt("gaps_fetched_total")
	CheckpointsWritten  = expvar.NewInt("checkpoints_written_total")
	CheckpointFailures  = expvar.NewInt("checkpoint_failures_total")
	PagesFetched        = expvar.NewInt("upstream_pages_fetched_total")
	PageRetries         = expvar.NewInt("upstream_page_retries_total")
	RateLimitHits       = expvar.NewInt("upstream_rate_limit_hits_total")
	RescueAttempts      = expvar.NewInt("rescue_attempts_total")
	RescueRecoveries    = expvar.NewInt("rescue_recoveries_total")
	IntegrityMismatches = expvar.NewInt("integrity_mismatches_total")
	SheetFetches        = expvar.NewInt("sheet_fetches_total")
	SheetFetchFailures  = expvar.NewInt("sheet_fetch_failures_total")
)
