// Package recordlog maintains the per-partition log of historical records
// persisted through the blob store.
package recordlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gco-platform/ledgersync/internal/store"
	"github.com/gco-platform/ledgersync/pkg/types"
)

// Key returns the partition-scoped blob store key for a record log.
func Key(partitionID string) string {
	return "history_" + partitionID
}

// Log is the set of all records known for one partition. It is created empty
// on first access, mutated only by MergeRange, and never deleted by the engine.
type Log struct {
	PartitionID string         `json:"partitionId"`
	Records     []types.Record `json:"records"`
}

// Load reads a partition's log from the store. An absent key yields an
// empty log.
func Load(ctx context.Context, st store.BlobStore, partitionID string) (*Log, error) {
	doc, found, err := st.Get(ctx, Key(partitionID))
	if err != nil {
		return nil, fmt.Errorf("loading record log for %s: %w", partitionID, err)
	}
	if !found {
		return &Log{PartitionID: partitionID}, nil
	}
	var log Log
	if err := json.Unmarshal(doc, &log); err != nil {
		return nil, fmt.Errorf("decoding record log for %s: %w", partitionID, err)
	}
	if log.PartitionID == "" {
		log.PartitionID = partitionID
	}
	return &log, nil
}

// Save persists the full log. Called after every merged gap so that a later
// failure never threatens already-completed work.
func (l *Log) Save(ctx context.Context, st store.BlobStore) error {
	doc, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encoding record log for %s: %w", l.PartitionID, err)
	}
	if err := st.Put(ctx, Key(l.PartitionID), doc); err != nil {
		return fmt.Errorf("persisting record log for %s: %w", l.PartitionID, err)
	}
	return nil
}

// Months returns the distinct YYYY-MM buckets present in the log. Coverage is
// derived on each access rather than indexed; logs are bounded by realistic
// transaction volume, so the scan is cheap.
func (l *Log) Months() map[string]bool {
	months := make(map[string]bool, 12)
	for _, rec := range l.Records {
		months[rec.Date.MonthKey()] = true
	}
	return months
}

// MergeRange replaces the log's contents for the fetched range: every existing
// record dated inside the range is dropped, then the fresh records are
// appended. Replace-not-append is what makes re-fetching idempotent and
// self-correcting when upstream documents are edited retroactively.
func (l *Log) MergeRange(fetched types.DateRange, records []types.Record) {
	kept := l.Records[:0]
	for _, rec := range l.Records {
		if !fetched.Contains(rec.Date) {
			kept = append(kept, rec)
		}
	}
	l.Records = append(kept, records...)
	sort.SliceStable(l.Records, func(i, j int) bool {
		return l.Records[i].Date.Before(l.Records[j].Date)
	})
}

// Filter returns the records inside the closed window whose type is in
// wanted. An empty wanted set keeps all types. Pure function of the log;
// applied identically whether data came fresh from a fetch or entirely
// from cache.
func (l *Log) Filter(window types.DateRange, wanted []types.TypeCode) []types.Record {
	var typeSet map[types.TypeCode]bool
	if len(wanted) > 0 {
		typeSet = make(map[types.TypeCode]bool, len(wanted))
		for _, tc := range wanted {
			typeSet[tc] = true
		}
	}

	out := make([]types.Record, 0, len(l.Records))
	for _, rec := range l.Records {
		if !window.Contains(rec.Date) {
			continue
		}
		if typeSet != nil && !typeSet[rec.Type] {
			continue
		}
		out = append(out, rec)
	}
	return out
}
