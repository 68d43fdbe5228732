package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gco-platform/ledgersync/internal/credentials"
	"github.com/gco-platform/ledgersync/internal/recordlog"
	"github.com/gco-platform/ledgersync/internal/store"
	"github.com/gco-platform/ledgersync/internal/upstream"
	"github.com/gco-platform/ledgersync/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fetchCall struct {
	partition string
	tc        types.TypeCode
	window    types.DateRange
}

// fakeFetcher serves a fixed upstream dataset, filtered per call, with
// scriptable auth and per-gap failures.
type fakeFetcher struct {
	mu         sync.Mutex
	dataset    []types.Record
	authErr    map[string]error // username -> error
	authCalls  int
	failStarts map[string]error             // gap start date -> error
	partial    map[types.TypeCode]bool      // classes that report integrity mismatch
	calls      []fetchCall
}

func (f *fakeFetcher) Authenticate(_ context.Context, username, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	if err := f.authErr[username]; err != nil {
		return "", err
	}
	return "tok-" + username, nil
}

func (f *fakeFetcher) FetchRange(_ context.Context, _ string, partition types.PartitionRef, tc types.TypeCode, window types.DateRange) (upstream.FetchOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{partition: partition.ID, tc: tc, window: window})

	if err := f.failStarts[window.Start.String()]; err != nil {
		return upstream.FetchOutcome{}, err
	}

	var out upstream.FetchOutcome
	for _, rec := range f.dataset {
		if rec.Partition == partition.ID && rec.Type == tc && window.Contains(rec.Date) {
			out.Records = append(out.Records, rec)
		}
	}
	out.Expected = len(out.Records)
	out.Fetched = len(out.Records)
	if f.partial[tc] {
		out.Expected++
		out.Partial = true
	}
	return out, nil
}

func (f *fakeFetcher) callsFor(partition string) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.partition == partition {
			out = append(out, c)
		}
	}
	return out
}

// gapWindowsFor collapses the per-class fetch calls into the ordered list of
// distinct gap windows the syncer requested for a partition.
func (f *fakeFetcher) gapWindowsFor(partition string) []string {
	var out []string
	for _, c := range f.callsFor(partition) {
		w := c.window.String()
		if len(out) == 0 || out[len(out)-1] != w {
			out = append(out, w)
		}
	}
	return out
}

func (f *fakeFetcher) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failStarts = nil
	f.calls = nil
}

func rec(partition string, tc types.TypeCode, date, key string, qty float64) types.Record {
	return types.Record{
		Date:       types.MustDate(date),
		Partition:  partition,
		Type:       tc,
		NaturalKey: key,
		Quantity:   qty,
	}
}

func acmeConfig() types.PartitionConfig {
	return types.PartitionConfig{ID: "acme", Name: "Acme Ltd", Username: "user@acme", AccessKey: "k"}
}

func newTestSyncer(st store.BlobStore, f Fetcher, parts ...types.PartitionConfig) *Syncer {
	if len(parts) == 0 {
		parts = []types.PartitionConfig{acmeConfig()}
	}
	return New(st, f, credentials.Default(nil), parts)
}

func janRequest() types.SyncRequest {
	return types.SyncRequest{
		Start: types.MustDate("2024-01-01"),
		End:   types.MustDate("2024-01-31"),
		Types: []types.TypeCode{types.TypeSale},
	}
}

func TestSyncColdStoreFetchesFullWindow(t *testing.T) {
	fetcher := &fakeFetcher{dataset: []types.Record{
		rec("acme", types.TypeSale, "2024-01-01", "a#0", 1), // window start
		rec("acme", types.TypeSale, "2024-01-15", "b#0", 2),
		rec("acme", types.TypeSale, "2024-01-31", "c#0", 3), // window end
	}}
	st := store.NewMemory()
	s := newTestSyncer(st, fetcher)

	res, err := s.Sync(context.Background(), janRequest())
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Records, 3)
	assert.Equal(t, "a#0", res.Records[0].NaturalKey)
	assert.Equal(t, "c#0", res.Records[2].NaturalKey)

	assert.Equal(t, []string{"2024-01-01..2024-01-31"}, fetcher.gapWindowsFor("acme"))

	// The checkpoint is on disk: a fresh log load sees January covered.
	log, err := recordlog.Load(context.Background(), st, "acme")
	require.NoError(t, err)
	assert.True(t, log.Months()["2024-01"])
}

func TestSyncIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{dataset: []types.Record{
		rec("acme", types.TypeSale, "2024-01-15", "a#0", 1),
	}}
	st := store.NewMemory()
	s := newTestSyncer(st, fetcher)

	first, err := s.Sync(context.Background(), janRequest())
	require.NoError(t, err)
	second, err := s.Sync(context.Background(), janRequest())
	require.NoError(t, err)

	assert.Equal(t, first.Records, second.Records)
	// Second run found no gaps: one fetch per document class from the first
	// run only, and auth stayed lazy.
	assert.Len(t, fetcher.calls, len(types.AllTypeCodes()))
	assert.Equal(t, 1, fetcher.authCalls)
}

func TestSyncFetchesOnlyGaps(t *testing.T) {
	st := store.NewMemory()
	seeded := &recordlog.Log{PartitionID: "acme"}
	seeded.MergeRange(
		types.DateRange{Start: types.MustDate("2024-01-01"), End: types.MustDate("2024-01-31")},
		[]types.Record{rec("acme", types.TypeSale, "2024-01-10", "jan#0", 1)},
	)
	seeded.MergeRange(
		types.DateRange{Start: types.MustDate("2024-03-01"), End: types.MustDate("2024-03-31")},
		[]types.Record{rec("acme", types.TypeSale, "2024-03-05", "mar#0", 1)},
	)
	require.NoError(t, seeded.Save(context.Background(), st))

	fetcher := &fakeFetcher{dataset: []types.Record{
		rec("acme", types.TypeSale, "2024-02-14", "feb#0", 2),
		rec("acme", types.TypeSale, "2024-04-02", "apr#0", 3),
	}}
	s := newTestSyncer(st, fetcher)

	res, err := s.Sync(context.Background(), types.SyncRequest{
		Start: types.MustDate("2024-01-01"),
		End:   types.MustDate("2024-04-30"),
		Types: []types.TypeCode{types.TypeSale},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)

	assert.Equal(t,
		[]string{"2024-02-01..2024-02-29", "2024-04-01..2024-04-30"},
		fetcher.gapWindowsFor("acme"))

	var keys []string
	for _, r := range res.Records {
		keys = append(keys, r.NaturalKey)
	}
	assert.Equal(t, []string{"jan#0", "feb#0", "mar#0", "apr#0"}, keys)
}

func TestSyncCheckpointsSurviveLaterGapFailure(t *testing.T) {
	// January and March get checkpointed by earlier runs; the February gap
	// then fails. Cached months must keep serving, and a follow-up run must
	// refetch only the failed month.
	fetcher := &fakeFetcher{
		dataset: []types.Record{
			rec("acme", types.TypeSale, "2024-01-10", "jan#0", 1),
			rec("acme", types.TypeSale, "2024-02-10", "feb#0", 2),
			rec("acme", types.TypeSale, "2024-03-10", "mar#0", 3),
		},
		failStarts: map[string]error{"2024-02-01": errors.New("upstream down")},
	}
	st := store.NewMemory()
	s := newTestSyncer(st, fetcher)

	req := types.SyncRequest{
		Start: types.MustDate("2024-01-01"),
		End:   types.MustDate("2024-03-31"),
		Types: []types.TypeCode{types.TypeSale},
	}

	// Coverage walks month buckets, so a cold store over Jan-Mar yields one
	// big gap; seed Jan and Mar boundaries apart by pre-syncing each month.
	for _, month := range []types.SyncRequest{
		{Start: types.MustDate("2024-01-01"), End: types.MustDate("2024-01-31"), Types: req.Types},
		{Start: types.MustDate("2024-03-01"), End: types.MustDate("2024-03-31"), Types: req.Types},
	} {
		res, err := s.Sync(context.Background(), month)
		require.NoError(t, err)
		require.Empty(t, res.Errors)
	}

	res, err := s.Sync(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "upstream down")

	// Cached months still served despite the February failure.
	var keys []string
	for _, r := range res.Records {
		keys = append(keys, r.NaturalKey)
	}
	assert.Equal(t, []string{"jan#0", "mar#0"}, keys)

	// Once upstream recovers, only February is refetched.
	fetcher.reset()

	res, err = s.Sync(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Len(t, res.Records, 3)

	assert.Equal(t, []string{"2024-02-01..2024-02-29"}, fetcher.gapWindowsFor("acme"))
}

func TestSyncFailedGapAbortsRemainingGaps(t *testing.T) {
	// Seed January and March coverage so Feb and Apr are two separate gaps,
	// then fail February. April must not be fetched in the same run; the
	// next run refetches both.
	st := store.NewMemory()
	seeded := &recordlog.Log{PartitionID: "acme"}
	seeded.MergeRange(
		types.DateRange{Start: types.MustDate("2024-01-01"), End: types.MustDate("2024-01-31")},
		[]types.Record{rec("acme", types.TypeSale, "2024-01-10", "jan#0", 1)},
	)
	seeded.MergeRange(
		types.DateRange{Start: types.MustDate("2024-03-01"), End: types.MustDate("2024-03-31")},
		[]types.Record{rec("acme", types.TypeSale, "2024-03-05", "mar#0", 1)},
	)
	require.NoError(t, seeded.Save(context.Background(), st))

	fetcher := &fakeFetcher{
		dataset: []types.Record{
			rec("acme", types.TypeSale, "2024-02-14", "feb#0", 2),
			rec("acme", types.TypeSale, "2024-04-02", "apr#0", 3),
		},
		failStarts: map[string]error{"2024-02-01": errors.New("upstream down")},
	}
	s := newTestSyncer(st, fetcher)

	req := types.SyncRequest{
		Start: types.MustDate("2024-01-01"),
		End:   types.MustDate("2024-04-30"),
		Types: []types.TypeCode{types.TypeSale},
	}
	res, err := s.Sync(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)

	// Only the February attempt happened; April was left alone.
	assert.Equal(t, []string{"2024-02-01..2024-02-29"}, fetcher.gapWindowsFor("acme"))

	fetcher.reset()

	res, err = s.Sync(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Len(t, res.Records, 4)

	assert.Equal(t,
		[]string{"2024-02-01..2024-02-29", "2024-04-01..2024-04-30"},
		fetcher.gapWindowsFor("acme"))
}

func TestSyncForceRefreshReplacesCachedRange(t *testing.T) {
	fetcher := &fakeFetcher{dataset: []types.Record{
		rec("acme", types.TypeSale, "2024-01-15", "a#0", 1),
	}}
	st := store.NewMemory()
	s := newTestSyncer(st, fetcher)

	_, err := s.Sync(context.Background(), janRequest())
	require.NoError(t, err)

	// The upstream document was edited retroactively.
	fetcher.mu.Lock()
	fetcher.dataset = []types.Record{rec("acme", types.TypeSale, "2024-01-15", "a#0", 7)}
	fetcher.mu.Unlock()

	// Without force the cached value is served untouched.
	res, err := s.Sync(context.Background(), janRequest())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, 1.0, res.Records[0].Quantity)

	req := janRequest()
	req.ForceRefresh = true
	res, err = s.Sync(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, 7.0, res.Records[0].Quantity)
}

func TestSyncAuthFailureServesCacheAndIsolatesPartitions(t *testing.T) {
	other := types.PartitionConfig{ID: "globex", Name: "Globex", Username: "user@globex", AccessKey: "k"}
	fetcher := &fakeFetcher{dataset: []types.Record{
		rec("acme", types.TypeSale, "2024-01-15", "a#0", 1),
		rec("globex", types.TypeSale, "2024-01-20", "g#0", 5),
	}}
	st := store.NewMemory()
	s := newTestSyncer(st, fetcher, acmeConfig(), other)

	// Warm acme's cache, then break its credentials.
	_, err := s.Sync(context.Background(), types.SyncRequest{
		Partitions: []string{"acme"},
		Start:      types.MustDate("2024-01-01"),
		End:        types.MustDate("2024-01-31"),
		Types:      []types.TypeCode{types.TypeSale},
	})
	require.NoError(t, err)

	fetcher.mu.Lock()
	fetcher.authErr = map[string]error{"user@acme": upstream.ErrAuth}
	fetcher.mu.Unlock()

	req := janRequest()
	req.ForceRefresh = true
	res, err := s.Sync(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "acme", res.Errors[0].Partition)

	var keys []string
	for _, r := range res.Records {
		keys = append(keys, r.NaturalKey)
	}
	// Acme's cached record and globex's fresh one are both served.
	assert.ElementsMatch(t, []string{"a#0", "g#0"}, keys)
}

func TestSyncUnknownPartition(t *testing.T) {
	fetcher := &fakeFetcher{}
	s := newTestSyncer(store.NewMemory(), fetcher)

	req := janRequest()
	req.Partitions = []string{"nope"}
	res, err := s.Sync(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "nope", res.Errors[0].Partition)
	assert.Empty(t, fetcher.calls)
}

func TestSyncSurfacesIntegrityWarnings(t *testing.T) {
	fetcher := &fakeFetcher{
		dataset: []types.Record{rec("acme", types.TypeSale, "2024-01-15", "a#0", 1)},
		partial: map[types.TypeCode]bool{types.TypeSale: true},
	}
	s := newTestSyncer(store.NewMemory(), fetcher)

	res, err := s.Sync(context.Background(), janRequest())
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Warnings, 1)
	w := res.Warnings[0]
	assert.Equal(t, "acme", w.Partition)
	assert.Equal(t, types.TypeSale, w.Type)
	assert.Equal(t, 2, w.Expected)
	assert.Equal(t, 1, w.Received)
	// Partial data is still merged and returned.
	assert.Len(t, res.Records, 1)
}

func TestSyncTypeFilterAppliesOnlyToResults(t *testing.T) {
	// Coverage is certified per month with no type dimension, so a filtered
	// request must still fetch every document class; the filter narrows only
	// the returned view. A filtered fetch would mark the month covered while
	// the other classes are missing from the log for good.
	fetcher := &fakeFetcher{dataset: []types.Record{
		rec("acme", types.TypeSale, "2024-01-10", "s#0", 1),
		rec("acme", types.TypePurchase, "2024-01-12", "p#0", 2),
	}}
	st := store.NewMemory()
	s := newTestSyncer(st, fetcher)

	req := janRequest()
	req.Types = []types.TypeCode{types.TypePurchase}
	res, err := s.Sync(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "p#0", res.Records[0].NaturalKey)

	classes := map[types.TypeCode]bool{}
	for _, c := range fetcher.callsFor("acme") {
		classes[c.tc] = true
	}
	assert.Len(t, classes, len(types.AllTypeCodes()))

	// An unfiltered request over the same window finds no gaps and serves
	// the classes the first run didn't ask for straight from the cache.
	fetcher.reset()
	req.Types = nil
	res, err = s.Sync(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, fetcher.calls)

	var keys []string
	for _, r := range res.Records {
		keys = append(keys, r.NaturalKey)
	}
	assert.Equal(t, []string{"s#0", "p#0"}, keys)
}

func TestSyncForceRefreshWithTypeFilterKeepsOtherClasses(t *testing.T) {
	// Force refresh rewrites the whole range across all classes. If it only
	// refetched the requested classes, MergeRange would erase the cached
	// records of everything else.
	fetcher := &fakeFetcher{dataset: []types.Record{
		rec("acme", types.TypeSale, "2024-01-10", "s#0", 1),
		rec("acme", types.TypePurchase, "2024-01-12", "p#0", 2),
	}}
	st := store.NewMemory()
	s := newTestSyncer(st, fetcher)

	req := janRequest()
	req.Types = nil
	_, err := s.Sync(context.Background(), req)
	require.NoError(t, err)

	req.Types = []types.TypeCode{types.TypeSale}
	req.ForceRefresh = true
	res, err := s.Sync(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "s#0", res.Records[0].NaturalKey)

	// The persisted log kept the purchase record through the filtered
	// force refresh.
	log, err := recordlog.Load(context.Background(), st, "acme")
	require.NoError(t, err)
	var keys []string
	for _, r := range log.Records {
		keys = append(keys, r.NaturalKey)
	}
	assert.Equal(t, []string{"s#0", "p#0"}, keys)
}

func TestSyncRejectsInvalidRequests(t *testing.T) {
	s := newTestSyncer(store.NewMemory(), &fakeFetcher{})

	req := janRequest()
	req.End = types.MustDate("2023-12-01")
	_, err := s.Sync(context.Background(), req)
	assert.Error(t, err)

	req = janRequest()
	req.Types = []types.TypeCode{"INVOICE"}
	_, err = s.Sync(context.Background(), req)
	assert.Error(t, err)
}

func TestSyncCheckpointFailureKeepsDataInMemory(t *testing.T) {
	fetcher := &fakeFetcher{dataset: []types.Record{
		rec("acme", types.TypeSale, "2024-01-15", "a#0", 1),
	}}
	st := &failingPutStore{BlobStore: store.NewMemory()}
	s := newTestSyncer(st, fetcher)

	res, err := s.Sync(context.Background(), janRequest())
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "checkpointing")
	// Fetched data is returned even though the checkpoint write failed.
	assert.Len(t, res.Records, 1)
}

type failingPutStore struct {
	store.BlobStore
}

func (f *failingPutStore) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}
