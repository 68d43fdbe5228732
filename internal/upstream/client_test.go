package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gco-platform/ledgersync/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAPI is a scripted upstream double: an /auth endpoint plus paginated
// list endpoints, with per-page failure scripts.
type fakeAPI struct {
	mu sync.Mutex

	username  string
	accessKey string
	token     string
	auth429   int // remaining 429s before /auth succeeds
	auth500   int // remaining 500s before /auth succeeds

	docs map[string][]map[string]any // path -> documents

	fail429 map[string]map[int]int // path -> page -> remaining 429s
	fail500 map[string]map[int]int // path -> page -> remaining 500s

	authAttempts int
	queries      map[string][]url.Values
	partnerIDs   []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		username:  "user@acme",
		accessKey: "key-123",
		token:     "tok-abc",
		docs:      map[string][]map[string]any{},
		fail429:   map[string]map[int]int{},
		fail500:   map[string]map[int]int{},
		queries:   map[string][]url.Values{},
	}
}

func (f *fakeAPI) scriptFailure(table map[string]map[int]int, path string, page, n int) {
	if table[path] == nil {
		table[path] = map[int]int{}
	}
	table[path][page] = n
}

func (f *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.partnerIDs = append(f.partnerIDs, r.Header.Get("Partner-Id"))

		if r.URL.Path == "/auth" {
			f.authAttempts++
			if f.auth429 > 0 {
				f.auth429--
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			if f.auth500 > 0 {
				f.auth500--
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			var creds struct {
				Username  string `json:"username"`
				AccessKey string `json:"access_key"`
			}
			if err := json.NewDecoder(r.Body).Decode(&creds); err != nil ||
				creds.Username != f.username || creds.AccessKey != f.accessKey {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"access_token": f.token})
			return
		}

		if r.Header.Get("Authorization") != "Bearer "+f.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		path := r.URL.Path
		query := r.URL.Query()
		f.queries[path] = append(f.queries[path], query)
		page, _ := strconv.Atoi(query.Get("page"))
		pageSize, _ := strconv.Atoi(query.Get("page_size"))

		if remaining := f.fail429[path][page]; remaining > 0 {
			f.fail429[path][page]--
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if remaining := f.fail500[path][page]; remaining > 0 {
			f.fail500[path][page]--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		docs := f.docs[path]
		start := (page - 1) * pageSize
		end := start + pageSize
		if start > len(docs) {
			start = len(docs)
		}
		if end > len(docs) {
			end = len(docs)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": docs[start:end],
			"pagination": map[string]any{
				"total_results": len(docs),
			},
		})
	})
}

func saleDoc(id, date string) map[string]any {
	return map[string]any{
		"id":       id,
		"name":     "FV-" + id,
		"date":     date,
		"customer": map[string]any{"name": "Cliente SA", "identification": "900"},
		"items": []map[string]any{
			{"code": "SKU-" + id, "quantity": 1.0, "price": 10.0},
		},
	}
}

func fastRetry(attempts int) types.RetryPolicy {
	return types.RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, Multiplier: 1}
}

func newTestClient(t *testing.T, api *fakeAPI, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	base := []Option{
		WithHTTPClient(srv.Client()),
		WithRetryPolicy(fastRetry(3)),
		WithPageSize(2),
		WithRescueDelay(time.Millisecond),
	}
	return NewClient(srv.URL, "TestPartner", append(base, opts...)...)
}

func TestAuthenticate(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api)

	token, err := c.Authenticate(context.Background(), "user@acme", "key-123")
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", token)
	assert.Equal(t, []string{"TestPartner"}, api.partnerIDs)
}

func TestAuthenticateRejected(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api)

	_, err := c.Authenticate(context.Background(), "user@acme", "wrong-key")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestAuthenticateRetriesRateLimit(t *testing.T) {
	api := newFakeAPI()
	api.auth429 = 2
	c := newTestClient(t, api)

	token, err := c.Authenticate(context.Background(), "user@acme", "key-123")
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", token)
	assert.Equal(t, 3, api.authAttempts)
}

func TestAuthenticateRateLimitExhausted(t *testing.T) {
	api := newFakeAPI()
	api.auth429 = 10
	c := newTestClient(t, api)

	_, err := c.Authenticate(context.Background(), "user@acme", "key-123")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 3, api.authAttempts)
}

func TestAuthenticateRetriesServerError(t *testing.T) {
	api := newFakeAPI()
	api.auth500 = 2
	c := newTestClient(t, api)

	token, err := c.Authenticate(context.Background(), "user@acme", "key-123")
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", token)
	assert.Equal(t, 3, api.authAttempts)
}

func TestAuthenticateServerErrorExhaustedIsNotAuthFailure(t *testing.T) {
	api := newFakeAPI()
	api.auth500 = 10
	c := newTestClient(t, api)

	_, err := c.Authenticate(context.Background(), "user@acme", "key-123")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuth)
	assert.Equal(t, 3, api.authAttempts)
}

func TestFetchRangePagination(t *testing.T) {
	api := newFakeAPI()
	api.docs["/invoices"] = []map[string]any{
		saleDoc("1", "2024-01-03"),
		saleDoc("2", "2024-01-07"),
		saleDoc("3", "2024-01-12"),
		saleDoc("4", "2024-01-20"),
		saleDoc("5", "2024-01-31"),
	}
	c := newTestClient(t, api)

	out, err := c.FetchRange(context.Background(), "tok-abc", acme, types.TypeSale, testWindow)
	require.NoError(t, err)
	assert.False(t, out.Partial)
	assert.Equal(t, 5, out.Expected)
	assert.Equal(t, 5, out.Fetched)
	require.Len(t, out.Records, 5)

	keys := map[string]bool{}
	for _, r := range out.Records {
		keys[r.NaturalKey] = true
		assert.Equal(t, "acme", r.Partition)
		assert.Equal(t, types.TypeSale, r.Type)
	}
	assert.Len(t, keys, 5)

	// Every page query must over-reach the window end by one day.
	for _, q := range api.queries["/invoices"] {
		assert.Equal(t, "2024-01-01", q.Get("date_start"))
		assert.Equal(t, "2024-02-01", q.Get("date_end"))
	}
}

func TestFetchRangeFiltersStragglers(t *testing.T) {
	// The over-reached query window can return documents dated end+1; they
	// count toward the page totals but must not surface as records.
	api := newFakeAPI()
	api.docs["/invoices"] = []map[string]any{
		saleDoc("1", "2024-01-31"),
		saleDoc("2", "2024-02-01"),
	}
	c := newTestClient(t, api)

	out, err := c.FetchRange(context.Background(), "tok-abc", acme, types.TypeSale, testWindow)
	require.NoError(t, err)
	assert.False(t, out.Partial)
	assert.Equal(t, 2, out.Fetched)
	require.Len(t, out.Records, 1)
	assert.Equal(t, types.MustDate("2024-01-31"), out.Records[0].Date)
}

func TestFetchRangeEmpty(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api)

	out, err := c.FetchRange(context.Background(), "tok-abc", acme, types.TypeSale, testWindow)
	require.NoError(t, err)
	assert.Zero(t, out.Expected)
	assert.Empty(t, out.Records)
}

func TestFetchRangeRetriesRateLimitedPage(t *testing.T) {
	api := newFakeAPI()
	api.docs["/credit-notes"] = []map[string]any{
		saleDoc("1", "2024-01-03"),
		saleDoc("2", "2024-01-07"),
		saleDoc("3", "2024-01-12"),
	}
	api.scriptFailure(api.fail429, "/credit-notes", 2, 2)
	c := newTestClient(t, api)

	out, err := c.FetchRange(context.Background(), "tok-abc", acme, types.TypeCredit, testWindow)
	require.NoError(t, err)
	assert.False(t, out.Partial)
	assert.Equal(t, 3, out.Fetched)
}

func TestFetchRangeRescuesFailedPage(t *testing.T) {
	// Page 2 exhausts the concurrent pass's retry budget, then recovers on
	// the sequential rescue pass.
	api := newFakeAPI()
	api.docs["/invoices"] = []map[string]any{
		saleDoc("1", "2024-01-03"),
		saleDoc("2", "2024-01-07"),
		saleDoc("3", "2024-01-12"),
		saleDoc("4", "2024-01-20"),
	}
	api.scriptFailure(api.fail500, "/invoices", 2, 3)
	c := newTestClient(t, api)

	out, err := c.FetchRange(context.Background(), "tok-abc", acme, types.TypeSale, testWindow)
	require.NoError(t, err)
	assert.False(t, out.Partial)
	assert.Equal(t, 4, out.Expected)
	assert.Equal(t, 4, out.Fetched)
}

func TestFetchRangePartialOnUnrescuablePage(t *testing.T) {
	api := newFakeAPI()
	api.docs["/invoices"] = []map[string]any{
		saleDoc("1", "2024-01-03"),
		saleDoc("2", "2024-01-07"),
		saleDoc("3", "2024-01-12"),
		saleDoc("4", "2024-01-20"),
		saleDoc("5", "2024-01-25"),
		saleDoc("6", "2024-01-31"),
	}
	api.scriptFailure(api.fail500, "/invoices", 2, 100)
	c := newTestClient(t, api, WithRetryPolicy(fastRetry(2)))

	out, err := c.FetchRange(context.Background(), "tok-abc", acme, types.TypeSale, testWindow)
	require.NoError(t, err)
	assert.True(t, out.Partial)
	assert.Equal(t, 6, out.Expected)
	assert.Equal(t, 4, out.Fetched)
	assert.Len(t, out.Records, 4)
}

func TestFetchRangeUnknownType(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api)

	_, err := c.FetchRange(context.Background(), "tok-abc", acme, types.TypeCode("BOGUS"), testWindow)
	assert.Error(t, err)
}

func TestFetchProducts(t *testing.T) {
	api := newFakeAPI()
	api.docs["/products"] = []map[string]any{
		{"code": "SKU-1", "name": "Widget", "available_quantity": 12.0,
			"warehouses": []map[string]any{{"name": "Main", "quantity": 12.0}}},
		{"code": "SKU-2", "name": "Gadget", "available_quantity": 3.0},
		{"name": "retired item, no code"},
	}
	c := newTestClient(t, api)

	products, err := c.FetchProducts(context.Background(), "tok-abc", acme)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "SKU-1", products[0].Code)
	assert.Equal(t, 12.0, products[0].AvailableQuantity)
	require.Len(t, products[0].Warehouses, 1)
	assert.Equal(t, "Main", products[0].Warehouses[0].Name)
}
