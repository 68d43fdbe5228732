// Package inventory consolidates live stock across partitions and reconciles
// it against the spreadsheet-tracked balances.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gco-platform/ledgersync/internal/credentials"
	"github.com/gco-platform/ledgersync/internal/upstream"
	"github.com/gco-platform/ledgersync/pkg/types"
)

// Item is one warehouse-level stock line from one partition's catalog.
type Item struct {
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Partition string  `json:"partition"`
	Warehouse string  `json:"warehouse"`
	Quantity  float64 `json:"quantity"`
}

// Result is a consolidated inventory snapshot. Partition failures are
// isolated: the snapshot carries whatever could be fetched plus the errors.
type Result struct {
	Items  []Item                 `json:"items"`
	Errors []types.PartitionError `json:"errors,omitempty"`
}

// ProductFetcher is the upstream surface the consolidator needs.
// *upstream.Client implements it.
type ProductFetcher interface {
	Authenticate(ctx context.Context, username, accessKey string) (string, error)
	FetchProducts(ctx context.Context, token string, partition types.PartitionRef) ([]upstream.Product, error)
}

// Consolidator fetches every partition's catalog in parallel and flattens it
// to warehouse-level lines.
type Consolidator struct {
	fetcher    ProductFetcher
	creds      credentials.Source
	partitions []types.PartitionConfig
	logger     *slog.Logger
}

// NewConsolidator creates a Consolidator over the configured partitions.
func NewConsolidator(fetcher ProductFetcher, creds credentials.Source, partitions []types.PartitionConfig, logger *slog.Logger) *Consolidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consolidator{fetcher: fetcher, creds: creds, partitions: partitions, logger: logger}
}

// Fetch retrieves current stock from every partition. One partition failing
// never hides the others' stock.
func (c *Consolidator) Fetch(ctx context.Context) Result {
	var (
		mu     sync.Mutex
		result Result
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(c.partitions) + 1)
	for _, p := range c.partitions {
		p := p
		g.Go(func() error {
			items, err := c.fetchPartition(gctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Error("inventory fetch failed", "partition", p.ID, "error", err)
				result.Errors = append(result.Errors, types.PartitionError{
					Partition: p.ID,
					Message:   err.Error(),
				})
				return nil
			}
			result.Items = append(result.Items, items...)
			return nil
		})
	}
	// Workers swallow their own errors; Wait only sees context cancellation.
	_ = g.Wait()

	sort.SliceStable(result.Items, func(i, j int) bool {
		if result.Items[i].Code != result.Items[j].Code {
			return result.Items[i].Code < result.Items[j].Code
		}
		return result.Items[i].Partition < result.Items[j].Partition
	})
	return result
}

func (c *Consolidator) fetchPartition(ctx context.Context, p types.PartitionConfig) ([]Item, error) {
	creds, err := c.creds.Resolve(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("resolving credentials: %w", err)
	}
	token, err := c.fetcher.Authenticate(ctx, creds.Username, creds.AccessKey)
	if err != nil {
		return nil, fmt.Errorf("authenticating: %w", err)
	}
	products, err := c.fetcher.FetchProducts(ctx, token, p.Ref())
	if err != nil {
		return nil, fmt.Errorf("fetching products: %w", err)
	}

	var items []Item
	for _, prod := range products {
		if len(prod.Warehouses) == 0 {
			items = append(items, Item{
				Code:      prod.Code,
				Name:      prod.Name,
				Partition: p.ID,
				Warehouse: "N/A",
				Quantity:  prod.AvailableQuantity,
			})
			continue
		}
		for _, wh := range prod.Warehouses {
			items = append(items, Item{
				Code:      prod.Code,
				Name:      prod.Name,
				Partition: p.ID,
				Warehouse: wh.Name,
				Quantity:  wh.Quantity,
			})
		}
	}
	c.logger.Info("inventory fetched", "partition", p.ID, "items", len(items))
	return items, nil
}

var _ ProductFetcher = (*upstream.Client)(nil)
