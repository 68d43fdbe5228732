package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gco-platform/ledgersync/pkg/types"
)

// Warehouse is a per-warehouse stock quantity for a product.
type Warehouse struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
}

// Product is one catalog entry with current stock levels.
type Product struct {
	Code              string      `json:"code"`
	Name              string      `json:"name"`
	AvailableQuantity float64     `json:"available_quantity"`
	Warehouses        []Warehouse `json:"warehouses"`
}

// FetchProducts retrieves the full product catalog for a partition, current
// stock included. Same page-1-then-parallel shape as FetchRange but without
// a date window; product pages that fail after retries are skipped rather
// than rescued, since catalog reads are refreshed on every call anyway.
func (c *Client) FetchProducts(ctx context.Context, token string, partition types.PartitionRef) ([]Product, error) {
	query := func(page int) url.Values {
		v := url.Values{}
		v.Set("page", strconv.Itoa(page))
		v.Set("page_size", strconv.Itoa(c.pageSize))
		return v
	}

	first, err := c.fetchPage(ctx, token, productsPath, query(1))
	if err != nil {
		return nil, fmt.Errorf("fetching products page 1: %w", err)
	}

	total := first.Pagination.TotalResults
	docs := first.Results
	if total == 0 {
		return nil, nil
	}

	totalPages := (total + c.pageSize - 1) / c.pageSize
	if totalPages > 1 {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.pageWorkers)

		for page := 2; page <= totalPages; page++ {
			page := page
			g.Go(func() error {
				env, err := c.fetchPage(gctx, token, productsPath, query(page))
				if err != nil {
					c.logger.Warn("product page fetch failed, skipping",
						"partition", partition.ID, "page", page, "error", err)
					return nil
				}
				mu.Lock()
				docs = append(docs, env.Results...)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	products := make([]Product, 0, len(docs))
	for _, raw := range docs {
		var p Product
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		if p.Code == "" {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}
