// Package commands implements the CLI subcommands for the ledgersync binary.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gco-platform/ledgersync/internal/config"
	"github.com/gco-platform/ledgersync/internal/credentials"
	"github.com/gco-platform/ledgersync/internal/inventory"
	"github.com/gco-platform/ledgersync/internal/sheets"
	"github.com/gco-platform/ledgersync/internal/store"
	"github.com/gco-platform/ledgersync/internal/syncer"
	"github.com/gco-platform/ledgersync/internal/upstream"
	"github.com/gco-platform/ledgersync/pkg/types"
)

// stack is the wired application: everything the subcommands need.
type stack struct {
	cfg          *types.ProjectConfig
	store        store.BlobStore
	client       *upstream.Client
	creds        credentials.Source
	syncer       *syncer.Syncer
	consolidator *inventory.Consolidator
	sheet        *sheets.Feed // nil when no sheet configured
	logger       *slog.Logger
}

// buildStack loads ledgersync.yaml from the working directory and wires the
// full application from it.
func buildStack(ctx context.Context) (*stack, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := slog.Default()

	st, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	client, err := buildClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	creds, err := buildCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &stack{
		cfg:    cfg,
		store:  st,
		client: client,
		creds:  creds,
		logger: logger,
	}
	s.syncer = syncer.New(st, client, creds, cfg.Partitions,
		syncer.WithLogger(logger),
		syncer.WithPartitionWorkers(cfg.Sync.PartitionWorkers))
	s.consolidator = inventory.NewConsolidator(client, creds, cfg.Partitions, logger)
	if cfg.Sheet.URL != "" {
		s.sheet = sheets.New(cfg.Sheet, sheets.WithLogger(logger))
	}
	return s, nil
}

// buildStore assembles the two-tier blob store: a local filesystem fast tier
// in front of the configured durable tier.
func buildStore(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger) (store.BlobStore, error) {
	localTTL, err := config.Duration(cfg.Store.LocalTTL, time.Hour)
	if err != nil {
		return nil, err
	}
	local, err := store.NewLocal(cfg.Store.LocalDir, localTTL)
	if err != nil {
		return nil, fmt.Errorf("creating local store: %w", err)
	}

	switch cfg.Store.Remote {
	case "", "none":
		return local, nil
	case "s3":
		s3, err := store.NewS3(ctx, cfg.Store.S3.Bucket, cfg.Store.S3.Prefix, cfg.Store.S3.Region)
		if err != nil {
			return nil, fmt.Errorf("creating S3 store: %w", err)
		}
		return store.NewTiered(local, s3, logger), nil
	case "redis":
		rc := cfg.Store.Redis
		ttl, err := config.Duration(rc.TTL, 0)
		if err != nil {
			return nil, err
		}
		redis := store.NewRedis(rc.Addr, rc.Password, rc.DB, rc.KeyPrefix, ttl)
		if err := redis.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		return store.NewTiered(local, redis, logger), nil
	default:
		return nil, fmt.Errorf("unsupported store.remote: %s", cfg.Store.Remote)
	}
}

func buildClient(cfg *types.ProjectConfig, logger *slog.Logger) (*upstream.Client, error) {
	retry, err := config.RetryPolicy(cfg.Upstream.Retry)
	if err != nil {
		return nil, err
	}
	timeout, err := config.Duration(cfg.Upstream.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	return upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.PartnerID,
		upstream.WithHTTPClient(&http.Client{Timeout: timeout}),
		upstream.WithRetryPolicy(retry),
		upstream.WithPageSize(cfg.Upstream.PageSize),
		upstream.WithPageWorkers(cfg.Upstream.PageWorkers),
		upstream.WithLogger(logger),
	), nil
}

// buildCredentials assembles the resolution chain; the Secrets Manager tier
// joins only when some partition references a secret.
func buildCredentials(ctx context.Context, cfg *types.ProjectConfig) (credentials.Source, error) {
	var sm credentials.Source
	for _, p := range cfg.Partitions {
		if p.SecretID != "" {
			region := ""
			if cfg.Store.S3 != nil {
				region = cfg.Store.S3.Region
			}
			src, err := credentials.NewSecretsManagerSource(ctx, region)
			if err != nil {
				return nil, fmt.Errorf("creating secrets manager source: %w", err)
			}
			sm = src
			break
		}
	}
	return credentials.Default(sm), nil
}
