package types

// ProjectConfig is the parsed ledgersync.yaml.
type ProjectConfig struct {
	Upstream   UpstreamConfig    `yaml:"upstream"`
	Store      StoreConfig       `yaml:"store"`
	Partitions []PartitionConfig `yaml:"partitions"`
	Sheet      SheetConfig       `yaml:"sheet,omitempty"`
	Server     ServerConfig      `yaml:"server,omitempty"`
	Sync       SyncConfig        `yaml:"sync,omitempty"`
}

// UpstreamConfig points at the remote business API.
type UpstreamConfig struct {
	BaseURL     string `yaml:"baseUrl"`
	PartnerID   string `yaml:"partnerId,omitempty"`
	PageSize    int    `yaml:"pageSize,omitempty"`    // default 100
	Timeout     string `yaml:"timeout,omitempty"`     // per-request, e.g. "30s"
	PageWorkers int    `yaml:"pageWorkers,omitempty"` // parallel page fetches per gap, default 4

	Retry RetryConfig `yaml:"retry,omitempty"`
}

// RetryConfig is the yaml shape of a RetryPolicy.
type RetryConfig struct {
	MaxAttempts       int     `yaml:"maxAttempts,omitempty"`
	BaseDelay         string  `yaml:"baseDelay,omitempty"` // e.g. "2s"
	BackoffMultiplier float64 `yaml:"backoffMultiplier,omitempty"`
}

// PartitionConfig is one configured upstream tenant account. The access key
// may be given inline, via an environment variable, or via an AWS Secrets
// Manager secret; exactly one source should be set.
type PartitionConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Username     string `yaml:"username"`
	AccessKey    string `yaml:"accessKey,omitempty"`
	AccessKeyEnv string `yaml:"accessKeyEnv,omitempty"`
	SecretID     string `yaml:"secretId,omitempty"`
}

// Ref returns the partition's identity without credential material.
func (p PartitionConfig) Ref() PartitionRef {
	return PartitionRef{ID: p.ID, Name: p.Name}
}

// StoreConfig selects and configures the blob store tiers.
type StoreConfig struct {
	LocalDir string `yaml:"localDir,omitempty"` // fast tier directory, default under os.TempDir
	LocalTTL string `yaml:"localTtl,omitempty"` // fast tier freshness window, default "1h"

	// Durable tier. "s3", "redis", "none" (local-only).
	Remote string `yaml:"remote,omitempty"`

	S3    *S3StoreConfig    `yaml:"s3,omitempty"`
	Redis *RedisStoreConfig `yaml:"redis,omitempty"`
}

// S3StoreConfig configures the S3 durable tier.
type S3StoreConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix,omitempty"`
	Region string `yaml:"region,omitempty"`
}

// RedisStoreConfig configures a Redis tier.
type RedisStoreConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
	TTL       string `yaml:"ttl,omitempty"` // zero or empty = no expiry
}

// SheetConfig points at the published-CSV external inventory feed.
type SheetConfig struct {
	URL       string `yaml:"url,omitempty"`
	HeaderRow int    `yaml:"headerRow,omitempty"` // 1-based, default 1

	// TargetWarehouses restricts which warehouses count as live stock during
	// reconciliation, matched case-insensitively by substring. Empty means
	// all warehouses.
	TargetWarehouses []string `yaml:"targetWarehouses,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string `yaml:"addr,omitempty"` // default ":8080"
	APIKey       string `yaml:"apiKey,omitempty"`
	APIKeyEnv    string `yaml:"apiKeyEnv,omitempty"`
	MaxBodyBytes int64  `yaml:"maxBodyBytes,omitempty"`
}

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	PartitionWorkers int `yaml:"partitionWorkers,omitempty"` // default 10
}
