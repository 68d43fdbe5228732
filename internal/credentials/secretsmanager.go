package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/gco-platform/ledgersync/pkg/types"
)

// SecretsAPI is the narrow Secrets Manager surface this package needs.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource resolves partition access keys from AWS Secrets
// Manager. Secret values are cached for the process lifetime; upstream keys
// rotate rarely and a restart picks up new ones.
type SecretsManagerSource struct {
	api SecretsAPI

	mu    sync.Mutex
	cache map[string]Credentials
}

// SMOption configures a SecretsManagerSource.
type SMOption func(*SecretsManagerSource)

// WithSecretsClient injects a Secrets Manager client, used by tests.
func WithSecretsClient(api SecretsAPI) SMOption {
	return func(s *SecretsManagerSource) { s.api = api }
}

// NewSecretsManagerSource builds a source backed by AWS Secrets Manager.
func NewSecretsManagerSource(ctx context.Context, region string, opts ...SMOption) (*SecretsManagerSource, error) {
	s := &SecretsManagerSource{cache: map[string]Credentials{}}
	for _, o := range opts {
		o(s)
	}
	if s.api == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		s.api = secretsmanager.NewFromConfig(cfg)
	}
	return s, nil
}

// Resolve fetches the partition's secret. The secret value is either a JSON
// object with username/access_key fields or a bare access-key string (the
// username then comes from the partition config).
func (s *SecretsManagerSource) Resolve(ctx context.Context, p types.PartitionConfig) (Credentials, error) {
	if p.SecretID == "" {
		return Credentials{}, ErrNoCredentials
	}

	s.mu.Lock()
	cached, ok := s.cache[p.SecretID]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.SecretID),
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("fetching secret %q: %w", p.SecretID, err)
	}
	value := aws.ToString(out.SecretString)
	if value == "" {
		return Credentials{}, fmt.Errorf("secret %q has no string value", p.SecretID)
	}

	creds := Credentials{Username: p.Username, AccessKey: value}
	var parsed struct {
		Username  string `json:"username"`
		AccessKey string `json:"access_key"`
	}
	if err := json.Unmarshal([]byte(value), &parsed); err == nil && parsed.AccessKey != "" {
		creds.AccessKey = parsed.AccessKey
		if parsed.Username != "" {
			creds.Username = parsed.Username
		}
	}

	s.mu.Lock()
	s.cache[p.SecretID] = creds
	s.mu.Unlock()
	return creds, nil
}
