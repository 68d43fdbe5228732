// Package credentials resolves per-partition upstream credentials from
// inline config, environment variables, or AWS Secrets Manager.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gco-platform/ledgersync/pkg/types"
)

// ErrNoCredentials is returned when no configured source yields an access key.
var ErrNoCredentials = errors.New("no credentials available for partition")

// Credentials are what the upstream auth endpoint needs.
type Credentials struct {
	Username  string
	AccessKey string
}

// Source resolves credentials for one partition.
type Source interface {
	Resolve(ctx context.Context, p types.PartitionConfig) (Credentials, error)
}

// Chain tries each source in order and returns the first hit. A source
// reporting ErrNoCredentials falls through to the next; any other error
// stops the chain.
type Chain []Source

func (c Chain) Resolve(ctx context.Context, p types.PartitionConfig) (Credentials, error) {
	for _, src := range c {
		creds, err := src.Resolve(ctx, p)
		if errors.Is(err, ErrNoCredentials) {
			continue
		}
		if err != nil {
			return Credentials{}, err
		}
		return creds, nil
	}
	return Credentials{}, fmt.Errorf("%w %q", ErrNoCredentials, p.ID)
}

// Static reads the access key inlined in the partition config. Meant for
// local development; production configs use env vars or Secrets Manager.
type Static struct{}

func (Static) Resolve(_ context.Context, p types.PartitionConfig) (Credentials, error) {
	if p.AccessKey == "" {
		return Credentials{}, ErrNoCredentials
	}
	return Credentials{Username: p.Username, AccessKey: p.AccessKey}, nil
}

// Env reads the access key from the environment variable named by the
// partition's access_key_env setting.
type Env struct{}

func (Env) Resolve(_ context.Context, p types.PartitionConfig) (Credentials, error) {
	if p.AccessKeyEnv == "" {
		return Credentials{}, ErrNoCredentials
	}
	key := os.Getenv(p.AccessKeyEnv)
	if key == "" {
		return Credentials{}, fmt.Errorf("environment variable %s is empty for partition %q", p.AccessKeyEnv, p.ID)
	}
	return Credentials{Username: p.Username, AccessKey: key}, nil
}

// Default is the resolution order used by the CLI and server: inline config
// first, then environment, then Secrets Manager when a client is supplied.
func Default(sm Source) Source {
	chain := Chain{Static{}, Env{}}
	if sm != nil {
		chain = append(chain, sm)
	}
	return chain
}
