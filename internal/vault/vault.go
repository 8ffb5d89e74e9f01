// internal/vault/vault.go
//
// Vault secret resolver for fieldsync.
//
// Context
// -------
//   - Implements config.SecretResolver so `vault:` references in the config
//     (database and Redis passwords) are swapped for real values at boot.
//   - A reference is `mount/path/to/secret#key` against a KV-v2 engine.
//   - The whole secret is cached per path, so two keys of one secret cost a
//     single read.  Concurrent first reads of a path share one request.
//
// Public workflow
// ---------------
//  1. cli, err := vault.New()                         // VAULT_ADDR, VAULT_TOKEN
//  2. err = config.ResolveSecrets(ctx, cfg, cli)
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	vault "github.com/hashicorp/vault/api"
	"golang.org/x/sync/singleflight"
)

// ErrBadReference is returned for references without a `#key` suffix.
var ErrBadReference = errors.New("vault reference must look like mount/path#key")

// readFunc loads the data map of one KV-v2 secret.
type readFunc func(ctx context.Context, mount, rel string) (map[string]any, error)

// Client is safe for concurrent use.
type Client struct {
	read  readFunc
	group singleflight.Group

	mu      sync.RWMutex
	secrets map[string]map[string]any // secret path → data
}

// New builds a client from the standard VAULT_* environment.
func New() (*Client, error) {
	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}
	api, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	return newClient(func(ctx context.Context, mount, rel string) (map[string]any, error) {
		sec, err := api.KVv2(mount).Get(ctx, rel)
		if err != nil {
			return nil, err
		}
		return sec.Data, nil
	}), nil
}

func newClient(read readFunc) *Client {
	return &Client{read: read, secrets: make(map[string]map[string]any)}
}

// Resolve returns the string stored under ref.
func (c *Client) Resolve(ctx context.Context, ref string) (string, error) {
	path, key, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	data, err := c.secret(ctx, path)
	if err != nil {
		return "", err
	}

	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, path)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("value at %s#%s is not a string", path, key)
	}
	return s, nil
}

func (c *Client) secret(ctx context.Context, path string) (map[string]any, error) {
	c.mu.RLock()
	data, ok := c.secrets[path]
	c.mu.RUnlock()
	if ok {
		return data, nil
	}

	v, err, _ := c.group.Do(path, func() (any, error) {
		mount, rel := splitMount(path)
		data, err := c.read(ctx, mount, rel)
		if err != nil {
			return nil, fmt.Errorf("vault get %s: %w", path, err)
		}
		c.mu.Lock()
		c.secrets[path] = data
		c.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

func parseReference(ref string) (path, key string, err error) {
	i := strings.LastIndexByte(ref, '#')
	if i <= 0 || i == len(ref)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrBadReference, ref)
	}
	return ref[:i], ref[i+1:], nil
}

// splitMount separates the engine mount from the secret's relative path.
func splitMount(p string) (mount, rel string) {
	mount, rel, _ = strings.Cut(p, "/")
	return mount, rel
}
