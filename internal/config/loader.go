// internal/config/loader.go
//
// Configuration loader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from three layers (highest
precedence last):

  1. Optional `.env` file at `<root>/conf/.env`.
  2. `conf/global.yaml`.
  3. Environment variables prefixed `FIELDSYNC_`, where `__` maps to “.”
     (e.g., `FIELDSYNC_SYNC__PAGE_SIZE → sync.page_size`).

After merging, the tree is unmarshalled into typed structs, defaulted,
validated, enriched with the runtime root path, and cached in an
`atomic.Pointer`.  Secrets are resolved separately by `ResolveSecrets` so
that tests and `--help` never need Vault.

Notes
-----
  • `rootDir()` climbs the cwd tree until it finds `conf/global.yaml`, so
    `go run ./cmd/fieldsync` works from any sub-directory.
  • Logs use the global sugared logger (`zap.S()`) because the file logger
    is built from this config and does not exist yet.
*/
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "FIELDSYNC_"

// vaultPrefix marks a secret that must be fetched from Vault.
const vaultPrefix = "vault:"

var current atomic.Pointer[Config]

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves FIELDSYNC_ROOT or climbs directories until
// conf/global.yaml is found.  Falls back to the executable layout.
func rootDir() string {
	if r := os.Getenv(EnvPrefix + "ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "global.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads .env, YAML, and env overrides, then validates and caches Config.
func Load() (*Config, error) {
	root := rootDir()
	zap.S().Debugw("config root resolved", "root", root)

	// .env is optional.
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", "global.yaml")
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
		return nil, fmt.Errorf("load %s: %w", yamlPath, err)
	}

	// FIELDSYNC_SYNC__PAGE_SIZE → sync.page_size; FIELDSYNC_ROOT is not config.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ToLower(strings.ReplaceAll(s, "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Paths.Root = root
	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, fmt.Errorf("validate config: %w", err)
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"redis", cfg.Redis.Addr,
		"queue", cfg.Queue.Name,
		"page_size", cfg.Sync.PageSize,
		"workers", cfg.Sync.Workers,
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

/*──────────────────────────── secrets ─────────────────────────────────────*/

// SecretResolver turns a `vault:mount/path#key` reference into its value.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// NeedsSecrets reports whether any secret field is a Vault reference.
func NeedsSecrets(c *Config) bool {
	return strings.HasPrefix(c.Database.Password, vaultPrefix) ||
		strings.HasPrefix(c.Redis.Password, vaultPrefix)
}

// ResolveSecrets replaces every `vault:` reference in place.
func ResolveSecrets(ctx context.Context, c *Config, r SecretResolver) error {
	for _, p := range []*string{&c.Database.Password, &c.Redis.Password} {
		if !strings.HasPrefix(*p, vaultPrefix) {
			continue
		}
		val, err := r.Resolve(ctx, strings.TrimPrefix(*p, vaultPrefix))
		if err != nil {
			return err
		}
		*p = val
	}
	return nil
}

// DSN renders the database DSN with the password injected.
func (c *Config) DSN() string {
	if strings.Contains(c.Database.DSN, "%s") {
		return fmt.Sprintf(c.Database.DSN, c.Database.Password)
	}
	return c.Database.DSN
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func Get() *Config  { return current.Load() }
func Reload() error { _, err := Load(); return err }
