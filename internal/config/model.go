// internal/config/model.go
//
// Typed configuration model for fieldsync.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                             – dotenv values,
//   • `conf/global.yaml`                          – primary static file,
//   • `FIELDSYNC_`-prefixed environment overrides – highest precedence.
//
// Any secret whose string begins with the prefix `vault:` is resolved
// through the Vault client by `ResolveSecrets`, after validation and before
// the first connection is opened.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.
//   • Zero values are replaced by `applyDefaults`; YAML only needs to carry
//     what differs from production defaults.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.

package config

import "time"

//
// Database section
//

// Database holds the DSN template and its secret.
//
// `DSN` may contain one `%s` verb; the password is injected there at
// connect time so credentials stay out of flat files.
type Database struct {
	DSN         string `koanf:"dsn"          validate:"required"`
	Password    string `koanf:"password"`
	TablePrefix string `koanf:"table_prefix"`
	MaxOpen     int    `koanf:"max_open"     validate:"gte=0"`
	MaxIdle     int    `koanf:"max_idle"     validate:"gte=0"`
}

//
// Redis section
//

// Redis backs the cache, the mutex service, and the queue broker.
type Redis struct {
	Addr     string `koanf:"addr"     validate:"required,hostname_port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"       validate:"gte=0"`
}

//
// Sync section
//

// Sync tunes the list custom-fields runner.
type Sync struct {
	PageSize    int           `koanf:"page_size"    validate:"gte=0"`
	Workers     int           `koanf:"workers"      validate:"gte=0"`
	InsertChunk int           `koanf:"insert_chunk" validate:"gte=0"`
	LockWait    time.Duration `koanf:"lock_wait"`
	LeaseTTL    time.Duration `koanf:"lease_ttl"`
	Schedule    string        `koanf:"schedule"` // cron spec; empty disables the in-worker sweep
}

//
// Queue section
//

// Queue configures the Redis Streams broker.
type Queue struct {
	Name      string        `koanf:"name"`
	Group     string        `koanf:"group"`
	Consumer  string        `koanf:"consumer"`
	Block     time.Duration `koanf:"block"`
	ClaimIdle time.Duration `koanf:"claim_idle"`
}

//
// Notify section
//

// Notify holds what the customer_message writer needs to build links.
type Notify struct {
	CustomerURL string `koanf:"customer_url" validate:"required,url"`
}

//
// Metrics and log sections
//

// Metrics holds the worker's operational listener.
type Metrics struct {
	ListenAddr string `koanf:"listen_addr" validate:"omitempty,hostname_port"`
}

// Log controls the zap sink.
type Log struct {
	Tee   bool   `koanf:"tee"`
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.
type Paths struct {
	Root string // FIELDSYNC_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads.
type Config struct {
	Database Database `koanf:"database"`
	Redis    Redis    `koanf:"redis"`
	Sync     Sync     `koanf:"sync"`
	Queue    Queue    `koanf:"queue"`
	Notify   Notify   `koanf:"notify"`
	Metrics  Metrics  `koanf:"metrics"`
	Log      Log      `koanf:"log"`
	Paths    Paths    `koanf:"-"`
}

// Production defaults.
const (
	DefaultTablePrefix = "mw_"
	DefaultPageSize    = 1000
	DefaultWorkers     = 10
	DefaultInsertChunk = 100
	DefaultLockWait    = 10 * time.Second
	DefaultLeaseTTL    = time.Hour
	DefaultQueueName   = "sync_list_fields"
	DefaultQueueGroup  = "fieldsync"
	DefaultBlock       = 5 * time.Second
	DefaultClaimIdle   = 30 * time.Minute
)

func applyDefaults(c *Config) {
	if c.Database.TablePrefix == "" {
		c.Database.TablePrefix = DefaultTablePrefix
	}
	if c.Database.MaxOpen == 0 {
		c.Database.MaxOpen = 15
	}
	if c.Database.MaxIdle == 0 {
		c.Database.MaxIdle = 5
	}
	if c.Sync.PageSize == 0 {
		c.Sync.PageSize = DefaultPageSize
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = DefaultWorkers
	}
	if c.Sync.InsertChunk == 0 {
		c.Sync.InsertChunk = DefaultInsertChunk
	}
	if c.Sync.LockWait == 0 {
		c.Sync.LockWait = DefaultLockWait
	}
	if c.Sync.LeaseTTL == 0 {
		c.Sync.LeaseTTL = DefaultLeaseTTL
	}
	if c.Queue.Name == "" {
		c.Queue.Name = DefaultQueueName
	}
	if c.Queue.Group == "" {
		c.Queue.Group = DefaultQueueGroup
	}
	if c.Queue.Block == 0 {
		c.Queue.Block = DefaultBlock
	}
	if c.Queue.ClaimIdle == 0 {
		c.Queue.ClaimIdle = DefaultClaimIdle
	}
}
