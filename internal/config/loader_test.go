// internal/config/loader_test.go
//
// Unit-tests for the koanf loader: YAML plus env overlay, defaults,
// validation, and Vault reference substitution.

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
database:
  dsn: "fieldsync:%s@tcp(127.0.0.1:3306)/mailwizz?parseTime=true"
  password: "vault:secret/fieldsync#db_password"
redis:
  addr: "127.0.0.1:6379"
sync:
  page_size: 500
  lock_wait: 3s
notify:
  customer_url: "https://app.example.com/customer/"
`

func writeRoot(t *testing.T, body string) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "conf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "conf", "global.yaml"), []byte(body), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv(EnvPrefix+"ROOT", root)
	return root
}

func TestLoad_YAMLDefaultsAndEnv(t *testing.T) {
	root := writeRoot(t, sampleYAML)
	t.Setenv("FIELDSYNC_SYNC__WORKERS", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.Root != root {
		t.Fatalf("root = %q, want %q", cfg.Paths.Root, root)
	}
	if cfg.Sync.PageSize != 500 {
		t.Fatalf("page_size = %d, want 500", cfg.Sync.PageSize)
	}
	if cfg.Sync.Workers != 4 {
		t.Fatalf("workers = %d, want env override 4", cfg.Sync.Workers)
	}
	if cfg.Sync.LockWait != 3*time.Second {
		t.Fatalf("lock_wait = %v, want 3s", cfg.Sync.LockWait)
	}
	if cfg.Sync.InsertChunk != DefaultInsertChunk || cfg.Database.TablePrefix != DefaultTablePrefix {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Queue.Name != DefaultQueueName {
		t.Fatalf("queue name = %q", cfg.Queue.Name)
	}
	if Get() != cfg {
		t.Fatalf("Get() did not return the cached config")
	}
}

func TestLoad_ValidationFails(t *testing.T) {
	writeRoot(t, `
database:
  dsn: "x"
redis:
  addr: "not a host port"
notify:
  customer_url: "https://app.example.com/customer/"
`)
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoad_DSNTemplateRule(t *testing.T) {
	writeRoot(t, `
database:
  dsn: "%s:%s@tcp(db)/mw"
redis:
  addr: "127.0.0.1:6379"
notify:
  customer_url: "https://app.example.com/customer/"
`)
	if _, err := Load(); err == nil {
		t.Fatalf("expected dsn_template failure for two %%s verbs")
	}
}

type fakeResolver map[string]string

func (f fakeResolver) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := f[ref]
	if !ok {
		return "", errors.New("missing " + ref)
	}
	return v, nil
}

func TestResolveSecretsAndDSN(t *testing.T) {
	writeRoot(t, sampleYAML)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !NeedsSecrets(cfg) {
		t.Fatalf("expected vault reference to be detected")
	}

	err = ResolveSecrets(context.Background(), cfg, fakeResolver{"secret/fieldsync#db_password": "hunter2"})
	if err != nil {
		t.Fatalf("ResolveSecrets: %v", err)
	}
	want := "fieldsync:hunter2@tcp(127.0.0.1:3306)/mailwizz?parseTime=true"
	if got := cfg.DSN(); got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
	if NeedsSecrets(cfg) {
		t.Fatalf("secrets still unresolved")
	}
}
