package vault

import (
	"context"
	"errors"
	"testing"
)

func TestParseReference(t *testing.T) {
	p, k, err := parseReference("secret/fieldsync/db#password")
	if err != nil {
		t.Fatalf("parseReference: %v", err)
	}
	if p != "secret/fieldsync/db" || k != "password" {
		t.Fatalf("got %q %q", p, k)
	}

	for _, bad := range []string{"", "secret/db", "#password", "secret/db#"} {
		if _, _, err := parseReference(bad); !errors.Is(err, ErrBadReference) {
			t.Errorf("parseReference(%q) err = %v, want ErrBadReference", bad, err)
		}
	}
}

func TestSplitMount(t *testing.T) {
	m, r := splitMount("secret/fieldsync/db")
	if m != "secret" || r != "fieldsync/db" {
		t.Fatalf("got %q %q", m, r)
	}
	m, r = splitMount("secret")
	if m != "secret" || r != "" {
		t.Fatalf("got %q %q", m, r)
	}
}

func TestResolve_CachesPerSecret(t *testing.T) {
	reads := 0
	c := newClient(func(_ context.Context, mount, rel string) (map[string]any, error) {
		reads++
		if mount != "secret" || rel != "fieldsync" {
			t.Fatalf("read %q %q", mount, rel)
		}
		return map[string]any{"db_password": "s3cret", "redis_password": "r3dis", "port": 6379}, nil
	})
	ctx := context.Background()

	for ref, want := range map[string]string{
		"secret/fieldsync#db_password":    "s3cret",
		"secret/fieldsync#redis_password": "r3dis",
	} {
		got, err := c.Resolve(ctx, ref)
		if err != nil || got != want {
			t.Fatalf("Resolve(%q) = %q, %v", ref, got, err)
		}
	}
	if reads != 1 {
		t.Errorf("reads = %d, want 1", reads)
	}

	if _, err := c.Resolve(ctx, "secret/fieldsync#missing"); err == nil {
		t.Error("missing key should fail")
	}
	if _, err := c.Resolve(ctx, "secret/fieldsync#port"); err == nil {
		t.Error("non-string value should fail")
	}
}

func TestResolve_ReadError(t *testing.T) {
	boom := errors.New("permission denied")
	c := newClient(func(context.Context, string, string) (map[string]any, error) { return nil, boom })

	if _, err := c.Resolve(context.Background(), "secret/x#k"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}
