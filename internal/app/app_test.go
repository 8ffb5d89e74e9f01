package app

import (
	"testing"

	"github.com/yanizio/fieldsync/internal/config"
	"github.com/yanizio/fieldsync/internal/database"
)

func TestPoolOptions(t *testing.T) {
	def := database.DefaultOptions()

	cases := []struct {
		name     string
		maxOpen  int
		workers  int
		wantOpen int
	}{
		{"defaults", 0, 10, def.MaxOpenConns},
		{"configured", 40, 10, 40},
		{"raised for workers", 4, 10, 12},
		{"wide fan-out", 0, 30, 32},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Database.MaxOpen = tc.maxOpen
			cfg.Sync.Workers = tc.workers

			got := poolOptions(cfg)
			if got.MaxOpenConns != tc.wantOpen {
				t.Errorf("MaxOpenConns = %d, want %d", got.MaxOpenConns, tc.wantOpen)
			}
			if got.MaxIdleConns != def.MaxIdleConns {
				t.Errorf("MaxIdleConns = %d, want %d", got.MaxIdleConns, def.MaxIdleConns)
			}
		})
	}
}
