package db

import (
	"context"
	"errors"
	"testing"
)

const poolTestPrefix = "db:pool_test"

func TestNewPool_RejectsBadURLs(t *testing.T) {
	for _, url := range []string{"", "invalid://not-a-valid-database-url"} {
		pool, err := NewPool(context.Background(), url)
		if err == nil {
			pool.Close()
			t.Fatalf("%s - expected error for %q", poolTestPrefix, url)
		}
		if pool != nil {
			t.Errorf("%s - expected nil pool on error for %q", poolTestPrefix, url)
		}
	}
}

func TestPoolConfig(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		opts    []PoolOption
		maxConn int32
		minConn int32
		appName string
	}{
		{name: "defaults", url: "postgres://gw@localhost:5432/gateway", maxConn: 5, minConn: 1, appName: ApplicationName},
		{name: "max conns", url: "postgres://gw@localhost:5432/gateway", opts: []PoolOption{WithMaxConns(12)}, maxConn: 12, minConn: 1, appName: ApplicationName},
		{name: "zero max ignored", url: "postgres://gw@localhost:5432/gateway", opts: []PoolOption{WithMaxConns(0)}, maxConn: 5, minConn: 1, appName: ApplicationName},
		{name: "explicit application name", url: "postgres://gw@localhost:5432/gateway?application_name=ops", maxConn: 5, minConn: 1, appName: "ops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := poolConfig(tt.url, tt.opts...)
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", poolTestPrefix, err)
			}
			if cfg.MaxConns != tt.maxConn || cfg.MinConns != tt.minConn {
				t.Errorf("%s - conns = %d/%d, want %d/%d", poolTestPrefix, cfg.MinConns, cfg.MaxConns, tt.minConn, tt.maxConn)
			}
			if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != tt.appName {
				t.Errorf("%s - application_name = %q, want %q", poolTestPrefix, got, tt.appName)
			}
		})
	}
}

func TestMigrationDown_Unsupported(t *testing.T) {
	err := MigrationDown(context.Background(), nil, "")
	if !errors.Is(err, ErrMigrationDownUnsupported) {
		t.Errorf("%s - MigrationDown returned %v, want ErrMigrationDownUnsupported", poolTestPrefix, err)
	}
}
