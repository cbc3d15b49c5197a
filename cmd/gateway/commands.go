package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/editor-gateway/internal/config"
	"github.com/morezero/editor-gateway/pkg/catalog"
	"github.com/morezero/editor-gateway/pkg/commsutil"
	"github.com/morezero/editor-gateway/pkg/db"
	"github.com/morezero/editor-gateway/pkg/dispatcher"
	"github.com/morezero/editor-gateway/pkg/docs"
	"github.com/morezero/editor-gateway/pkg/errlog"
	"github.com/morezero/editor-gateway/pkg/gateway"
	"github.com/morezero/editor-gateway/pkg/metrics"
	"github.com/morezero/editor-gateway/pkg/registry"
)

func runMigrateUp(cfg *config.Config) error {
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.LoadMigrationFiles(cfg.Storage.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus(cfg *config.Config, w io.Writer) error {
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	states, err := db.MigrationStatus(ctx, pool, cfg.Storage.MigrationPath)
	if err != nil {
		return err
	}
	renderMigrationStatus(w, states)
	return nil
}

func runEnsureDB(cfg *config.Config, name string, w io.Writer) error {
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	targetURL := cfg.Storage.DatabaseURL
	if name != "" {
		u, err := db.WithDatabaseName(targetURL, name)
		if err != nil {
			return err
		}
		targetURL = u
	}
	dbName, err := db.DatabaseName(targetURL)
	if err != nil {
		return err
	}
	created, err := db.EnsureDatabase(context.Background(), targetURL)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(w, "Database %q created.\n", dbName)
	} else {
		fmt.Fprintf(w, "Database %q is ready.\n", dbName)
	}
	return nil
}

func runClearErrors(cfg *config.Config, w io.Writer) error {
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	n, err := db.ClearErrors(ctx, pool)
	if err != nil {
		return fmt.Errorf("clear errors: %w", err)
	}
	fmt.Fprintf(w, "Deleted %d error records.\n", n)
	return nil
}

// runDocs renders the reference for the configured catalog plus the in-process commands.
func runDocs(cfg *config.Config, format string, w io.Writer) error {
	reg := registry.New()
	cat, err := catalog.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return err
	}
	if err := cat.Register(reg); err != nil {
		return err
	}
	gen := docs.New(reg)
	deps := dispatcher.LocalDeps{
		Errors:  errlog.New(cfg.Logging.MaxErrorsInMemory),
		Docs:    gen,
		Metrics: metrics.New(),
	}
	if err := dispatcher.RegisterLocal(reg, deps); err != nil {
		return err
	}
	out, err := gen.Generate(format, true)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// buildRequest turns a CLI method and JSON argument into an envelope. Names that are not gateway
// methods are treated as command types and wrapped in execute.
func buildRequest(method, params string, timeout time.Duration) (*gateway.Request, error) {
	var raw json.RawMessage
	if params != "" {
		if !json.Valid([]byte(params)) {
			return nil, fmt.Errorf("params are not valid JSON: %s", params)
		}
		raw = json.RawMessage(params)
	}

	if !gateway.IsMethod(method) {
		wrapped := map[string]interface{}{"type": method}
		if raw != nil {
			wrapped["parameters"] = raw
		}
		data, err := commsutil.EncodePayload(wrapped)
		if err != nil {
			return nil, err
		}
		method, raw = "execute", data
	}

	id := uuid.NewString()
	return &gateway.Request{
		ID:     id,
		Method: method,
		Params: raw,
		Ctx: &gateway.InvocationContext{
			RequestID: id,
			TimeoutMs: int(timeout / time.Millisecond),
		},
	}, nil
}

func runCall(cfg *config.Config, method, params string, opts *options, w io.Writer) error {
	req, err := buildRequest(method, params, opts.timeout)
	if err != nil {
		return err
	}

	nc, err := commsutil.Connect(cfg.Comms.URL, cfg.Comms.Name+"-cli")
	if err != nil {
		return fmt.Errorf("connect NATS: %w", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	resp, err := gateway.Call(ctx, nc, cfg.Comms.Subject, req)
	if err != nil {
		return err
	}
	return renderReply(w, resp, opts.rawJSON)
}
