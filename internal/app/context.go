// Package app opens a planline workspace: config, database, schema and engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/repo"
)

// Runtime holds everything a command needs against one workspace.
type Runtime struct {
	Config *config.Config
	DB     *sql.DB
	Engine engine.Engine
	Log    *slog.Logger
}

func (rt *Runtime) Close() error {
	if rt == nil || rt.DB == nil {
		return nil
	}
	return rt.DB.Close()
}

// Open loads config from workspace (or configPath when set), opens the
// database and applies pending migrations. A schema newer than this binary
// is an error.
func Open(ctx context.Context, workspace, configPath string, log *slog.Logger) (*Runtime, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.FromFile(configPath)
	} else {
		cfg, err = config.Load(workspace)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	path := cfg.Store.Path
	if path == "" {
		path = db.DefaultPath(workspace)
	}
	if err := db.EnsureDir(path); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Path: path, BusyTimeout: cfg.BusyTimeout()})
	if err != nil {
		return nil, err
	}
	before, err := migrate.Current(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	after, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := migrate.Check(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if after != before {
		log.Info("applied migrations", "from", before, "to", after, "db", path)
	}
	return &Runtime{Config: cfg, DB: conn, Engine: engine.New(conn, cfg), Log: log}, nil
}

// ResolveProject picks the active project: the override when given, else the
// only registered project.
func ResolveProject(ctx context.Context, r repo.Repo, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	p, err := r.SingleProject(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return "", fmt.Errorf("project not specified; use --project")
	}
	if err != nil {
		return "", err
	}
	return p.ID, nil
}
