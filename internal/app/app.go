// Package app assembles a workspace: database, configuration and the wired workflow engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"indicatorline/internal/activity"
	"indicatorline/internal/attach"
	"indicatorline/internal/cache"
	"indicatorline/internal/config"
	"indicatorline/internal/db"
	"indicatorline/internal/directory"
	"indicatorline/internal/engine"
	"indicatorline/internal/events"
	"indicatorline/internal/migrate"
	"indicatorline/internal/notify"
	"indicatorline/internal/repo"
)

type App struct {
	Workspace   string
	DB          *sql.DB
	Repo        repo.Repo
	Config      *config.Config
	Live        *config.Live
	Bus         *events.Dispatcher
	Projections *cache.Projections
	Activity    activity.Logger
	Engine      engine.Engine
	Logger      *slog.Logger
}

// Init writes the default config (unless one exists or force is set) and migrates the database.
// It reports whether a config file was written.
func Init(workspace string, force bool) (bool, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return false, err
	}
	written := false
	path := config.Path(workspace)
	if _, err := os.Stat(path); os.IsNotExist(err) || force {
		if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
			return false, fmt.Errorf("write config: %w", err)
		}
		written = true
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return written, err
	}
	defer conn.Close()
	return written, migrate.Migrate(conn)
}

// Open migrates the workspace database and wires the engine to its listeners, audit log,
// projections and attachment store.
func Open(ctx context.Context, workspace string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	live, err := config.NewLive(workspace, logger)
	if err != nil {
		return nil, fmt.Errorf("load live config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := live.Watch(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("watch config: %w", err)
	}

	r := repo.Repo{DB: conn}
	bus := events.NewDispatcher(logger)
	proj := cache.NewProjections(r, logger)
	audit := activity.Logger{Repo: r}

	eng := engine.New(conn, live)
	eng.Logger = logger
	eng.Sink = events.Fanout{bus}
	eng.Activity = audit
	eng.Cache = proj
	eng.Store = attach.Local{Root: attachmentsRoot(workspace, cfg)}
	if err := eng.Resolver.Validate(cfg.Roles.Designations); err != nil {
		live.Close()
		conn.Close()
		return nil, err
	}
	eng.Wire(bus)

	return &App{
		Workspace:   workspace,
		DB:          conn,
		Repo:        r,
		Config:      cfg,
		Live:        live,
		Bus:         bus,
		Projections: proj,
		Activity:    audit,
		Engine:      eng,
		Logger:      logger,
	}, nil
}

func (a *App) Close() error {
	return errors.Join(a.Live.Close(), a.DB.Close())
}

// Importer returns a directory importer that refuses verifier roles the resolver cannot serve.
func (a *App) Importer() directory.Importer {
	return directory.Importer{Repo: a.Repo, Now: a.Engine.Now, Supports: a.Engine.Resolver.Supports}
}

// Webhooks returns a dispatcher for the hooks configured at open time.
func (a *App) Webhooks() *notify.WebhookDispatcher {
	return notify.NewWebhookDispatcher(a.Repo, a.Config.Webhooks, a.Logger)
}

func attachmentsRoot(workspace string, cfg *config.Config) string {
	dir := cfg.Storage.AttachmentsDir
	if dir == "" {
		dir = "attachments"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(db.Dir(workspace), dir)
}
