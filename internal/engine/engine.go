package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"indicatorline/internal/attach"
	"indicatorline/internal/engine/resolver"
	"indicatorline/internal/events"
	"indicatorline/internal/repo"
)

// Settings are the tunables the workflow reads at the moment it needs them.
type Settings interface {
	ReviewWindowDays() int
	GuidePermission() string
}

// ActivityLogger records an audit line about a subject. Failures are ignored by the engine.
type ActivityLogger interface {
	LogActivity(ctx context.Context, description string, subject Subject, causerID string, properties map[string]any) error
}

// Subject identifies the entity an activity is about.
type Subject struct {
	Type string
	ID   string
}

// CacheInvalidator drops read projections for one entrepreneur/organisation/programme.
type CacheInvalidator interface {
	Invalidate(entrepreneurID, organisationID, programmeID string)
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Sink      events.Sink
	Resolver  *resolver.Resolver
	Settings  Settings
	Activity  ActivityLogger
	Cache     CacheInvalidator
	Store     attach.Store
	Observers []SubmissionObserver
	Logger    *slog.Logger
	Now       func() time.Time
}

// New wires an engine with no-op collaborators; callers replace Sink, Activity, Cache and Store as needed.
func New(db *sql.DB, settings Settings) Engine {
	r := repo.Repo{DB: db}
	logger := slog.Default()
	return Engine{
		DB:        db,
		Repo:      r,
		Events:    events.Writer{},
		Sink:      events.Discard{},
		Resolver:  resolver.New(r, settings, logger),
		Settings:  settings,
		Activity:  noopActivity{},
		Cache:     noopCache{},
		Observers: []SubmissionObserver{TaskStatusObserver{Repo: r}},
		Logger:    logger,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) reviewWindowDays() int {
	if e.Settings == nil {
		return 7
	}
	if d := e.Settings.ReviewWindowDays(); d > 0 {
		return d
	}
	return 7
}

// batch collects events recorded during a transaction that are published once it commits.
type batch []events.Event

func (e Engine) record(ctx context.Context, tx *sql.Tx, b *batch, evt events.Event, publish bool) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	if err := w.Append(ctx, tx, evt); err != nil {
		return err
	}
	if publish {
		*b = append(*b, evt)
	}
	return nil
}

func (e Engine) publish(ctx context.Context, b batch) {
	if e.Sink == nil {
		return
	}
	for _, evt := range b {
		e.Sink.Emit(ctx, evt)
	}
}

func (e Engine) logActivity(ctx context.Context, description string, subject Subject, causerID string, props map[string]any) {
	if e.Activity == nil {
		return
	}
	if err := e.Activity.LogActivity(ctx, description, subject, causerID, props); err != nil {
		e.logger().Debug("activity log failed", "subject", subject.ID, "err", err)
	}
}

type noopActivity struct{}

func (noopActivity) LogActivity(context.Context, string, Subject, string, map[string]any) error {
	return nil
}

type noopCache struct{}

func (noopCache) Invalidate(string, string, string) {}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
