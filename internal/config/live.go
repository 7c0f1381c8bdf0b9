package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Live exposes tunables looked up on every access. INDICATORLINE_* variables apply
// immediately; edits to indicatorline.yml apply once Watch is running.
type Live struct {
	mu      sync.RWMutex
	v       *viper.Viper
	logger  *slog.Logger
	path    string
	watcher *fsnotify.Watcher
}

// NewLive reads the workspace config file (if present) and environment overrides.
func NewLive(workspace string, logger *slog.Logger) (*Live, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := viper.New()
	path, err := filepath.Abs(Path(workspace))
	if err != nil {
		return nil, err
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("INDICATORLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetDefault("workflow.review_window_days", DefaultReviewWindowDays)
	v.SetDefault("roles.guide_permission", DefaultGuidePermission)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return &Live{v: v, logger: logger, path: path}, nil
}

// Watch reloads the config file whenever it is written or created. The workspace
// directory is watched so the file may appear after Watch is called.
func (l *Live) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return err
	}
	l.mu.Lock()
	l.watcher = w
	l.mu.Unlock()
	go l.watch(w)
	return nil
}

func (l *Live) watch(w *fsnotify.Watcher) {
	for {
		select {
		case e, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != l.path || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			l.reload(e)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Warn("config watcher", "error", err)
		}
	}
}

// reload keeps the previous values when the file does not parse.
func (l *Live) reload(e fsnotify.Event) {
	l.mu.Lock()
	err := l.v.ReadInConfig()
	l.mu.Unlock()
	if err != nil {
		l.logger.Warn("config reload failed", "file", e.Name, "error", err)
		return
	}
	l.logger.Info("config reloaded", "file", e.Name, "op", e.Op.String())
}

// Close stops watching. It is safe to call without Watch.
func (l *Live) Close() error {
	l.mu.Lock()
	w := l.watcher
	l.watcher = nil
	l.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

// Set overrides a key in memory; used by tests and CLI flags.
func (l *Live) Set(key string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.v.Set(key, value)
}

// ReviewWindowDays is the number of days a verifier has to act on a review task.
func (l *Live) ReviewWindowDays() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	days := l.v.GetInt("workflow.review_window_days")
	if days <= 0 {
		return DefaultReviewWindowDays
	}
	return days
}

// GuidePermission names the role permission that marks a mentor.
func (l *Live) GuidePermission() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p := strings.TrimSpace(l.v.GetString("roles.guide_permission"))
	if p == "" {
		return DefaultGuidePermission
	}
	return p
}

// Snapshot decodes the current view into a Config.
func (l *Live) Snapshot() (*Config, error) {
	var cfg Config
	l.mu.RLock()
	err := l.v.Unmarshal(&cfg)
	l.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, cfg.Validate()
}

// Static is a fixed Settings value, convenient in tests.
type Static struct {
	Days       int
	Permission string
}

func (s Static) ReviewWindowDays() int {
	if s.Days <= 0 {
		return DefaultReviewWindowDays
	}
	return s.Days
}

func (s Static) GuidePermission() string {
	if s.Permission == "" {
		return DefaultGuidePermission
	}
	return s.Permission
}
