// Package notify delivers outbox events to configured webhooks.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"indicatorline/internal/config"
	"indicatorline/internal/domain"
	"indicatorline/internal/repo"
)

const (
	DefaultInterval = 2 * time.Second
	defaultTimeout  = 5 * time.Second
	defaultBatch    = 100
)

// WebhookDispatcher polls the events table and POSTs each event to every matching hook.
// Each hook keeps its own cursor; a failed delivery stops that hook until the next round.
type WebhookDispatcher struct {
	Repo     repo.Repo
	Hooks    []config.WebhookConfig
	Client   *http.Client
	Logger   *slog.Logger
	Interval time.Duration
	// FromStart replays the whole outbox instead of starting after the latest event.
	FromStart bool

	mu      sync.Mutex
	cursors map[int]int64
}

func NewWebhookDispatcher(r repo.Repo, hooks []config.WebhookConfig, logger *slog.Logger) *WebhookDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{
		Repo:     r,
		Hooks:    hooks,
		Client:   &http.Client{Timeout: defaultTimeout},
		Logger:   logger,
		Interval: DefaultInterval,
		cursors:  make(map[int]int64),
	}
}

// Run dispatches until ctx is cancelled.
func (d *WebhookDispatcher) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DispatchOnce runs one delivery round over all enabled hooks and returns the number of events delivered.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) int {
	delivered := 0
	for i, hook := range d.Hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		delivered += d.dispatchHook(ctx, i, hook)
	}
	return delivered
}

func (d *WebhookDispatcher) dispatchHook(ctx context.Context, idx int, hook config.WebhookConfig) int {
	log := d.Logger.With("webhook", hook.URL)
	cursor := d.cursorFor(ctx, idx)
	evts, err := d.Repo.EventsAfter(ctx, defaultBatch, cursor)
	if err != nil {
		log.Error("fetch events failed", "err", err)
		return 0
	}
	filter := newEventFilter(hook.Events)
	n := 0
	for _, evt := range evts {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.post(ctx, hook, evt); err != nil {
			log.Warn("delivery failed", "event_id", evt.ID, "type", evt.Type, "err", err)
			return n
		}
		d.setCursor(idx, evt.ID)
		n++
	}
	return n
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursors == nil {
		d.cursors = make(map[int]int64)
	}
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	var cur int64
	if !d.FromStart {
		latest, err := d.Repo.LatestEventID(ctx)
		if err != nil {
			d.Logger.Error("init webhook cursor failed", "err", err)
		}
		cur = latest
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

// Cursor reports the last event id handled for a hook.
func (d *WebhookDispatcher) Cursor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursors[idx]
}

type delivery struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *WebhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(delivery{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout, Transport: client.Transport}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Indicatorline-Event", evt.Type)
	req.Header.Set("X-Indicatorline-Delivery", strconv.FormatInt(evt.ID, 10))
	if secret := strings.TrimSpace(hook.Secret); secret != "" {
		req.Header.Set("X-Indicatorline-Signature", "sha256="+Sign(secret, data))
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret, as sent in X-Indicatorline-Signature.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type eventFilter struct {
	all      bool
	set      map[string]struct{}
	prefixes []string
}

// newEventFilter accepts exact types and "prefix.*" patterns; an empty list matches everything.
func newEventFilter(types []string) eventFilter {
	f := eventFilter{set: map[string]struct{}{}}
	for _, t := range types {
		t = strings.TrimSpace(t)
		switch {
		case t == "":
		case t == "*":
			return eventFilter{all: true}
		case strings.HasSuffix(t, ".*"):
			f.prefixes = append(f.prefixes, strings.TrimSuffix(t, "*"))
		default:
			f.set[t] = struct{}{}
		}
	}
	if len(f.set) == 0 && len(f.prefixes) == 0 {
		return eventFilter{all: true}
	}
	return f
}

func (f eventFilter) match(evtType string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[evtType]; ok {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(evtType, p) {
			return true
		}
	}
	return false
}
