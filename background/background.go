// Package background runs the worker's background tasks: the one-shot data
// sync fired when connectivity returns, the rate-limited periodic update
// check, and push notifications with their click handling. Task bodies run
// on the shared task pool; every firing returns an observable handle, and a
// panicking task surfaces as that handle's error instead of taking the
// worker down.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/edgecache/client"
	"github.com/hupe1980/edgecache/codec"
	"github.com/hupe1980/edgecache/fetch"
	"github.com/hupe1980/edgecache/internal/pool"
)

// Built-in task tags.
const (
	// TagSyncData is the one-shot data sync, fired when connectivity
	// returns.
	TagSyncData = "sync-data"
	// TagUpdateData is the periodic update check.
	TagUpdateData = "update-data"
)

// MessageTypeDataSynced is the broadcast type carrying a freshly synced
// dataset.
const MessageTypeDataSynced = "DATA_SYNCED"

var (
	// ErrUnknownTask is returned when firing a tag nothing is registered
	// under.
	ErrUnknownTask = errors.New("unknown task")

	// ErrNoDataURL is returned by the built-in tasks when no dataset URL is
	// configured.
	ErrNoDataURL = errors.New("no data URL configured")
)

// TaskKind distinguishes how the host schedules a task.
type TaskKind int

const (
	// TaskOneShot runs once per firing, typically on a connectivity event.
	TaskOneShot TaskKind = iota
	// TaskPeriodic is fired repeatedly on the host's schedule.
	TaskPeriodic
)

// String returns the kind name.
func (k TaskKind) String() string {
	switch k {
	case TaskOneShot:
		return "one-shot"
	case TaskPeriodic:
		return "periodic"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// TaskFunc is a registered task body.
type TaskFunc func(ctx context.Context) error

type task struct {
	kind TaskKind
	fn   TaskFunc
}

// Broadcaster is the slice of the client registry the manager needs.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg client.Message) error
	OpenOrFocus(ctx context.Context, url string) error
}

// Push is the decoded payload of an external push event.
type Push struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Option configures the manager.
type Option func(*Manager)

// WithNotifier sets the notifier used for update and push notifications.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithDataURL sets the dataset endpoint used by the built-in tasks.
func WithDataURL(url string) Option {
	return func(m *Manager) {
		m.dataURL = url
	}
}

// WithPageURL sets the host page opened by the notification open action.
func WithPageURL(url string) Option {
	return func(m *Manager) {
		m.pageURL = url
	}
}

// WithIcon sets the icon attached to notifications.
func WithIcon(url string) Option {
	return func(m *Manager) {
		m.icon = url
	}
}

// WithRateLimit bounds how often the periodic update check may hit the
// origin, regardless of how aggressively the host fires it.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(m *Manager) {
		m.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithLogger sets the logger used by the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager owns the background task registry. All methods are safe for
// concurrent use.
type Manager struct {
	fetcher  fetch.Fetcher
	clients  Broadcaster
	pool     *pool.Pool
	notifier Notifier
	limiter  *rate.Limiter
	logger   *slog.Logger

	dataURL string
	pageURL string
	icon    string

	mu           sync.Mutex
	tasks        map[string]task
	lastETag     string
	lastModified string
}

// New creates a manager with the built-in "sync-data" and "update-data"
// tasks registered.
func New(fetcher fetch.Fetcher, clients Broadcaster, p *pool.Pool, optFns ...Option) *Manager {
	m := &Manager{
		fetcher:  fetcher,
		clients:  clients,
		pool:     p,
		notifier: NewLogNotifier(nil),
		limiter:  rate.NewLimiter(rate.Every(time.Minute), 1),
		tasks:    make(map[string]task),
	}

	for _, fn := range optFns {
		fn(m)
	}

	m.Register(TagSyncData, TaskOneShot, m.SyncData)
	m.Register(TagUpdateData, TaskPeriodic, m.CheckForUpdates)

	return m
}

// Register adds a task under a tag, replacing any previous registration.
func (m *Manager) Register(tag string, kind TaskKind, fn TaskFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks[tag] = task{kind: kind, fn: fn}
}

// Fire submits the task registered under tag to the pool and returns its
// handle. The handle reports the task outcome; a one-shot scheduler awaits
// it to learn whether the firing must be retried.
func (m *Manager) Fire(ctx context.Context, tag string) (*pool.Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[tag]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, tag)
	}

	if m.logger != nil {
		m.logger.Debug("firing task", slog.String("tag", tag), slog.String("kind", t.kind.String()))
	}

	return m.pool.Submit(ctx, func() error {
		if err := t.fn(ctx); err != nil {
			if m.logger != nil {
				m.logger.Warn("task failed", slog.String("tag", tag), slog.String("error", err.Error()))
			}

			return err
		}

		return nil
	})
}

// SyncData is the one-shot task body: fetch the dataset and broadcast it to
// every connected client. The dataset is never cached, it is always live. A
// fetch or decode failure is returned to the scheduler; there is no
// internal retry.
func (m *Manager) SyncData(ctx context.Context) error {
	if m.dataURL == "" {
		return ErrNoDataURL
	}

	req, err := fetch.NewRequest(m.dataURL)
	if err != nil {
		return err
	}

	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}

	if resp.Status != http.StatusOK {
		return fmt.Errorf("dataset fetch returned status %d", resp.Status)
	}

	var payload any
	if err := codec.Default.Unmarshal(resp.Body, &payload); err != nil {
		return fmt.Errorf("decoding dataset: %w", err)
	}

	if err := m.clients.Broadcast(ctx, client.Message{Type: MessageTypeDataSynced, Payload: payload}); err != nil {
		// The registry already delivered to the healthy clients and logged
		// the rest.
		if m.logger != nil {
			m.logger.Warn("data sync broadcast incomplete", slog.String("error", err.Error()))
		}
	}

	if m.logger != nil {
		m.logger.Info("data synced", slog.String("url", m.dataURL))
	}

	return nil
}

// CheckForUpdates is the periodic task body: a conditional fetch of the
// dataset compared against the last seen validator. When the validator
// changes, it raises the fixed-tag update notification without fetching the
// full payload again. Checks beyond the configured rate are skipped.
func (m *Manager) CheckForUpdates(ctx context.Context) error {
	if m.dataURL == "" {
		return ErrNoDataURL
	}

	if !m.limiter.Allow() {
		if m.logger != nil {
			m.logger.Debug("update check throttled")
		}

		return nil
	}

	req, err := fetch.NewRequest(m.dataURL)
	if err != nil {
		return err
	}

	m.mu.Lock()
	etag, lastModified := m.lastETag, m.lastModified
	m.mu.Unlock()

	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}

	if resp.Status == http.StatusNotModified {
		if m.logger != nil {
			m.logger.Debug("no updates")
		}

		return nil
	}

	if resp.Status != http.StatusOK {
		return fmt.Errorf("update check returned status %d", resp.Status)
	}

	newETag := resp.Header.Get("ETag")
	newModified := resp.Header.Get("Last-Modified")

	m.mu.Lock()
	baseline := m.lastETag == "" && m.lastModified == ""
	changed := newETag != m.lastETag || newModified != m.lastModified
	m.lastETag, m.lastModified = newETag, newModified
	m.mu.Unlock()

	if newETag == "" && newModified == "" {
		if m.logger != nil {
			m.logger.Debug("origin provides no validator, skipping notification")
		}

		return nil
	}

	if baseline || !changed {
		return nil
	}

	if m.logger != nil {
		m.logger.Info("updates available", slog.String("url", m.dataURL))
	}

	return m.notifier.Notify(ctx, Notification{
		Title: "New content available",
		Body:  "Updated data is ready to view.",
		Icon:  m.icon,
		// Fixed tag: repeat checks replace the notification, they never
		// stack.
		Tag: TagUpdateData,
		Actions: []NotificationAction{
			{Action: ActionOpen, Title: "Open"},
			{Action: ActionClose, Title: "Close"},
		},
	})
}

// HandlePush displays a notification for an external push event. Display
// runs on the pool; the returned handle reports the outcome.
func (m *Manager) HandlePush(ctx context.Context, push Push) (*pool.Task, error) {
	return m.pool.Submit(ctx, func() error {
		n := Notification{
			Title: push.Title,
			Body:  push.Body,
			Icon:  push.Icon,
			Tag:   push.Tag,
			Actions: []NotificationAction{
				{Action: ActionOpen, Title: "Open"},
				{Action: ActionClose, Title: "Close"},
			},
		}

		if n.Icon == "" {
			n.Icon = m.icon
		}

		if err := m.notifier.Notify(ctx, n); err != nil {
			if m.logger != nil {
				m.logger.Warn("displaying push notification failed", slog.String("error", err.Error()))
			}

			return err
		}

		return nil
	})
}

// HandleNotificationClick reacts to a notification action: ActionClose only
// dismisses, every other action focuses a connected client or opens the
// host page.
func (m *Manager) HandleNotificationClick(ctx context.Context, action, tag string) (*pool.Task, error) {
	return m.pool.Submit(ctx, func() error {
		if action == ActionClose {
			return m.notifier.Dismiss(ctx, tag)
		}

		return m.clients.OpenOrFocus(ctx, m.pageURL)
	})
}
