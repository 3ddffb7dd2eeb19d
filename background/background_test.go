package background

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hupe1980/edgecache/client"
	"github.com/hupe1980/edgecache/fetch"
	"github.com/hupe1980/edgecache/internal/pool"
)

type queueFetcher struct {
	mu    sync.Mutex
	queue []func(req *fetch.Request) (*fetch.Response, error)
	calls int
}

func (f *queueFetcher) push(fn func(req *fetch.Request) (*fetch.Response, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queue = append(f.queue, fn)
}

func (f *queueFetcher) Fetch(_ context.Context, req *fetch.Request) (*fetch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if len(f.queue) == 0 {
		return nil, fmt.Errorf("%w: no scripted response", fetch.ErrNetwork)
	}

	fn := f.queue[0]
	f.queue = f.queue[1:]

	return fn(req)
}

func (f *queueFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func respondOK(contentType, body string, header http.Header) func(req *fetch.Request) (*fetch.Response, error) {
	return func(_ *fetch.Request) (*fetch.Response, error) {
		h := http.Header{}
		for k, v := range header {
			h[k] = v
		}
		h.Set("Content-Type", contentType)

		return &fetch.Response{Status: http.StatusOK, Header: h, Body: []byte(body)}, nil
	}
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []client.Message
	opened   []string
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, msg client.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.messages = append(b.messages, msg)

	return nil
}

func (b *recordingBroadcaster) OpenOrFocus(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.opened = append(b.opened, url)

	return nil
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []Notification
	dismissed     []string
}

func (n *recordingNotifier) Notify(_ context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.notifications = append(n.notifications, notification)

	return nil
}

func (n *recordingNotifier) Dismiss(_ context.Context, tag string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.dismissed = append(n.dismissed, tag)

	return nil
}

const testDataURL = "https://app.example.com/data/items.json"

func newTestManager(t *testing.T, optFns ...Option) (*Manager, *queueFetcher, *recordingBroadcaster, *recordingNotifier) {
	t.Helper()

	p := pool.New(2)
	t.Cleanup(p.Close)

	fetcher := &queueFetcher{}
	broadcaster := &recordingBroadcaster{}
	notifier := &recordingNotifier{}

	opts := append([]Option{
		WithDataURL(testDataURL),
		WithPageURL("https://app.example.com/"),
		WithNotifier(notifier),
		WithRateLimit(rate.Inf, 0),
	}, optFns...)

	return New(fetcher, broadcaster, p, opts...), fetcher, broadcaster, notifier
}

func TestManager_SyncData(t *testing.T) {
	ctx := context.Background()

	m, fetcher, broadcaster, _ := newTestManager(t)
	fetcher.push(respondOK("application/json", `{"items":[1,2]}`, nil))

	require.NoError(t, m.SyncData(ctx))

	require.Len(t, broadcaster.messages, 1)
	msg := broadcaster.messages[0]
	assert.Equal(t, MessageTypeDataSynced, msg.Type)

	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, payload, "items")
}

func TestManager_SyncDataFetchFailure(t *testing.T) {
	ctx := context.Background()

	m, _, broadcaster, _ := newTestManager(t)

	err := m.SyncData(ctx)
	require.ErrorIs(t, err, fetch.ErrNetwork)
	assert.Empty(t, broadcaster.messages)
}

func TestManager_Fire(t *testing.T) {
	ctx := context.Background()

	t.Run("sync-data outcome on the handle", func(t *testing.T) {
		m, fetcher, broadcaster, _ := newTestManager(t)
		fetcher.push(respondOK("application/json", `[]`, nil))

		task, err := m.Fire(ctx, TagSyncData)
		require.NoError(t, err)
		require.NoError(t, task.Wait(ctx))

		assert.Len(t, broadcaster.messages, 1)
	})

	t.Run("failure returns to the scheduler", func(t *testing.T) {
		m, _, _, _ := newTestManager(t)

		task, err := m.Fire(ctx, TagSyncData)
		require.NoError(t, err)
		require.ErrorIs(t, task.Wait(ctx), fetch.ErrNetwork)
	})

	t.Run("unknown tag", func(t *testing.T) {
		m, _, _, _ := newTestManager(t)

		_, err := m.Fire(ctx, "defragment-disk")
		require.ErrorIs(t, err, ErrUnknownTask)
	})
}

func TestManager_FireAbsorbsPanic(t *testing.T) {
	ctx := context.Background()

	m, fetcher, _, _ := newTestManager(t)
	m.Register("explode", TaskOneShot, func(context.Context) error {
		panic("kaboom")
	})

	task, err := m.Fire(ctx, "explode")
	require.NoError(t, err)

	err = task.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	// The manager keeps working after a panicking task.
	fetcher.push(respondOK("application/json", `[]`, nil))
	task, err = m.Fire(ctx, TagSyncData)
	require.NoError(t, err)
	require.NoError(t, task.Wait(ctx))
}

func TestManager_CheckForUpdates(t *testing.T) {
	ctx := context.Background()

	m, fetcher, _, notifier := newTestManager(t)

	// First check records the baseline, no notification.
	fetcher.push(respondOK("application/json", `[]`, http.Header{"Etag": []string{`"a"`}}))
	require.NoError(t, m.CheckForUpdates(ctx))
	assert.Empty(t, notifier.notifications)

	// Unchanged validator answers 304.
	fetcher.push(func(req *fetch.Request) (*fetch.Response, error) {
		assert.Equal(t, `"a"`, req.Header.Get("If-None-Match"))
		return &fetch.Response{Status: http.StatusNotModified, Header: http.Header{}}, nil
	})
	require.NoError(t, m.CheckForUpdates(ctx))
	assert.Empty(t, notifier.notifications)

	// Changed validator raises the fixed-tag notification.
	fetcher.push(respondOK("application/json", `[]`, http.Header{"Etag": []string{`"b"`}}))
	require.NoError(t, m.CheckForUpdates(ctx))

	require.Len(t, notifier.notifications, 1)
	n := notifier.notifications[0]
	assert.Equal(t, TagUpdateData, n.Tag)
	require.Len(t, n.Actions, 2)
	assert.Equal(t, ActionOpen, n.Actions[0].Action)
	assert.Equal(t, ActionClose, n.Actions[1].Action)

	// Another change replaces under the same tag.
	fetcher.push(respondOK("application/json", `[]`, http.Header{"Etag": []string{`"c"`}}))
	require.NoError(t, m.CheckForUpdates(ctx))

	require.Len(t, notifier.notifications, 2)
	assert.Equal(t, TagUpdateData, notifier.notifications[1].Tag)
}

func TestManager_CheckForUpdatesWithoutValidator(t *testing.T) {
	ctx := context.Background()

	m, fetcher, _, notifier := newTestManager(t)

	fetcher.push(respondOK("application/json", `[]`, nil))
	require.NoError(t, m.CheckForUpdates(ctx))

	fetcher.push(respondOK("application/json", `[]`, nil))
	require.NoError(t, m.CheckForUpdates(ctx))

	assert.Empty(t, notifier.notifications)
}

func TestManager_CheckForUpdatesThrottled(t *testing.T) {
	ctx := context.Background()

	m, fetcher, _, _ := newTestManager(t, WithRateLimit(rate.Every(time.Hour), 1))

	fetcher.push(respondOK("application/json", `[]`, http.Header{"Etag": []string{`"a"`}}))
	require.NoError(t, m.CheckForUpdates(ctx))
	assert.Equal(t, 1, fetcher.callCount())

	// The second check inside the same window never reaches the origin.
	require.NoError(t, m.CheckForUpdates(ctx))
	assert.Equal(t, 1, fetcher.callCount())
}

func TestManager_HandlePush(t *testing.T) {
	ctx := context.Background()

	m, _, _, notifier := newTestManager(t, WithIcon("https://app.example.com/icon.png"))

	task, err := m.HandlePush(ctx, Push{Title: "Hello", Body: "New message"})
	require.NoError(t, err)
	require.NoError(t, task.Wait(ctx))

	require.Len(t, notifier.notifications, 1)
	n := notifier.notifications[0]
	assert.Equal(t, "Hello", n.Title)
	assert.Equal(t, "New message", n.Body)
	assert.Equal(t, "https://app.example.com/icon.png", n.Icon)
	require.Len(t, n.Actions, 2)
}

func TestManager_HandleNotificationClick(t *testing.T) {
	ctx := context.Background()

	t.Run("open focuses or opens the host page", func(t *testing.T) {
		m, _, broadcaster, _ := newTestManager(t)

		task, err := m.HandleNotificationClick(ctx, ActionOpen, TagUpdateData)
		require.NoError(t, err)
		require.NoError(t, task.Wait(ctx))

		assert.Equal(t, []string{"https://app.example.com/"}, broadcaster.opened)
	})

	t.Run("close only dismisses", func(t *testing.T) {
		m, _, broadcaster, notifier := newTestManager(t)

		task, err := m.HandleNotificationClick(ctx, ActionClose, TagUpdateData)
		require.NoError(t, err)
		require.NoError(t, task.Wait(ctx))

		assert.Empty(t, broadcaster.opened)
		assert.Equal(t, []string{TagUpdateData}, notifier.dismissed)
	})

	t.Run("unknown action behaves like open", func(t *testing.T) {
		m, _, broadcaster, _ := newTestManager(t)

		task, err := m.HandleNotificationClick(ctx, "snooze", "")
		require.NoError(t, err)
		require.NoError(t, task.Wait(ctx))

		assert.Len(t, broadcaster.opened, 1)
	})
}
