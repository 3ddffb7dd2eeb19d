package edgecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/edgecache/background"
	"github.com/hupe1980/edgecache/blobstore"
	"github.com/hupe1980/edgecache/cachestore"
	"github.com/hupe1980/edgecache/client"
	"github.com/hupe1980/edgecache/codec"
	"github.com/hupe1980/edgecache/control"
	"github.com/hupe1980/edgecache/fetch"
	"github.com/hupe1980/edgecache/lifecycle"
	"github.com/hupe1980/edgecache/strategy"
)

type countingFetcher struct {
	mu        sync.Mutex
	responses map[string]*fetch.Response
	errs      map[string]error
	calls     map[string]int
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{
		responses: make(map[string]*fetch.Response),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (f *countingFetcher) serve(url, contentType, body string) {
	header := make(http.Header)
	header.Set("Content-Type", contentType)
	f.respond(url, &fetch.Response{Status: http.StatusOK, Header: header, Body: []byte(body)})
}

func (f *countingFetcher) respond(url string, resp *fetch.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = resp
	delete(f.errs, url)
}

func (f *countingFetcher) fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

func (f *countingFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *countingFetcher) Fetch(_ context.Context, req *fetch.Request) (*fetch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	url := req.URL.String()
	f.calls[url]++

	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	resp, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("%w: no route to %s", fetch.ErrNetwork, url)
	}
	return resp.Clone(), nil
}

type recordingPort struct {
	mu      sync.Mutex
	replies []control.Message
}

func (p *recordingPort) Reply(_ context.Context, msg control.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, msg)
	return nil
}

func (p *recordingPort) ackCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, msg := range p.replies {
		if msg.Type == control.TypeAck {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu        sync.Mutex
	notified  []background.Notification
	dismissed []string
}

func (n *recordingNotifier) Notify(_ context.Context, notification background.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, notification)
	return nil
}

func (n *recordingNotifier) Dismiss(_ context.Context, tag string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dismissed = append(n.dismissed, tag)
	return nil
}

func (n *recordingNotifier) notifications() []background.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]background.Notification(nil), n.notified...)
}

func (n *recordingNotifier) dismissals() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.dismissed...)
}

type fakeClient struct {
	id string

	mu      sync.Mutex
	posts   []client.Message
	focused int
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Post(_ context.Context, msg client.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = append(c.posts, msg)
	return nil
}

func (c *fakeClient) Focus(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focused++
	return nil
}

func (c *fakeClient) Navigate(context.Context, string) error { return nil }

func (c *fakeClient) messages() []client.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]client.Message(nil), c.posts...)
}

func (c *fakeClient) focusCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focused
}

type workerFixture struct {
	worker  *Worker
	fetcher *countingFetcher
	backend *blobstore.MemoryBackend
}

func newWorkerFixture(t *testing.T, optFns ...Option) *workerFixture {
	t.Helper()

	fetcher := newCountingFetcher()
	backend := blobstore.NewMemoryBackend()

	opts := append([]Option{
		WithBackend(backend),
		WithFetcher(fetcher),
		WithBaseURL("https://app.example.com/"),
	}, optFns...)

	w, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	return &workerFixture{worker: w, fetcher: fetcher, backend: backend}
}

func (fx *workerFixture) installAndActivate(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.worker.HandleInstall(ctx))
	require.NoError(t, fx.worker.HandleActivate(ctx))
}

// partitions probes the persisted partition names through a fresh store view.
func (fx *workerFixture) partitions(t *testing.T) []string {
	t.Helper()
	names, err := cachestore.New(fx.backend).Partitions(context.Background())
	require.NoError(t, err)
	return names
}

func (fx *workerFixture) staticLen(t *testing.T, gen string) int {
	t.Helper()
	p, err := cachestore.New(fx.backend).Open(context.Background(), gen+"-static")
	require.NoError(t, err)
	return p.Len()
}

func (fx *workerFixture) dispatchMessage(t *testing.T, msgType string, payload any, reply control.ReplyPort) (*Event, error) {
	t.Helper()

	msg := control.Message{Type: msgType}
	if payload != nil {
		msg.Payload = codec.MustMarshal(codec.Default, payload)
	}

	ev := &Event{Kind: EventMessage, Message: msg, Reply: reply}
	err := fx.worker.Dispatch(context.Background(), ev)
	return ev, err
}

func awaitTask(t *testing.T, task Task) error {
	t.Helper()
	require.NotNil(t, task)

	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not complete")
	}
	return task.Err()
}

func mustRequest(t *testing.T, rawURL string) *fetch.Request {
	t.Helper()
	req, err := fetch.NewRequest(rawURL)
	require.NoError(t, err)
	return req
}

func TestWorkerNetworkOnlyDoesNotWritePartitions(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t)
	fx.installAndActivate(t)

	url := "https://app.example.com/api/items"
	fx.fetcher.serve(url, "application/json", `{"items":[]}`)

	resp, err := fx.worker.HandleFetch(ctx, mustRequest(t, url))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	assert.Equal(t, 0, fx.staticLen(t, "v1"))
}

func TestWorkerCacheFirstFillsOnce(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t, WithStableHosts([]string{"app.example.com"}))
	fx.installAndActivate(t)

	url := "https://app.example.com/logo.svg"
	fx.fetcher.serve(url, "image/svg+xml", "<svg/>")

	first, err := fx.worker.HandleFetch(ctx, mustRequest(t, url))
	require.NoError(t, err)
	assert.Equal(t, 1, fx.fetcher.callCount(url))

	second, err := fx.worker.HandleFetch(ctx, mustRequest(t, url))
	require.NoError(t, err)
	assert.Equal(t, 1, fx.fetcher.callCount(url), "second fetch must be served from cache")
	assert.Equal(t, first.Body, second.Body)
}

func TestWorkerCacheURLsServeFromCache(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t, WithStableHosts([]string{"app.example.com"}))
	fx.installAndActivate(t)

	fx.fetcher.serve("https://app.example.com/a", "text/html", "page a")
	fx.fetcher.serve("https://app.example.com/b", "text/html", "page b")

	reply := &recordingPort{}
	ev, err := fx.dispatchMessage(t, control.TypeCacheURLs, []string{"/a", "/b"}, reply)
	require.NoError(t, err)
	require.NoError(t, awaitTask(t, ev.Task))

	for _, url := range []string{"https://app.example.com/a", "https://app.example.com/b"} {
		resp, err := fx.worker.HandleFetch(ctx, mustRequest(t, url))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, 1, fx.fetcher.callCount(url), "%s must be served from the bulk fill", url)
	}
}

func TestWorkerClearCacheIdempotent(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t,
		WithStableHosts([]string{"app.example.com"}),
		WithManifest([]string{"https://app.example.com/"}),
	)
	fx.fetcher.serve("https://app.example.com/", "text/html", "home")
	fx.installAndActivate(t)
	require.NotEmpty(t, fx.partitions(t))

	reply := &recordingPort{}
	for i := 0; i < 2; i++ {
		ev, err := fx.dispatchMessage(t, control.TypeClearCache, nil, reply)
		require.NoError(t, err)
		require.NoError(t, awaitTask(t, ev.Task))
		assert.Empty(t, fx.partitions(t))
	}
	assert.Equal(t, 2, reply.ackCount())

	// A subsequent cache-first lookup behaves as a cold cache.
	url := "https://app.example.com/widget.js"
	fx.fetcher.serve(url, "text/javascript", "widget")

	_, err := fx.worker.HandleFetch(ctx, mustRequest(t, url))
	require.NoError(t, err)
	assert.Equal(t, 1, fx.fetcher.callCount(url))

	_, err = fx.worker.HandleFetch(ctx, mustRequest(t, url))
	require.NoError(t, err)
	assert.Equal(t, 1, fx.fetcher.callCount(url))
}

func TestWorkerActivationKeepsSingleStaticPartition(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t, WithManifest([]string{"https://app.example.com/"}))
	fx.fetcher.serve("https://app.example.com/", "text/html", "home")
	fx.installAndActivate(t)

	require.NoError(t, fx.worker.Dispatch(ctx, &Event{Kind: EventInstall, Version: "v2"}))
	require.NoError(t, fx.worker.HandleActivate(ctx))

	assert.ElementsMatch(t, []string{"v2-static", "v2-data"}, fx.partitions(t))

	gen, ok := fx.worker.Current()
	require.True(t, ok)
	assert.Equal(t, Generation("v2"), gen)
}

func TestWorkerOfflineFallback(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t)
	fx.installAndActivate(t)

	url := "https://app.example.com/live"
	fx.fetcher.fail(url, fmt.Errorf("%w: connection refused", fetch.ErrNetwork))

	resp, err := fx.worker.HandleFetch(ctx, mustRequest(t, url))
	require.NoError(t, err, "network failure must not surface as an error")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Contains(t, resp.ContentType(), "text/html")
	assert.Contains(t, string(resp.Body), strategy.OfflineMessage)
}

func TestWorkerMessageAckOnPartialFailure(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t, WithStableHosts([]string{"app.example.com"}))
	fx.installAndActivate(t)

	good := "https://app.example.com/good"
	bad := "https://app.example.com/bad"
	fx.fetcher.serve(good, "text/html", "good")
	fx.fetcher.fail(bad, fmt.Errorf("%w: unreachable", fetch.ErrNetwork))

	reply := &recordingPort{}
	ev, err := fx.dispatchMessage(t, control.TypeCacheURLs, []string{good, bad}, reply)
	require.NoError(t, err)

	taskErr := awaitTask(t, ev.Task)
	require.Error(t, taskErr)
	assert.ErrorIs(t, taskErr, fetch.ErrNetwork)

	assert.Equal(t, 1, reply.ackCount(), "partial failure must still yield exactly one ACK")

	// The healthy URL made it into the cache regardless.
	_, err = fx.worker.HandleFetch(ctx, mustRequest(t, good))
	require.NoError(t, err)
	assert.Equal(t, 1, fx.fetcher.callCount(good))
}

func TestWorkerImagePlaceholder(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t, WithStableHosts([]string{"app.example.com"}))
	fx.installAndActivate(t)

	url := "https://app.example.com/photo.jpg"
	fx.fetcher.fail(url, fmt.Errorf("%w: offline", fetch.ErrNetwork))

	req := mustRequest(t, url)
	req.Destination = fetch.DestinationImage

	resp, err := fx.worker.HandleFetch(ctx, req)
	require.NoError(t, err, "image miss plus network failure must not surface as an error")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "image/svg+xml", resp.ContentType())
}

func TestWorkerInstallSeedFailureIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t, WithManifest([]string{
		"https://app.example.com/",
		"https://app.example.com/missing.css",
	}))
	fx.fetcher.serve("https://app.example.com/", "text/html", "home")

	err := fx.worker.HandleInstall(ctx)
	require.Error(t, err)

	var seedErr *ManifestSeedError
	require.ErrorAs(t, err, &seedErr)
	assert.Equal(t, "https://app.example.com/missing.css", seedErr.Asset)

	assert.Equal(t, lifecycle.StateIdle, fx.worker.State())
	assert.Empty(t, fx.partitions(t), "failed install must discard the generation")
}

func TestWorkerSkipWaitingMessage(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t)
	require.NoError(t, fx.worker.HandleInstall(ctx))

	reply := &recordingPort{}
	ev, err := fx.dispatchMessage(t, control.TypeSkipWaiting, nil, reply)
	require.NoError(t, err)
	require.NoError(t, awaitTask(t, ev.Task))

	gen, ok := fx.worker.Current()
	require.True(t, ok)
	assert.Equal(t, Generation("v1"), gen)
	assert.Equal(t, 1, reply.ackCount())
}

func TestWorkerUnsupportedMessage(t *testing.T) {
	fx := newWorkerFixture(t)

	reply := &recordingPort{}
	ev, err := fx.dispatchMessage(t, "REFRESH_KEYS", nil, reply)
	require.Error(t, err)

	var unsupported *UnsupportedMessageError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "REFRESH_KEYS", unsupported.Type)

	assert.Equal(t, 1, reply.ackCount(), "unsupported messages are still acknowledged")
	assert.Nil(t, ev.Task)
}

func TestWorkerDispatchUnknownEvent(t *testing.T) {
	fx := newWorkerFixture(t)

	err := fx.worker.Dispatch(context.Background(), &Event{Kind: EventKind(99)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler")
}

func TestWorkerDispatchAbsorbsHandlerPanic(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t)
	fx.installAndActivate(t)

	err := fx.worker.Dispatch(ctx, &Event{Kind: EventFetch, Request: nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	// The worker keeps serving afterwards.
	url := "https://app.example.com/after"
	fx.fetcher.serve(url, "text/html", "still alive")

	resp, err := fx.worker.HandleFetch(ctx, mustRequest(t, url))
	require.NoError(t, err)
	assert.Equal(t, "still alive", string(resp.Body))
}

func TestWorkerSyncDataBroadcast(t *testing.T) {
	ctx := context.Background()
	dataURL := "https://app.example.com/data/items.json"
	fx := newWorkerFixture(t, WithDataURL(dataURL))
	fx.fetcher.serve(dataURL, "application/json", `{"items":["a","b"]}`)

	c := &fakeClient{id: "tab-1"}
	fx.worker.Clients().Register(c)

	task, err := fx.worker.HandleSync(ctx, "")
	require.NoError(t, err)
	require.NoError(t, awaitTask(t, task))

	msgs := c.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, background.MessageTypeDataSynced, msgs[0].Type)
	assert.Contains(t, fmt.Sprint(msgs[0].Payload), "items")
}

func TestWorkerSyncDataFailureReturnsToHost(t *testing.T) {
	ctx := context.Background()
	dataURL := "https://app.example.com/data/items.json"
	fx := newWorkerFixture(t, WithDataURL(dataURL))
	fx.fetcher.fail(dataURL, fmt.Errorf("%w: offline", fetch.ErrNetwork))

	task, err := fx.worker.HandleSync(ctx, "")
	require.NoError(t, err, "submission succeeds; the failure is the task outcome")

	taskErr := awaitTask(t, task)
	assert.ErrorIs(t, taskErr, fetch.ErrNetwork)
}

func TestWorkerPeriodicSyncNotifiesOnChange(t *testing.T) {
	ctx := context.Background()
	dataURL := "https://app.example.com/data/items.json"
	notifier := &recordingNotifier{}
	fx := newWorkerFixture(t,
		WithDataURL(dataURL),
		WithNotifier(notifier),
		WithUpdateInterval(0),
	)

	respondWithETag := func(etag string) {
		header := make(http.Header)
		header.Set("Content-Type", "application/json")
		header.Set("Etag", etag)
		fx.fetcher.respond(dataURL, &fetch.Response{Status: http.StatusOK, Header: header, Body: []byte("{}")})
	}

	// First check establishes the baseline without notifying.
	respondWithETag(`"a"`)
	task, err := fx.worker.HandlePeriodicSync(ctx, "")
	require.NoError(t, err)
	require.NoError(t, awaitTask(t, task))
	assert.Empty(t, notifier.notifications())

	// Changed validator raises the fixed-tag notification.
	respondWithETag(`"b"`)
	task, err = fx.worker.HandlePeriodicSync(ctx, "")
	require.NoError(t, err)
	require.NoError(t, awaitTask(t, task))

	notes := notifier.notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, background.TagUpdateData, notes[0].Tag)
	require.Len(t, notes[0].Actions, 2)
}

func TestWorkerHandlePush(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	fx := newWorkerFixture(t, WithNotifier(notifier))

	task, err := fx.worker.HandlePush(ctx, background.Push{
		Title: "New message",
		Body:  "You have mail",
		Tag:   "inbox",
	})
	require.NoError(t, err)
	require.NoError(t, awaitTask(t, task))

	notes := notifier.notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "New message", notes[0].Title)
	assert.Equal(t, "inbox", notes[0].Tag)
	require.Len(t, notes[0].Actions, 2)
	assert.Equal(t, background.ActionOpen, notes[0].Actions[0].Action)
	assert.Equal(t, background.ActionClose, notes[0].Actions[1].Action)
}

func TestWorkerNotificationClick(t *testing.T) {
	ctx := context.Background()

	t.Run("open focuses a connected client", func(t *testing.T) {
		fx := newWorkerFixture(t, WithPageURL("https://app.example.com/home"))
		c := &fakeClient{id: "tab-1"}
		fx.worker.Clients().Register(c)

		task, err := fx.worker.HandleNotificationClick(ctx, background.ActionOpen, "inbox")
		require.NoError(t, err)
		require.NoError(t, awaitTask(t, task))
		assert.Equal(t, 1, c.focusCount())
	})

	t.Run("open without clients opens the page", func(t *testing.T) {
		var mu sync.Mutex
		var opened []string
		opener := func(_ context.Context, url string) error {
			mu.Lock()
			defer mu.Unlock()
			opened = append(opened, url)
			return nil
		}

		fx := newWorkerFixture(t,
			WithPageURL("https://app.example.com/home"),
			WithOpener(opener),
		)

		task, err := fx.worker.HandleNotificationClick(ctx, background.ActionOpen, "inbox")
		require.NoError(t, err)
		require.NoError(t, awaitTask(t, task))

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"https://app.example.com/home"}, opened)
	})

	t.Run("close only dismisses", func(t *testing.T) {
		notifier := &recordingNotifier{}
		fx := newWorkerFixture(t, WithNotifier(notifier))
		c := &fakeClient{id: "tab-1"}
		fx.worker.Clients().Register(c)

		task, err := fx.worker.HandleNotificationClick(ctx, background.ActionClose, "inbox")
		require.NoError(t, err)
		require.NoError(t, awaitTask(t, task))

		assert.Equal(t, []string{"inbox"}, notifier.dismissals())
		assert.Equal(t, 0, c.focusCount())
	})
}

func TestWorkerRecoverResumesGeneration(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewMemoryBackend()
	fetcher := newCountingFetcher()
	fetcher.serve("https://app.example.com/", "text/html", "home v7")

	first, err := New(
		WithBackend(backend),
		WithFetcher(fetcher),
		WithVersion("v7"),
		WithManifest([]string{"https://app.example.com/"}),
		WithStableHosts([]string{"app.example.com"}),
	)
	require.NoError(t, err)
	require.NoError(t, first.HandleInstall(ctx))
	require.NoError(t, first.HandleActivate(ctx))
	require.NoError(t, first.Close())

	second, err := New(
		WithBackend(backend),
		WithFetcher(fetcher),
		WithStableHosts([]string{"app.example.com"}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	require.NoError(t, second.Recover(ctx))

	gen, ok := second.Current()
	require.True(t, ok)
	assert.Equal(t, Generation("v7"), gen)

	// The seeded asset is served from the recovered cache.
	resp, err := second.HandleFetch(ctx, mustRequest(t, "https://app.example.com/"))
	require.NoError(t, err)
	assert.Equal(t, "home v7", string(resp.Body))
	assert.Equal(t, 1, fetcher.callCount("https://app.example.com/"), "only the install fetch may hit the network")
}

func TestWorkerPruneEnforcesBound(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	fx := newWorkerFixture(t,
		WithStableHosts([]string{"app.example.com"}),
		WithMaxEntries(2),
		WithMetricsCollector(metrics),
	)
	fx.installAndActivate(t)

	for _, path := range []string{"/a.css", "/b.css", "/c.css"} {
		url := "https://app.example.com" + path
		fx.fetcher.serve(url, "text/css", path)
		_, err := fx.worker.HandleFetch(ctx, mustRequest(t, url))
		require.NoError(t, err)
	}
	require.Equal(t, 3, fx.staticLen(t, "v1"))

	evicted, err := fx.worker.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 2, fx.staticLen(t, "v1"))
	assert.Equal(t, int64(1), metrics.GetStats().EvictedEntries)

	evicted, err = fx.worker.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, evicted)
}

func TestWorkerPruneWithoutBoundIsNoop(t *testing.T) {
	fx := newWorkerFixture(t)
	fx.installAndActivate(t)

	evicted, err := fx.worker.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, evicted)
}

func TestWorkerClosedRejectsEvents(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t)
	require.NoError(t, fx.worker.Close())
	require.NoError(t, fx.worker.Close(), "close is idempotent")

	_, err := fx.worker.HandleFetch(ctx, mustRequest(t, "https://app.example.com/"))
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, fx.worker.HandleInstall(ctx), ErrClosed)
	assert.ErrorIs(t, fx.worker.Recover(ctx), ErrClosed)
}

func TestWorkerMetrics(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	fx := newWorkerFixture(t,
		WithStableHosts([]string{"app.example.com"}),
		WithMetricsCollector(metrics),
	)
	fx.installAndActivate(t)

	url := "https://app.example.com/app.css"
	fx.fetcher.serve(url, "text/css", "body{}")

	_, err := fx.worker.HandleFetch(ctx, mustRequest(t, url))
	require.NoError(t, err)
	_, err = fx.worker.HandleFetch(ctx, mustRequest(t, url))
	require.NoError(t, err)

	reply := &recordingPort{}
	ev, err := fx.dispatchMessage(t, control.TypeClearCache, nil, reply)
	require.NoError(t, err)
	require.NoError(t, awaitTask(t, ev.Task))

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.InstallCount)
	assert.Equal(t, int64(1), stats.ActivateCount)
	assert.Equal(t, int64(2), stats.FetchCount)
	assert.Equal(t, int64(2), stats.FetchCacheFirst)
	assert.Equal(t, int64(0), stats.FetchErrors)
	assert.Equal(t, int64(1), stats.MessageCount)
}

func TestWorkerHTTPHandler(t *testing.T) {
	fx := newWorkerFixture(t)
	fx.installAndActivate(t)

	url := "https://app.example.com/page"
	fx.fetcher.serve(url, "text/html", "served")

	rec := httptest.NewRecorder()
	fx.worker.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "served", rec.Body.String())
}

func TestWorkerCustomTask(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t)

	var ran sync.WaitGroup
	ran.Add(1)
	fx.worker.Tasks().Register("warm-cache", background.TaskOneShot, func(context.Context) error {
		ran.Done()
		return nil
	})

	task, err := fx.worker.HandleSync(ctx, "warm-cache")
	require.NoError(t, err)
	require.NoError(t, awaitTask(t, task))
	ran.Wait()

	_, err = fx.worker.HandleSync(ctx, "no-such-task")
	assert.ErrorIs(t, err, background.ErrUnknownTask)
}

func TestEventKindString(t *testing.T) {
	for kind, want := range map[EventKind]string{
		EventInstall:           "install",
		EventActivate:          "activate",
		EventFetch:             "fetch",
		EventMessage:           "message",
		EventSync:              "sync",
		EventPeriodicSync:      "periodicsync",
		EventPush:              "push",
		EventNotificationClick: "notificationclick",
		EventKind(99):          "unknown",
	} {
		assert.Equal(t, want, kind.String())
	}
}

func TestTranslateError(t *testing.T) {
	t.Run("seed error", func(t *testing.T) {
		cause := &lifecycle.SeedError{Asset: "https://app.example.com/a.css"}
		err := translateError(fmt.Errorf("install: %w", cause))

		var seedErr *ManifestSeedError
		require.ErrorAs(t, err, &seedErr)
		assert.Equal(t, "https://app.example.com/a.css", seedErr.Asset)
		assert.ErrorAs(t, errors.Unwrap(seedErr), &cause)
	})

	t.Run("unsupported message", func(t *testing.T) {
		err := translateError(&control.UnsupportedMessageError{Type: "NOPE"})

		var unsupported *UnsupportedMessageError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, "NOPE", unsupported.Type)
	})

	t.Run("nil and passthrough", func(t *testing.T) {
		assert.NoError(t, translateError(nil))

		plain := errors.New("boom")
		assert.Equal(t, plain, translateError(plain))
	})
}
