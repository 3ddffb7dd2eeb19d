package edgecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/edgecache/background"
	"github.com/hupe1980/edgecache/blobstore"
	"github.com/hupe1980/edgecache/cachestore"
	"github.com/hupe1980/edgecache/client"
	"github.com/hupe1980/edgecache/control"
	"github.com/hupe1980/edgecache/fetch"
	"github.com/hupe1980/edgecache/internal/pool"
	"github.com/hupe1980/edgecache/lifecycle"
	"github.com/hupe1980/edgecache/strategy"
)

// Generation identifies one versioned snapshot of the static cache.
type Generation = lifecycle.Generation

// Task observes an enqueued asynchronous operation. Done is closed when the
// operation finishes; Err reports its outcome afterwards.
type Task interface {
	Done() <-chan struct{}
	Err() error
	Wait(ctx context.Context) error
}

// EventKind identifies a host-environment event.
type EventKind int

const (
	// EventInstall seeds a new generation with the asset manifest.
	EventInstall EventKind = iota

	// EventActivate promotes the waiting generation and sweeps stale ones.
	EventActivate

	// EventFetch routes a request through the caching strategies.
	EventFetch

	// EventMessage dispatches a control message from the host application.
	EventMessage

	// EventSync fires a one-shot background task.
	EventSync

	// EventPeriodicSync fires a periodic background task.
	EventPeriodicSync

	// EventPush raises a notification for an external push.
	EventPush

	// EventNotificationClick reacts to a clicked notification action.
	EventNotificationClick
)

// String implements the fmt.Stringer interface.
func (k EventKind) String() string {
	switch k {
	case EventInstall:
		return "install"
	case EventActivate:
		return "activate"
	case EventFetch:
		return "fetch"
	case EventMessage:
		return "message"
	case EventSync:
		return "sync"
	case EventPeriodicSync:
		return "periodicsync"
	case EventPush:
		return "push"
	case EventNotificationClick:
		return "notificationclick"
	default:
		return "unknown"
	}
}

// Event is a host-environment event routed through the worker's dispatch
// table. Kind selects the handler; the payload fields carry the event's
// input, and Response/Task receive the handler's output.
type Event struct {
	Kind EventKind

	// Version overrides the configured generation tag for EventInstall.
	Version Generation

	// Request is the inbound request for EventFetch.
	Request *fetch.Request

	// Message and Reply carry the control message for EventMessage.
	Message control.Message
	Reply   control.ReplyPort

	// Tag selects the task for EventSync and EventPeriodicSync, and names
	// the notification for EventNotificationClick. Empty selects the
	// built-in task for the event kind.
	Tag string

	// Action is the clicked action id for EventNotificationClick.
	Action string

	// Push is the decoded payload for EventPush.
	Push background.Push

	// Response receives the fetch result for EventFetch.
	Response *fetch.Response

	// Task receives the handle of enqueued asynchronous work; await it to
	// observe completion.
	Task Task
}

type handlerFunc func(ctx context.Context, ev *Event) error

// Worker wires the cache store, strategy router, lifecycle manager,
// background tasks and control channel behind a single event surface.
// All exported methods are safe for concurrent use.
type Worker struct {
	store      *cachestore.Store
	backend    blobstore.Backend
	fetcher    fetch.Fetcher
	lc         *lifecycle.Manager
	router     *strategy.Router
	clients    *client.Registry
	tasks      *background.Manager
	ctrl       *control.Dispatcher
	pool       *pool.Pool
	handlers   map[EventKind]handlerFunc
	version    Generation
	manifest   []string
	maxEntries int
	metrics    MetricsCollector
	logger     *Logger
	closed     atomic.Bool
}

// New creates a Worker. Without options it caches in memory, fetches over
// http.DefaultClient and installs generation "v1" with an empty manifest.
func New(optFns ...Option) (*Worker, error) {
	opts := applyOptions(optFns)

	backend := opts.backend
	if backend == nil {
		if opts.cacheDir != "" {
			local, err := blobstore.NewLocalBackend(opts.cacheDir)
			if err != nil {
				return nil, err
			}
			backend = local
		} else {
			backend = blobstore.NewMemoryBackend()
		}
	}

	fetcher := opts.fetcher
	if fetcher == nil {
		fetcher = fetch.NewHTTPFetcher(nil)
	}

	store := cachestore.New(backend,
		cachestore.WithCodec(opts.codec),
		cachestore.WithCompression(opts.compression),
		cachestore.WithLogger(opts.logger.Logger),
	)

	clients := client.NewRegistry(
		client.WithOpener(opts.opener),
		client.WithLogger(opts.logger.Logger),
	)

	lc := lifecycle.New(store, backend, fetcher,
		lifecycle.WithManifest(opts.manifest),
		lifecycle.WithSeedConcurrency(opts.seedConcurrency),
		lifecycle.WithMaxEntries(opts.maxEntries),
		lifecycle.WithClaimer(clients),
		lifecycle.WithLogger(opts.logger.Logger),
	)

	router := strategy.NewRouter(store, lc, fetcher,
		strategy.WithClassifier(strategy.NewClassifier(opts.dataPrefixes, opts.stableHosts)),
		strategy.WithLogger(opts.logger.Logger),
	)

	p := pool.New(opts.poolWorkers, pool.WithLogger(opts.logger.Logger))

	bgOpts := []background.Option{
		background.WithRateLimit(rate.Every(opts.updateInterval), 1),
		background.WithLogger(opts.logger.Logger),
	}
	if opts.notifier != nil {
		bgOpts = append(bgOpts, background.WithNotifier(opts.notifier))
	}
	if opts.dataURL != "" {
		bgOpts = append(bgOpts, background.WithDataURL(opts.dataURL))
	}
	if opts.pageURL != "" {
		bgOpts = append(bgOpts, background.WithPageURL(opts.pageURL))
	}
	if opts.iconURL != "" {
		bgOpts = append(bgOpts, background.WithIcon(opts.iconURL))
	}
	tasks := background.New(fetcher, clients, p, bgOpts...)

	ctrlOpts := []control.Option{
		control.WithFillConcurrency(opts.fillConcurrency),
		control.WithLogger(opts.logger.Logger),
	}
	if opts.baseURL != "" {
		base, err := url.Parse(opts.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		ctrlOpts = append(ctrlOpts, control.WithBaseURL(base))
	}
	ctrl := control.NewDispatcher(store, lc, fetcher, p, ctrlOpts...)

	w := &Worker{
		store:      store,
		backend:    backend,
		fetcher:    fetcher,
		lc:         lc,
		router:     router,
		clients:    clients,
		tasks:      tasks,
		ctrl:       ctrl,
		pool:       p,
		version:    Generation(opts.version),
		manifest:   opts.manifest,
		maxEntries: opts.maxEntries,
		metrics:    opts.metricsCollector,
		logger:     opts.logger,
	}

	w.handlers = map[EventKind]handlerFunc{
		EventInstall:           w.handleInstall,
		EventActivate:          w.handleActivate,
		EventFetch:             w.handleFetch,
		EventMessage:           w.handleMessage,
		EventSync:              w.handleSync,
		EventPeriodicSync:      w.handlePeriodicSync,
		EventPush:              w.handlePush,
		EventNotificationClick: w.handleNotificationClick,
	}

	return w, nil
}

// Dispatch routes one host event through the dispatch table. A handler
// panic is absorbed and returned as an error; no event crashes the worker.
func (w *Worker) Dispatch(ctx context.Context, ev *Event) (err error) {
	if w.closed.Load() {
		return ErrClosed
	}

	h, ok := w.handlers[ev.Kind]
	if !ok {
		return fmt.Errorf("edgecache: no handler for event %q", ev.Kind)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("edgecache: %s handler panic: %v", ev.Kind, r)
			w.logger.ErrorContext(ctx, "event handler panic",
				"event", ev.Kind.String(),
				"panic", r,
			)
		}
	}()

	return h(ctx, ev)
}

// HandleFetch routes a request through the configured caching strategy and
// returns the response. Offline fallbacks mean a network failure on a
// network-only route still yields a response, not an error.
func (w *Worker) HandleFetch(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	ev := &Event{Kind: EventFetch, Request: req}
	if err := w.Dispatch(ctx, ev); err != nil {
		return nil, err
	}
	return ev.Response, nil
}

// HandleInstall seeds a new generation with the configured manifest and
// leaves it waiting for activation. Any failed manifest asset aborts the
// install and discards the generation.
func (w *Worker) HandleInstall(ctx context.Context) error {
	return w.Dispatch(ctx, &Event{Kind: EventInstall})
}

// HandleActivate promotes the waiting generation, deletes every stale
// partition and claims all connected clients.
func (w *Worker) HandleActivate(ctx context.Context) error {
	return w.Dispatch(ctx, &Event{Kind: EventActivate})
}

// HandleMessage dispatches a control message. Exactly one ACK reply is sent
// on the reply port once the mutation is enqueued; the ACK confirms
// receipt, not completion.
func (w *Worker) HandleMessage(ctx context.Context, msg control.Message, reply control.ReplyPort) error {
	return w.Dispatch(ctx, &Event{Kind: EventMessage, Message: msg, Reply: reply})
}

// HandleSync fires a one-shot background task. An empty tag fires the
// built-in sync-data task. The returned handle observes completion.
func (w *Worker) HandleSync(ctx context.Context, tag string) (Task, error) {
	ev := &Event{Kind: EventSync, Tag: tag}
	err := w.Dispatch(ctx, ev)
	return ev.Task, err
}

// HandlePeriodicSync fires a periodic background task. An empty tag fires
// the built-in update-data check.
func (w *Worker) HandlePeriodicSync(ctx context.Context, tag string) (Task, error) {
	ev := &Event{Kind: EventPeriodicSync, Tag: tag}
	err := w.Dispatch(ctx, ev)
	return ev.Task, err
}

// HandlePush raises a user-visible notification for an external push event.
func (w *Worker) HandlePush(ctx context.Context, push background.Push) (Task, error) {
	ev := &Event{Kind: EventPush, Push: push}
	err := w.Dispatch(ctx, ev)
	return ev.Task, err
}

// HandleNotificationClick reacts to a clicked notification action: "open"
// focuses an existing client or opens the configured page, "close" only
// dismisses the notification.
func (w *Worker) HandleNotificationClick(ctx context.Context, action, tag string) (Task, error) {
	ev := &Event{Kind: EventNotificationClick, Action: action, Tag: tag}
	err := w.Dispatch(ctx, ev)
	return ev.Task, err
}

func (w *Worker) handleInstall(ctx context.Context, ev *Event) error {
	start := time.Now()
	gen := ev.Version
	if gen == "" {
		gen = w.version
	}
	err := translateError(w.lc.Install(ctx, gen))
	duration := time.Since(start)
	w.metrics.RecordInstall(duration, err)
	w.logger.LogInstall(ctx, string(gen), len(w.manifest), err)
	return err
}

func (w *Worker) handleActivate(ctx context.Context, ev *Event) error {
	start := time.Now()
	gen, _ := w.lc.Waiting()
	err := translateError(w.lc.Activate(ctx))
	duration := time.Since(start)
	w.metrics.RecordActivate(duration, err)
	w.logger.LogActivate(ctx, string(gen), err)
	return err
}

func (w *Worker) handleFetch(ctx context.Context, ev *Event) error {
	start := time.Now()
	decision := w.router.Route(ev.Request)
	resp, err := w.router.Handle(ctx, ev.Request)
	duration := time.Since(start)
	err = translateError(err)
	w.metrics.RecordFetch(decision.String(), duration, err)

	status := 0
	if resp != nil {
		status = resp.Status
	}
	w.logger.LogFetch(ctx, ev.Request.URL.String(), decision.String(), status, err)

	ev.Response = resp
	return err
}

func (w *Worker) handleMessage(ctx context.Context, ev *Event) error {
	task, err := w.ctrl.Dispatch(ctx, ev.Message, ev.Reply)
	err = translateError(err)
	w.metrics.RecordMessage(ev.Message.Type, err)
	w.logger.LogMessage(ctx, ev.Message.Type, err)
	if task != nil {
		ev.Task = task
	}
	return err
}

func (w *Worker) handleSync(ctx context.Context, ev *Event) error {
	return w.fireTask(ctx, ev, background.TagSyncData)
}

func (w *Worker) handlePeriodicSync(ctx context.Context, ev *Event) error {
	return w.fireTask(ctx, ev, background.TagUpdateData)
}

func (w *Worker) fireTask(ctx context.Context, ev *Event, defaultTag string) error {
	tag := ev.Tag
	if tag == "" {
		tag = defaultTag
	}
	task, err := w.tasks.Fire(ctx, tag)
	w.metrics.RecordTask(tag, err)
	w.logger.LogTask(ctx, tag, err)
	if task != nil {
		ev.Task = task
	}
	return err
}

func (w *Worker) handlePush(ctx context.Context, ev *Event) error {
	task, err := w.tasks.HandlePush(ctx, ev.Push)
	w.metrics.RecordTask("push", err)
	w.logger.LogTask(ctx, "push", err)
	if task != nil {
		ev.Task = task
	}
	return err
}

func (w *Worker) handleNotificationClick(ctx context.Context, ev *Event) error {
	task, err := w.tasks.HandleNotificationClick(ctx, ev.Action, ev.Tag)
	w.metrics.RecordTask("notification-click", err)
	w.logger.LogTask(ctx, "notification-click", err)
	if task != nil {
		ev.Task = task
	}
	return err
}

// Recover resumes serving the last activated generation after a restart by
// loading the persisted current-generation pointer. A fresh backend leaves
// the worker idle.
func (w *Worker) Recover(ctx context.Context) error {
	if w.closed.Load() {
		return ErrClosed
	}
	gen, err := w.lc.Recover(ctx)
	w.logger.LogRecover(ctx, string(gen), err)
	return err
}

// Prune enforces the configured entry bound on the active static partition,
// evicting oldest-inserted entries first. Hosts may call it
// opportunistically; activation also enforces the bound.
func (w *Worker) Prune(ctx context.Context) (int, error) {
	if w.maxEntries <= 0 {
		return 0, nil
	}

	var evicted int
	err := w.lc.GuardFill(func(gen lifecycle.Generation) error {
		p, err := w.store.Open(ctx, gen.StaticPartition())
		if err != nil {
			return err
		}
		n, err := w.store.EnforceBound(ctx, p, w.maxEntries)
		evicted = n
		return err
	})
	if errors.Is(err, lifecycle.ErrNoActiveGeneration) {
		return 0, nil
	}

	w.metrics.RecordEviction(evicted)
	return evicted, translateError(err)
}

// Version returns the generation tag HandleInstall installs by default.
func (w *Worker) Version() Generation {
	return w.version
}

// State returns the lifecycle state.
func (w *Worker) State() lifecycle.State {
	return w.lc.State()
}

// Current returns the active generation, if any.
func (w *Worker) Current() (Generation, bool) {
	return w.lc.Current()
}

// Clients returns the client registry where the host attaches and detaches
// client connections.
func (w *Worker) Clients() *client.Registry {
	return w.clients
}

// Tasks returns the background task manager, e.g. for registering custom
// tasks next to the built-in sync-data and update-data ones.
func (w *Worker) Tasks() *background.Manager {
	return w.tasks
}

// HTTPHandler returns an http.Handler serving requests through HandleFetch.
func (w *Worker) HTTPHandler() http.Handler {
	return fetch.NewHandler(w.HandleFetch)
}

// Close drains the task pool and releases backend resources. Subsequent
// events are rejected with ErrClosed.
func (w *Worker) Close() error {
	if w == nil {
		return nil
	}
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	w.pool.Close()

	if c, ok := w.backend.(io.Closer); ok {
		return c.Close()
	}

	return nil
}
