package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/roach88/taskly/internal/config"
	"github.com/roach88/taskly/internal/couch"
	"github.com/roach88/taskly/internal/task"
)

const meterName = "github.com/roach88/taskly/internal/engine"

// Store is the slice of the local store replication needs.
// Implemented by *store.Store.
type Store interface {
	All(ctx context.Context) ([]task.Task, error)
	Cursor(ctx context.Context) (task.Cursor, bool, error)
	ApplyRemote(ctx context.Context, tasks []task.Task, seq string) (int, error)
}

// Notifier receives state snapshots and data-changed signals.
//
// StateChanged is called while the engine's state lock is held, so
// implementations must not call back into the Engine.
type Notifier interface {
	StateChanged(State)
	DataChanged()
}

type nopNotifier struct{}

func (nopNotifier) StateChanged(State) {}
func (nopNotifier) DataChanged()       {}

// Engine replicates the local store with a CouchDB-compatible server.
//
// Thread-safety model:
//   - Start, Stop, Restart, RunOnce, State: safe from any goroutine
//   - at most one session runs at a time; the session pointer doubles as the
//     running flag and is guarded by mu together with the state snapshot
type Engine struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	meter    metric.Meter
	metrics  *Metrics
	http     *http.Client
	now      func() int64
	interval time.Duration

	mu      sync.RWMutex
	state   State
	session *session

	wg sync.WaitGroup
}

// session is one connect-then-loop run. Its token is never reused: Stop
// cancels it and a later Start creates a fresh one.
type session struct {
	mode      string
	client    *couch.Client
	interval  time.Duration
	cancelled atomic.Bool
	stop      chan struct{}
	once      sync.Once
}

func (s *session) cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		close(s.stop)
	})
}

func (s *session) active() bool {
	return !s.cancelled.Load()
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithNotifier sets the state/data observer.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithMeter sets the meter used for sync metrics. Default: the global meter
// provider.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) {
		e.meter = m
	}
}

// WithHTTPClient sets the HTTP client handed to every session's couch client.
func WithHTTPClient(hc *http.Client) Option {
	return func(e *Engine) {
		e.http = hc
	}
}

// WithInterval overrides the configured pause between cycles.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.interval = d
	}
}

// WithClock sets the millisecond clock stamped into lastSynced.
func WithClock(now func() int64) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an idle engine over st in the disabled state.
func New(st Store, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		notifier: nopNotifier{},
		logger:   slog.Default(),
		meter:    otel.Meter(meterName),
		now:      func() int64 { return time.Now().UnixMilli() },
		state:    InitialState(),
	}
	for _, opt := range opts {
		opt(e)
	}

	m, err := NewMetrics(e.meter)
	if err != nil {
		e.logger.Warn("sync metrics disabled", "error", err)
		m, _ = NewMetrics(noop.NewMeterProvider().Meter(meterName))
	}
	e.metrics = m
	return e
}

// State returns a snapshot of the current replication state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.clone()
}

// Start begins replication according to cfg.
//
// Local mode cancels any running session and moves to disabled without
// touching the network. Otherwise cfg is validated and, unless a session is
// already running, a new session goroutine is launched. Start never blocks on
// the network.
func (e *Engine) Start(cfg config.Sync) error {
	if !cfg.Enabled() {
		e.disable(cfg)
		return nil
	}
	if err := validate(cfg); err != nil {
		return err
	}

	e.mu.Lock()
	if e.session != nil {
		e.mu.Unlock()
		return nil
	}
	sess := e.newSession(cfg)
	e.session = sess
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Info("sync starting", "mode", cfg.Mode, "url", sess.client.DatabaseURL(), "interval", sess.interval)
	go e.run(sess)
	return nil
}

// Stop cancels the running session and moves to paused. A request already in
// flight is left to finish; its outcome is discarded.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.cancel()
		e.session = nil
	}
	e.applyLocked(Event{Kind: EventStop})
}

// Restart stops the current session and starts a new one with cfg.
func (e *Engine) Restart(cfg config.Sync) error {
	e.Stop()
	return e.Start(cfg)
}

// Wait blocks until every session goroutine has exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// RunOnce connects and runs a single push/pull cycle synchronously. It fails
// with ErrSessionRunning while a background session is active.
func (e *Engine) RunOnce(ctx context.Context, cfg config.Sync) error {
	if !cfg.Enabled() {
		e.disable(cfg)
		return nil
	}
	if err := validate(cfg); err != nil {
		return err
	}

	e.mu.Lock()
	if e.session != nil {
		e.mu.Unlock()
		return ErrSessionRunning
	}
	sess := e.newSession(cfg)
	e.session = sess
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.session == sess {
			e.session = nil
		}
		e.mu.Unlock()
		sess.cancel()
	}()

	if err := e.connect(ctx, sess); err != nil {
		return err
	}
	_, err := e.step(ctx, sess)
	return err
}

func (e *Engine) disable(cfg config.Sync) {
	mode := string(cfg.Mode)
	if mode == "" {
		mode = string(config.ModeLocal)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.cancel()
		e.session = nil
	}
	e.applyLocked(Event{Kind: EventDisable, Mode: mode})
}

func (e *Engine) newSession(cfg config.Sync) *session {
	var opts []couch.Option
	if e.http != nil {
		opts = append(opts, couch.WithHTTPClient(e.http))
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, couch.WithBasicAuth(cfg.Username, cfg.Password))
	}

	interval := cfg.Interval()
	if e.interval > 0 {
		interval = e.interval
	}
	return &session{
		mode:     string(cfg.Mode),
		client:   couch.New(cfg.URL, cfg.DBName, opts...),
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func validate(cfg config.Sync) error {
	switch cfg.Mode {
	case config.ModeSelfHosted, config.ModeCloud:
	default:
		return newConfigError("unknown sync mode " + string(cfg.Mode))
	}
	if cfg.URL == "" {
		return newConfigError("sync url is empty")
	}
	if cfg.DBName == "" {
		return newConfigError("sync database name is empty")
	}
	return nil
}

// run is the session goroutine: connect once, then cycle until cancelled.
func (e *Engine) run(sess *session) {
	defer e.wg.Done()

	// Network calls are bounded by the HTTP client timeout, not by Stop.
	ctx := context.Background()

	if err := e.connect(ctx, sess); err != nil {
		return
	}

	timer := time.NewTimer(sess.interval)
	defer timer.Stop()

	for sess.active() {
		if ok, _ := e.step(ctx, sess); !ok {
			return
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(sess.interval)

		select {
		case <-sess.stop:
			return
		case <-timer.C:
		}
	}
}

// connect moves to connecting and ensures the remote database exists. On
// failure the session is cleared so a later Start retries from scratch.
func (e *Engine) connect(ctx context.Context, sess *session) error {
	if !e.applyIfCurrent(sess, Event{Kind: EventConnect, Mode: sess.mode}) {
		return errCancelled
	}

	err := sess.client.EnsureDB(ctx)
	if err == nil {
		return nil
	}

	cerr := newConnectionError(err)
	e.logger.Error("sync connect failed", "url", sess.client.DatabaseURL(), "error", err)

	e.mu.Lock()
	if e.session == sess && sess.active() {
		e.session = nil
		e.applyLocked(Event{Kind: EventConnectFailed, Err: cerr.Error()})
	}
	e.mu.Unlock()
	sess.cancel()
	return cerr
}

var errCancelled = errors.New("sync session cancelled")

// step runs one cycle and commits its outcome. ok is false when the session
// was cancelled and the caller must exit without further transitions.
func (e *Engine) step(ctx context.Context, sess *session) (ok bool, err error) {
	if !e.applyIfCurrent(sess, Event{Kind: EventCycleStart}) {
		return false, errCancelled
	}

	err = e.cycle(ctx, sess)
	if errors.Is(err, errCancelled) {
		return false, err
	}

	if err != nil {
		e.metrics.cycle(ctx, "error")
		e.logger.Error("sync cycle failed", "error", err)
		if !e.applyIfCurrent(sess, Event{Kind: EventCycleFailed, Err: err.Error()}) {
			return false, err
		}
		return true, err
	}

	e.metrics.cycle(ctx, "ok")
	if !e.applyIfCurrent(sess, Event{Kind: EventCycleSucceeded, At: e.now()}) {
		return false, nil
	}
	e.notifier.DataChanged()
	return true, nil
}

// applyIfCurrent commits ev only while sess is still the live session.
func (e *Engine) applyIfCurrent(sess *session, ev Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != sess || !sess.active() {
		return false
	}
	return e.applyLocked(ev)
}

// applyLocked must be called with e.mu held.
func (e *Engine) applyLocked(ev Event) bool {
	next, err := Transition(e.state, ev)
	if err != nil {
		e.logger.Warn("sync transition rejected", "error", err)
		return false
	}
	e.state = next
	e.notifier.StateChanged(next.clone())
	return true
}
