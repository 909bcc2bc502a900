// Package session runs one anonymized chat session at a time: it owns the
// transport, the per-session alias registry and the badge lookup, and pushes
// every incoming message through the formatter into the renderer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/anonchat/alias"
	"github.com/onnwee/anonchat/badges"
	"github.com/onnwee/anonchat/chat"
	"github.com/onnwee/anonchat/telemetry"
)

var (
	ErrAlreadyRunning = errors.New("session already running")
	ErrNotRunning     = errors.New("session not running")
	ErrNoChannel      = errors.New("channel is required")
)

// State is the controller state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
)

// badgeLoadTimeout bounds the badge fetch of a Start.
const badgeLoadTimeout = 10 * time.Second

// ConnState tracks the transport of a running session. It does not affect
// State: a session whose connection failed is still running until stopped.
type ConnState string

const (
	ConnConnecting ConnState = "connecting"
	ConnConnected  ConnState = "connected"
	ConnFailed     ConnState = "failed"
	ConnClosed     ConnState = "closed"
)

// TransportFactory returns a new, unconnected transport for each session.
type TransportFactory func() chat.Transport

// BadgeLoader fetches the badge images available in a channel.
type BadgeLoader interface {
	LoadBadges(ctx context.Context, channel string) (badges.Lookup, error)
}

// BadgeLoaderFunc adapts a function to BadgeLoader.
type BadgeLoaderFunc func(ctx context.Context, channel string) (badges.Lookup, error)

func (f BadgeLoaderFunc) LoadBadges(ctx context.Context, channel string) (badges.Lookup, error) {
	return f(ctx, channel)
}

// Params configures a session. A nil Pool falls back to the controller's
// default pool source.
type Params struct {
	Channel string
	Pool    alias.Pool
}

// Status is a point-in-time view of the controller.
type Status struct {
	State      State     `json:"state"`
	SessionID  string    `json:"session_id,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	Connection ConnState `json:"connection,omitempty"`
	PoolSize   int       `json:"pool_size"`
	Badges     int       `json:"badges"`
	Aliases    int       `json:"aliases"`
	Messages   int64     `json:"messages"`
	Fatal      string    `json:"fatal,omitempty"`
}

// Controller starts and stops chat sessions. Its methods are safe for
// concurrent use.
type Controller struct {
	mu  sync.Mutex
	cur *run
	// starting holds the channel of a Start still loading badges.
	starting string

	newTransport TransportFactory
	renderer     chat.Renderer
	formatter    chat.Formatter
	badgeLoader  BadgeLoader
	defaultPool  func() alias.Pool
	aliasOpts    []alias.Option
	onStart      []func(sessionID, channel string)
	log          *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithBadgeLoader sets the source of badge images. Without one every session
// runs with an empty lookup.
func WithBadgeLoader(l BadgeLoader) Option { return func(c *Controller) { c.badgeLoader = l } }

// WithFormatter sets the time zone and layout of rendered lines.
func WithFormatter(f chat.Formatter) Option { return func(c *Controller) { c.formatter = f } }

// WithDefaultPool supplies the pool used when Params.Pool is nil.
func WithDefaultPool(fn func() alias.Pool) Option { return func(c *Controller) { c.defaultPool = fn } }

// WithAliasOptions passes options to every per-session registry.
func WithAliasOptions(opts ...alias.Option) Option {
	return func(c *Controller) { c.aliasOpts = append(c.aliasOpts, opts...) }
}

// OnStart registers a hook run at the beginning of every session, before the
// transport connects.
func OnStart(fn func(sessionID, channel string)) Option {
	return func(c *Controller) { c.onStart = append(c.onStart, fn) }
}

// NewController returns a stopped controller.
func NewController(newTransport TransportFactory, renderer chat.Renderer, opts ...Option) *Controller {
	c := &Controller{
		newTransport: newTransport,
		renderer:     renderer,
		log:          slog.Default().With(slog.String("component", "session")),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// run is one session. mu serializes event handling and guards the fields
// below it.
type run struct {
	id        string
	channel   string
	startedAt time.Time
	poolSize  int
	lookup    badges.Lookup
	transport chat.Transport
	done      chan struct{}

	mu       sync.Mutex
	registry *alias.Registry
	conn     ConnState
	messages int64
	fatal    error
	stopped  bool
}

// Start begins a session for p.Channel. It loads the badge lookup, registers a
// single message handler on a fresh transport and connects in the background.
// Connection failures are logged and reported in Status; they do not stop the
// session.
//
// The controller lock is not held while badges load or OnStart hooks run;
// meanwhile Status reports StateStarting and further Starts fail with
// ErrAlreadyRunning.
func (c *Controller) Start(ctx context.Context, p Params) (Status, error) {
	channel := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(p.Channel), "#"))
	if channel == "" {
		return Status{}, ErrNoChannel
	}
	pool := p.Pool
	if pool == nil && c.defaultPool != nil {
		pool = c.defaultPool()
	}

	c.mu.Lock()
	if c.cur != nil || c.starting != "" {
		c.mu.Unlock()
		return Status{}, ErrAlreadyRunning
	}
	c.starting = channel
	c.mu.Unlock()
	committed := false
	defer func() {
		if !committed {
			c.mu.Lock()
			c.starting = ""
			c.mu.Unlock()
		}
	}()

	ctx, span := telemetry.StartSpan(ctx, "session", "session.start", telemetry.ChannelAttr(channel))
	defer span.End()

	r := &run{
		id:        uuid.NewString(),
		channel:   channel,
		startedAt: time.Now().UTC(),
		poolSize:  len(pool),
		registry:  alias.NewRegistry(pool, c.aliasOpts...),
		conn:      ConnConnecting,
		done:      make(chan struct{}),
	}
	log := c.log.With(slog.String("session_id", r.id), slog.String("channel", channel))

	if len(pool) == 0 {
		log.Warn("alias pool is empty; the first message will halt the session")
	}

	r.lookup = badges.Lookup{}
	if c.badgeLoader != nil {
		loadCtx, cancel := context.WithTimeout(ctx, badgeLoadTimeout)
		lookup, err := c.badgeLoader.LoadBadges(loadCtx, channel)
		cancel()
		if err != nil {
			telemetry.RecordError(span, err)
			log.Warn("badge load failed; continuing without badge images", slog.Any("err", err))
		} else if lookup != nil {
			r.lookup = lookup
		}
	}

	for _, fn := range c.onStart {
		fn(r.id, channel)
	}

	r.transport = c.newTransport()
	r.transport.OnEvent(func(ev chat.Event) { c.handle(r, log, ev) })
	r.transport.OnConnect(func() {
		r.mu.Lock()
		r.conn = ConnConnected
		r.mu.Unlock()
		log.Info("chat connected")
	})
	r.transport.Join(channel)

	c.mu.Lock()
	c.cur = r
	c.starting = ""
	committed = true
	c.mu.Unlock()
	telemetry.SetSessionState(true, false)
	telemetry.SetGauge(telemetry.AliasesAssigned, 0)

	go func() {
		defer close(r.done)
		err := r.transport.Connect()
		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil && !r.stopped {
			r.conn = ConnFailed
			telemetry.Inc(telemetry.ConnectFailures)
			log.Error("chat connection failed", slog.Any("err", err))
			return
		}
		r.conn = ConnClosed
	}()

	log.Info("session started", slog.Int("pool_size", r.poolSize), slog.Int("badges", r.lookup.Len()))
	telemetry.SetSpanSuccess(span)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked(), nil
}

// handle formats and renders one event. Events of a session are handled one
// at a time, in delivery order.
func (c *Controller) handle(r *run, log *slog.Logger, ev chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	telemetry.Inc(telemetry.MessagesReceived)
	if r.stopped {
		telemetry.IncDropped("stopped")
		return
	}
	if r.fatal != nil {
		telemetry.IncDropped("fatal")
		return
	}

	var (
		rec chat.DisplayRecord
		err error
	)
	telemetry.TimeFunc(telemetry.PipelineDuration, func() {
		rec, err = c.formatter.Format(ev, r.registry, r.lookup)
		if err == nil && c.renderer != nil {
			c.renderer.Render(rec)
		}
	})
	if err != nil {
		if errors.Is(err, alias.ErrEmptyPool) {
			r.fatal = err
			telemetry.SetSessionState(true, true)
			telemetry.IncDropped("fatal")
			log.Error("session halted: no pseudonym can be assigned", slog.Any("err", err))
			return
		}
		telemetry.IncDropped("format")
		log.Warn("message dropped", slog.String("message_id", ev.ID), slog.Any("err", err))
		return
	}
	r.messages++
	telemetry.SetGauge(telemetry.AliasesAssigned, float64(r.registry.Len()))
}

// Stop disconnects the running session. An event already being handled is
// allowed to finish; later deliveries are dropped. A session still starting
// cannot be stopped yet: Stop returns ErrNotRunning with StateStarting.
func (c *Controller) Stop() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.cur
	if r == nil {
		return c.idleStatusLocked(), ErrNotRunning
	}
	c.cur = nil

	r.mu.Lock()
	r.stopped = true
	final := r.statusLocked()
	r.mu.Unlock()

	log := c.log.With(slog.String("session_id", r.id), slog.String("channel", r.channel))
	if err := r.transport.Disconnect(); err != nil {
		log.Warn("chat disconnect", slog.Any("err", err))
	}
	telemetry.SetSessionState(false, false)
	log.Info("session stopped", slog.Int64("messages", final.Messages), slog.Int("aliases", final.Aliases))

	final.State = StateStopped
	return final, nil
}

// Shutdown stops the running session, if any, and waits for its transport to
// return or ctx to end.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	if _, err := c.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for chat transport: %w", ctx.Err())
	}
}

// Status reports the controller state and, when running, the session details.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return c.idleStatusLocked()
	}
	c.cur.mu.Lock()
	defer c.cur.mu.Unlock()
	return c.cur.statusLocked()
}

// Running reports whether a session is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

func (c *Controller) idleStatusLocked() Status {
	if c.starting != "" {
		return Status{State: StateStarting, Channel: c.starting}
	}
	return Status{State: StateStopped}
}

func (r *run) statusLocked() Status {
	st := Status{
		State:      StateRunning,
		SessionID:  r.id,
		Channel:    r.channel,
		StartedAt:  r.startedAt,
		Connection: r.conn,
		PoolSize:   r.poolSize,
		Badges:     r.lookup.Len(),
		Aliases:    r.registry.Len(),
		Messages:   r.messages,
	}
	if r.fatal != nil {
		st.Fatal = r.fatal.Error()
	}
	return st
}
