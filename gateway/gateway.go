package gateway

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-astm/link"
	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/session"
	"github.com/arloliu/go-astm/transport"
)

// DefaultReopenDelay is the wait between a link failure and the next open attempt.
const DefaultReopenDelay = 5 * time.Second

var (
	// ErrNoLinks is returned by New when no link is given.
	ErrNoLinks = errors.New("gateway: no links")
	// ErrRunning is returned by Start when the gateway is already running.
	ErrRunning = errors.New("gateway: already running")
)

// Opener opens the transport of a link. It is called again after every failure.
type Opener func(ctx context.Context) (transport.Port, error)

// LinkSpec describes one instrument link run by a Gateway.
type LinkSpec struct {
	// Name identifies the link in logs, status and stored sessions.
	Name string
	// Open opens the transport.
	Open Opener
	// Options configure the receiver. The gateway adds the link name and its
	// logger in front of them, so options given here take precedence.
	Options []link.Option
	// ReopenDelay is the wait before reopening a failed transport.
	// Zero uses DefaultReopenDelay.
	ReopenDelay time.Duration
}

// LinkStatus is a point-in-time view of one link.
type LinkStatus struct {
	Name      string               `json:"name"`
	State     string               `json:"state"`
	Connected bool                 `json:"connected"`
	Opens     uint64               `json:"opens"`
	LastError string               `json:"last_error,omitempty"`
	Metrics   link.MetricsSnapshot `json:"metrics"`
}

// Option configures a Gateway.
type Option interface {
	apply(*Gateway)
}

type optFunc func(*Gateway)

func (f optFunc) apply(g *Gateway) { f(g) }

// WithStatusInterval logs the status of every link at the given interval.
// Zero, the default, disables status logging.
func WithStatusInterval(d time.Duration) Option {
	return optFunc(func(g *Gateway) { g.statusInterval = d })
}

// Gateway runs several independent links concurrently, each with its own
// Receiver and transport. A link whose transport fails or whose receiver
// aborts is closed, reopened after its delay, and its receiver reset.
// All links share one sink, which must be safe for concurrent use.
type Gateway struct {
	links          *xsync.MapOf[string, *linkRunner]
	sink           session.Sink
	logger         logger.Logger
	statusInterval time.Duration

	mu    sync.Mutex
	tasks *TaskManager
}

// New validates the link specs and creates a Gateway. It starts nothing.
func New(specs []LinkSpec, sink session.Sink, l logger.Logger, opts ...Option) (*Gateway, error) {
	if len(specs) == 0 {
		return nil, ErrNoLinks
	}

	if l == nil {
		l = logger.GetLogger()
	}

	g := &Gateway{
		links:  xsync.NewMapOf[string, *linkRunner](),
		sink:   sink,
		logger: l,
	}
	for _, opt := range opts {
		opt.apply(g)
	}

	for _, spec := range specs {
		if strings.TrimSpace(spec.Name) == "" {
			return nil, errors.New("gateway: link name is empty")
		}

		if spec.Open == nil {
			return nil, fmt.Errorf("gateway: link %q: no opener", spec.Name)
		}

		if spec.ReopenDelay <= 0 {
			spec.ReopenDelay = DefaultReopenDelay
		}

		linkOpts := append([]link.Option{link.WithName(spec.Name), link.WithLogger(l)}, spec.Options...)
		cfg, err := link.NewConfig(linkOpts...)
		if err != nil {
			return nil, fmt.Errorf("gateway: link %q: %w", spec.Name, err)
		}

		lr := &linkRunner{spec: spec, cfg: cfg, sink: sink, logger: l.With("link", spec.Name)}
		if _, loaded := g.links.LoadOrStore(spec.Name, lr); loaded {
			return nil, fmt.Errorf("gateway: duplicate link name %q", spec.Name)
		}
	}

	return g, nil
}

// Start starts one goroutine per link. The links stop when ctx is done or
// Stop is called.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.tasks != nil {
		return ErrRunning
	}

	tasks := NewTaskManager(ctx, g.logger)

	var err error
	g.links.Range(func(name string, lr *linkRunner) bool {
		err = tasks.Start("link "+name, lr.step)
		return err == nil
	})

	if err == nil && g.statusInterval > 0 {
		err = tasks.StartInterval("status", g.logStatus, g.statusInterval, false)
	}

	if err != nil {
		tasks.Stop()
		tasks.Wait()

		return err
	}

	g.tasks = tasks
	g.logger.Info("gateway: started", "links", g.links.Size())

	return nil
}

// Stop signals all links to stop. Sessions in progress are aborted and
// handed to the sink.
func (g *Gateway) Stop() {
	g.mu.Lock()
	tasks := g.tasks
	g.mu.Unlock()

	if tasks != nil {
		tasks.Stop()
	}
}

// Wait blocks until all links have stopped. The gateway can then be started again.
func (g *Gateway) Wait() {
	g.mu.Lock()
	tasks := g.tasks
	g.mu.Unlock()

	if tasks == nil {
		return
	}

	tasks.Wait()

	g.mu.Lock()
	g.tasks = nil
	g.mu.Unlock()

	g.logger.Info("gateway: stopped")
}

// Run starts the links and blocks until ctx is done and every link has stopped.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	g.Stop()
	g.Wait()

	return nil
}

// Status returns the status of every link, sorted by name.
func (g *Gateway) Status() []LinkStatus {
	statuses := make([]LinkStatus, 0, g.links.Size())
	g.links.Range(func(_ string, lr *linkRunner) bool {
		statuses = append(statuses, lr.status())
		return true
	})

	slices.SortFunc(statuses, func(a, b LinkStatus) int {
		return strings.Compare(a.Name, b.Name)
	})

	return statuses
}

// Link returns the status of the named link.
func (g *Gateway) Link(name string) (LinkStatus, bool) {
	lr, ok := g.links.Load(name)
	if !ok {
		return LinkStatus{}, false
	}

	return lr.status(), true
}

func (g *Gateway) logStatus(_ context.Context) bool {
	for _, st := range g.Status() {
		g.logger.Info("gateway: link status",
			"link", st.Name,
			"state", st.State,
			"connected", st.Connected,
			"sessions", st.Metrics.Sessions,
			"aborted", st.Metrics.SessionsAborted,
			"frame_errors", st.Metrics.FrameErrors,
		)
	}

	return true
}

// linkRunner owns the receiver and transport of one link.
type linkRunner struct {
	spec   LinkSpec
	cfg    *link.Config
	sink   session.Sink
	logger logger.Logger

	mu      sync.Mutex
	rx      *link.Receiver
	lastErr string

	connected atomic.Bool
	opens     atomic.Uint64
}

// step opens the transport, receives until the receiver stops, then waits
// the reopen delay. It returns false once ctx is done.
func (lr *linkRunner) step(ctx context.Context) bool {
	port, err := lr.spec.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}

		lr.setError(err)
		lr.logger.Warn("gateway: open failed", "error", err, "retry_in", lr.spec.ReopenDelay)

		return sleep(ctx, lr.spec.ReopenDelay)
	}

	lr.opens.Add(1)
	rx := lr.receiver(port)
	lr.connected.Store(true)
	lr.logger.Info("gateway: link open", "opens", lr.opens.Load())

	err = rx.Run(ctx)

	lr.connected.Store(false)
	_ = port.Close()

	if ctx.Err() != nil {
		lr.logger.Info("gateway: link closed")
		return false
	}

	lr.setError(err)
	lr.logger.Warn("gateway: link failed", "error", err, "retry_in", lr.spec.ReopenDelay)

	return sleep(ctx, lr.spec.ReopenDelay)
}

// receiver creates the receiver on first use and resets it for every reopened
// port, so session IDs keep counting across reconnects.
func (lr *linkRunner) receiver(port transport.Port) *link.Receiver {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.rx == nil {
		lr.rx = link.NewReceiver(port, lr.sink, lr.cfg)
	} else {
		lr.rx.Reset(port)
	}

	return lr.rx
}

func (lr *linkRunner) setError(err error) {
	if err == nil {
		return
	}

	lr.mu.Lock()
	lr.lastErr = err.Error()
	lr.mu.Unlock()
}

func (lr *linkRunner) status() LinkStatus {
	lr.mu.Lock()
	rx := lr.rx
	st := LinkStatus{
		Name:      lr.spec.Name,
		State:     link.Idle.String(),
		Connected: lr.connected.Load(),
		Opens:     lr.opens.Load(),
		LastError: lr.lastErr,
	}
	lr.mu.Unlock()

	if rx != nil {
		st.State = rx.State().String()
		st.Metrics = rx.Metrics().Snapshot()
	}

	return st
}

// sleep waits d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
