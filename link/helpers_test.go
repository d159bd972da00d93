package link

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-astm/internal/testutil"
	"github.com/arloliu/go-astm/session"
	"github.com/arloliu/go-astm/transport"
)

const (
	testHeader     = `H|\^&|||Analyzer^ESR^1.0^SN01|||||||P|LIS2-A2|20250101120000`
	testPatient    = `P|1||PAT001||Doe^John`
	testOrder      = `O|1|S001^12||^^^ESR`
	testResult     = `R|15.0|mm/h|N|01`
	testTerminator = `L|1|N`
)

// memSink records every saved session.
type memSink struct {
	mu       sync.Mutex
	sessions []*session.Session
	ctxErrs  []error
	err      error
}

func (s *memSink) Save(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = append(s.sessions, sess)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())

	return s.err
}

func (s *memSink) all() []*session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*session.Session(nil), s.sessions...)
}

// eventLog records every link event.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnEvent(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)
}

func (l *eventLog) kinds(k EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for _, ev := range l.events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}

	return out
}

// newTestConfig creates a Config with short timeouts suitable for tests.
func newTestConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()

	defaults := []Option{
		WithName("test"),
		WithFrameTimeout(200 * time.Millisecond),
		WithInterFrameTimeout(time.Second),
		WithPollInterval(20 * time.Millisecond),
		WithDrainTimeout(30 * time.Millisecond),
		WithStrictViolations(true),
	}

	cfg, err := NewConfig(append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestConfig: %v", err)
	}

	return cfg
}

type testLink struct {
	rx     *Receiver
	peer   *testutil.Peer
	sink   *memSink
	events *eventLog
}

// newTestLink creates a receiver on one end of a net.Pipe and a scripted
// sender on the other.
func newTestLink(t *testing.T, opts ...Option) *testLink {
	t.Helper()

	events := &eventLog{}
	sink := &memSink{}
	cfg := newTestConfig(t, append([]Option{WithObserver(events)}, opts...)...)
	port, peer := newTestPort(t)

	return &testLink{
		rx:     NewReceiver(port, sink, cfg),
		peer:   peer,
		sink:   sink,
		events: events,
	}
}

// newTestPort returns the receiver side of a new pipe and the sender on its other end.
func newTestPort(t *testing.T) (transport.Port, *testutil.Peer) {
	t.Helper()

	local, peer := testutil.Pipe(t)
	port := transport.NewStream("test", local)
	t.Cleanup(func() { _ = port.Close() })

	return port, peer
}

// script runs fn as the sender and returns a channel closed when it returns.
func script(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	return done
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sender script did not finish")
	}
}
