package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-astm/internal/testutil"
	"github.com/arloliu/go-astm/link"
	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/session"
	"github.com/arloliu/go-astm/transport"
)

var testRecords = []string{
	`H|\^&|||Analyzer^ESR^1.0^SN01|||||||P|LIS2-A2|20250101120000`,
	`O|1|S001^12||^^^ESR`,
	`R|15.0|mm/h|N|01`,
	`L|1|N`,
}

var testLinkOptions = []link.Option{
	link.WithFrameTimeout(200 * time.Millisecond),
	link.WithInterFrameTimeout(time.Second),
	link.WithPollInterval(20 * time.Millisecond),
	link.WithStrictViolations(true),
}

type memSink struct {
	mu       sync.Mutex
	sessions []*session.Session
}

func (s *memSink) Save(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = append(s.sessions, sess)

	return nil
}

func (s *memSink) byLink(name string) []*session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*session.Session
	for _, sess := range s.sessions {
		if sess.Link == name {
			out = append(out, sess)
		}
	}

	return out
}

// pipeOpener hands out the ports pushed by the test, one per open call.
type pipeOpener struct {
	t     *testing.T
	name  string
	ports chan transport.Port
	fail  atomic.Int32
	calls atomic.Int32
}

func newPipeOpener(t *testing.T, name string) *pipeOpener {
	return &pipeOpener{t: t, name: name, ports: make(chan transport.Port, 4)}
}

// push makes the next open return a fresh pipe and returns its sender.
func (o *pipeOpener) push() *testutil.Peer {
	local, peer := testutil.Pipe(o.t)
	o.ports <- transport.NewStream(o.name, local)

	return peer
}

func (o *pipeOpener) open(ctx context.Context) (transport.Port, error) {
	o.calls.Add(1)
	if o.fail.Load() > 0 {
		o.fail.Add(-1)
		return nil, errors.New("device busy")
	}

	select {
	case p := <-o.ports:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *pipeOpener) spec() LinkSpec {
	return LinkSpec{
		Name:        o.name,
		Open:        o.open,
		Options:     testLinkOptions,
		ReopenDelay: 20 * time.Millisecond,
	}
}

func startGateway(t *testing.T, specs []LinkSpec, sink session.Sink) *Gateway {
	t.Helper()

	g, err := New(specs, sink, logger.NewMockLogger().AllowAll())
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() {
		g.Stop()
		g.Wait()
	})

	return g
}

func TestNew_Errors(t *testing.T) {
	open := func(context.Context) (transport.Port, error) { return nil, errors.New("unused") }

	tests := []struct {
		name  string
		specs []LinkSpec
	}{
		{"no links", nil},
		{"empty name", []LinkSpec{{Name: " ", Open: open}}},
		{"no opener", []LinkSpec{{Name: "a"}}},
		{"duplicate name", []LinkSpec{{Name: "a", Open: open}, {Name: "a", Open: open}}},
		{"invalid option", []LinkSpec{{Name: "a", Open: open, Options: []link.Option{link.WithMaxRetriesPerFrame(-1)}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.specs, nil, nil)
			require.Error(t, err)
			assert.Nil(t, g)
		})
	}

	_, err := New(nil, nil, nil)
	require.ErrorIs(t, err, ErrNoLinks)
}

func TestGateway_TwoLinks(t *testing.T) {
	sink := &memSink{}
	a := newPipeOpener(t, "a")
	b := newPipeOpener(t, "b")
	peerA, peerB := a.push(), b.push()

	g := startGateway(t, []LinkSpec{b.spec(), a.spec()}, sink)

	var wg sync.WaitGroup
	for _, p := range []*testutil.Peer{peerA, peerB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Transmit(testRecords...)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(sink.byLink("a")) == 1 && len(sink.byLink("b")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	for _, name := range []string{"a", "b"} {
		s := sink.byLink(name)[0]
		assert.True(t, s.Complete, name)
		assert.Len(t, s.Records, 4, name)
	}

	statuses := g.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, "a", statuses[0].Name)
	assert.Equal(t, "b", statuses[1].Name)
	for _, st := range statuses {
		assert.True(t, st.Connected)
		assert.Equal(t, uint64(1), st.Opens)
		assert.Equal(t, uint64(1), st.Metrics.Sessions)
		assert.Equal(t, uint64(4), st.Metrics.Records)
		assert.Empty(t, st.LastError)
	}
}

func TestGateway_ReopenAfterAbort(t *testing.T) {
	sink := &memSink{}
	op := newPipeOpener(t, "esr")
	first := op.push()

	g := startGateway(t, []LinkSpec{op.spec()}, sink)

	// The sender disappears in the middle of a transmission.
	require.True(t, first.Handshake())
	require.True(t, first.SendRecord(testRecords[0]))
	require.NoError(t, first.Conn().Close())

	require.Eventually(t, func() bool {
		return len(sink.byLink("esr")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	partial := sink.byLink("esr")[0]
	assert.False(t, partial.Complete)
	assert.NotEmpty(t, partial.AbortReason)
	assert.Len(t, partial.Records, 1)

	second := op.push()
	require.True(t, second.Transmit(testRecords...))

	require.Eventually(t, func() bool {
		return len(sink.byLink("esr")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	s := sink.byLink("esr")[1]
	assert.True(t, s.Complete)
	assert.Equal(t, partial.ID+1, s.ID)

	require.Eventually(t, func() bool {
		st, _ := g.Link("esr")
		return st.State == link.Idle.String()
	}, time.Second, 10*time.Millisecond)

	st, ok := g.Link("esr")
	require.True(t, ok)
	assert.Equal(t, uint64(2), st.Opens)
	assert.NotEmpty(t, st.LastError)
	assert.Equal(t, uint64(1), st.Metrics.SessionsAborted)
}

func TestGateway_OpenFailureRetried(t *testing.T) {
	sink := &memSink{}
	op := newPipeOpener(t, "esr")
	op.fail.Store(2)
	peer := op.push()

	g := startGateway(t, []LinkSpec{op.spec()}, sink)

	require.True(t, peer.Transmit(testRecords...))
	require.Eventually(t, func() bool {
		return len(sink.byLink("esr")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(3), op.calls.Load())

	st, ok := g.Link("esr")
	require.True(t, ok)
	assert.Equal(t, uint64(1), st.Opens)
	assert.Equal(t, "device busy", st.LastError)

	_, ok = g.Link("missing")
	assert.False(t, ok)
}

func TestGateway_Run(t *testing.T) {
	op := newPipeOpener(t, "esr")
	op.push()

	g, err := New([]LinkSpec{op.spec()}, &memSink{}, logger.NewMockLogger().AllowAll(), WithStatusInterval(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, _ := g.Link("esr")
		return st.Connected
	}, 2*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, g.Start(ctx), ErrRunning)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not stop")
	}

	st, _ := g.Link("esr")
	assert.False(t, st.Connected)
}

func TestGateway_Restart(t *testing.T) {
	sink := &memSink{}
	op := newPipeOpener(t, "esr")

	g, err := New([]LinkSpec{op.spec()}, sink, nil)
	require.NoError(t, err)

	require.NoError(t, g.Start(context.Background()))
	g.Stop()
	g.Wait()

	peer := op.push()
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() {
		g.Stop()
		g.Wait()
	})

	require.True(t, peer.Transmit(testRecords...))
	require.Eventually(t, func() bool {
		return len(sink.byLink("esr")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
