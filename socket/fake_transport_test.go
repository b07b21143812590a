package socket

import (
	"context"
	"sync"

	"github.com/tradingiq/streamsocket/transport"
)

// fakeConn is an in-memory transport.Conn used by this package's tests to
// drive Connection's dispatch/reconnect logic deterministically, without a
// real socket (the transport package's own coder_test.go already covers the
// real coder/websocket wiring with httptest).
type fakeConn struct {
	id     string
	outbox chan []byte
	inbox  chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:     id,
		outbox: make(chan []byte, 64),
		inbox:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(ctx context.Context, data []byte) error {
	select {
	case f.outbox <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-f.closed:
		return NewError(KindConnectionLost, "fake connection closed")
	}
}

func (f *fakeConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b := <-f.inbox:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closed:
		return nil, NewError(KindConnectionLost, "fake connection closed")
	}
}

func (f *fakeConn) Ping(ctx context.Context) error { return nil }

func (f *fakeConn) Close(reason string) error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// push delivers a frame to whatever is driving the Connection's read loop.
func (f *fakeConn) push(data []byte) {
	select {
	case f.inbox <- data:
	case <-f.closed:
	}
}

// isClosed reports whether Close has been called.
func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeFactory hands out fakeConns, optionally failing a configured number
// of times before succeeding (for reconnect tests) and running a hook on
// every successful dial (for tests that need to script server behavior).
type fakeFactory struct {
	mu        sync.Mutex
	failCount int
	conns     []*fakeConn
	onDial    func(conn *fakeConn)
}

func (f *fakeFactory) Dial(ctx context.Context, params transport.Params) (transport.Conn, error) {
	f.mu.Lock()
	if f.failCount > 0 {
		f.failCount--
		f.mu.Unlock()
		return nil, NewError(KindCantConnect, "simulated dial failure")
	}
	f.mu.Unlock()

	c := newFakeConn(params.URI)

	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()

	if f.onDial != nil {
		f.onDial(c)
	}
	return c, nil
}

func (f *fakeFactory) lastConn() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func (f *fakeFactory) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// identifyAny treats every frame as claiming the single identifier "any",
// satisfying Pipeline.Parse without needing a real wire format in tests
// that only exercise query correlation.
func identifyAny(raw []byte) ([]string, bool) {
	return []string{"any"}, true
}
