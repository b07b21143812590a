// Package transport abstracts the concrete WebSocket connection so the
// socket package never imports a wire library directly. The default
// Factory dials with github.com/coder/websocket, matching the teacher
// client's Connect/Read/Write/Ping/Close calls.
package transport

import (
	"context"
	"net/url"
	"time"
)

// Conn is a single bidirectional, ordered message connection.
type Conn interface {
	// ID is a stable identifier for this connection, used in logs.
	ID() string

	// Send writes one message. Safe to call concurrently with Recv, not
	// safe to call concurrently with itself (callers serialize writes).
	Send(ctx context.Context, data []byte) error

	// Recv blocks for the next inbound message.
	Recv(ctx context.Context) ([]byte, error)

	// Ping sends a transport-level keep-alive frame.
	Ping(ctx context.Context) error

	// Close closes the connection with the given reason.
	Close(reason string) error
}

// Params configures a dial through a Factory.
type Params struct {
	URI               string
	KeepAliveInterval time.Duration
	DialTimeout       time.Duration
	Proxy             *url.URL

	// Interceptor, when non-nil, transforms every inbound message before
	// the pipeline sees it (e.g. decompression).
	Interceptor func([]byte) ([]byte, error)
}

// Factory produces Conns. Implementations must be safe for concurrent use.
type Factory interface {
	Dial(ctx context.Context, params Params) (Conn, error)
}
