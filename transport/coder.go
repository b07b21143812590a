package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// CoderFactory is the default Factory, dialing with github.com/coder/websocket.
// Grounded on the teacher's websocket/client.go Connect().
type CoderFactory struct{}

func NewCoderFactory() *CoderFactory {
	return &CoderFactory{}
}

func (f *CoderFactory) Dial(ctx context.Context, params Params) (Conn, error) {
	dialCtx := ctx
	if params.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, params.DialTimeout)
		defer cancel()
	}

	opts := &websocket.DialOptions{}
	if params.Proxy != nil {
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(params.Proxy)},
		}
	}

	conn, _, err := websocket.Dial(dialCtx, params.URI, opts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", params.URI, err)
	}

	return &coderConn{
		id:          uuid.NewString(),
		conn:        conn,
		interceptor: params.Interceptor,
	}, nil
}

type coderConn struct {
	id          string
	conn        *websocket.Conn
	interceptor func([]byte) ([]byte, error)
}

func (c *coderConn) ID() string { return c.id }

func (c *coderConn) Send(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *coderConn) Recv(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if c.interceptor != nil {
		return c.interceptor(data)
	}
	return data, nil
}

func (c *coderConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *coderConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}
