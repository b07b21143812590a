package socket

import (
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/tradingiq/streamsocket/interfaces"
	"github.com/tradingiq/streamsocket/ratelimit"
	"github.com/tradingiq/streamsocket/transport"
)

// clientConfig collects every ClientOption into the values Client and the
// Connections it creates need. Populated by defaultClientConfig before
// options are applied.
type clientConfig struct {
	baseAddress string

	maxConnections int
	combineTarget  int

	noDataTimeout     time.Duration
	reconnectInterval time.Duration
	reconnectCap      time.Duration
	autoReconnect     bool
	delayAfterConnect time.Duration
	keepAliveInterval time.Duration
	dialTimeout       time.Duration
	unsubAckWait      time.Duration
	queryTimeout      time.Duration

	proxy              *url.URL
	outputOriginalData bool
	continueOnQuery    bool
	credentials        *interfaces.Credentials
	rateLimiter        ratelimit.Limiter
	interceptor        func([]byte) ([]byte, error)
	logger             *zap.Logger
	factory            transport.Factory

	// onUnparsed/onUnhandled are the §4.1 failure-mode sinks; unhandledExpected
	// silences the unhandled-message warning log.
	onUnparsed        func(conn *Connection, raw []byte)
	onUnhandled       func(conn *Connection, msg ParsedMessage)
	unhandledExpected bool
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		maxConnections:    10,
		combineTarget:     1,
		noDataTimeout:     60 * time.Second,
		reconnectInterval: time.Second,
		reconnectCap:      30 * time.Second,
		autoReconnect:     true,
		keepAliveInterval: 15 * time.Second,
		dialTimeout:       10 * time.Second,
		unsubAckWait:      2 * time.Second,
		queryTimeout:      10 * time.Second,
		rateLimiter:       ratelimit.Unlimited{},
		factory:           transport.NewCoderFactory(),
	}
}

// ClientOption configures a Client, mirroring the teacher's
// ClientOption/BaseClientOption functional-options pattern.
type ClientOption func(*clientConfig)

// WithBaseAddress sets the default endpoint new connections dial.
func WithBaseAddress(address string) ClientOption {
	return func(c *clientConfig) { c.baseAddress = address }
}

// WithMaxSocketConnections caps how many Connections the pool may create.
func WithMaxSocketConnections(n int) ClientOption {
	return func(c *clientConfig) {
		if n > 0 {
			c.maxConnections = n
		}
	}
}

// WithCombineTarget sets the coalescing target; 1 disables coalescing.
func WithCombineTarget(n int) ClientOption {
	return func(c *clientConfig) {
		if n > 0 {
			c.combineTarget = n
		}
	}
}

// WithNoDataTimeout sets the idle-read timeout that triggers reconnect.
func WithNoDataTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.noDataTimeout = d }
}

// WithReconnectInterval sets the base backoff delay and its cap.
func WithReconnectInterval(base, cap time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.reconnectInterval = base
		c.reconnectCap = cap
	}
}

// WithAutoReconnect enables or disables the reconnect loop.
func WithAutoReconnect(enabled bool) ClientOption {
	return func(c *clientConfig) { c.autoReconnect = enabled }
}

// WithDelayAfterConnect inserts a delay after connect before the first send.
func WithDelayAfterConnect(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.delayAfterConnect = d }
}

// WithKeepAliveInterval sets the transport keep-alive ping cadence.
func WithKeepAliveInterval(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.keepAliveInterval = d }
}

// WithDialTimeout bounds how long a single dial attempt may take.
func WithDialTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.dialTimeout = d }
}

// WithUnsubAckWait bounds how long Close waits for an unsub acknowledgement
// before giving up and tearing the subscription down locally anyway.
func WithUnsubAckWait(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.unsubAckWait = d }
}

// WithQueryTimeout sets the default Query timeout used when a Query does
// not specify its own.
func WithQueryTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.queryTimeout = d }
}

// WithProxy routes the transport through proxyURL.
func WithProxy(proxyURL *url.URL) ClientOption {
	return func(c *clientConfig) { c.proxy = proxyURL }
}

// WithOutputOriginalData, when enabled, causes decoded events to carry the
// raw pre-decode frame bytes alongside the typed payload.
func WithOutputOriginalData(enabled bool) ClientOption {
	return func(c *clientConfig) { c.outputOriginalData = enabled }
}

// WithCredentials configures the credentials used for authenticated
// connections, subscriptions, and queries.
func WithCredentials(creds interfaces.Credentials) ClientOption {
	return func(c *clientConfig) { c.credentials = &creds }
}

// WithRateLimiter sets the limiter consulted before every outbound send.
func WithRateLimiter(l ratelimit.Limiter) ClientOption {
	return func(c *clientConfig) {
		if l != nil {
			c.rateLimiter = l
		}
	}
}

// WithInterceptor installs a pre-process hook applied to every inbound
// frame before identification (SPEC_FULL.md §4.1).
func WithInterceptor(fn func([]byte) ([]byte, error)) ClientOption {
	return func(c *clientConfig) { c.interceptor = fn }
}

// WithLogger sets the *zap.Logger threaded through the Client and every
// Connection it creates. Nil falls back to zap.NewNop().
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = logger }
}

// WithContinueOnQueryResponse controls the §4.4 dispatch step 3 flag: when
// true, a frame that completes a pending query is still offered to matching
// subscriptions afterwards; when false (the default), completing a pending
// query stops further dispatch of that frame.
func WithContinueOnQueryResponse(enabled bool) ClientOption {
	return func(c *clientConfig) { c.continueOnQuery = enabled }
}

// WithUnparsedMessageHandler registers the §4.1 sink invoked for every
// inbound frame the identify function rejects.
func WithUnparsedMessageHandler(fn func(conn *Connection, raw []byte)) ClientOption {
	return func(c *clientConfig) { c.onUnparsed = fn }
}

// WithUnhandledMessageHandler registers the §4.1 sink invoked for every
// parsed frame that no subscription claims.
func WithUnhandledMessageHandler(fn func(conn *Connection, msg ParsedMessage)) ClientOption {
	return func(c *clientConfig) { c.onUnhandled = fn }
}

// WithUnhandledExpected silences the unhandled-message warning log for
// connections that are expected to receive frames no subscription claims.
func WithUnhandledExpected(expected bool) ClientOption {
	return func(c *clientConfig) { c.unhandledExpected = expected }
}

// WithTransportFactory overrides the default coder/websocket-backed
// transport.Factory, primarily for tests.
func WithTransportFactory(f transport.Factory) ClientOption {
	return func(c *clientConfig) {
		if f != nil {
			c.factory = f
		}
	}
}
