package socket

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradingiq/streamsocket/ratelimit"
	"github.com/tradingiq/streamsocket/transport"
)

// Status is the Connection lifecycle state (SPEC_FULL.md §3).
type Status int32

const (
	StatusNone Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosing
	StatusClosed
	StatusDisposed
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	case StatusDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// connOptions configures a Connection. Populated by Client from its own
// ClientOptions plus the parameters specific to one physical connection.
type connOptions struct {
	factory           transport.Factory
	limiter           ratelimit.Limiter
	pipeline          *Pipeline
	logger            *zap.Logger
	combineTarget     int
	noDataTimeout     time.Duration
	reconnectInterval time.Duration
	reconnectCap      time.Duration
	autoReconnect     bool
	delayAfterConnect time.Duration
	keepAliveInterval time.Duration
	continueOnQuery   bool
	unsubAckWait      time.Duration
	dialTimeout       time.Duration

	// proxy routes the transport's dial through a proxy, and interceptor
	// transforms every inbound frame before the pipeline sees it (both
	// forwarded verbatim into transport.Params on every (re)connect).
	proxy       *url.URL
	interceptor func([]byte) ([]byte, error)

	// outputOriginalData, when true, attaches the raw post-interceptor
	// frame bytes to every dispatched job alongside the decoded payload.
	outputOriginalData bool

	// authQuery builds the authentication handshake query, or nil if the
	// tag does not require authentication.
	authQuery func(conn *Connection) *Query

	// resolveURI is consulted on every (re)connect attempt; it lets the
	// owner rewrite the dial target (e.g. load balancing, listen-key
	// refresh) while the Connection's Tag stays stable for pool matching.
	resolveURI func(tag string) (string, error)

	// onUnparsed/onUnhandled are the pipeline's failure-mode sinks
	// (SPEC_FULL.md §4.1).
	onUnparsed  func(conn *Connection, raw []byte)
	onUnhandled func(conn *Connection, msg ParsedMessage)

	// onDrained is invoked after the last user subscription is removed;
	// the owner decides whether/when to actually tear the connection down.
	onDrained func(conn *Connection)

	unhandledExpected bool
}

type dispatchJob struct {
	identifier string
	decoded    any
	raw        []byte
}

type subEntry struct {
	sub  Subscription
	jobs chan dispatchJob
	done chan struct{}
}

// Connection owns one WebSocket transport, hosts many Subscriptions,
// dispatches inbound frames, tracks liveness, and handles
// reconnect+resubscribe (SPEC_FULL.md §4.4).
type Connection struct {
	socketID uint64
	tag      string
	traceID  string

	opts connOptions
	log  *zap.Logger

	status         atomic.Int32
	authenticated  atomic.Bool
	pausedActivity atomic.Bool
	userCount      atomic.Int64
	incomingBytes  atomic.Int64
	lastRecvAt     atomic.Int64 // unix nanos

	mu           sync.RWMutex
	uri          string
	conn         transport.Conn
	subs         map[uint64]*subEntry
	pendingMu    sync.Mutex
	pendingQs    []*Query
	writeMu      sync.Mutex
	connectOnce  sync.Mutex // enforces at-most-one concurrent connect

	lifecycle context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	backoff *backoff
}

var socketIDs atomic.Uint64

func nextSocketID() uint64 {
	return socketIDs.Add(1)
}

func newConnection(tag string, opts connOptions) *Connection {
	logger := opts.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := nextSocketID()
	trace := uuid.NewString()

	c := &Connection{
		socketID: id,
		tag:      tag,
		traceID:  trace,
		opts:     opts,
		log:      logger.With(zap.Uint64("socket_id", id), zap.String("trace_id", trace), zap.String("tag", tag)),
		subs:     make(map[uint64]*subEntry),
		backoff:  newBackoff(opts.reconnectInterval, opts.reconnectCap),
	}
	c.lifecycle, c.cancel = context.WithCancel(context.Background())
	return c
}

func (c *Connection) ID() uint64           { return c.socketID }
func (c *Connection) Tag() string          { return c.tag }
func (c *Connection) TraceID() string      { return c.traceID }
func (c *Connection) Status() Status       { return Status(c.status.Load()) }
func (c *Connection) IsAuthenticated() bool { return c.authenticated.Load() }
func (c *Connection) PausedActivity() bool { return c.pausedActivity.Load() }
func (c *Connection) UserSubscriptionCount() int64 { return c.userCount.Load() }

func (c *Connection) setStatus(s Status) {
	c.status.Store(int32(s))
}

// IncomingKbps reports a crude decaying estimate of inbound throughput in
// kilobits per second over the last second of traffic.
func (c *Connection) IncomingKbps() float64 {
	return float64(c.incomingBytes.Swap(0)*8) / 1000.0
}

// ConnectionURI returns the URI currently dialed (may differ from Tag
// after rewriting).
func (c *Connection) ConnectionURI() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uri
}

// CanAddSubscription reports capacity per SPEC_FULL.md §4.4; the caller
// (Client) supplies the combine target since it may be overridden by
// saturation-fallback policy.
func (c *Connection) CanAddSubscription(combineTarget int) bool {
	switch c.Status() {
	case StatusNone, StatusConnected:
	default:
		return false
	}
	return c.userCount.Load() < int64(combineTarget)
}

// attachable reports only whether c is still in a state a subscription may
// be attached to. Unlike CanAddSubscription, it does not consult the
// combine target: selection (including the saturation-fallback policy) is
// the Client's decision, made once in getOrCreateConnection. This just
// guards against the connection transitioning to Closing/Closed/Disposed
// between selection and attach.
func (c *Connection) attachable() bool {
	switch c.Status() {
	case StatusNone, StatusConnected:
		return true
	default:
		return false
	}
}

// Connect transitions None->Connecting->Connected (SPEC_FULL.md §4.4).
func (c *Connection) Connect(ctx context.Context) error {
	c.connectOnce.Lock()
	defer c.connectOnce.Unlock()

	if c.Status() == StatusConnected {
		return nil
	}

	c.setStatus(StatusConnecting)

	uri := c.tag
	if c.opts.resolveURI != nil {
		rewritten, err := c.opts.resolveURI(c.tag)
		if err != nil {
			c.setStatus(StatusNone)
			return WrapError(KindCantConnect, "resolve uri", err)
		}
		uri = rewritten
	}

	conn, err := c.opts.factory.Dial(ctx, transport.Params{
		URI:               uri,
		KeepAliveInterval: c.opts.keepAliveInterval,
		DialTimeout:       c.opts.dialTimeout,
		Proxy:             c.opts.proxy,
		Interceptor:       c.opts.interceptor,
	})
	if err != nil {
		c.setStatus(StatusNone)
		return WrapError(KindCantConnect, "dial", err)
	}

	c.mu.Lock()
	c.uri = uri
	c.conn = conn
	c.mu.Unlock()

	c.lastRecvAt.Store(time.Now().UnixNano())
	c.setStatus(StatusConnected)
	c.backoff.reset()

	if c.opts.authQuery != nil {
		q := c.opts.authQuery(c)
		if q != nil {
			if _, err := c.sendAndPumpQuery(ctx, conn, q); err != nil {
				_ = conn.Close("authentication failed")
				c.setStatus(StatusNone)
				return WrapError(KindAuthenticationFailed, "authenticate", err)
			}
			c.authenticated.Store(true)
		}
	}

	if c.opts.delayAfterConnect > 0 {
		select {
		case <-time.After(c.opts.delayAfterConnect):
		case <-ctx.Done():
		}
	}

	c.wg.Add(1)
	go c.readLoop()
	c.wg.Add(1)
	go c.keepAliveLoop()
	c.wg.Add(1)
	go c.noDataWatchdog()

	return nil
}

// AddSubscription atomically appends s, starting its dispatch worker, and
// increments the user count unless s is a system subscription.
func (c *Connection) AddSubscription(s Subscription) {
	jobs := make(chan dispatchJob, 64)
	done := make(chan struct{})
	entry := &subEntry{sub: s, jobs: jobs, done: done}

	c.mu.Lock()
	c.subs[s.ID()] = entry
	c.mu.Unlock()

	if !s.IsSystem() {
		c.userCount.Add(1)
	}

	c.wg.Add(1)
	go c.subscriptionWorker(entry)
}

// RemoveSubscription removes s; if its removal drains the last user
// subscription, onDrained is invoked.
func (c *Connection) RemoveSubscription(id uint64) {
	c.mu.Lock()
	entry, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	close(entry.done)

	if !entry.sub.IsSystem() {
		remaining := c.userCount.Add(-1)
		if remaining <= 0 && c.opts.onDrained != nil {
			c.opts.onDrained(c)
		}
	}
}

func (c *Connection) subscriptionWorker(entry *subEntry) {
	defer c.wg.Done()
	for {
		select {
		case job := <-entry.jobs:
			if err := entry.sub.Handle(c, job.identifier, job.decoded, job.raw); err != nil {
				c.log.Warn("subscription handler failed",
					zap.Uint64("subscription_id", entry.sub.ID()),
					zap.String("identifier", job.identifier),
					zap.Error(err))
			}
		case <-entry.done:
			return
		case <-c.lifecycle.Done():
			return
		}
	}
}

// Send serializes the write, honoring the configured rate limiter.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	if c.opts.limiter != nil {
		if err := c.opts.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return NewError(KindConnectionLost, "not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.Send(ctx, data)
}

// SendAndWaitQuery registers q, transmits it, and blocks until it
// completes, times out, or ctx is cancelled (SPEC_FULL.md §4.4).
func (c *Connection) SendAndWaitQuery(ctx context.Context, q *Query) ([]byte, error) {
	c.pendingMu.Lock()
	c.pendingQs = append(c.pendingQs, q)
	c.pendingMu.Unlock()

	defer c.removePendingQuery(q)

	q.startedAt = time.Now()
	if err := c.Send(ctx, q.Payload); err != nil {
		q.complete(nil, WrapError(KindConnectionLost, "send query", err))
		return q.wait(ctx)
	}

	return q.wait(ctx)
}

// sendAndPumpQuery is SendAndWaitQuery's counterpart for the handshake
// window in Connect/attemptReconnect: the background readLoop for conn
// hasn't started yet (it starts only once the handshake succeeds), so
// nothing else is pulling frames off the wire to resolve q. It sends q,
// then reads and dispatches frames directly off conn itself until q
// resolves, respecting q.Timeout the same way wait() does.
func (c *Connection) sendAndPumpQuery(ctx context.Context, conn transport.Conn, q *Query) ([]byte, error) {
	c.pendingMu.Lock()
	c.pendingQs = append(c.pendingQs, q)
	c.pendingMu.Unlock()
	defer c.removePendingQuery(q)

	q.startedAt = time.Now()
	if err := c.Send(ctx, q.Payload); err != nil {
		q.complete(nil, WrapError(KindConnectionLost, "send query", err))
		return q.response, q.err
	}

	pumpCtx := ctx
	if q.Timeout > 0 {
		var cancel context.CancelFunc
		pumpCtx, cancel = context.WithTimeout(ctx, q.Timeout)
		defer cancel()
	}

	for !q.Completed() {
		raw, err := conn.Recv(pumpCtx)
		if err != nil {
			if pumpCtx.Err() != nil && ctx.Err() == nil {
				q.complete(nil, NewError(KindCancellationRequested, "query timed out"))
			} else {
				q.complete(nil, WrapError(KindConnectionLost, "recv during handshake", err))
			}
			break
		}
		c.lastRecvAt.Store(time.Now().UnixNano())
		c.incomingBytes.Add(int64(len(raw)))
		c.dispatch(raw)
	}

	return q.response, q.err
}

func (c *Connection) removePendingQuery(q *Query) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for i, pq := range c.pendingQs {
		if pq == q {
			c.pendingQs = append(c.pendingQs[:i], c.pendingQs[i+1:]...)
			return
		}
	}
}

// TriggerReconnect forces a transport close, preserving subscriptions so
// the reconnect loop resubscribes them. Returns the transport's Close
// error, if any, so callers fanning this out (e.g. Client.ReconnectAll)
// can report per-connection failures instead of silently swallowing them.
func (c *Connection) TriggerReconnect() error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		return conn.Close("triggered reconnect")
	}
	return nil
}

// Close tears down subscription sub (sending its unsub-query when
// applicable) or, with sub == nil, tears down everything
// (SPEC_FULL.md §4.4).
func (c *Connection) Close(ctx context.Context, sub Subscription, sendUnsub bool) error {
	if sub == nil {
		return c.shutdown()
	}

	if sendUnsub {
		if uq := sub.BuildUnsubQuery(c); uq != nil {
			waitCtx, cancel := context.WithTimeout(ctx, c.unsubAckWait())
			defer cancel()
			_, _ = c.SendAndWaitQuery(waitCtx, uq)
		}
	}

	c.RemoveSubscription(sub.ID())
	return nil
}

func (c *Connection) unsubAckWait() time.Duration {
	if c.opts.unsubAckWait > 0 {
		return c.opts.unsubAckWait
	}
	return 2 * time.Second
}

// teardownTransport cancels the lifecycle context, fails every pending
// query, and closes the transport. It does not wait for the Connection's
// background goroutines to exit, so it is safe to call from one of them
// (shutdown wraps it with the wg.Wait() a caller outside that group needs).
func (c *Connection) teardownTransport(reason string) {
	c.setStatus(StatusClosing)
	c.cancel()

	c.pendingMu.Lock()
	pending := append([]*Query(nil), c.pendingQs...)
	c.pendingMu.Unlock()
	for _, q := range pending {
		q.complete(nil, NewError(KindConnectionLost, "connection closed"))
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(reason)
	}
}

func (c *Connection) shutdown() error {
	c.teardownTransport("shutdown")
	c.wg.Wait()
	c.setStatus(StatusClosed)
	return nil
}

// Dispose is the terminal transition from any state (SPEC_FULL.md §4.4
// reconnect table's "any -> Dispose -> Disposed" row): cancel all queries,
// best-effort unsub every live subscription, close the transport.
func (c *Connection) Dispose(ctx context.Context) error {
	c.mu.RLock()
	subs := make([]Subscription, 0, len(c.subs))
	for _, e := range c.subs {
		subs = append(subs, e.sub)
	}
	c.mu.RUnlock()

	for _, s := range subs {
		if s.IsSystem() {
			continue
		}
		_ = c.Close(ctx, s, true)
	}

	err := c.shutdown()
	c.setStatus(StatusDisposed)
	return err
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		raw, err := conn.Recv(c.lifecycle)
		if err != nil {
			select {
			case <-c.lifecycle.Done():
				return
			default:
			}
			c.handleTransportLoss(err)
			return
		}

		c.lastRecvAt.Store(time.Now().UnixNano())
		c.incomingBytes.Add(int64(len(raw)))
		c.dispatch(raw)
	}
}

func (c *Connection) dispatch(raw []byte) {
	msg, ok := c.opts.pipeline.Parse(raw)
	if !ok {
		if c.opts.onUnparsed != nil {
			c.opts.onUnparsed(c, raw)
		}
		return
	}

	if c.dispatchToPendingQuery(msg) && !c.opts.continueOnQuery {
		return
	}

	matched := false
	c.mu.RLock()
	entries := make([]*subEntry, 0, len(c.subs))
	for _, e := range c.subs {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	for _, entry := range entries {
		for _, id := range msg.Identifiers {
			decodeFn, ok := entry.sub.TypeMapping(id)
			if !ok {
				continue
			}
			matched = true
			var decoded any
			var err error
			if decodeFn != nil {
				decoded, err = decodeFn(msg.Raw)
				if err != nil {
					c.log.Debug("decode failed", zap.String("identifier", id), zap.Error(err))
					continue
				}
			}
			job := dispatchJob{identifier: id, decoded: decoded}
			if c.opts.outputOriginalData {
				job.raw = msg.Raw
			}
			select {
			case entry.jobs <- job:
			default:
				c.log.Warn("subscription job buffer full, dropping message",
					zap.Uint64("subscription_id", entry.sub.ID()), zap.String("identifier", id))
			}
		}
	}

	if !matched {
		if c.opts.onUnhandled != nil {
			c.opts.onUnhandled(c, msg)
		}
		if !c.opts.unhandledExpected {
			c.log.Warn("unhandled message", zap.Strings("identifiers", msg.Identifiers))
		}
	}
}

// dispatchToPendingQuery returns true if msg matched and completed a
// pending query.
func (c *Connection) dispatchToPendingQuery(msg ParsedMessage) bool {
	c.pendingMu.Lock()
	var match *Query
	for _, q := range c.pendingQs {
		if q.Matches != nil && q.Matches(msg.Identifiers, msg.Raw) {
			match = q
			break
		}
	}
	c.pendingMu.Unlock()

	if match == nil {
		return false
	}
	match.complete(msg.Raw, nil)
	return true
}

// keepAliveLoop runs once for the Connection's entire lifetime (started
// from Connect, never respawned by reconnectLoop): it only ever closes the
// current transport on a failed ping and keeps ticking, leaving readLoop as
// the sole caller of handleTransportLoss. Respawning one of these per
// reconnect, the way readLoop must be, would leave the previous instance
// running forever (it has no reason to exit on its own), leaking a ticker
// goroutine and a duplicate pinger per reconnect.
func (c *Connection) keepAliveLoop() {
	defer c.wg.Done()
	if c.opts.keepAliveInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.lifecycle.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				continue
			}
			pingCtx, cancel := context.WithTimeout(c.lifecycle, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.log.Warn("keep-alive ping failed", zap.Error(err))
				c.TriggerReconnect()
			}
		}
	}
}

// noDataWatchdog runs once for the Connection's entire lifetime, for the
// same reason as keepAliveLoop above.
func (c *Connection) noDataWatchdog() {
	defer c.wg.Done()
	if c.opts.noDataTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.noDataTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-c.lifecycle.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, c.lastRecvAt.Load())
			if time.Since(last) > c.opts.noDataTimeout {
				c.log.Warn("no data timeout, triggering reconnect", zap.Duration("since_last", time.Since(last)))
				c.TriggerReconnect()
			}
		}
	}
}

// handleTransportLoss implements the Connected -> Reconnecting row of the
// state machine, then drives the Reconnecting loop until it either
// recovers (-> Connected) or the connection is disposed.
func (c *Connection) handleTransportLoss(cause error) {
	select {
	case <-c.lifecycle.Done():
		return
	default:
	}

	// readLoop is the sole caller of handleTransportLoss (keepAliveLoop and
	// noDataWatchdog only close the transport and let readLoop's resulting
	// Recv error drive this), but the CAS still guards against a stray
	// double-call racing a status transition made elsewhere.
	if !c.status.CompareAndSwap(int32(StatusConnected), int32(StatusReconnecting)) {
		return
	}
	c.pausedActivity.Store(true)
	c.authenticated.Store(false)

	c.pendingMu.Lock()
	pending := append([]*Query(nil), c.pendingQs...)
	c.pendingQs = nil
	c.pendingMu.Unlock()
	for _, q := range pending {
		q.complete(nil, WrapError(KindConnectionLost, "transport lost", cause))
	}

	c.mu.RLock()
	entries := make([]*subEntry, 0, len(c.subs))
	for _, e := range c.subs {
		entries = append(entries, e)
	}
	c.mu.RUnlock()
	for _, e := range entries {
		if !e.sub.IsSystem() {
			e.sub.resetConfirmed()
		}
	}

	if !c.opts.autoReconnect {
		c.setStatus(StatusClosed)
		return
	}

	c.wg.Add(1)
	go c.reconnectLoop()
}

func (c *Connection) reconnectLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.lifecycle.Done():
			return
		case <-time.After(c.backoff.next()):
		}

		if err := c.attemptReconnect(); err != nil {
			if IsKind(err, KindAuthenticationFailed) {
				// Per SPEC_FULL.md §7, an authentication failure closes the
				// connection instead of retrying indefinitely. teardownTransport
				// (not shutdown) because this goroutine is itself tracked by
				// c.wg: calling shutdown here would wait on its own Done().
				c.log.Warn("reconnect authentication failed, closing connection", zap.Error(err))
				c.teardownTransport("authentication failed")
				c.setStatus(StatusClosed)
				return
			}
			c.log.Warn("reconnect attempt failed", zap.Error(err))
			continue
		}

		select {
		case <-c.lifecycle.Done():
			// Dispose/shutdown ran concurrently with this attempt:
			// attemptReconnect already dialed and installed a new transport
			// that teardownTransport never saw, so close it here instead of
			// reviving a connection that is on its way to Closed/Disposed.
			c.mu.Lock()
			conn := c.conn
			c.conn = nil
			c.mu.Unlock()
			if conn != nil {
				_ = conn.Close("shutdown")
			}
			return
		default:
		}

		c.setStatus(StatusConnected)
		c.pausedActivity.Store(false)
		c.backoff.reset()

		// readLoop exited when it detected the transport loss that brought us
		// here and must be respawned; keepAliveLoop/noDataWatchdog are
		// long-lived for the Connection's whole life (see their doc comments)
		// and are still running from the original Connect call.
		c.wg.Add(1)
		go c.readLoop()
		return
	}
}

func (c *Connection) attemptReconnect() error {
	uri := c.tag
	if c.opts.resolveURI != nil {
		rewritten, err := c.opts.resolveURI(c.tag)
		if err != nil {
			return WrapError(KindCantConnect, "resolve uri", err)
		}
		uri = rewritten
	}

	conn, err := c.opts.factory.Dial(c.lifecycle, transport.Params{
		URI:               uri,
		KeepAliveInterval: c.opts.keepAliveInterval,
		DialTimeout:       c.opts.dialTimeout,
		Proxy:             c.opts.proxy,
		Interceptor:       c.opts.interceptor,
	})
	if err != nil {
		return WrapError(KindCantConnect, "dial", err)
	}

	c.mu.Lock()
	c.uri = uri
	c.conn = conn
	c.mu.Unlock()
	c.lastRecvAt.Store(time.Now().UnixNano())

	if c.opts.authQuery != nil {
		if q := c.opts.authQuery(c); q != nil {
			if _, err := c.sendAndPumpQuery(c.lifecycle, conn, q); err != nil {
				_ = conn.Close("authentication failed")
				return WrapError(KindAuthenticationFailed, "authenticate", err)
			}
			c.authenticated.Store(true)
		}
	}

	c.mu.RLock()
	entries := make([]*subEntry, 0, len(c.subs))
	for _, e := range c.subs {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	for _, e := range entries {
		if e.sub.IsSystem() {
			continue
		}
		e.sub.RevitalizeAfterReconnect()
		q := e.sub.BuildSubQuery(c)
		if q == nil {
			e.sub.markConfirmed()
			continue
		}
		if _, err := c.sendAndPumpQuery(c.lifecycle, conn, q); err != nil {
			_ = conn.Close("resubscribe failed")
			return WrapError(KindServerError, "resubscribe", err)
		}
		e.sub.markConfirmed()
	}

	return nil
}

// Snapshot reports the observability fields named in SPEC_FULL.md §6.
type Snapshot struct {
	SocketID        uint64
	URI             string
	Status          Status
	Authenticated   bool
	Subscriptions   []SubscriptionSnapshot
	IncomingKbps    float64
}

type SubscriptionSnapshot struct {
	ID                uint64
	Confirmed         bool
	Invocations       uint64
	StreamIdentifiers []string
}

func (c *Connection) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	subs := make([]SubscriptionSnapshot, 0, len(c.subs))
	for _, e := range c.subs {
		subs = append(subs, SubscriptionSnapshot{
			ID:                e.sub.ID(),
			Confirmed:         e.sub.confirmed(),
			Invocations:       e.sub.invocations(),
			StreamIdentifiers: e.sub.StreamIdentifiers(),
		})
	}

	return Snapshot{
		SocketID:      c.socketID,
		URI:           c.uri,
		Status:        c.Status(),
		Authenticated: c.authenticated.Load(),
		Subscriptions: subs,
		IncomingKbps:  c.IncomingKbps(),
	}
}
