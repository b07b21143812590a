package socket

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tradingiq/streamsocket/interfaces"
)

// SystemSubscriptionFactory builds one fresh SystemSubscription instance per
// Connection, since a Subscription carries its own confirmed/invocation
// state. Registered once on the Client, invoked for every Connection it
// creates (SPEC_FULL.md §4.5 "attach every registered system subscription").
type SystemSubscriptionFactory func() Subscription

// AuthQueryBuilder builds the authentication handshake Query for a
// Connection, or nil if conn/creds need no handshake.
type AuthQueryBuilder func(conn *Connection, creds *interfaces.Credentials) *Query

// Client is the Socket API Client: a pool of Connections for a single API,
// deciding whether to reuse or create one, serializing connects through a
// single-slot semaphore, and exposing Subscribe/Query/Unsubscribe
// (SPEC_FULL.md §4.5). Grounded on the teacher's BaseClient/ReconnectingClient
// split, generalized from "one hardcoded exchange" to "one pool of
// same-API connections" per the distilled spec's Socket API Client module.
type Client struct {
	cfg clientConfig
	log *zap.Logger

	identify   IdentifyFunc
	authQuery  AuthQueryBuilder
	resolveURI func(tag string) (string, error)

	systemFactories []SystemSubscriptionFactory

	connectGate *semaphore.Weighted

	mu          sync.RWMutex
	connections map[uint64]*Connection
	subIndex    map[uint64]uint64 // subscription id -> owning connection id

	disposing atomic.Bool
}

// NewClient builds a Client for one API. identify extracts routing
// identifiers from inbound frames (SPEC_FULL.md §4.1); authQuery builds the
// per-connection authentication handshake (nil if the API needs none).
func NewClient(identify IdentifyFunc, authQuery AuthQueryBuilder, opts ...ClientOption) *Client {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg:         cfg,
		log:         logger,
		identify:    identify,
		authQuery:   authQuery,
		connectGate: semaphore.NewWeighted(1),
		connections: make(map[uint64]*Connection),
		subIndex:    make(map[uint64]uint64),
	}
}

// RegisterSystemSubscription adds a factory invoked for every Connection
// the pool creates, attaching an internal control-frame handler before any
// user subscription can reach it.
func (cl *Client) RegisterSystemSubscription(factory SystemSubscriptionFactory) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.systemFactories = append(cl.systemFactories, factory)
}

// SetURIResolver installs the subclass hook that rewrites a Connection's
// dial target on every (re)connect attempt (e.g. listen-key refresh, load
// balancing) while its Tag stays stable for pool matching.
func (cl *Client) SetURIResolver(fn func(tag string) (string, error)) {
	cl.resolveURI = fn
}

func (cl *Client) connOptions(authenticated bool) connOptions {
	o := connOptions{
		factory:            cl.cfg.factory,
		limiter:            cl.cfg.rateLimiter,
		pipeline:           NewPipeline(cl.identify),
		logger:             cl.log,
		combineTarget:      cl.cfg.combineTarget,
		noDataTimeout:      cl.cfg.noDataTimeout,
		reconnectInterval:  cl.cfg.reconnectInterval,
		reconnectCap:       cl.cfg.reconnectCap,
		autoReconnect:      cl.cfg.autoReconnect,
		delayAfterConnect:  cl.cfg.delayAfterConnect,
		keepAliveInterval:  cl.cfg.keepAliveInterval,
		unsubAckWait:       cl.cfg.unsubAckWait,
		dialTimeout:        cl.cfg.dialTimeout,
		resolveURI:         cl.resolveURI,
		onDrained:          cl.onConnectionDrained,
		proxy:              cl.cfg.proxy,
		interceptor:        cl.cfg.interceptor,
		outputOriginalData: cl.cfg.outputOriginalData,
		continueOnQuery:    cl.cfg.continueOnQuery,
		onUnparsed:         cl.cfg.onUnparsed,
		onUnhandled:        cl.cfg.onUnhandled,
		unhandledExpected:  cl.cfg.unhandledExpected,
	}
	if authenticated && cl.authQuery != nil {
		creds := cl.cfg.credentials
		o.authQuery = func(conn *Connection) *Query {
			return cl.authQuery(conn, creds)
		}
	}
	return o
}

func normalizeAddress(addr string) string {
	return strings.TrimRight(addr, "/")
}

func (cl *Client) address() string {
	return normalizeAddress(cl.cfg.baseAddress)
}

// Subscribe implements SPEC_FULL.md §4.5's subscribe algorithm: acquire the
// connect gate, pick or create a Connection with capacity, connect and
// optionally authenticate it, send the sub-query, then register the
// Subscription. Cancelling ctx aborts the current wait and, if the
// subscription had already reached the server, triggers a best-effort
// unsubscribe.
func (cl *Client) Subscribe(ctx context.Context, sub Subscription) error {
	if cl.disposing.Load() {
		return NewError(KindInvalidOperation, "client is disposing")
	}
	if sub.Authenticated() && !cl.cfg.credentials.HasCredentials() {
		return NewError(KindNoCredentials, "subscription requires credentials")
	}

	if err := cl.connectGate.Acquire(ctx, 1); err != nil {
		return WrapError(KindCancellationRequested, "acquire connect gate", err)
	}
	gateHeld := true
	releaseGate := func() {
		if gateHeld {
			cl.connectGate.Release(1)
			gateHeld = false
		}
	}
	defer releaseGate()

	var conn *Connection
	for {
		conn = cl.getOrCreateConnection(sub.Authenticated())

		if !conn.attachable() {
			continue
		}

		if cl.cfg.combineTarget == 1 {
			releaseGate()
		}

		if err := cl.connectIfNeeded(ctx, conn); err != nil {
			return err
		}
		break
	}

	if conn.PausedActivity() {
		return NewError(KindServerError, "socket paused")
	}

	if q := sub.BuildSubQuery(conn); q != nil {
		if q.Timeout <= 0 {
			q.Timeout = cl.cfg.queryTimeout
		}
		if _, err := conn.SendAndWaitQuery(ctx, q); err != nil {
			sendUnsub := IsKind(err, KindCancellationRequested)
			_ = conn.Close(context.Background(), sub, sendUnsub)
			return err
		}
	}

	conn.AddSubscription(sub)
	sub.markConfirmed()

	cl.mu.Lock()
	cl.subIndex[sub.ID()] = conn.ID()
	cl.mu.Unlock()

	return nil
}

// connectIfNeeded dials conn if it isn't already connected.
func (cl *Client) connectIfNeeded(ctx context.Context, conn *Connection) error {
	if conn.Status() == StatusConnected {
		return nil
	}
	return conn.Connect(ctx)
}

// getOrCreateConnection implements the selection policy from SPEC_FULL.md
// §4.5: reuse the least-loaded eligible connection unless it's at target
// and the pool still has room for a fresh one.
func (cl *Client) getOrCreateConnection(authenticated bool) *Connection {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	var best *Connection
	for _, c := range cl.connections {
		if !cl.isEligible(c, authenticated) {
			continue
		}
		if best == nil || c.UserSubscriptionCount() < best.UserSubscriptionCount() {
			best = c
		}
	}

	atCap := len(cl.connections) >= cl.cfg.maxConnections
	if best != nil {
		underTarget := best.UserSubscriptionCount() < int64(cl.cfg.combineTarget)
		if underTarget || atCap {
			return best
		}
	}

	conn := newConnection(cl.address(), cl.connOptions(authenticated))
	cl.connections[conn.ID()] = conn

	for _, factory := range cl.systemFactories {
		conn.AddSubscription(factory())
	}

	return conn
}

func (cl *Client) isEligible(c *Connection, authenticated bool) bool {
	switch c.Status() {
	case StatusNone, StatusConnected:
	default:
		return false
	}
	if normalizeAddress(c.Tag()) != cl.address() {
		return false
	}
	if authenticated {
		return c.IsAuthenticated() || c.Status() == StatusNone
	}
	return true
}

// Query implements SPEC_FULL.md §4.5's query algorithm: the same connection
// selection and connect handshake as Subscribe, but returns the raw query
// response instead of registering a Subscription.
func (cl *Client) Query(ctx context.Context, q *Query) ([]byte, error) {
	if cl.disposing.Load() {
		return nil, NewError(KindInvalidOperation, "client is disposing")
	}
	if q.Authenticated && !cl.cfg.credentials.HasCredentials() {
		return nil, NewError(KindNoCredentials, "query requires credentials")
	}

	if err := cl.connectGate.Acquire(ctx, 1); err != nil {
		return nil, WrapError(KindCancellationRequested, "acquire connect gate", err)
	}
	gateHeld := true
	releaseGate := func() {
		if gateHeld {
			cl.connectGate.Release(1)
			gateHeld = false
		}
	}
	defer releaseGate()

	var conn *Connection
	for {
		conn = cl.getOrCreateConnection(q.Authenticated)
		if !conn.attachable() {
			continue
		}
		if cl.cfg.combineTarget == 1 {
			releaseGate()
		}
		if err := cl.connectIfNeeded(ctx, conn); err != nil {
			return nil, err
		}
		break
	}

	if conn.PausedActivity() {
		return nil, NewError(KindServerError, "socket paused")
	}

	if q.Timeout <= 0 {
		q.Timeout = cl.cfg.queryTimeout
	}
	return conn.SendAndWaitQuery(ctx, q)
}

// QueryPeriodicHandle cancels a periodic query started with QueryPeriodic.
type QueryPeriodicHandle struct {
	stop chan struct{}
	once sync.Once
}

// Stop cancels the periodic schedule. Safe to call more than once.
func (h *QueryPeriodicHandle) Stop() {
	h.once.Do(func() { close(h.stop) })
}

// QueryPeriodic starts one client-wide ticker goroutine; on every tick it
// calls buildQuery/onResult once for each Connection in the pool whose
// status is Connected, skipping the rest. The goroutine exits when the
// handle is stopped or on the first tick after Dispose. A panic in a single
// iteration is recovered and logged, and a query error is passed to
// onResult; neither stops the schedule.
func (cl *Client) QueryPeriodic(interval time.Duration, buildQuery func(conn *Connection) *Query, onResult func(conn *Connection, response []byte, err error)) *QueryPeriodicHandle {
	handle := &QueryPeriodicHandle{stop: make(chan struct{})}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-handle.stop:
				return
			case <-ticker.C:
				if cl.disposing.Load() {
					return
				}
				cl.mu.RLock()
				conns := make([]*Connection, 0, len(cl.connections))
				for _, c := range cl.connections {
					conns = append(conns, c)
				}
				cl.mu.RUnlock()

				for _, conn := range conns {
					if conn.Status() != StatusConnected {
						continue
					}
					cl.runPeriodicTick(conn, buildQuery, onResult)
				}
			}
		}
	}()

	return handle
}

func (cl *Client) runPeriodicTick(conn *Connection, buildQuery func(conn *Connection) *Query, onResult func(conn *Connection, response []byte, err error)) {
	defer func() {
		if r := recover(); r != nil {
			cl.log.Error("query_periodic iteration panicked", zap.Any("recover", r), zap.Uint64("socket_id", conn.ID()))
		}
	}()

	q := buildQuery(conn)
	if q == nil {
		return
	}
	if q.Timeout <= 0 {
		q.Timeout = cl.cfg.queryTimeout
	}
	resp, err := conn.SendAndWaitQuery(context.Background(), q)
	if onResult != nil {
		onResult(conn, resp, err)
	}
}

// Unsubscribe tears down the subscription with id, returning false if no
// such subscription is known (idempotent, per SPEC_FULL.md §4.5).
func (cl *Client) Unsubscribe(id uint64) bool {
	cl.mu.Lock()
	connID, ok := cl.subIndex[id]
	if ok {
		delete(cl.subIndex, id)
	}
	conn := cl.connections[connID]
	cl.mu.Unlock()

	if !ok || conn == nil || connSubscriptionByID(conn, id) == nil {
		return false
	}

	conn.RemoveSubscription(id)
	return true
}

// UnsubscribeSub is like Unsubscribe but sends the subscription's unsub
// query and waits (briefly) for acknowledgement before tearing it down,
// matching Close(ctx, sub, true) semantics for callers holding the
// Subscription value rather than just its id.
func (cl *Client) UnsubscribeSub(ctx context.Context, sub Subscription) bool {
	cl.mu.Lock()
	connID, ok := cl.subIndex[sub.ID()]
	if ok {
		delete(cl.subIndex, sub.ID())
	}
	conn := cl.connections[connID]
	cl.mu.Unlock()

	if !ok || conn == nil || connSubscriptionByID(conn, sub.ID()) == nil {
		return false
	}

	_ = conn.Close(ctx, sub, true)
	return true
}

// UnsubscribeAll tears down every subscription on every Connection,
// fanning out with errgroup and aggregating failures with multierr
// (SPEC_FULL.md §4.5).
func (cl *Client) UnsubscribeAll(ctx context.Context) error {
	cl.mu.RLock()
	conns := make([]*Connection, 0, len(cl.connections))
	for _, c := range cl.connections {
		conns = append(conns, c)
	}
	cl.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var aggregate error

	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			snap := conn.Snapshot()
			for _, s := range snap.Subscriptions {
				sub := connSubscriptionByID(conn, s.ID)
				if sub == nil || sub.IsSystem() {
					continue
				}
				if err := conn.Close(gctx, sub, true); err != nil {
					mu.Lock()
					aggregate = multierr.Append(aggregate, err)
					mu.Unlock()
				}
			}
			return nil
		})
	}

	_ = g.Wait()
	return aggregate
}

// connSubscriptionByID looks up a live Subscription instance by id on conn.
// Snapshot only exposes metadata, so this walks the connection's actual
// registry to find the object Close needs.
func connSubscriptionByID(conn *Connection, id uint64) Subscription {
	conn.mu.RLock()
	defer conn.mu.RUnlock()
	if entry, ok := conn.subs[id]; ok {
		return entry.sub
	}
	return nil
}

// ReconnectAll forces every Connection to tear down and resubscribe,
// fanning out with errgroup and aggregating failures with multierr
// (SPEC_FULL.md §4.5).
func (cl *Client) ReconnectAll(ctx context.Context) error {
	cl.mu.RLock()
	conns := make([]*Connection, 0, len(cl.connections))
	for _, c := range cl.connections {
		conns = append(conns, c)
	}
	cl.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var aggregate error

	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			if err := conn.TriggerReconnect(); err != nil {
				mu.Lock()
				aggregate = multierr.Append(aggregate, err)
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return aggregate
}

// onConnectionDrained is the onDrained hook passed to every Connection's
// connOptions. The pool keeps drained connections around (they may be
// picked up again); it does not tear them down automatically.
func (cl *Client) onConnectionDrained(conn *Connection) {
	cl.log.Debug("connection drained of user subscriptions", zap.Uint64("socket_id", conn.ID()))
}

// CurrentConnections reports how many Connections the pool currently holds.
func (cl *Client) CurrentConnections() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.connections)
}

// CurrentSubscriptions reports how many subscriptions are registered across
// every Connection, excluding system subscriptions.
func (cl *Client) CurrentSubscriptions() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	total := int64(0)
	for _, c := range cl.connections {
		total += c.UserSubscriptionCount()
	}
	return int(total)
}

// IncomingKbps sums the per-connection inbound throughput estimate.
func (cl *Client) IncomingKbps() float64 {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	total := 0.0
	for _, c := range cl.connections {
		total += c.IncomingKbps()
	}
	return total
}

// ClientSnapshot is the textual/structured pool-wide state dump named in
// SPEC_FULL.md §6 "Observables".
type ClientSnapshot struct {
	Connections []Snapshot
}

// Snapshot reports a structured dump of every Connection in the pool.
func (cl *Client) Snapshot() ClientSnapshot {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	out := make([]Snapshot, 0, len(cl.connections))
	for _, c := range cl.connections {
		out = append(out, c.Snapshot())
	}
	return ClientSnapshot{Connections: out}
}

// Dispose is terminal: Subscribe and Query calls made afterwards fail with
// InvalidOperation, and QueryPeriodic schedules exit on their next tick.
// Every Connection is disposed, unsubscribing and closing its transport.
func (cl *Client) Dispose(ctx context.Context) error {
	cl.disposing.Store(true)

	cl.mu.Lock()
	conns := make([]*Connection, 0, len(cl.connections))
	for _, c := range cl.connections {
		conns = append(conns, c)
	}
	cl.connections = make(map[uint64]*Connection)
	cl.subIndex = make(map[uint64]uint64)
	cl.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var aggregate error

	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			if err := conn.Dispose(ctx); err != nil {
				mu.Lock()
				aggregate = multierr.Append(aggregate, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return aggregate
}
