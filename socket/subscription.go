package socket

import (
	"sync/atomic"
)

// DecodeFunc decodes a raw payload into the opaque value a Subscription's
// Handle receives. Stored per stream identifier so one Subscription can
// multiplex several differently-shaped payloads (SPEC_FULL.md §9).
type DecodeFunc func(raw []byte) (any, error)

// Subscription is the user-facing logical stream contract (SPEC_FULL.md §4.2).
// SystemSubscription and TypedSubscription are the two concrete
// implementers shipped by this package.
type Subscription interface {
	// ID is the client-unique integer id assigned at construction.
	ID() uint64

	// IsSystem reports whether this is an internal, non-user subscription
	// installed automatically on every Connection.
	IsSystem() bool

	// Authenticated reports whether this subscription may only attach to
	// an authenticated Connection.
	Authenticated() bool

	// StreamIdentifiers returns the fixed set of routing keys this
	// subscription claims.
	StreamIdentifiers() []string

	// TypeMapping returns the decode function for a given identifier, or
	// (nil, false) if this subscription does not claim it.
	TypeMapping(identifier string) (DecodeFunc, bool)

	// BuildSubQuery returns the request that must be answered OK before
	// this subscription is considered active, or nil if none is needed.
	BuildSubQuery(conn *Connection) *Query

	// BuildUnsubQuery returns the request that unregisters this
	// subscription server-side, or nil if none is needed.
	BuildUnsubQuery(conn *Connection) *Query

	// Handle is invoked for every inbound message routed to this
	// subscription. raw carries the post-interceptor frame bytes when the
	// client is configured with WithOutputOriginalData, nil otherwise. A
	// returned error is logged, never fatal.
	Handle(conn *Connection, identifier string, decoded any, raw []byte) error

	// RevitalizeAfterReconnect refreshes any stored nonce/signature in the
	// subscription's queries before they are resent on a new transport.
	RevitalizeAfterReconnect()

	// markConfirmed/confirmed back the confirmed invariant: it flips to
	// true after the sub-query response is accepted, and resetConfirmed
	// flips it back to false when the transport carrying that confirmation
	// is lost (SPEC_FULL.md §8 invariant 4).
	markConfirmed()
	resetConfirmed()
	confirmed() bool

	// recordInvocation increments total_invocations.
	recordInvocation()
	invocations() uint64
}

// base is embedded by every Subscription implementation in this package to
// provide the shared identity/state bookkeeping the interface requires.
type base struct {
	id            uint64
	authenticated bool
	identifiers   []string

	confirmedFlag atomic.Bool
	invocCount    atomic.Uint64
}

var subscriptionIDs atomic.Uint64

func nextSubscriptionID() uint64 {
	return subscriptionIDs.Add(1)
}

func (b *base) ID() uint64                    { return b.id }
func (b *base) Authenticated() bool            { return b.authenticated }
func (b *base) StreamIdentifiers() []string    { return b.identifiers }
func (b *base) markConfirmed()                 { b.confirmedFlag.Store(true) }
func (b *base) resetConfirmed()                { b.confirmedFlag.Store(false) }
func (b *base) confirmed() bool                { return b.confirmedFlag.Load() }
func (b *base) recordInvocation()              { b.invocCount.Add(1) }
func (b *base) invocations() uint64            { return b.invocCount.Load() }
func (b *base) RevitalizeAfterReconnect()      {}

// SystemSubscription handles server-originated control frames (pings,
// welcomes) and is installed automatically on every Connection. It has no
// sub/unsub query, per SPEC_FULL.md's data model.
type SystemSubscription struct {
	base
	identifierSet map[string]DecodeFunc
	handler       func(conn *Connection, identifier string, decoded any, raw []byte) error
}

// NewSystemSubscription builds a SystemSubscription that decodes and
// dispatches messages for the given identifiers using handler.
func NewSystemSubscription(identifiers map[string]DecodeFunc, handler func(conn *Connection, identifier string, decoded any, raw []byte) error) *SystemSubscription {
	ids := make([]string, 0, len(identifiers))
	for id := range identifiers {
		ids = append(ids, id)
	}
	return &SystemSubscription{
		base:          base{id: nextSubscriptionID(), identifiers: ids},
		identifierSet: identifiers,
		handler:       handler,
	}
}

func (s *SystemSubscription) IsSystem() bool { return true }

func (s *SystemSubscription) TypeMapping(identifier string) (DecodeFunc, bool) {
	fn, ok := s.identifierSet[identifier]
	return fn, ok
}

func (s *SystemSubscription) BuildSubQuery(conn *Connection) *Query   { return nil }
func (s *SystemSubscription) BuildUnsubQuery(conn *Connection) *Query { return nil }

func (s *SystemSubscription) Handle(conn *Connection, identifier string, decoded any, raw []byte) error {
	s.recordInvocation()
	if s.handler == nil {
		return nil
	}
	return s.handler(conn, identifier, decoded, raw)
}

// TypedSubscription is a generic Subscription wrapper giving callers a
// typed Handle(conn, T) while satisfying the untyped Subscription
// interface internally (SPEC_FULL.md §9's "typed handler closure" note).
type TypedSubscription[T any] struct {
	base

	decode DecodeFunc

	subQueryFn   func(conn *Connection) *Query
	unsubQueryFn func(conn *Connection) *Query
	onMessage    func(conn *Connection, identifier string, payload T, raw []byte) error
	onRevitalize func()
}

// TypedSubscriptionConfig parameterizes NewTypedSubscription.
type TypedSubscriptionConfig[T any] struct {
	Authenticated bool
	Identifiers   []string
	Decode        func(raw []byte) (T, error)

	SubQuery   func(conn *Connection) *Query
	UnsubQuery func(conn *Connection) *Query
	// OnMessage receives the decoded payload plus, when the client is
	// configured with WithOutputOriginalData, the raw pre-decode frame
	// bytes (nil otherwise).
	OnMessage   func(conn *Connection, identifier string, payload T, raw []byte) error
	OnReconnect func()
}

// NewTypedSubscription builds a Subscription for payload type T.
func NewTypedSubscription[T any](cfg TypedSubscriptionConfig[T]) *TypedSubscription[T] {
	decode := cfg.Decode
	ts := &TypedSubscription[T]{
		base: base{
			id:            nextSubscriptionID(),
			authenticated: cfg.Authenticated,
			identifiers:   cfg.Identifiers,
		},
		subQueryFn:   cfg.SubQuery,
		unsubQueryFn: cfg.UnsubQuery,
		onMessage:    cfg.OnMessage,
		onRevitalize: cfg.OnReconnect,
	}
	ts.decode = func(raw []byte) (any, error) {
		if decode == nil {
			var zero T
			return zero, nil
		}
		return decode(raw)
	}
	return ts
}

func (t *TypedSubscription[T]) IsSystem() bool { return false }

func (t *TypedSubscription[T]) TypeMapping(identifier string) (DecodeFunc, bool) {
	for _, id := range t.identifiers {
		if id == identifier {
			return t.decode, true
		}
	}
	return nil, false
}

func (t *TypedSubscription[T]) BuildSubQuery(conn *Connection) *Query {
	if t.subQueryFn == nil {
		return nil
	}
	return t.subQueryFn(conn)
}

func (t *TypedSubscription[T]) BuildUnsubQuery(conn *Connection) *Query {
	if t.unsubQueryFn == nil {
		return nil
	}
	return t.unsubQueryFn(conn)
}

func (t *TypedSubscription[T]) Handle(conn *Connection, identifier string, decoded any, raw []byte) error {
	t.recordInvocation()
	if t.onMessage == nil {
		return nil
	}
	payload, _ := decoded.(T)
	return t.onMessage(conn, identifier, payload, raw)
}

func (t *TypedSubscription[T]) RevitalizeAfterReconnect() {
	if t.onRevitalize != nil {
		t.onRevitalize()
	}
}

// Confirmed reports whether the sub-query has been acknowledged since the
// last (re)connect.
func (t *TypedSubscription[T]) Confirmed() bool { return t.confirmed() }

// Invocations reports the total number of times Handle has been called.
func (t *TypedSubscription[T]) Invocations() uint64 { return t.invocations() }

// SystemSubscription also exposes the same observability accessors.
func (s *SystemSubscription) Confirmed() bool     { return s.confirmed() }
func (s *SystemSubscription) Invocations() uint64 { return s.invocations() }
