// Package streamsocket provides a reusable WebSocket multiplexing and
// subscription-lifecycle engine for exchange-like streaming APIs: a pool of
// Socket Connections that coalesces many logical Subscriptions onto a
// bounded set of transports, with automatic authentication, reconnect with
// backoff and resubscribe, request/response Query correlation, and
// configurable rate limiting.
//
// The engine lives in the socket package (socket.Client, socket.Subscription,
// socket.Query). This root package only re-exports the handful of types a
// caller constructing a Client typically needs at the call site, so most
// integrations only import "github.com/tradingiq/streamsocket/socket"
// directly; this file exists for discoverability from the module root.
package streamsocket

import "github.com/tradingiq/streamsocket/socket"

// Client is a pool of Socket Connections for one API (see socket.Client).
type Client = socket.Client

// Subscription is the logical stream contract (see socket.Subscription).
type Subscription = socket.Subscription

// Query is a one-shot request/response exchange (see socket.Query).
type Query = socket.Query

// NewClient builds a Client for one API (see socket.NewClient).
var NewClient = socket.NewClient
