package socket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Query is a one-shot request/response exchange sent on a Connection
// (SPEC_FULL.md §4.3). Grounded on the teacher's ID-correlated
// sendSubscribeRequest/BinanceSubscribeResponse pair, generalized to an
// arbitrary payload and caller-supplied match predicate.
type Query struct {
	// Authenticated marks that this query may only be sent on an
	// authenticated Connection.
	Authenticated bool

	// Timeout bounds how long SendAndWaitQuery waits for a match.
	Timeout time.Duration

	// Payload is the already-encoded bytes to write to the transport.
	Payload []byte

	// Matches reports whether a parsed inbound message is the reply to
	// this query, given its routing identifiers and raw (post-interceptor)
	// bytes. Called from the Connection's single dispatch goroutine, so
	// implementations do not need their own locking.
	Matches func(identifiers []string, raw []byte) bool

	startedAt time.Time
	once      sync.Once
	done      chan struct{}
	response  []byte
	err       error
	completed atomic.Bool
}

// NewQuery builds a Query. timeout <= 0 means "use the Client's default
// query timeout" (WithQueryTimeout), which Client.Subscribe, Client.Query
// and QueryPeriodic fill in before sending; a query sent any other way with
// timeout <= 0 waits without a timeout of its own.
func NewQuery(payload []byte, authenticated bool, timeout time.Duration, matches func([]string, []byte) bool) *Query {
	return &Query{
		Authenticated: authenticated,
		Timeout:       timeout,
		Payload:       payload,
		Matches:       matches,
		done:          make(chan struct{}),
	}
}

// complete is called at most once, from the Connection's dispatch loop or
// its reconnect/dispose paths, to unblock the waiter exactly once.
func (q *Query) complete(response []byte, err error) {
	q.once.Do(func() {
		q.response = response
		q.err = err
		q.completed.Store(true)
		close(q.done)
	})
}

// wait blocks until the query completes, ctx is done, or the query's own
// timeout elapses, whichever comes first.
func (q *Query) wait(ctx context.Context) ([]byte, error) {
	timeout := q.Timeout
	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-q.done:
		return q.response, q.err
	case <-ctx.Done():
		q.complete(nil, WrapError(KindCancellationRequested, "query cancelled", ctx.Err()))
		return q.response, q.err
	case <-timeoutCh:
		q.complete(nil, NewError(KindCancellationRequested, "query timed out"))
		return q.response, q.err
	}
}

// Completed reports whether the query has already been resolved.
func (q *Query) Completed() bool { return q.completed.Load() }

// StartedAt returns when the query was last sent, the zero time if never sent.
func (q *Query) StartedAt() time.Time { return q.startedAt }
