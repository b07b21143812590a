package socket

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tradingiq/streamsocket/interfaces"
)

// echoAckFactory auto-acknowledges every frame sent to it by echoing the
// same bytes back, letting tests drive Subscribe/Query end to end without
// a real server.
type echoAckFactory struct {
	fakeFactory
}

func newEchoAckFactory() *fakeFactory {
	f := &fakeFactory{}
	f.onDial = func(c *fakeConn) {
		go func() {
			for {
				select {
				case data := <-c.outbox:
					c.push(data)
				case <-c.closed:
					return
				}
			}
		}()
	}
	return f
}

func echoSubscription(id string) Subscription {
	return NewTypedSubscription(TypedSubscriptionConfig[string]{
		Identifiers: []string{id},
		Decode:      func(raw []byte) (string, error) { return string(raw), nil },
		SubQuery: func(conn *Connection) *Query {
			payload := []byte("sub:" + id)
			return NewQuery(payload, false, time.Second, func(identifiers []string, raw []byte) bool {
				return string(raw) == string(payload)
			})
		},
		UnsubQuery: func(conn *Connection) *Query {
			payload := []byte("unsub:" + id)
			return NewQuery(payload, false, time.Second, func(identifiers []string, raw []byte) bool {
				return string(raw) == string(payload)
			})
		},
	})
}

func testClient(t *testing.T, factory *fakeFactory, opts ...ClientOption) *Client {
	identify := func(raw []byte) ([]string, bool) { return []string{"any"}, true }
	base := append([]ClientOption{
		WithBaseAddress("wss://example.test"),
		WithTransportFactory(factory),
		WithQueryTimeout(time.Second),
	}, opts...)
	cl := NewClient(identify, nil, base...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = cl.Dispose(ctx)
	})
	return cl
}

func TestClient_SubscribeCreatesAndReusesConnections(t *testing.T) {
	factory := newEchoAckFactory()
	cl := testClient(t, factory, WithCombineTarget(3), WithMaxSocketConnections(2))

	for i := 0; i < 3; i++ {
		sub := echoSubscription(fmt.Sprintf("s%d", i))
		if err := cl.Subscribe(context.Background(), sub); err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
	}

	if got := cl.CurrentConnections(); got != 1 {
		t.Errorf("expected coalescing onto 1 connection, got %d", got)
	}
	if got := cl.CurrentSubscriptions(); got != 3 {
		t.Errorf("expected 3 subscriptions tracked, got %d", got)
	}
}

func TestClient_Coalescing_CombineTarget3Max2(t *testing.T) {
	// Mirrors SPEC_FULL.md §8's coalescing scenario: combine_target=3, max=2,
	// five streams subscribed sequentially -> two connections, 3 and 2 subs.
	factory := newEchoAckFactory()
	cl := testClient(t, factory, WithCombineTarget(3), WithMaxSocketConnections(2))

	for i := 0; i < 5; i++ {
		sub := echoSubscription(fmt.Sprintf("s%d", i))
		if err := cl.Subscribe(context.Background(), sub); err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
	}

	if got := cl.CurrentConnections(); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}
	if got := cl.CurrentSubscriptions(); got != 5 {
		t.Fatalf("expected 5 total subscriptions, got %d", got)
	}
}

func TestClient_SaturationFallback_CombineTarget2Max1(t *testing.T) {
	// Mirrors SPEC_FULL.md §8's saturation-fallback scenario: combine_target=2,
	// max=1, three streams -> one connection holding all 3 (target exceeded
	// because the pool is capped).
	factory := newEchoAckFactory()
	cl := testClient(t, factory, WithCombineTarget(2), WithMaxSocketConnections(1))

	for i := 0; i < 3; i++ {
		sub := echoSubscription(fmt.Sprintf("s%d", i))
		if err := cl.Subscribe(context.Background(), sub); err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
	}

	if got := cl.CurrentConnections(); got != 1 {
		t.Fatalf("expected 1 connection (capped pool), got %d", got)
	}
	if got := cl.CurrentSubscriptions(); got != 3 {
		t.Fatalf("expected all 3 subscriptions on the single connection, got %d", got)
	}
}

func TestClient_Subscribe_NoCredentialsFailsFast(t *testing.T) {
	factory := newEchoAckFactory()
	cl := testClient(t, factory)

	sub := NewTypedSubscription(TypedSubscriptionConfig[string]{
		Authenticated: true,
		Identifiers:   []string{"private"},
	})

	err := cl.Subscribe(context.Background(), sub)
	if !IsKind(err, KindNoCredentials) {
		t.Fatalf("expected KindNoCredentials, got %v", err)
	}
}

func TestClient_Subscribe_WithCredentialsAuthenticates(t *testing.T) {
	factory := newEchoAckFactory()
	authCalled := false
	identify := func(raw []byte) ([]string, bool) { return []string{"any"}, true }
	cl := NewClient(identify, func(conn *Connection, creds *interfaces.Credentials) *Query {
		authCalled = true
		payload := []byte("auth:" + creds.APIKey)
		return NewQuery(payload, true, time.Second, func(identifiers []string, raw []byte) bool {
			return string(raw) == string(payload)
		})
	}, WithBaseAddress("wss://example.test"),
		WithTransportFactory(factory),
		WithCredentials(interfaces.Credentials{APIKey: "key123"}),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = cl.Dispose(ctx)
	})

	sub := NewTypedSubscription(TypedSubscriptionConfig[string]{
		Authenticated: true,
		Identifiers:   []string{"private"},
		SubQuery: func(conn *Connection) *Query {
			payload := []byte("sub:private")
			return NewQuery(payload, true, time.Second, func(identifiers []string, raw []byte) bool {
				return string(raw) == string(payload)
			})
		},
	})

	if err := cl.Subscribe(context.Background(), sub); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if !authCalled {
		t.Error("expected the auth query builder to be invoked")
	}
}

func TestClient_Unsubscribe_IsIdempotent(t *testing.T) {
	factory := newEchoAckFactory()
	cl := testClient(t, factory, WithCombineTarget(3))

	sub := echoSubscription("s0")
	if err := cl.Subscribe(context.Background(), sub); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if !cl.Unsubscribe(sub.ID()) {
		t.Fatal("expected first Unsubscribe to succeed")
	}
	if cl.Unsubscribe(sub.ID()) {
		t.Error("expected second Unsubscribe of the same id to return false")
	}
	if cl.Unsubscribe(999999) {
		t.Error("expected Unsubscribe of an unknown id to return false")
	}
}

func TestClient_Dispose_RejectsFurtherCalls(t *testing.T) {
	factory := newEchoAckFactory()
	identify := func(raw []byte) ([]string, bool) { return []string{"any"}, true }
	cl := NewClient(identify, nil, WithBaseAddress("wss://example.test"), WithTransportFactory(factory))

	if err := cl.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}

	err := cl.Subscribe(context.Background(), echoSubscription("late"))
	if !IsKind(err, KindInvalidOperation) {
		t.Fatalf("expected KindInvalidOperation after Dispose, got %v", err)
	}
}

func TestClient_Subscribe_CancelMidHandshakeSendsUnsub(t *testing.T) {
	// Mirrors SPEC_FULL.md §8's "cancel mid-handshake" scenario: the sub-query
	// is sent but the caller's context is cancelled before an ack arrives.
	factory := &fakeFactory{}
	cl := testClient(t, factory)

	unsubSent := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())

	sub := NewTypedSubscription(TypedSubscriptionConfig[string]{
		Identifiers: []string{"s"},
		SubQuery: func(conn *Connection) *Query {
			return NewQuery([]byte("sub:s"), false, time.Second, func([]string, []byte) bool { return false })
		},
		UnsubQuery: func(conn *Connection) *Query {
			return NewQuery([]byte("unsub:s"), false, time.Second, func([]string, []byte) bool { return false })
		},
	})

	go func() {
		fc := factory.lastConn()
		for fc == nil {
			time.Sleep(time.Millisecond)
			fc = factory.lastConn()
		}
		<-fc.outbox // the sub-query
		cancel()
		select {
		case sent := <-fc.outbox:
			if string(sent) == "unsub:s" {
				unsubSent <- struct{}{}
			}
		case <-time.After(time.Second):
		}
	}()

	err := cl.Subscribe(ctx, sub)
	if !IsKind(err, KindCancellationRequested) {
		t.Fatalf("expected KindCancellationRequested, got %v", err)
	}

	select {
	case <-unsubSent:
	case <-time.After(time.Second):
		t.Fatal("expected exactly one unsub-query to be transmitted")
	}

	if cl.CurrentSubscriptions() != 0 {
		t.Errorf("expected no subscription retained after cancellation, got %d", cl.CurrentSubscriptions())
	}
}

func TestClient_Dispose_WithLiveSubscriptionsClosesTransport(t *testing.T) {
	factory := newEchoAckFactory()
	cl := testClient(t, factory, WithCombineTarget(4))

	for i := 0; i < 4; i++ {
		sub := echoSubscription(fmt.Sprintf("s%d", i))
		if err := cl.Subscribe(context.Background(), sub); err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
	}

	fc := factory.lastConn()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := cl.Dispose(ctx); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}

	if !fc.isClosed() {
		t.Error("expected the underlying transport to be closed after Dispose")
	}

	err := cl.Subscribe(context.Background(), echoSubscription("late"))
	if !IsKind(err, KindInvalidOperation) {
		t.Fatalf("expected KindInvalidOperation for subscribe after Dispose, got %v", err)
	}
}

func TestClient_ConcurrentSubscribe_NeverExceedsCombineTarget(t *testing.T) {
	factory := newEchoAckFactory()
	cl := testClient(t, factory, WithCombineTarget(2), WithMaxSocketConnections(10))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := echoSubscription(fmt.Sprintf("s%d", i))
			if err := cl.Subscribe(context.Background(), sub); err != nil {
				t.Errorf("Subscribe %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := cl.CurrentSubscriptions(); got != n {
		t.Fatalf("expected %d subscriptions tracked, got %d", n, got)
	}
	wantConns := n / 2
	if got := cl.CurrentConnections(); got != wantConns {
		t.Errorf("expected %d connections at combine_target=2, got %d", wantConns, got)
	}
}
