// streamtest connects to a streaming WebSocket API and subscribes to one or
// more channels, printing decoded messages to stdout and periodic pool
// stats through the zap development logger. Adapted from the Kalshi-shaped reference repo's cmd/streamtest
// (flag-parsed target + signal-driven graceful shutdown + stats ticker),
// generalized from one hardcoded exchange to any address/channel pair this
// library's generic Client can dial.
//
// Usage: go run ./cmd/streamtest --url wss://stream.example.com/ws --channel trades.BTC-USD
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tradingiq/streamsocket/socket"
)

func main() {
	url := flag.String("url", "", "websocket endpoint to dial")
	channel := flag.String("channel", "", "channel/stream identifier to subscribe to")
	combineTarget := flag.Int("combine-target", 1, "max user subscriptions coalesced per connection")
	maxConnections := flag.Int("max-connections", 10, "max connections in the pool")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *url == "" || *channel == "" {
		logger.Fatal("both --url and --channel are required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	identify := func(raw []byte) ([]string, bool) {
		var envelope struct {
			Channel string `json:"channel"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Channel == "" {
			return nil, false
		}
		return []string{envelope.Channel}, true
	}

	client := socket.NewClient(identify, nil,
		socket.WithBaseAddress(*url),
		socket.WithCombineTarget(*combineTarget),
		socket.WithMaxSocketConnections(*maxConnections),
		socket.WithLogger(logger),
	)

	sub := socket.NewTypedSubscription(socket.TypedSubscriptionConfig[json.RawMessage]{
		Identifiers: []string{*channel},
		Decode: func(raw []byte) (json.RawMessage, error) {
			return json.RawMessage(raw), nil
		},
		SubQuery: func(conn *socket.Connection) *socket.Query {
			payload, _ := json.Marshal(map[string]any{"type": "subscribe", "channel": *channel})
			// The wire ack schema is API-specific and unknown to this generic
			// demo, so any next frame on the connection is treated as the ack.
			return socket.NewQuery(payload, false, 5*time.Second, func([]string, []byte) bool { return true })
		},
		UnsubQuery: func(conn *socket.Connection) *socket.Query {
			payload, _ := json.Marshal(map[string]any{"type": "unsubscribe", "channel": *channel})
			return socket.NewQuery(payload, false, 5*time.Second, func([]string, []byte) bool { return true })
		},
		OnMessage: func(conn *socket.Connection, identifier string, payload json.RawMessage, raw []byte) error {
			if *verbose {
				fmt.Printf("[%s] %s\n", identifier, string(payload))
			} else {
				fmt.Printf("[%s] %d bytes\n", identifier, len(payload))
			}
			return nil
		},
	})

	if err := client.Subscribe(ctx, sub); err != nil {
		logger.Fatal("subscribe failed", zap.Error(err))
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("pool stats",
					zap.Int("connections", client.CurrentConnections()),
					zap.Int("subscriptions", client.CurrentSubscriptions()),
					zap.Float64("incoming_kbps", client.IncomingKbps()),
				)
			}
		}
	}()

	logger.Info("streaming started, press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := client.Dispose(shutdownCtx); err != nil {
		logger.Error("dispose error", zap.Error(err))
	}
}
