package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-bouyomi/internal/config"
	"github.com/loqalabs/loqa-bouyomi/internal/natsserver"
	"github.com/nats-io/nats.go"
)

func connect(t *testing.T) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ns, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(ns.Shutdown)
	c, err := Connect(context.Background(), config.BusConfig{Servers: []string{ns.ClientURL()}, ConnectTimeout: 2000}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestRequestJSONRoundTrip(t *testing.T) {
	c := connect(t)
	if !c.Healthy() {
		t.Fatal("expected healthy connection")
	}

	type ping struct {
		N int `json:"n"`
	}
	_, err := c.Conn().Subscribe("test.echo", func(msg *nats.Msg) {
		_ = c.RespondJSON(msg, ping{N: 42})
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got ping
	if err := c.RequestJSON(ctx, "test.echo", ping{N: 1}, &got); err != nil {
		t.Fatalf("request: %v", err)
	}
	if got.N != 42 {
		t.Fatalf("expected 42, got %d", got.N)
	}
}

func TestRespondJSONWithoutReplyIsNoop(t *testing.T) {
	c := connect(t)
	if err := c.RespondJSON(&nats.Msg{Subject: "x"}, struct{}{}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}
