package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestConnectAndClose(t *testing.T) {
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: server.RANDOM_PORT, NoSigs: true, NoLog: true})
	if err != nil {
		t.Fatalf("create nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, err := Connect(ctx, config.BusConfig{Servers: []string{ns.ClientURL()}, ConnectTimeout: 1000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !client.Healthy() {
		t.Fatal("expected healthy client")
	}
	client.Close()
	if client.Healthy() {
		t.Fatal("expected unhealthy client after close")
	}

	var nilClient *Client
	nilClient.Close()
	if nilClient.Healthy() {
		t.Fatal("nil client must not be healthy")
	}
}
