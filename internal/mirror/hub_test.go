package mirror

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type message struct {
	N int `json:"n"`
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func TestHub_LateClientGetsLatest(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	if err := hub.Broadcast(message{N: 1}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	conn := dial(t, srv)

	if got := read(t, conn); got.N != 1 {
		t.Errorf("expected first message 1, got %d", got.N)
	}

	hub.Broadcast(message{N: 2})
	if got := read(t, conn); got.N != 2 {
		t.Errorf("expected second message 2, got %d", got.N)
	}
}

func TestHub_FansOut(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Clients() != 2 {
		t.Fatalf("expected 2 clients, got %d", hub.Clients())
	}

	hub.Broadcast(message{N: 7})
	if got := read(t, a); got.N != 7 {
		t.Errorf("client a: expected 7, got %d", got.N)
	}
	if got := read(t, b); got.N != 7 {
		t.Errorf("client b: expected 7, got %d", got.N)
	}
}

func TestHub_BroadcastInvalidJSON(t *testing.T) {
	hub := NewHub()
	if err := hub.Broadcast(make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}
