package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"progresskit/core"
	"progresskit/realtime"
)

func TestHandlerStreamsEvents(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):] // convert http->ws
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	// ensure subscriber goroutine is ready
	time.Sleep(10 * time.Millisecond)

	ev := core.NewXPAwarded("alice", core.ActionDailyLogin, 5, 5)
	hub.Broadcast(context.Background(), ev)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}

	var received core.Event
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if received.UserID != "alice" {
		t.Fatalf("unexpected user: %s", received.UserID)
	}
}

func TestHandlerUserFilter(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):] + "?user=alice"
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(context.Background(), core.NewLevelUp("bob", 2))
	hub.Broadcast(context.Background(), core.NewLevelUp("alice", 3))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var received core.Event
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if received.UserID != "alice" || received.Level != 3 {
		t.Fatalf("unexpected event: %+v", received)
	}
}

func TestHandlerOutlivesWriteTimeout(t *testing.T) {
	hub := realtime.NewHub()
	upgrader := gorillaws.Upgrader{}
	server := httptest.NewServer(handlerWithTimeout(hub, upgrader, 50*time.Millisecond))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	time.Sleep(10 * time.Millisecond)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// Two sends separated by more than the write timeout. Each write
	// gets a fresh deadline, so idle time between events cannot kill
	// the connection.
	hub.Broadcast(context.Background(), core.NewLevelUp("alice", 2))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("first read: %v", err)
	}

	time.Sleep(120 * time.Millisecond)

	hub.Broadcast(context.Background(), core.NewLevelUp("alice", 3))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("second read after idle gap: %v", err)
	}
	var received core.Event
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if received.Level != 3 {
		t.Fatalf("unexpected event: %+v", received)
	}
}
