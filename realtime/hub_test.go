package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"progresskit/core"
)

func TestHubSubscribeBroadcastUnsubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1)

	ev := core.NewXPAwarded("bob", core.ActionDailyLogin, 10, 10)
	h.Broadcast(context.Background(), ev)

	received := <-ch
	if received.UserID != "bob" || received.Type != core.EventXPAwarded {
		t.Fatalf("unexpected event: %+v", received)
	}

	h.Unsubscribe(id)
	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
}

func TestHubUserFilter(t *testing.T) {
	h := NewHub()
	id, ch := h.SubscribeUser("alice", 2)
	defer h.Unsubscribe(id)

	h.Broadcast(context.Background(), core.NewLevelUp("bob", 3))
	h.Broadcast(context.Background(), core.NewLevelUp("alice", 2))

	received := <-ch
	if received.UserID != "alice" || received.Level != 2 {
		t.Fatalf("unexpected event: %+v", received)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event: %+v", extra)
	default:
	}
}

func TestMarshalJSON(t *testing.T) {
	ev := core.NewBadgeEarned("alice", "welcome")
	b := MarshalJSON(ev)
	var out core.Event
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Badge != "welcome" {
		t.Fatalf("unexpected badge: %s", out.Badge)
	}
}
