package websocket

import (
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"progresskit/core"
	"progresskit/realtime"
)

// Handler returns an http.Handler that upgrades to WebSocket and streams
// notification intents from the hub. A ?user= query parameter narrows
// the stream to one learner.
func Handler(hub *realtime.Hub) http.Handler {
	upgrader := gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return handlerWithTimeout(hub, upgrader, 5*time.Second)
}

func handlerWithTimeout(hub *realtime.Hub, upgrader gorillaws.Upgrader, writeTimeout time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var id int
		var ch <-chan core.Event
		if user := r.URL.Query().Get("user"); user != "" {
			id, ch = hub.SubscribeUser(core.UserID(user), 256)
		} else {
			id, ch = hub.Subscribe(256)
		}
		defer hub.Unsubscribe(id)

		for ev := range ch {
			// The deadline is per write, not per connection; a stale
			// one would fail every send on a long-lived socket.
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(ev)); err != nil {
				return
			}
		}
	})
}
