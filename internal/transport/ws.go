// Package transport bridges the in-process replication bus to page contexts
// running as separate OS processes, over a websocket per container. Adapted
// from the teacher repo's internal/server.Hub: one outbound channel per
// connection, broadcast by draining the bus subscription into it, and a
// non-blocking send so one slow reader cannot stall the others.
package transport

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/quicktabs/sync-core/internal/bus"
	"github.com/quicktabs/sync-core/internal/telemetry/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireMessage is what crosses the websocket: a Received event reshaped for a
// remote page context.
type wireMessage struct {
	Op      bus.Op          `json:"op"`
	Data    json.RawMessage `json:"data"`
	Origin  string          `json:"origin"`
	TraceID string          `json:"traceId,omitempty"`
}

// HandleWS upgrades the connection and forwards every bus message published
// on the requested container's channel until the socket closes. The query
// parameter "container" selects the channel (default "default"); no other
// query parameter is read and nothing here authorizes the caller — the
// router is the sole authorization boundary.
func HandleWS(b *bus.Bus, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		container := r.URL.Query().Get("container")
		if container == "" {
			container = "default"
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		outbound := make(chan wireMessage, 128)
		stop := make(chan struct{})
		var stopOnce sync.Once
		closeStop := func() { stopOnce.Do(func() { close(stop) }) }

		sub := b.Subscribe(container, func(rcv bus.Received) {
			select {
			case outbound <- wireMessage{Op: rcv.Op, Data: rcv.Data, Origin: rcv.Origin, TraceID: rcv.TraceID}:
			case <-stop:
			default:
				if log != nil {
					log.Warn("transport: dropping message, slow websocket reader")
				}
			}
		})
		defer sub.Close()

		// Drain and discard client reads so pings/closes are observed; this
		// bridge is currently push-only from the bus to the page context.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					closeStop()
					return
				}
			}
		}()

		for {
			select {
			case <-stop:
				return
			case msg := <-outbound:
				if err := conn.WriteJSON(msg); err != nil {
					closeStop()
					return
				}
			}
		}
	}
}
