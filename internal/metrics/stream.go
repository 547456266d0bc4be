package metrics

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// streamUpgrader accepts connections from any origin: the stream is a
// read-only telemetry feed, not an authenticated API, so CSRF-style
// origin checks don't apply the way they would to a mutating endpoint.
var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// StreamHandler upgrades to a websocket and forwards every MetricEvent
// the collector records from the moment of connection onward, as one
// more subscriber of the same fan-out in-process subscribers use
// (spec.md §4.H point 3). Each connection gets its own Subscribe
// channel, so one slow websocket client cannot starve another or block
// Collector.Record.
func (c *Collector) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := streamUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("metrics stream: websocket upgrade failed")
			return
		}
		defer conn.Close()

		events, unsubscribe := c.Subscribe(128)
		defer unsubscribe()

		ping := time.NewTicker(streamPingInterval)
		defer ping.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					log.Debug().Err(err).Msg("metrics stream: write failed, closing")
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
