package hub

import (
	"encoding/json"
	"net/http"
	"time"

	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientMessage is what a websocket client may send: a filter update.
type clientMessage struct {
	Type   string `json:"type"`
	Filter Filter `json:"filter"`
}

// ServeWS upgrades the request to a websocket and streams update events to it
// until either side goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	sub := h.Subscribe(r.RemoteAddr)

	go h.writePump(conn, sub)
	go h.readPump(conn, sub)
}

// readPump consumes client messages so that pongs and close frames are
// processed, and applies filter updates.
func (h *Hub) readPump(conn *websocket.Conn, sub *Subscription) {
	defer func() {
		h.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(h.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err == nil && msg.Type == "filter" {
			f := msg.Filter
			sub.SetFilter(&f)
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		h.Unsubscribe(sub)
		conn.Close()
	}()

	welcome := &pkgmodels.UpdateEvent{Type: pkgmodels.EventConnected, Timestamp: time.Now().UTC()}
	if err := h.writeEvent(conn, welcome); err != nil {
		return
	}

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := h.writeEvent(conn, event); err != nil {
				h.logger.Debug().Err(err).Str("subscriber_id", sub.id.String()).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) writeEvent(conn *websocket.Conn, event *pkgmodels.UpdateEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
