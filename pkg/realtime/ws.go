package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"orchestrator/pkg/logx"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 45 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// frame is the wire protocol of spec.md §6's subscription protocol.
type frame struct {
	Type      string          `json:"type"`
	AgentID   string          `json:"agent_id,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Event     EventKind       `json:"event,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ChatHandler runs chat(session_id, message, stream=true) for the "chat"
// frame type; realtime.go stays decoupled from the Orchestrator, so the
// server wiring supplies this callback (spec.md §9's cyclic-ownership note:
// the bus must not hold a reference back into the Orchestrator).
type ChatHandler func(sessionID, message string)

// wsSubscriber adapts one websocket connection to the Subscriber interface.
type wsSubscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func (w *wsSubscriber) ID() string { return w.id }

func (w *wsSubscriber) Deliver(e Event) error {
	data, err := json.Marshal(frame{Type: "event", Channel: e.Channel, Event: e.Kind, Payload: mustMarshal(e.Payload)})
	if err != nil {
		return err
	}
	select {
	case w.send <- data:
		return nil
	default:
		return errFullSendBuffer
	}
}

var errFullSendBuffer = &sendBufferFullError{}

type sendBufferFullError struct{}

func (*sendBufferFullError) Error() string { return "realtime: subscriber send buffer full" }

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// ServeWS upgrades an HTTP connection and speaks the ping/subscribe_agent/
// get_buffered/chat frame protocol against bus, mirroring the per-connection
// send-queue and ping/pong keepalive shape of the websocket control plane in
// haasonsaas-nexus/internal/gateway/ws_control_plane.go.
func ServeWS(bus *Bus, chat ChatHandler) http.HandlerFunc {
	log := logx.NewLogger("realtime.ws")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed: %v", err)
			return
		}

		sub := &wsSubscriber{id: uuid.NewString(), conn: conn, send: make(chan []byte, wsSendBuffer)}
		subID := bus.Subscribe(sub)

		go writePump(conn, sub, log)
		readPump(conn, bus, subID, chat, log)

		bus.Unsubscribe(subID)
		_ = conn.Close()
	}
}

func writePump(conn *websocket.Conn, sub *wsSubscriber, log *logx.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("websocket write failed: %v", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(conn *websocket.Conn, bus *Bus, subID string, chat ChatHandler, log *logx.Logger) {
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		switch f.Type {
		case "ping":
			bus.Broadcast(GlobalChannel, KindPong, nil)
		case "subscribe_agent":
			bus.SubscribeChannel(subID, AgentChannel(f.AgentID))
		case "unsubscribe_agent":
			bus.UnsubscribeChannel(subID, AgentChannel(f.AgentID))
		case "get_buffered":
			for _, e := range bus.Replay(f.Channel) {
				bus.Broadcast(e.Channel, e.Kind, e.Payload)
			}
		case "chat":
			if chat != nil {
				go chat(f.SessionID, f.Message)
			}
		default:
			log.Debug("unrecognized frame type %q", f.Type)
		}
	}
}
