package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialTestServer(t *testing.T, bus *Bus, chat ChatHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(ServeWS(bus, chat))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestServeWSDeliversBroadcastAfterAgentSubscribe(t *testing.T) {
	bus := NewBus(10)
	conn := dialTestServer(t, bus, nil)

	require.NoError(t, conn.WriteJSON(frame{Type: "subscribe_agent", AgentID: "a1"}))
	time.Sleep(50 * time.Millisecond) // let readPump process the subscribe before we broadcast

	bus.Broadcast(AgentChannel("a1"), KindAgentLog, "hello")

	got := readFrame(t, conn, 2*time.Second)
	require.Equal(t, "event", got.Type)
	require.Equal(t, AgentChannel("a1"), got.Channel)
	require.Equal(t, KindAgentLog, got.Event)
}

func TestServeWSGetBufferedReplaysPriorEvents(t *testing.T) {
	bus := NewBus(10)
	bus.Broadcast(AgentChannel("late"), KindAgentLog, "missed-1")
	bus.Broadcast(AgentChannel("late"), KindAgentLog, "missed-2")

	conn := dialTestServer(t, bus, nil)
	require.NoError(t, conn.WriteJSON(frame{Type: "get_buffered", Channel: AgentChannel("late")}))

	first := readFrame(t, conn, 2*time.Second)
	second := readFrame(t, conn, 2*time.Second)
	require.Equal(t, "event", first.Type)
	require.Equal(t, "event", second.Type)
}

func TestServeWSChatFrameInvokesHandler(t *testing.T) {
	bus := NewBus(10)
	received := make(chan [2]string, 1)
	chat := func(sessionID, message string) { received <- [2]string{sessionID, message} }

	conn := dialTestServer(t, bus, chat)
	require.NoError(t, conn.WriteJSON(frame{Type: "chat", SessionID: "s1", Message: "hi there"}))

	select {
	case got := <-received:
		require.Equal(t, "s1", got[0])
		require.Equal(t, "hi there", got[1])
	case <-time.After(2 * time.Second):
		t.Fatal("chat handler was not invoked")
	}
}

func TestServeWSPingRespondsOnGlobalChannel(t *testing.T) {
	bus := NewBus(10)
	conn := dialTestServer(t, bus, nil)

	require.NoError(t, conn.WriteJSON(frame{Type: "ping"}))

	got := readFrame(t, conn, 2*time.Second)
	require.Equal(t, KindPong, got.Event)
	require.Equal(t, GlobalChannel, got.Channel)
}
