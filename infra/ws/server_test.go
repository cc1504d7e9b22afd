package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/gridx/core/broadcast"
	"github.com/kilianp07/gridx/internal/eventbus"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestServer_GlobalAndRoomDelivery(t *testing.T) {
	hub := eventbus.NewHub(16)
	defer hub.Close()
	s := NewServer(hub)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dial(t, srv)
	assert.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(broadcast.TopicGridUpdate, map[string]float64{"updated_price": 6.14}, broadcast.Global)
	f := readFrame(t, conn)
	assert.Equal(t, broadcast.TopicGridUpdate, f.Event)
	assert.JSONEq(t, `{"updated_price":6.14}`, string(f.Data))

	require.NoError(t, conn.WriteJSON(map[string]string{"event": EventSubscribeUser, "user_id": "user-1"}))
	f = readFrame(t, conn)
	assert.Equal(t, EventSubscribed, f.Event)

	hub.Publish(broadcast.TopicMyMeterUpdate, map[string]string{"user_id": "user-2"}, "user-2")
	hub.Publish(broadcast.TopicMyMeterUpdate, map[string]string{"user_id": "user-1"}, "user-1")
	f = readFrame(t, conn)
	assert.Equal(t, broadcast.TopicMyMeterUpdate, f.Event)
	assert.JSONEq(t, `{"user_id":"user-1"}`, string(f.Data))

	require.NoError(t, conn.WriteJSON(map[string]string{"event": EventUnsubscribeUser, "user_id": "user-1"}))
	f = readFrame(t, conn)
	assert.Equal(t, EventUnsubscribed, f.Event)

	hub.Publish(broadcast.TopicMyMeterUpdate, map[string]string{"user_id": "user-1"}, "user-1")
	hub.Publish(broadcast.TopicMeterUpdate, map[string]string{"user_id": "user-3"}, broadcast.Global)
	f = readFrame(t, conn)
	assert.Equal(t, broadcast.TopicMeterUpdate, f.Event)
}

func TestServer_RejectsBadMessages(t *testing.T) {
	hub := eventbus.NewHub(16)
	defer hub.Close()
	srv := httptest.NewServer(NewServer(hub))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, EventError, readFrame(t, conn).Event)

	require.NoError(t, conn.WriteJSON(map[string]string{"event": EventSubscribeUser}))
	assert.Equal(t, EventError, readFrame(t, conn).Event)

	require.NoError(t, conn.WriteJSON(map[string]string{"event": "dance"}))
	assert.Equal(t, EventError, readFrame(t, conn).Event)
}

func TestServer_DisconnectReleasesSubscription(t *testing.T) {
	hub := eventbus.NewHub(16)
	defer hub.Close()
	s := NewServer(hub)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dial(t, srv)
	assert.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 && s.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
