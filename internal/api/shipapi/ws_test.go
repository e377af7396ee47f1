package shipapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Vendora/ShipRoom/internal/broker/messages"
	"github.com/Vendora/ShipRoom/internal/realtime/hub"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, env *testEnv, headers map[string]string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	ws, resp, err := websocket.DefaultDialer.Dial(url, h)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) hub.Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev hub.Event
	require.NoError(t, ws.ReadJSON(&ev))
	return ev
}

func waitRoom(t *testing.T, h *hub.Hub, room string) {
	t.Helper()
	require.Eventually(t, func() bool { return h.RoomSize(room) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestWS_TrackShipment(t *testing.T) {
	env := newTestEnv(t)
	ws := dialWS(t, env, nil)

	require.NoError(t, ws.WriteJSON(clientFrame{Event: "track:shipment", TrackingCode: "TRK-X"}))
	waitRoom(t, env.hub, messages.ShipmentRoom("TRK-X"))

	payload, _ := json.Marshal(map[string]string{"status": "picked_up"})
	env.hub.Broadcast(messages.ShipmentRoom("TRK-X"), messages.EventStatusUpdated, payload, time.Time{})

	ev := readEvent(t, ws)
	require.Equal(t, messages.EventStatusUpdated, ev.Event)
	require.Equal(t, messages.ShipmentRoom("TRK-X"), ev.Room)
	require.Equal(t, uint64(1), ev.Seq)
	require.JSONEq(t, `{"status":"picked_up"}`, string(ev.Data))
}

func TestWS_TrackUser_IdentityEnforced(t *testing.T) {
	env := newTestEnv(t)
	ws := dialWS(t, env, buyer) // u1

	// someone else's room
	require.NoError(t, ws.WriteJSON(clientFrame{Event: "track:user", UserID: "u2"}))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ef errorFrame
	require.NoError(t, ws.ReadJSON(&ef))
	require.Equal(t, "error", ef.Event)

	// own room works
	require.NoError(t, ws.WriteJSON(clientFrame{Event: "track:user", UserID: "u1"}))
	waitRoom(t, env.hub, messages.UserRoom("u1"))

	env.hub.Broadcast(messages.UserRoom("u1"), messages.EventOrderCreated, nil, time.Time{})
	ev := readEvent(t, ws)
	require.Equal(t, messages.EventOrderCreated, ev.Event)
}

func TestWS_AnonymousCannotTrackUser(t *testing.T) {
	env := newTestEnv(t)
	ws := dialWS(t, env, nil)

	require.NoError(t, ws.WriteJSON(clientFrame{Event: "track:user", UserID: "u1"}))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ef errorFrame
	require.NoError(t, ws.ReadJSON(&ef))
	require.Equal(t, "error", ef.Event)
	require.Zero(t, env.hub.RoomSize(messages.UserRoom("u1")))
}

func TestWS_AdminJoinsAdminChannel(t *testing.T) {
	env := newTestEnv(t)
	ws := dialWS(t, env, admin)

	waitRoom(t, env.hub, messages.AdminRoom)
	env.hub.Broadcast(messages.AdminRoom, messages.EventStatusUpdated, nil, time.Time{})
	ev := readEvent(t, ws)
	require.Equal(t, messages.AdminRoom, ev.Room)
}

func TestWS_UntrackStopsDelivery(t *testing.T) {
	env := newTestEnv(t)
	ws := dialWS(t, env, nil)

	require.NoError(t, ws.WriteJSON(clientFrame{Event: "track:shipment", TrackingCode: "TRK-X"}))
	waitRoom(t, env.hub, messages.ShipmentRoom("TRK-X"))
	require.NoError(t, ws.WriteJSON(clientFrame{Event: "untrack:shipment", TrackingCode: "TRK-X"}))
	require.Eventually(t, func() bool {
		return env.hub.RoomSize(messages.ShipmentRoom("TRK-X")) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWS_DisconnectLeavesRooms(t *testing.T) {
	env := newTestEnv(t)
	ws := dialWS(t, env, nil)

	require.NoError(t, ws.WriteJSON(clientFrame{Event: "track:shipment", TrackingCode: "TRK-X"}))
	waitRoom(t, env.hub, messages.ShipmentRoom("TRK-X"))

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool {
		return env.hub.RoomSize(messages.ShipmentRoom("TRK-X")) == 0
	}, 2*time.Second, 5*time.Millisecond)
}
