package shipapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Vendora/ShipRoom/internal/broker/messages"
	"github.com/Vendora/ShipRoom/internal/realtime/hub"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// same-origin policy is the reverse proxy's job here
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is what subscribers send after the upgrade to pick rooms.
type clientFrame struct {
	Event        string `json:"event"`
	TrackingCode string `json:"trackingCode,omitempty"`
	UserID       string `json:"userId,omitempty"`
}

type errorFrame struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// wsWriter serializes writes; gorilla allows a single concurrent writer and
// both pumps touch the socket.
type wsWriter struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (w *wsWriter) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.ws.WriteJSON(v)
}

func (w *wsWriter) writeControl(messageType int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.ws.WriteMessage(messageType, nil)
}

// serveWS upgrades the connection and runs the read/write pumps. Shipment
// rooms are open to anyone holding the code; user rooms require the caller's
// verified identity to match; the admin channel needs the admin role.
func (a *API) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade", "err", err)
		return
	}

	userID := r.Header.Get(headerUserID)
	conn := a.hub.Connect(userID)
	if r.Header.Get(headerUserRole) == roleAdmin {
		a.hub.Join(conn, messages.AdminRoom)
	}

	wr := &wsWriter{ws: ws}
	go a.writePump(wr, conn)
	a.readPump(ws, wr, conn, userID)
	a.hub.Disconnect(conn) // closes the event channel, stops the write pump
	_ = ws.Close()
}

func (a *API) readPump(ws *websocket.Conn, wr *wsWriter, conn *hub.Conn, userID string) {
	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = wr.writeJSON(errorFrame{Event: "error", Error: "invalid frame"})
			continue
		}
		switch frame.Event {
		case "track:shipment":
			if frame.TrackingCode == "" {
				_ = wr.writeJSON(errorFrame{Event: "error", Error: "trackingCode is required"})
				continue
			}
			a.hub.Join(conn, messages.ShipmentRoom(frame.TrackingCode))
		case "untrack:shipment":
			a.hub.Leave(conn, messages.ShipmentRoom(frame.TrackingCode))
		case "track:user":
			// только своя комната
			if userID == "" || frame.UserID != userID {
				_ = wr.writeJSON(errorFrame{Event: "error", Error: "identity mismatch"})
				continue
			}
			a.hub.Join(conn, messages.UserRoom(frame.UserID))
		default:
			_ = wr.writeJSON(errorFrame{Event: "error", Error: "unknown event"})
		}
	}
}

func (a *API) writePump(wr *wsWriter, conn *hub.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				_ = wr.writeControl(websocket.CloseMessage)
				return
			}
			if err := wr.writeJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := wr.writeControl(websocket.PingMessage); err != nil {
				return
			}
		}
	}
}
