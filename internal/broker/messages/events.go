package messages

import (
	"encoding/json"
	"time"
)

// Realtime room event names (the websocket wire contract).
const (
	EventLocationUpdated = "location:updated"
	EventStatusUpdated   = "status:updated"
	EventDeviceOffline   = "device:offline"
	EventDeviceOnline    = "device:online"
	EventOrderCreated    = "order:created"
)

// RealtimeEvent travels through the realtime topic from any mutation path to
// every API instance, which fans it out to local room subscribers.
type RealtimeEvent struct {
	Room      string          `json:"room"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	EmittedAt time.Time       `json:"emitted_at"`
}

type OrderCreated struct {
	OrderID      int64     `json:"order_id"`
	BuyerID      string    `json:"buyer_id"`
	TrackingCode string    `json:"tracking_code"`
	TotalCents   int64     `json:"total_cents"`
	VendorIDs    []int64   `json:"vendor_ids,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type InventoryChanged struct {
	ProductID int64     `json:"product_id"`
	VendorID  int64     `json:"vendor_id"`
	Delta     int32     `json:"delta"`
	ChangedAt time.Time `json:"changed_at"`
}

// Room payloads.

type StatusUpdated struct {
	Status    string     `json:"status"`
	Notes     string     `json:"notes,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Delivered *time.Time `json:"delivered,omitempty"`
}

type LocationUpdated struct {
	DeviceID  string    `json:"deviceId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Battery   *int32    `json:"battery,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type DevicePresence struct {
	DeviceID  string    `json:"deviceId"`
	Timestamp time.Time `json:"timestamp"`
}

// ShipmentRoom and UserRoom build the room keys clients join.
func ShipmentRoom(trackingCode string) string { return "shipment:" + trackingCode }
func UserRoom(userID string) string           { return "user:" + userID }

// AdminRoom is the global operations channel every admin console joins.
const AdminRoom = "admin:shipments"
