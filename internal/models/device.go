package models

import "time"

// DevicePing is one raw GPS report from a field device.
type DevicePing struct {
	TrackingCode string
	DeviceID     string
	Lat          float64
	Lng          float64
	Accuracy     *float64
	Speed        *float64
	Heading      *float64
	Battery      *int32
	RecordedAt   time.Time
}

// DeviceLocation is the current (latest) position kept per
// (device, tracking code) pair. Pings only ever overwrite it.
type DeviceLocation struct {
	DeviceID     string    `json:"deviceId"`
	TrackingCode string    `json:"trackingCode"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	Accuracy     *float64  `json:"accuracy,omitempty"`
	Speed        *float64  `json:"speed,omitempty"`
	Heading      *float64  `json:"heading,omitempty"`
	Battery      *int32    `json:"battery,omitempty"`
	RecordedAt   time.Time `json:"recordedAt"`
	LastUpdate   time.Time `json:"lastUpdate"`
}

// Offline выводится из давности последнего пинга, а не хранится флагом.
func (l *DeviceLocation) Offline(now time.Time, threshold time.Duration) bool {
	return now.Sub(l.LastUpdate) > threshold
}

// TrackingSnapshot is the public pull-based view behind GET /tracking/:code.
type TrackingSnapshot struct {
	TrackingCode string           `json:"trackingCode"`
	OrderID      int64            `json:"orderId"`
	OrderStatus  string           `json:"orderStatus"`
	Shipment     *ShipmentSummary `json:"shipment,omitempty"`
	Items        []*OrderItem     `json:"items"`
	Location     *DeviceLocation  `json:"location,omitempty"`
}

type ShipmentSummary struct {
	Status         ShipmentStatus `json:"status"`
	Notes          string         `json:"notes,omitempty"`
	ActualDelivery *time.Time     `json:"actualDelivery,omitempty"`
}
