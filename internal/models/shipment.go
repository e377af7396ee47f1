package models

import "time"

type ShipmentStatus string

const (
	ShipmentStatusPreparing      ShipmentStatus = "preparing"
	ShipmentStatusReadyToShip    ShipmentStatus = "ready_to_ship"
	ShipmentStatusPickedUp       ShipmentStatus = "picked_up"
	ShipmentStatusInTransit      ShipmentStatus = "in_transit"
	ShipmentStatusOutForDelivery ShipmentStatus = "out_for_delivery"
	ShipmentStatusDelivered      ShipmentStatus = "delivered"
	ShipmentStatusCancelled      ShipmentStatus = "cancelled"
)

// Жизненный цикл строго вперёд; cancelled доступен из любого нетерминального
// состояния. Из delivered и cancelled выхода нет.
var shipmentTransitions = map[ShipmentStatus][]ShipmentStatus{
	ShipmentStatusPreparing:      {ShipmentStatusReadyToShip, ShipmentStatusCancelled},
	ShipmentStatusReadyToShip:    {ShipmentStatusPickedUp, ShipmentStatusCancelled},
	ShipmentStatusPickedUp:       {ShipmentStatusInTransit, ShipmentStatusCancelled},
	ShipmentStatusInTransit:      {ShipmentStatusOutForDelivery, ShipmentStatusCancelled},
	ShipmentStatusOutForDelivery: {ShipmentStatusDelivered, ShipmentStatusCancelled},
	ShipmentStatusDelivered:      {},
	ShipmentStatusCancelled:      {},
}

func (s ShipmentStatus) Valid() bool {
	_, ok := shipmentTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is a legal lifecycle move.
// Same-state updates are not transitions and are rejected.
func CanTransition(from, to ShipmentStatus) bool {
	for _, next := range shipmentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Shipment struct {
	ID              int64
	TrackingCode    string
	OrderID         int64
	WarehouseID     int64
	CarrierID       *int64
	DeliveryAgentID *string
	DeviceID        *string
	Status          ShipmentStatus
	Notes           string
	ActualDelivery  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProductTrackingCode is the per-line sub-tracking handle minted at shipment
// creation, one per distinct (shipment, product) pair, scoped to the vendor.
type ProductTrackingCode struct {
	ID         int64
	ShipmentID int64
	ProductID  int64
	VendorID   int64
	Code       string
	Quantity   int32
}

type ShipmentCreateInput struct {
	OrderID         int64
	WarehouseID     int64
	CarrierID       *int64
	DeliveryAgentID *string
	Notes           string
}

type ShipmentAssignInput struct {
	TrackingCode    string
	DeliveryAgentID string
	DeviceID        *string
}
