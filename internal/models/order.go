package models

import "time"

const (
	OrderStatusPending   = "PENDING"
	OrderStatusFulfilled = "FULFILLED"
	OrderStatusCancelled = "CANCELLED"

	SubOrderStatusPending = "PENDING"

	// Комиссия площадки по умолчанию, если у продавца не настроена своя.
	DefaultCommissionRatePercent = 10.0
)

type Order struct {
	ID            int64
	BuyerID       string
	ReceiverName  string
	TotalCents    int64
	Status        string
	Address       string
	City          string
	State         string
	Zip           string
	PaymentMethod string
	CreatedAt     time.Time
}

type OrderItem struct {
	ID             int64 `json:"id"`
	OrderID        int64 `json:"orderId"`
	ProductID      int64 `json:"productId"`
	VendorID       int64 `json:"vendorId"`
	Quantity       int32 `json:"quantity"`
	UnitPriceCents int64 `json:"unitPriceCents"`
}

// SubOrder is one vendor's slice of a multi-vendor order. Subtotal and
// commission are computed once at order time and never recalculated.
type SubOrder struct {
	ID              int64
	OrderID         int64
	VendorID        int64
	SubtotalCents   int64
	CommissionCents int64
	Status          string
	CreatedAt       time.Time
}

type OrderLineInput struct {
	ProductID int64
	Quantity  int32
}

type ShippingDetails struct {
	FirstName string
	LastName  string
	Address   string
	City      string
	State     string
	Zip       string
}

type OrderCreateInput struct {
	BuyerID       string
	Items         []OrderLineInput
	TotalCents    int64
	Shipping      ShippingDetails
	PaymentMethod string
}

// OrderReceipt is what a committed checkout returns to the buyer.
type OrderReceipt struct {
	Order        *Order
	Items        []*OrderItem
	SubOrders    []*SubOrder
	TrackingCode string
}
