package shipapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Vendora/ShipRoom/internal/models"
	"github.com/Vendora/ShipRoom/internal/realtime/hub"
	"github.com/Vendora/ShipRoom/internal/services/locations"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.OrderReceipt, error)
	GetOrder(ctx context.Context, orderID int64, buyerID string) (*models.OrderReceipt, error)
}

type ShipmentService interface {
	Create(ctx context.Context, in models.ShipmentCreateInput) (*models.Shipment, []*models.ProductTrackingCode, error)
	Assign(ctx context.Context, in models.ShipmentAssignInput) (*models.Shipment, error)
	UpdateStatus(ctx context.Context, trackingCode string, to models.ShipmentStatus, notes string) (*models.Shipment, error)
	Get(ctx context.Context, trackingCode string) (*models.Shipment, error)
}

type LocationService interface {
	IngestPing(ctx context.Context, ping models.DevicePing) (*models.DeviceLocation, error)
	Snapshot(ctx context.Context, code string) (*locations.SnapshotView, error)
}

type API struct {
	orders    OrderService
	shipments ShipmentService
	locations LocationService
	hub       *hub.Hub
}

func New(orders OrderService, shipments ShipmentService, locs LocationService, h *hub.Hub) *API {
	return &API{orders: orders, shipments: shipments, locations: locs, hub: h}
}

func (a *API) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/orders", a.createOrder)
		r.Get("/orders/{id}", a.getOrder)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireAdmin)
		r.Post("/shipments", a.createShipment)
		r.Post("/shipments/assign", a.assignShipment)
		r.Put("/shipments/status", a.updateShipmentStatus)
		r.Get("/shipments/{code}", a.getShipment)
	})

	// public tracking surface: code in hand is the credential
	r.Get("/tracking/{code}", a.getTracking)
	r.Post("/tracking/location", a.postLocation)
	r.Get("/ws", a.serveWS)
}

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
	roleAdmin      = "admin"
)

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerUserID) == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerUserID) == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			return
		}
		if r.Header.Get(headerUserRole) != roleAdmin {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin role required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type orderLineReq struct {
	ProductID int64 `json:"productId"`
	Quantity  int32 `json:"quantity"`
}

type createOrderReq struct {
	Items         []orderLineReq `json:"items"`
	TotalPrice    int64          `json:"totalPrice"`
	FirstName     string         `json:"firstName"`
	LastName      string         `json:"lastName"`
	Address       string         `json:"address"`
	City          string         `json:"city"`
	State         string         `json:"state"`
	Zip           string         `json:"zip"`
	PaymentMethod string         `json:"paymentMethod"`
}

type createOrderResp struct {
	OrderID      int64  `json:"orderId"`
	TrackingCode string `json:"trackingCode"`
}

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	items := make([]models.OrderLineInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, models.OrderLineInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	rcpt, err := a.orders.CreateOrder(r.Context(), models.OrderCreateInput{
		BuyerID:    r.Header.Get(headerUserID),
		Items:      items,
		TotalCents: req.TotalPrice,
		Shipping: models.ShippingDetails{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Address:   req.Address,
			City:      req.City,
			State:     req.State,
			Zip:       req.Zip,
		},
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResp{OrderID: rcpt.Order.ID, TrackingCode: rcpt.TrackingCode})
}

type orderResp struct {
	Order        orderView       `json:"order"`
	Items        []orderItemView `json:"items"`
	SubOrders    []subOrderView  `json:"subOrders"`
	TrackingCode string          `json:"trackingCode"`
}

type orderView struct {
	ID         int64     `json:"id"`
	Status     string    `json:"status"`
	TotalCents int64     `json:"totalCents"`
	CreatedAt  time.Time `json:"createdAt"`
}

type orderItemView struct {
	ProductID      int64 `json:"productId"`
	VendorID       int64 `json:"vendorId"`
	Quantity       int32 `json:"quantity"`
	UnitPriceCents int64 `json:"unitPriceCents"`
}

type subOrderView struct {
	VendorID        int64  `json:"vendorId"`
	SubtotalCents   int64  `json:"subtotalCents"`
	CommissionCents int64  `json:"commissionCents"`
	Status          string `json:"status"`
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}
	rcpt, err := a.orders.GetOrder(r.Context(), id, r.Header.Get(headerUserID))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := orderResp{
		Order: orderView{
			ID:         rcpt.Order.ID,
			Status:     rcpt.Order.Status,
			TotalCents: rcpt.Order.TotalCents,
			CreatedAt:  rcpt.Order.CreatedAt,
		},
		Items:        make([]orderItemView, 0, len(rcpt.Items)),
		SubOrders:    make([]subOrderView, 0, len(rcpt.SubOrders)),
		TrackingCode: rcpt.TrackingCode,
	}
	for _, it := range rcpt.Items {
		resp.Items = append(resp.Items, orderItemView{
			ProductID: it.ProductID, VendorID: it.VendorID, Quantity: it.Quantity, UnitPriceCents: it.UnitPriceCents,
		})
	}
	for _, so := range rcpt.SubOrders {
		resp.SubOrders = append(resp.SubOrders, subOrderView{
			VendorID: so.VendorID, SubtotalCents: so.SubtotalCents, CommissionCents: so.CommissionCents, Status: so.Status,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getTracking(w http.ResponseWriter, r *http.Request) {
	snap, err := a.locations.Snapshot(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type locationReq struct {
	TrackingCode string   `json:"trackingCode"`
	DeviceID     string   `json:"deviceId"`
	Lat          float64  `json:"lat"`
	Lng          float64  `json:"lng"`
	Accuracy     *float64 `json:"accuracy,omitempty"`
	Speed        *float64 `json:"speed,omitempty"`
	Heading      *float64 `json:"heading,omitempty"`
	Battery      *int32   `json:"battery,omitempty"`
	RecordedAt   string   `json:"recordedAt,omitempty"`
}

func (a *API) postLocation(w http.ResponseWriter, r *http.Request) {
	var req locationReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ping := models.DevicePing{
		TrackingCode: req.TrackingCode,
		DeviceID:     req.DeviceID,
		Lat:          req.Lat,
		Lng:          req.Lng,
		Accuracy:     req.Accuracy,
		Speed:        req.Speed,
		Heading:      req.Heading,
		Battery:      req.Battery,
	}
	if req.RecordedAt != "" {
		ts, err := time.Parse(time.RFC3339, req.RecordedAt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "recordedAt must be RFC3339"})
			return
		}
		ping.RecordedAt = ts.UTC()
	}
	if _, err := a.locations.IngestPing(r.Context(), ping); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createShipmentReq struct {
	OrderID         int64   `json:"orderId"`
	WarehouseID     int64   `json:"warehouseId"`
	CarrierID       *int64  `json:"carrierId,omitempty"`
	DeliveryAgentID *string `json:"deliveryAgentId,omitempty"`
	Notes           string  `json:"notes,omitempty"`
}

type productCodeView struct {
	ProductID int64  `json:"productId"`
	VendorID  int64  `json:"vendorId"`
	Code      string `json:"code"`
	Quantity  int32  `json:"quantity"`
}

type shipmentResp struct {
	Shipment     shipmentView      `json:"shipment"`
	ProductCodes []productCodeView `json:"productCodes,omitempty"`
}

type shipmentView struct {
	ID              int64      `json:"id"`
	TrackingCode    string     `json:"trackingCode"`
	OrderID         int64      `json:"orderId"`
	WarehouseID     int64      `json:"warehouseId"`
	CarrierID       *int64     `json:"carrierId,omitempty"`
	DeliveryAgentID *string    `json:"deliveryAgentId,omitempty"`
	DeviceID        *string    `json:"deviceId,omitempty"`
	Status          string     `json:"status"`
	Notes           string     `json:"notes,omitempty"`
	ActualDelivery  *time.Time `json:"actualDelivery,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func toShipmentView(sh *models.Shipment) shipmentView {
	return shipmentView{
		ID:              sh.ID,
		TrackingCode:    sh.TrackingCode,
		OrderID:         sh.OrderID,
		WarehouseID:     sh.WarehouseID,
		CarrierID:       sh.CarrierID,
		DeliveryAgentID: sh.DeliveryAgentID,
		DeviceID:        sh.DeviceID,
		Status:          string(sh.Status),
		Notes:           sh.Notes,
		ActualDelivery:  sh.ActualDelivery,
		UpdatedAt:       sh.UpdatedAt,
	}
}

func (a *API) createShipment(w http.ResponseWriter, r *http.Request) {
	var req createShipmentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	sh, codes, err := a.shipments.Create(r.Context(), models.ShipmentCreateInput{
		OrderID:         req.OrderID,
		WarehouseID:     req.WarehouseID,
		CarrierID:       req.CarrierID,
		DeliveryAgentID: req.DeliveryAgentID,
		Notes:           req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	resp := shipmentResp{Shipment: toShipmentView(sh)}
	for _, c := range codes {
		resp.ProductCodes = append(resp.ProductCodes, productCodeView{
			ProductID: c.ProductID, VendorID: c.VendorID, Code: c.Code, Quantity: c.Quantity,
		})
	}
	writeJSON(w, http.StatusCreated, resp)
}

type assignShipmentReq struct {
	TrackingCode    string  `json:"trackingCode"`
	DeliveryAgentID string  `json:"deliveryAgentId"`
	DeviceID        *string `json:"deviceId,omitempty"`
}

func (a *API) assignShipment(w http.ResponseWriter, r *http.Request) {
	var req assignShipmentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	sh, err := a.shipments.Assign(r.Context(), models.ShipmentAssignInput{
		TrackingCode:    req.TrackingCode,
		DeliveryAgentID: req.DeliveryAgentID,
		DeviceID:        req.DeviceID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipmentResp{Shipment: toShipmentView(sh)})
}

type updateStatusReq struct {
	TrackingCode string `json:"trackingCode"`
	Status       string `json:"status"`
	Notes        string `json:"notes,omitempty"`
}

func (a *API) updateShipmentStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	sh, err := a.shipments.UpdateStatus(r.Context(), req.TrackingCode, models.ShipmentStatus(req.Status), req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipmentResp{Shipment: toShipmentView(sh)})
}

func (a *API) getShipment(w http.ResponseWriter, r *http.Request) {
	sh, err := a.shipments.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipmentResp{Shipment: toShipmentView(sh)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain error kinds to HTTP statuses; anything unmatched is
// a 500 with a generic body, details stay in the log.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, models.ErrOutOfStock):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, models.ErrIllegalTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, models.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	default:
		slog.Error("internal error", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
