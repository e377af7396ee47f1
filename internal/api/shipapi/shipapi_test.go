package shipapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Vendora/ShipRoom/internal/models"
	"github.com/Vendora/ShipRoom/internal/realtime/hub"
	"github.com/Vendora/ShipRoom/internal/services/locations"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	createIn  models.OrderCreateInput
	createOut *models.OrderReceipt
	createErr error
	getOut    *models.OrderReceipt
	getErr    error
}

func (f *fakeOrders) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.OrderReceipt, error) {
	f.createIn = in
	return f.createOut, f.createErr
}
func (f *fakeOrders) GetOrder(ctx context.Context, orderID int64, buyerID string) (*models.OrderReceipt, error) {
	return f.getOut, f.getErr
}

type fakeShipments struct {
	createOut *models.Shipment
	codes     []*models.ProductTrackingCode
	createErr error
	assignOut *models.Shipment
	assignErr error
	updOut    *models.Shipment
	updErr    error
	getOut    *models.Shipment
	getErr    error
}

func (f *fakeShipments) Create(ctx context.Context, in models.ShipmentCreateInput) (*models.Shipment, []*models.ProductTrackingCode, error) {
	return f.createOut, f.codes, f.createErr
}
func (f *fakeShipments) Assign(ctx context.Context, in models.ShipmentAssignInput) (*models.Shipment, error) {
	return f.assignOut, f.assignErr
}
func (f *fakeShipments) UpdateStatus(ctx context.Context, trackingCode string, to models.ShipmentStatus, notes string) (*models.Shipment, error) {
	return f.updOut, f.updErr
}
func (f *fakeShipments) Get(ctx context.Context, trackingCode string) (*models.Shipment, error) {
	return f.getOut, f.getErr
}

type fakeLocations struct {
	ingestIn  models.DevicePing
	ingestErr error
	snapOut   *locations.SnapshotView
	snapErr   error
}

func (f *fakeLocations) IngestPing(ctx context.Context, ping models.DevicePing) (*models.DeviceLocation, error) {
	f.ingestIn = ping
	return &models.DeviceLocation{}, f.ingestErr
}
func (f *fakeLocations) Snapshot(ctx context.Context, code string) (*locations.SnapshotView, error) {
	return f.snapOut, f.snapErr
}

type testEnv struct {
	orders    *fakeOrders
	shipments *fakeShipments
	locations *fakeLocations
	hub       *hub.Hub
	srv       *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		orders:    &fakeOrders{},
		shipments: &fakeShipments{},
		locations: &fakeLocations{},
		hub:       hub.New(),
	}
	r := chi.NewRouter()
	New(env.orders, env.shipments, env.locations, env.hub).Routes(r)
	env.srv = httptest.NewServer(r)
	t.Cleanup(env.srv.Close)
	return env
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

var buyer = map[string]string{"X-User-ID": "u1"}
var admin = map[string]string{"X-User-ID": "a1", "X-User-Role": "admin"}

func TestAPI_AuthMiddleware(t *testing.T) {
	env := newTestEnv(t)

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/orders", map[string]any{}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// authenticated but not admin
	resp = doJSON(t, http.MethodPost, env.srv.URL+"/shipments", map[string]any{}, buyer)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// admin surface without any identity
	resp = doJSON(t, http.MethodPut, env.srv.URL+"/shipments/status", map[string]any{}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_CreateOrder(t *testing.T) {
	env := newTestEnv(t)
	env.orders.createOut = &models.OrderReceipt{
		Order:        &models.Order{ID: 42, BuyerID: "u1"},
		TrackingCode: "TRK-ABC-12345",
	}

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/orders", createOrderReq{
		Items:      []orderLineReq{{ProductID: 1, Quantity: 2}},
		TotalPrice: 2000,
		Address:    "street 1", City: "Riga",
	}, buyer)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out createOrderResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, int64(42), out.OrderID)
	require.Equal(t, "TRK-ABC-12345", out.TrackingCode)

	// buyer identity comes from the header, never the body
	require.Equal(t, "u1", env.orders.createIn.BuyerID)
	require.Equal(t, int64(2000), env.orders.createIn.TotalCents)
}

func TestAPI_CreateOrder_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	env.orders.createErr = models.ErrValidation
	resp := doJSON(t, http.MethodPost, env.srv.URL+"/orders", createOrderReq{}, buyer)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.orders.createErr = models.ErrOutOfStock
	resp = doJSON(t, http.MethodPost, env.srv.URL+"/orders", createOrderReq{}, buyer)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_GetOrder(t *testing.T) {
	env := newTestEnv(t)
	env.orders.getOut = &models.OrderReceipt{
		Order:        &models.Order{ID: 7, Status: models.OrderStatusPending, TotalCents: 2500},
		Items:        []*models.OrderItem{{ProductID: 1, VendorID: 9, Quantity: 2, UnitPriceCents: 1000}},
		SubOrders:    []*models.SubOrder{{VendorID: 9, SubtotalCents: 2000, CommissionCents: 200, Status: models.SubOrderStatusPending}},
		TrackingCode: "TRK-X",
	}

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/orders/7", nil, buyer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out orderResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, int64(7), out.Order.ID)
	require.Len(t, out.SubOrders, 1)
	require.Equal(t, int64(200), out.SubOrders[0].CommissionCents)

	resp = doJSON(t, http.MethodGet, env.srv.URL+"/orders/abc", nil, buyer)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.orders.getOut = nil
	env.orders.getErr = models.ErrNotFound
	resp = doJSON(t, http.MethodGet, env.srv.URL+"/orders/8", nil, buyer)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_GetTracking(t *testing.T) {
	env := newTestEnv(t)
	online := true
	env.locations.snapOut = &locations.SnapshotView{
		TrackingSnapshot: models.TrackingSnapshot{TrackingCode: "TRK-X", OrderID: 1, OrderStatus: models.OrderStatusPending},
		DeviceOnline:     &online,
	}

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/tracking/TRK-X", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "TRK-X", body["trackingCode"])
	require.Equal(t, true, body["deviceOnline"])

	env.locations.snapOut = nil
	env.locations.snapErr = models.ErrNotFound
	resp = doJSON(t, http.MethodGet, env.srv.URL+"/tracking/TRK-NOPE", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_PostLocation(t *testing.T) {
	env := newTestEnv(t)

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/tracking/location", locationReq{
		TrackingCode: "TRK-X", DeviceID: "dev-1", Lat: 56.95, Lng: 24.1,
		RecordedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "dev-1", env.locations.ingestIn.DeviceID)
	require.False(t, env.locations.ingestIn.RecordedAt.IsZero())

	resp = doJSON(t, http.MethodPost, env.srv.URL+"/tracking/location", locationReq{
		TrackingCode: "TRK-X", DeviceID: "dev-1", RecordedAt: "yesterday",
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.locations.ingestErr = models.ErrRateLimited
	resp = doJSON(t, http.MethodPost, env.srv.URL+"/tracking/location", locationReq{
		TrackingCode: "TRK-X", DeviceID: "dev-1",
	}, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	env.locations.ingestErr = models.ErrNotFound
	resp = doJSON(t, http.MethodPost, env.srv.URL+"/tracking/location", locationReq{
		TrackingCode: "TRK-NOPE", DeviceID: "dev-1",
	}, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Shipments(t *testing.T) {
	env := newTestEnv(t)
	env.shipments.createOut = &models.Shipment{ID: 1, TrackingCode: "TRK-X", Status: models.ShipmentStatusPreparing}
	env.shipments.codes = []*models.ProductTrackingCode{{ProductID: 1, VendorID: 9, Code: "PTK-aabbccddeeff", Quantity: 2}}

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/shipments", createShipmentReq{OrderID: 1, WarehouseID: 2}, admin)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out shipmentResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "preparing", out.Shipment.Status)
	require.Len(t, out.ProductCodes, 1)

	env.shipments.updErr = models.ErrIllegalTransition
	resp = doJSON(t, http.MethodPut, env.srv.URL+"/shipments/status", updateStatusReq{
		TrackingCode: "TRK-X", Status: "delivered",
	}, admin)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	env.shipments.getOut = &models.Shipment{TrackingCode: "TRK-X", Status: models.ShipmentStatusInTransit}
	resp = doJSON(t, http.MethodGet, env.srv.URL+"/shipments/TRK-X", nil, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
