package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Vendora/ShipRoom/internal/broker/messages"
	"github.com/Vendora/ShipRoom/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	createIn  models.OrderCreateInput
	createOut *models.OrderReceipt
	createErr error

	getID    int64
	getBuyer string
	getOut   *models.OrderReceipt
	getErr   error
}

func (f *fakeRepo) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.OrderReceipt, error) {
	f.createIn = in
	return f.createOut, f.createErr
}
func (f *fakeRepo) GetOrder(ctx context.Context, orderID int64, buyerID string) (*models.OrderReceipt, error) {
	f.getID, f.getBuyer = orderID, buyerID
	return f.getOut, f.getErr
}

type published struct {
	topic string
	key   []byte
	value []byte
}

type fakeProducer struct {
	msgs []published
	err  error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	f.msgs = append(f.msgs, published{topic: topic, key: key, value: value})
	return f.err
}

func validInput() models.OrderCreateInput {
	return models.OrderCreateInput{
		BuyerID:    "u1",
		Items:      []models.OrderLineInput{{ProductID: 1, Quantity: 2}},
		TotalCents: 2000,
		Shipping: models.ShippingDetails{
			FirstName: "A", LastName: "B", Address: "street 1", City: "Riga", State: "LV", Zip: "1001",
		},
		PaymentMethod: "card",
	}
}

func receiptFor(in models.OrderCreateInput) *models.OrderReceipt {
	now := time.Now().UTC()
	return &models.OrderReceipt{
		Order:        &models.Order{ID: 42, BuyerID: in.BuyerID, TotalCents: in.TotalCents, Status: models.OrderStatusPending, CreatedAt: now},
		Items:        []*models.OrderItem{{OrderID: 42, ProductID: 1, VendorID: 9, Quantity: 2, UnitPriceCents: 1000}},
		SubOrders:    []*models.SubOrder{{OrderID: 42, VendorID: 9, SubtotalCents: 2000, CommissionCents: 200}},
		TrackingCode: "TRK-ABC-12345",
	}
}

func TestService_CreateOrder_Validate(t *testing.T) {
	r := &fakeRepo{}
	s := New(r, nil, "orders", "realtime.events")

	cases := []models.OrderCreateInput{
		{},
		{BuyerID: "u1"},
		{BuyerID: "u1", Items: []models.OrderLineInput{{ProductID: 0, Quantity: 1}}, TotalCents: 1},
		{BuyerID: "u1", Items: []models.OrderLineInput{{ProductID: 1, Quantity: 0}}, TotalCents: 1},
		{BuyerID: "u1", Items: []models.OrderLineInput{{ProductID: 1, Quantity: 1}, {ProductID: 1, Quantity: 1}}, TotalCents: 1},
		{BuyerID: "u1", Items: []models.OrderLineInput{{ProductID: 1, Quantity: 1}}, TotalCents: 0},
		{BuyerID: "u1", Items: []models.OrderLineInput{{ProductID: 1, Quantity: 1}}, TotalCents: 1},
	}
	for _, in := range cases {
		_, err := s.CreateOrder(context.Background(), in)
		require.ErrorIs(t, err, models.ErrValidation)
	}
	require.Zero(t, r.createIn.BuyerID) // repo never reached
}

func TestService_CreateOrder_PublishesAfterCommit(t *testing.T) {
	in := validInput()
	r := &fakeRepo{createOut: receiptFor(in)}
	p := &fakeProducer{}
	s := New(r, p, "orders", "realtime.events")

	rcpt, err := s.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "TRK-ABC-12345", rcpt.TrackingCode)
	require.Equal(t, in, r.createIn)

	// order created + one inventory delta + one realtime event
	require.Len(t, p.msgs, 3)
	require.Equal(t, "orders", p.msgs[0].topic)
	require.Equal(t, "orders", p.msgs[1].topic)
	require.Equal(t, "realtime.events", p.msgs[2].topic)

	var created messages.OrderCreated
	require.NoError(t, json.Unmarshal(p.msgs[0].value, &created))
	require.Equal(t, int64(42), created.OrderID)
	require.Equal(t, []int64{9}, created.VendorIDs)

	var inv messages.InventoryChanged
	require.NoError(t, json.Unmarshal(p.msgs[1].value, &inv))
	require.Equal(t, int32(-2), inv.Delta)

	var ev messages.RealtimeEvent
	require.NoError(t, json.Unmarshal(p.msgs[2].value, &ev))
	require.Equal(t, messages.UserRoom("u1"), ev.Room)
	require.Equal(t, messages.EventOrderCreated, ev.Event)
}

func TestService_CreateOrder_BrokerFailureDoesNotFailOrder(t *testing.T) {
	in := validInput()
	r := &fakeRepo{createOut: receiptFor(in)}
	p := &fakeProducer{err: errors.New("broker down")}
	s := New(r, p, "orders", "realtime.events")

	rcpt, err := s.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, rcpt)
}

func TestService_CreateOrder_RepoErrorNoPublish(t *testing.T) {
	r := &fakeRepo{createErr: models.ErrOutOfStock}
	p := &fakeProducer{}
	s := New(r, p, "orders", "realtime.events")

	_, err := s.CreateOrder(context.Background(), validInput())
	require.ErrorIs(t, err, models.ErrOutOfStock)
	require.Empty(t, p.msgs)
}

func TestService_GetOrder(t *testing.T) {
	r := &fakeRepo{getOut: &models.OrderReceipt{Order: &models.Order{ID: 7}}}
	s := New(r, nil, "orders", "realtime.events")

	_, err := s.GetOrder(context.Background(), 0, "u1")
	require.ErrorIs(t, err, models.ErrValidation)

	out, err := s.GetOrder(context.Background(), 7, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(7), out.Order.ID)
	require.Equal(t, "u1", r.getBuyer)
}
