package shipments

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Vendora/ShipRoom/internal/broker/messages"
	"github.com/Vendora/ShipRoom/internal/cache"
	"github.com/Vendora/ShipRoom/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	createIn  models.ShipmentCreateInput
	createOut *models.Shipment
	createErr error

	assignIn  models.ShipmentAssignInput
	assignOut *models.Shipment
	assignErr error

	updCode  string
	updTo    models.ShipmentStatus
	updNotes string
	updOut   *models.Shipment
	updErr   error

	getOut *models.Shipment
	getErr error
}

func (f *fakeRepo) CreateShipment(ctx context.Context, in models.ShipmentCreateInput) (*models.Shipment, []*models.ProductTrackingCode, error) {
	f.createIn = in
	return f.createOut, nil, f.createErr
}
func (f *fakeRepo) AssignAgent(ctx context.Context, in models.ShipmentAssignInput) (*models.Shipment, error) {
	f.assignIn = in
	return f.assignOut, f.assignErr
}
func (f *fakeRepo) UpdateStatus(ctx context.Context, trackingCode string, to models.ShipmentStatus, notes string) (*models.Shipment, error) {
	f.updCode, f.updTo, f.updNotes = trackingCode, to, notes
	return f.updOut, f.updErr
}
func (f *fakeRepo) GetShipment(ctx context.Context, trackingCode string) (*models.Shipment, error) {
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

type fakeCache struct {
	deleted []string
	delErr  error
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) { return nil, false, nil }
func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}
func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.deleted = append(c.deleted, key)
	return c.delErr
}

func TestService_Create_Validate(t *testing.T) {
	s := New(&fakeRepo{}, nil, nil, "realtime.events")

	_, _, err := s.Create(context.Background(), models.ShipmentCreateInput{})
	require.ErrorIs(t, err, models.ErrValidation)

	_, _, err = s.Create(context.Background(), models.ShipmentCreateInput{OrderID: 1})
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestService_Assign_Validate(t *testing.T) {
	r := &fakeRepo{assignOut: &models.Shipment{ID: 1}}
	s := New(r, nil, nil, "realtime.events")

	_, err := s.Assign(context.Background(), models.ShipmentAssignInput{DeliveryAgentID: "a1"})
	require.ErrorIs(t, err, models.ErrValidation)
	_, err = s.Assign(context.Background(), models.ShipmentAssignInput{TrackingCode: "TRK-X"})
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = s.Assign(context.Background(), models.ShipmentAssignInput{TrackingCode: "TRK-X", DeliveryAgentID: "a1"})
	require.NoError(t, err)
	require.Equal(t, "TRK-X", r.assignIn.TrackingCode)
}

func TestService_UpdateStatus_PersistsThenAnnounces(t *testing.T) {
	now := time.Now().UTC()
	r := &fakeRepo{updOut: &models.Shipment{
		TrackingCode: "TRK-X", Status: models.ShipmentStatusPickedUp, Notes: "left dock", UpdatedAt: now,
	}}
	p := &fakeProducer{}
	c := &fakeCache{}
	s := New(r, p, c, "realtime.events")

	sh, err := s.UpdateStatus(context.Background(), "TRK-X", models.ShipmentStatusPickedUp, "left dock")
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusPickedUp, sh.Status)
	require.Equal(t, "left dock", r.updNotes)

	require.Equal(t, []string{cache.TrackingSnapshotKey("TRK-X")}, c.deleted)

	// shipment room first, then admin channel
	require.Len(t, p.msgs, 2)
	var ev messages.RealtimeEvent
	require.NoError(t, json.Unmarshal(p.msgs[0].value, &ev))
	require.Equal(t, messages.ShipmentRoom("TRK-X"), ev.Room)
	require.Equal(t, messages.EventStatusUpdated, ev.Event)

	var upd messages.StatusUpdated
	require.NoError(t, json.Unmarshal(ev.Payload, &upd))
	require.Equal(t, "picked_up", upd.Status)
	require.Equal(t, "left dock", upd.Notes)

	require.NoError(t, json.Unmarshal(p.msgs[1].value, &ev))
	require.Equal(t, messages.AdminRoom, ev.Room)
}

func TestService_UpdateStatus_Validate(t *testing.T) {
	r := &fakeRepo{}
	s := New(r, nil, nil, "realtime.events")

	_, err := s.UpdateStatus(context.Background(), "", models.ShipmentStatusPickedUp, "")
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = s.UpdateStatus(context.Background(), "TRK-X", models.ShipmentStatus("teleported"), "")
	require.ErrorIs(t, err, models.ErrValidation)
	require.Empty(t, r.updCode) // repo never reached
}

func TestService_UpdateStatus_IllegalTransitionPassedThrough(t *testing.T) {
	r := &fakeRepo{updErr: models.ErrIllegalTransition}
	p := &fakeProducer{}
	c := &fakeCache{}
	s := New(r, p, c, "realtime.events")

	_, err := s.UpdateStatus(context.Background(), "TRK-X", models.ShipmentStatusDelivered, "")
	require.ErrorIs(t, err, models.ErrIllegalTransition)
	require.Empty(t, p.msgs)
	require.Empty(t, c.deleted)
}

func TestService_UpdateStatus_BrokerAndCacheFailuresIgnored(t *testing.T) {
	r := &fakeRepo{updOut: &models.Shipment{TrackingCode: "TRK-X", Status: models.ShipmentStatusInTransit}}
	p := &fakeProducer{err: errors.New("broker down")}
	c := &fakeCache{delErr: errors.New("redis down")}
	s := New(r, p, c, "realtime.events")

	sh, err := s.UpdateStatus(context.Background(), "TRK-X", models.ShipmentStatusInTransit, "")
	require.NoError(t, err)
	require.NotNil(t, sh)
}
