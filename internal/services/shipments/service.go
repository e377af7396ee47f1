package shipments

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Vendora/ShipRoom/internal/broker/messages"
	"github.com/Vendora/ShipRoom/internal/cache"
	"github.com/Vendora/ShipRoom/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateShipment(ctx context.Context, in models.ShipmentCreateInput) (*models.Shipment, []*models.ProductTrackingCode, error)
	AssignAgent(ctx context.Context, in models.ShipmentAssignInput) (*models.Shipment, error)
	UpdateStatus(ctx context.Context, trackingCode string, to models.ShipmentStatus, notes string) (*models.Shipment, error)
	GetShipment(ctx context.Context, trackingCode string) (*models.Shipment, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Service struct {
	repo     Repository
	producer Producer
	cache    cache.BytesCache

	realtimeTopic string
}

func New(repo Repository, producer Producer, c cache.BytesCache, realtimeTopic string) *Service {
	return &Service{repo: repo, producer: producer, cache: c, realtimeTopic: realtimeTopic}
}

func (s *Service) Create(ctx context.Context, in models.ShipmentCreateInput) (*models.Shipment, []*models.ProductTrackingCode, error) {
	if in.OrderID == 0 {
		return nil, nil, errors.Wrap(models.ErrValidation, "orderId is required")
	}
	if in.WarehouseID == 0 {
		return nil, nil, errors.Wrap(models.ErrValidation, "warehouseId is required")
	}
	return s.repo.CreateShipment(ctx, in)
}

func (s *Service) Assign(ctx context.Context, in models.ShipmentAssignInput) (*models.Shipment, error) {
	if in.TrackingCode == "" {
		return nil, errors.Wrap(models.ErrValidation, "trackingCode is required")
	}
	if in.DeliveryAgentID == "" {
		return nil, errors.Wrap(models.ErrValidation, "deliveryAgentId is required")
	}
	return s.repo.AssignAgent(ctx, in)
}

// UpdateStatus advances the shipment lifecycle. The row is updated first;
// cache invalidation and room announcements happen only on success and never
// fail the update.
func (s *Service) UpdateStatus(ctx context.Context, trackingCode string, to models.ShipmentStatus, notes string) (*models.Shipment, error) {
	if trackingCode == "" {
		return nil, errors.Wrap(models.ErrValidation, "trackingCode is required")
	}
	if !to.Valid() {
		return nil, errors.Wrapf(models.ErrValidation, "unknown status %q", to)
	}

	sh, err := s.repo.UpdateStatus(ctx, trackingCode, to, notes)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, cache.TrackingSnapshotKey(trackingCode)); err != nil {
			slog.Error("invalidate snapshot cache", "trackingCode", trackingCode, "err", err)
		}
	}
	s.announceStatus(ctx, sh)
	return sh, nil
}

func (s *Service) Get(ctx context.Context, trackingCode string) (*models.Shipment, error) {
	if trackingCode == "" {
		return nil, errors.Wrap(models.ErrValidation, "trackingCode is required")
	}
	return s.repo.GetShipment(ctx, trackingCode)
}

// announceStatus шлёт событие в комнату груза и в админский канал; best-effort.
func (s *Service) announceStatus(ctx context.Context, sh *models.Shipment) {
	if s.producer == nil {
		return
	}
	payload, err := json.Marshal(messages.StatusUpdated{
		Status:    string(sh.Status),
		Notes:     sh.Notes,
		Timestamp: sh.UpdatedAt,
		Delivered: sh.ActualDelivery,
	})
	if err != nil {
		return
	}
	for _, room := range []string{messages.ShipmentRoom(sh.TrackingCode), messages.AdminRoom} {
		ev := messages.RealtimeEvent{
			Room:      room,
			Event:     messages.EventStatusUpdated,
			Payload:   payload,
			EmittedAt: time.Now().UTC(),
		}
		b, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := s.producer.Publish(ctx, s.realtimeTopic, []byte(room), b); err != nil {
			slog.Error("publish status updated", "trackingCode", sh.TrackingCode, "room", room, "err", err)
		}
	}
}
